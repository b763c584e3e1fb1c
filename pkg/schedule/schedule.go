package schedule

import (
	"fmt"
	"time"
)

// Schedule determines when a periodic job should next run.
type Schedule interface {
	Next(from time.Time) time.Time
	String() string
}

// Every runs at fixed intervals.
func Every(d time.Duration) Schedule {
	if d <= 0 {
		panic("schedule: interval must be > 0")
	}
	return intervalSchedule{every: d}
}

type intervalSchedule struct {
	every time.Duration
}

func (s intervalSchedule) Next(from time.Time) time.Time {
	return from.Add(s.every)
}

func (s intervalSchedule) String() string {
	return fmt.Sprintf("every %v", s.every)
}

// Daily runs once per day at the given UTC time.
func Daily(hour, minute int) Schedule {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		panic("schedule: invalid daily time")
	}
	return dailySchedule{hour: hour, minute: minute}
}

type dailySchedule struct {
	hour   int
	minute int
}

func (s dailySchedule) Next(from time.Time) time.Time {
	from = from.UTC()
	next := time.Date(from.Year(), from.Month(), from.Day(), s.hour, s.minute, 0, 0, time.UTC)
	if !next.After(from) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (s dailySchedule) String() string {
	return fmt.Sprintf("daily at %02d:%02d UTC", s.hour, s.minute)
}

// Monthly runs once per month on the given day at the given UTC hour.
// Days beyond a month's length clamp to its last day.
func Monthly(day, hour int) Schedule {
	if day < 1 || day > 31 || hour < 0 || hour > 23 {
		panic("schedule: invalid monthly time")
	}
	return monthlySchedule{day: day, hour: hour}
}

type monthlySchedule struct {
	day  int
	hour int
}

func (s monthlySchedule) Next(from time.Time) time.Time {
	from = from.UTC()
	next := onDay(from.Year(), from.Month(), s.day, s.hour)
	if !next.After(from) {
		next = onDay(from.Year(), from.Month()+1, s.day, s.hour)
	}
	return next
}

func (s monthlySchedule) String() string {
	return fmt.Sprintf("monthly on day %d at %02d:00 UTC", s.day, s.hour)
}

func onDay(year int, month time.Month, day, hour int) time.Time {
	// Normalize the month first so clamping works for e.g. February.
	first := time.Date(year, month, 1, hour, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	return time.Date(first.Year(), first.Month(), min(day, last), hour, 0, 0, 0, time.UTC)
}
