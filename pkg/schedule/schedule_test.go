package schedule_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/courseloop/courseloop/pkg/schedule"
)

func TestEvery(t *testing.T) {
	t.Parallel()

	t.Run("advances by fixed interval", func(t *testing.T) {
		t.Parallel()

		s := schedule.Every(15 * time.Minute)
		from := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
		assert.Equal(t, from.Add(15*time.Minute), s.Next(from))
	})

	t.Run("panics on non-positive interval", func(t *testing.T) {
		t.Parallel()

		assert.Panics(t, func() { schedule.Every(0) })
		assert.Panics(t, func() { schedule.Every(-time.Second) })
	})
}

func TestDaily(t *testing.T) {
	t.Parallel()

	s := schedule.Daily(3, 30)

	tests := []struct {
		name string
		from time.Time
		want time.Time
	}{
		{
			name: "before today's slot",
			from: time.Date(2025, 3, 15, 1, 0, 0, 0, time.UTC),
			want: time.Date(2025, 3, 15, 3, 30, 0, 0, time.UTC),
		},
		{
			name: "exactly at the slot rolls to tomorrow",
			from: time.Date(2025, 3, 15, 3, 30, 0, 0, time.UTC),
			want: time.Date(2025, 3, 16, 3, 30, 0, 0, time.UTC),
		},
		{
			name: "after today's slot",
			from: time.Date(2025, 3, 15, 20, 0, 0, 0, time.UTC),
			want: time.Date(2025, 3, 16, 3, 30, 0, 0, time.UTC),
		},
		{
			name: "month boundary",
			from: time.Date(2025, 3, 31, 23, 0, 0, 0, time.UTC),
			want: time.Date(2025, 4, 1, 3, 30, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, s.Next(tt.from))
		})
	}

	t.Run("panics on invalid time", func(t *testing.T) {
		t.Parallel()

		assert.Panics(t, func() { schedule.Daily(24, 0) })
		assert.Panics(t, func() { schedule.Daily(0, 60) })
		assert.Panics(t, func() { schedule.Daily(-1, 0) })
	})
}

func TestMonthly(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		s    schedule.Schedule
		from time.Time
		want time.Time
	}{
		{
			name: "before this month's slot",
			s:    schedule.Monthly(1, 4),
			from: time.Date(2025, 3, 1, 2, 0, 0, 0, time.UTC),
			want: time.Date(2025, 3, 1, 4, 0, 0, 0, time.UTC),
		},
		{
			name: "after this month's slot",
			s:    schedule.Monthly(1, 4),
			from: time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC),
			want: time.Date(2025, 4, 1, 4, 0, 0, 0, time.UTC),
		},
		{
			name: "day 31 clamps to end of april",
			s:    schedule.Monthly(31, 0),
			from: time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC),
			want: time.Date(2025, 4, 30, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "day 31 clamps to end of february",
			s:    schedule.Monthly(31, 0),
			from: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
			want: time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "december rolls into january",
			s:    schedule.Monthly(1, 4),
			from: time.Date(2025, 12, 15, 0, 0, 0, 0, time.UTC),
			want: time.Date(2026, 1, 1, 4, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, tt.s.Next(tt.from))
		})
	}

	t.Run("panics on invalid input", func(t *testing.T) {
		t.Parallel()

		assert.Panics(t, func() { schedule.Monthly(0, 0) })
		assert.Panics(t, func() { schedule.Monthly(32, 0) })
		assert.Panics(t, func() { schedule.Monthly(1, 24) })
	})
}
