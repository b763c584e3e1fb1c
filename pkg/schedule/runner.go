package schedule

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var ErrNoJobs = errors.New("schedule: no jobs registered")

// Job is a unit of periodic work. A returned error is logged; it never stops
// the runner.
type Job func(ctx context.Context) error

// Runner invokes registered jobs on their schedules. It checks due times on
// a coarse ticker rather than arming one timer per job, which keeps drift
// behavior simple and survives clock adjustments.
type Runner struct {
	mu       sync.Mutex
	jobs     map[string]*scheduledJob
	interval time.Duration
	timeout  time.Duration
	log      *slog.Logger
	now      func() time.Time
}

type scheduledJob struct {
	name     string
	schedule Schedule
	run      Job
	nextRun  time.Time
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithCheckInterval overrides how often the runner polls for due jobs.
func WithCheckInterval(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithJobTimeout bounds each job invocation.
func WithJobTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithRunnerClock overrides the time source. Intended for tests.
func WithRunnerClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRunner creates a job runner.
func NewRunner(log *slog.Logger, opts ...RunnerOption) *Runner {
	if log == nil {
		log = slog.Default()
	}
	r := &Runner{
		jobs:     make(map[string]*scheduledJob),
		interval: 30 * time.Second,
		timeout:  5 * time.Minute,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add registers a periodic job. The first run happens at the schedule's next
// due time after Start, never immediately.
func (r *Runner) Add(name string, s Schedule, job Job) {
	if name == "" || s == nil || job == nil {
		panic("schedule: name, schedule and job are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[name]; exists {
		panic("schedule: job already registered: " + name)
	}
	r.jobs[name] = &scheduledJob{name: name, schedule: s, run: job}

	r.log.Info("registered periodic job",
		slog.String("job", name),
		slog.String("schedule", s.String()))
}

// Start blocks until the context is cancelled, running due jobs in sequence
// on each tick. Jobs are independent: one job's failure or overrun never
// skips another's execution, only delays it within the tick.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if len(r.jobs) == 0 {
		r.mu.Unlock()
		return ErrNoJobs
	}
	now := r.now()
	for _, j := range r.jobs {
		j.nextRun = j.schedule.Next(now)
	}
	r.mu.Unlock()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.runDue(ctx)
		}
	}
}

func (r *Runner) runDue(ctx context.Context) {
	now := r.now()

	r.mu.Lock()
	var due []*scheduledJob
	for _, j := range r.jobs {
		if !j.nextRun.After(now) {
			due = append(due, j)
			j.nextRun = j.schedule.Next(now)
		}
	}
	r.mu.Unlock()

	for _, j := range due {
		r.invoke(ctx, j)
	}
}

func (r *Runner) invoke(ctx context.Context, j *scheduledJob) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	started := r.now()
	if err := j.run(ctx); err != nil {
		r.log.Error("periodic job failed",
			slog.String("job", j.name),
			slog.Duration("elapsed", r.now().Sub(started)),
			slog.Any("error", err))
		return
	}
	r.log.Info("periodic job finished",
		slog.String("job", j.name),
		slog.Duration("elapsed", r.now().Sub(started)))
}
