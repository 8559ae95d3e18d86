// Package scheduler runs the periodic backend jobs (reaper sweep, ranking sync) on cron
// expressions.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/okian/pulse/pkg/logger"
)

// ErrUnknownJob is returned by RunNow for a name that was never added.
var ErrUnknownJob = errors.New("unknown job")

// JobFunc is one unit of scheduled work.
type JobFunc func(ctx context.Context) error

type job struct {
	id   cron.EntryID
	spec string
	fn   JobFunc
}

// Scheduler wraps a cron runner. A job never overlaps itself.
type Scheduler struct {
	cron *cron.Cron
	log  logger.Logger

	mu     sync.Mutex
	jobs   map[string]*job
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Scheduler evaluating specs in loc (UTC when nil).
func New(loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	log := logger.Get().Named("scheduler")
	cl := cronLogger{log: log}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log:  log,
		jobs:   make(map[string]*job),
		ctx:    context.Background(),
		cancel: func() {},
	}
}

// Add registers fn under name with a standard five-field spec or a descriptor like "@hourly".
func (s *Scheduler) Add(name, spec string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("scheduler: job %q already added", name)
	}
	j := &job{spec: spec, fn: fn}
	id, err := s.cron.AddFunc(spec, func() { s.run(name, j) })
	if err != nil {
		return fmt.Errorf("scheduler: job %q spec %q: %w", name, spec, err)
	}
	j.id = id
	s.jobs[name] = j
	return nil
}

// Start begins firing jobs. Every run gets a context derived from ctx that Stop cancels.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	for name, j := range s.jobs {
		s.log.Info(ctx, "job scheduled",
			logger.String("job", name),
			logger.String("spec", j.spec),
			logger.Time("next", s.cron.Entry(j.id).Next),
		)
	}
	s.mu.Unlock()
	s.cron.Start()
}

// Stop stops firing, cancels running jobs and waits for them to return until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow runs a job synchronously outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return j.fn(ctx)
}

// Next returns the next fire time of a job, zero if unknown or not started.
func (s *Scheduler) Next(name string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[name]
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(j.id).Next
}

func (s *Scheduler) run(name string, j *job) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	start := time.Now()
	if err := j.fn(ctx); err != nil {
		s.log.Error(ctx, "scheduled job failed", logger.String("job", name), logger.Error(err))
		return
	}
	s.log.Debug(ctx, "scheduled job finished", logger.String("job", name), logger.Duration("took", time.Since(start)))
}

// cronLogger adapts the service logger to cron's logging interface.
type cronLogger struct {
	log logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug(context.Background(), "cron: "+msg, pairs(keysAndValues)...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Error(context.Background(), "cron: "+msg, append(pairs(keysAndValues), logger.Error(err))...)
}

func pairs(kv []interface{}) []logger.Field {
	out := make([]logger.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logger.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
