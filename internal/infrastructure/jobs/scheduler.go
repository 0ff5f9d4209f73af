// Package jobs runs the periodic background work: outbox relay, order
// reconciliation and retention cleanup.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	appctx "stockflow/internal/core/context"
	"stockflow/pkg/logger"
)

// Func is a unit of scheduled work.
type Func func(ctx context.Context) error

// Observer is notified after every run.
type Observer func(job string, err error)

// Scheduler runs named jobs on cron specs. Overlapping runs of one job are skipped.
type Scheduler struct {
	cron     *cron.Cron
	log      *logger.Logger
	observe  Observer
	timeout  time.Duration
	baseCtx  context.Context
	cancel   context.CancelFunc
	jobNames []string
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithObserver registers a run observer, typically the metrics registry.
func WithObserver(fn Observer) Option {
	return func(s *Scheduler) { s.observe = fn }
}

// WithTimeout bounds each run.
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.timeout = d }
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(log *logger.Logger, opts ...Option) *Scheduler {
	log = log.WithComponent("jobs")
	cl := cronLogger{log}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log:     log,
		timeout: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.baseCtx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Add registers fn under name on a cron spec ("@every 5s", "0 3 * * *").
func (s *Scheduler) Add(name, spec string, fn Func) error {
	_, err := s.cron.AddFunc(spec, func() { s.run(name, fn) })
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	s.jobNames = append(s.jobNames, name)
	return nil
}

// Every converts an interval into a cron spec.
func Every(d time.Duration) string {
	return "@every " + d.String()
}

// RunNow executes a registered job body synchronously. Used at startup and in tests.
func (s *Scheduler) RunNow(name string, fn Func) error {
	return s.run(name, fn)
}

func (s *Scheduler) run(name string, fn Func) error {
	ctx, cancel := context.WithTimeout(s.baseCtx, s.timeout)
	defer cancel()
	ctx = appctx.WithUser(ctx, appctx.System())
	ctx = logger.WithLogger(ctx, s.log.With("job", name))

	started := time.Now()
	err := fn(ctx)
	if err != nil {
		logger.Error(ctx, "job failed", "error", err, "elapsed", time.Since(started))
	} else {
		logger.Debug(ctx, "job finished", "elapsed", time.Since(started))
	}
	if s.observe != nil {
		s.observe(name, err)
	}
	return err
}

// Start begins scheduling.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Infow("scheduler started", "jobs", s.jobNames)
}

// Stop stops scheduling, cancels running jobs and waits for them to return.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts the zap-backed logger to cron.Logger.
type cronLogger struct{ l *logger.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
