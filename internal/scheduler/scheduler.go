// Package scheduler fires sync cycles on a cron schedule, one at a time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultTimeout bounds a single cycle.
const DefaultTimeout = 10 * time.Minute

// ErrStopped is returned by Start after Stop has been called.
var ErrStopped = errors.New("scheduler stopped")

// CycleFunc runs one cycle. It must return when ctx is done.
type CycleFunc func(ctx context.Context) error

// Scheduler triggers cycles on a schedule. A trigger that fires while a
// cycle is still running is skipped, never queued.
type Scheduler struct {
	spec       string
	cycle      CycleFunc
	timeout    time.Duration
	runOnStart bool
	location   *time.Location
	logger     *zap.Logger

	cron  *cron.Cron
	entry cron.EntryID

	busy atomic.Bool
	wg   sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
	stopped bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTimeout sets the per-cycle timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		s.timeout = d
	}
}

// WithRunOnStart runs one cycle as soon as Start is called.
func WithRunOnStart(v bool) Option {
	return func(s *Scheduler) {
		s.runOnStart = v
	}
}

// WithLocation sets the time zone the schedule is interpreted in. Defaults to UTC.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		s.location = loc
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// New creates a Scheduler for a standard cron spec or descriptor such as
// "@hourly".
func New(spec string, cycle CycleFunc, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		spec:     spec,
		cycle:    cycle,
		timeout:  DefaultTimeout,
		location: time.UTC,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.timeout <= 0 {
		return nil, fmt.Errorf("cycle timeout must be positive, got %s", s.timeout)
	}

	cronLog := cronLogger{s.logger.Sugar()}
	s.cron = cron.New(
		cron.WithLocation(s.location),
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog)),
	)

	entry, err := s.cron.AddFunc(spec, s.scheduled)
	if err != nil {
		return nil, fmt.Errorf("parsing schedule %q: %w", spec, err)
	}
	s.entry = entry
	s.ctx, s.cancel = context.WithCancel(context.Background())

	return s, nil
}

// Start begins firing cycles. It returns immediately.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if s.started {
		return nil
	}
	s.started = true
	s.cron.Start()

	s.logger.Info("Scheduler started",
		zap.String("schedule", s.spec),
		zap.Duration("timeout", s.timeout),
		zap.Time("next", s.nextLocked()))

	if s.runOnStart {
		s.launchLocked("startup")
	}
	return nil
}

// Stop stops scheduling new cycles and waits for the one in flight. If ctx
// ends first, the running cycle is cancelled and ctx's error returned.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	<-s.cron.Stop().Done()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		s.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		s.logger.Warn("Scheduler stopped before the running cycle finished")
		return ctx.Err()
	}
}

// Trigger starts a cycle now unless one is already running or the
// scheduler is stopped. It reports whether a cycle was started.
func (s *Scheduler) Trigger() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.launchLocked("manual")
}

// Busy reports whether a cycle is running.
func (s *Scheduler) Busy() bool {
	return s.busy.Load()
}

// Next returns the next scheduled trigger, or the zero time when the
// scheduler is not running.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextLocked()
}

// Schedule returns the cron spec.
func (s *Scheduler) Schedule() string {
	return s.spec
}

func (s *Scheduler) nextLocked() time.Time {
	if !s.started || s.stopped {
		return time.Time{}
	}
	return s.cron.Entry(s.entry).Next
}

// scheduled is the cron job. The cron loop runs it on its own goroutine.
func (s *Scheduler) scheduled() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.launchLocked("schedule")
}

func (s *Scheduler) launchLocked(trigger string) bool {
	if s.stopped {
		return false
	}
	if !s.busy.CompareAndSwap(false, true) {
		s.logger.Warn("Previous cycle still running, skipping trigger", zap.String("trigger", trigger))
		return false
	}

	s.wg.Add(1)
	go s.execute(trigger)
	return true
}

func (s *Scheduler) execute(trigger string) {
	defer s.wg.Done()
	defer s.busy.Store(false)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Cycle panicked",
				zap.String("trigger", trigger),
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()

	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	s.logger.Debug("Cycle triggered", zap.String("trigger", trigger))

	err := s.cycle(ctx)
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		s.logger.Error("Cycle exceeded timeout",
			zap.String("trigger", trigger),
			zap.Duration("timeout", s.timeout),
			zap.Error(err))
	case err != nil:
		s.logger.Debug("Cycle returned an error", zap.String("trigger", trigger), zap.Error(err))
	}
}

// cronLogger adapts zap to cron.Logger. Cron's info messages are
// per-tick noise and go to debug.
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.sugar.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.sugar.Errorw("cron: "+msg, append(keysAndValues, zap.Error(err))...)
}
