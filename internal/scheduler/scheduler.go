// Package scheduler runs warning cycles on a fixed interval in a single
// background loop.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/warning-calendar-service/internal/cycle"
	"github.com/couchcryptid/warning-calendar-service/internal/observability"
)

// DefaultBackoff is the pause after a failed cycle.
const DefaultBackoff = 60 * time.Second

// ErrStillStopping is returned by Start while a previous loop has not yet exited.
var ErrStillStopping = errors.New("previous scheduler loop is still finishing a cycle")

// State is the scheduler lifecycle state.
type State int32

const (
	Idle State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Runner executes one cycle.
type Runner interface {
	RunCycle(ctx context.Context) (cycle.Summary, error)
}

// Options configures the loop timing.
type Options struct {
	Interval time.Duration
	Backoff  time.Duration
	Clock    clockwork.Clock
}

// Scheduler owns the only polling loop of the process. The mutex guards the
// lifecycle fields and is never held while a cycle runs.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	backoff  time.Duration
	clock    clockwork.Clock
	metrics  *observability.Metrics
	logger   *slog.Logger
	ready    atomic.Bool

	mu    sync.Mutex
	state State
	stop  chan struct{}
	done  chan struct{}
}

// New creates an idle Scheduler.
func New(runner Runner, opts Options, metrics *observability.Metrics, logger *slog.Logger) *Scheduler {
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Scheduler{
		runner:   runner,
		interval: opts.Interval,
		backoff:  opts.Backoff,
		clock:    opts.Clock,
		metrics:  metrics,
		logger:   logger,
	}
}

// Start launches the loop. Calling Start while running is a no-op. Cycles run
// with ctx; cancelling it ends the loop after the current step.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Running {
		return nil
	}
	if s.done != nil {
		select {
		case <-s.done:
		default:
			return ErrStillStopping
		}
	}

	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.state = Running
	go s.loop(ctx, s.stop, s.done)

	s.logger.Info("scheduler started", "interval", s.interval, "backoff", s.backoff)
	return nil
}

// Stop signals the loop and waits for it to exit or for ctx to end. An
// in-flight cycle is allowed to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Running {
		s.state = Stopped
		s.mu.Unlock()
		return nil
	}
	s.state = Stopped
	close(s.stop)
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for scheduler loop: %w", ctx.Err())
	}
}

// State reports the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CheckReadiness returns nil once a cycle has completed without error.
func (s *Scheduler) CheckReadiness(_ context.Context) error {
	if !s.ready.Load() {
		return errors.New("no warning cycle has completed yet")
	}
	return nil
}

func (s *Scheduler) loop(ctx context.Context, stop <-chan struct{}, done chan struct{}) {
	s.metrics.SchedulerRunning.Set(1)
	defer func() {
		s.metrics.SchedulerRunning.Set(0)
		s.mu.Lock()
		if s.done == done && s.state == Running {
			s.state = Stopped
		}
		s.mu.Unlock()
		close(done)
	}()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			s.logger.Info("scheduler stopping", "reason", ctx.Err())
			return
		default:
		}

		wait := s.interval
		if err := s.runCycle(ctx); err != nil {
			s.logger.Error("warning cycle failed, backing off", "error", err, "backoff", s.backoff)
			wait = s.backoff
		}

		if !s.sleep(ctx, stop, wait) {
			return
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in cycle: %v", r)
		}
	}()
	if _, err = s.runner.RunCycle(ctx); err != nil {
		return err
	}
	s.ready.Store(true)
	return nil
}

func (s *Scheduler) sleep(ctx context.Context, stop <-chan struct{}, d time.Duration) bool {
	timer := s.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-stop:
		return false
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
