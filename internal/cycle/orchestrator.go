// Package cycle runs one fetch-and-dispatch pass across all active users.
package cycle

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/couchcryptid/warning-calendar-service/internal/dispatch"
	"github.com/couchcryptid/warning-calendar-service/internal/domain"
	"github.com/couchcryptid/warning-calendar-service/internal/observability"
)

// UserLister loads the users a cycle serves.
type UserLister interface {
	ListActiveUsers(ctx context.Context) ([]domain.User, error)
}

// Fetcher returns the distinct warnings visible from a set of locations.
type Fetcher interface {
	Fetch(ctx context.Context, locations []domain.Location) []domain.Warning
}

// Dispatcher handles one user's warnings.
type Dispatcher interface {
	Dispatch(ctx context.Context, u domain.User, warnings []domain.Warning) (dispatch.Result, error)
	Relevant(u domain.User, warnings []domain.Warning) []domain.Warning
}

// Options tunes the orchestrator.
type Options struct {
	Lookahead time.Duration
	Workers   int
}

// Summary describes one completed cycle.
type Summary struct {
	Users        int
	Dispatched   int
	Skipped      int
	Fetched      int
	InWindow     int
	Created      int
	UserFailures int
	Duration     time.Duration
}

// Orchestrator runs cycles. It is safe to read ActiveWarnings while a cycle
// is in progress; RunCycle itself must not be called concurrently.
type Orchestrator struct {
	users      UserLister
	fetcher    Fetcher
	dispatcher Dispatcher
	lookahead  time.Duration
	workers    int
	metrics    *observability.Metrics
	logger     *slog.Logger

	mu       sync.RWMutex
	snapshot []domain.Warning
}

// New creates an Orchestrator.
func New(users UserLister, fetcher Fetcher, dispatcher Dispatcher, opts Options, metrics *observability.Metrics, logger *slog.Logger) *Orchestrator {
	if opts.Lookahead <= 0 {
		opts.Lookahead = domain.DefaultLookahead
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Orchestrator{
		users:      users,
		fetcher:    fetcher,
		dispatcher: dispatcher,
		lookahead:  opts.Lookahead,
		workers:    opts.Workers,
		metrics:    metrics,
		logger:     logger,
	}
}

// RunCycle performs one pass. The returned error means the whole cycle
// failed; per-user failures are logged and counted in the summary.
func (o *Orchestrator) RunCycle(ctx context.Context) (Summary, error) {
	start := time.Now()
	var sum Summary

	users, err := o.users.ListActiveUsers(ctx)
	if err != nil {
		o.metrics.CyclesTotal.WithLabelValues("error").Inc()
		return sum, fmt.Errorf("list active users: %w", err)
	}
	sum.Users = len(users)

	locations := unionLocations(users)
	if len(locations) == 0 {
		o.setSnapshot(nil)
		o.metrics.CyclesTotal.WithLabelValues("empty").Inc()
		o.logger.Info("no user locations, skipping cycle", "users", len(users))
		return sum, nil
	}

	fetched := o.fetcher.Fetch(ctx, locations)
	warnings := domain.FilterWindow(fetched, domain.Now(), o.lookahead)
	o.setSnapshot(warnings)
	sum.Fetched = len(fetched)
	sum.InWindow = len(warnings)
	o.metrics.WarningsInWindow.Add(float64(len(warnings)))

	var eligible []domain.User
	for _, u := range users {
		if !u.HasCredential() {
			sum.Skipped++
			o.logger.Debug("user has no calendar credential, skipping", "user_email", u.Email)
			continue
		}
		eligible = append(eligible, u)
	}
	sum.Dispatched = len(eligible)

	if len(warnings) > 0 {
		o.dispatchAll(ctx, eligible, warnings, &sum)
	}

	sum.Duration = time.Since(start)
	o.metrics.CycleDuration.Observe(sum.Duration.Seconds())
	o.metrics.CyclesTotal.WithLabelValues("success").Inc()
	o.logger.Info("cycle complete",
		"users", sum.Users,
		"dispatched", sum.Dispatched,
		"fetched", sum.Fetched,
		"in_window", sum.InWindow,
		"created", sum.Created,
		"user_failures", sum.UserFailures,
		"duration", sum.Duration,
	)
	return sum, nil
}

// dispatchAll fans users out over a bounded worker pool. Each user is handled
// by exactly one worker, so a ledger key is never raced within a cycle.
func (o *Orchestrator) dispatchAll(ctx context.Context, users []domain.User, warnings []domain.Warning, sum *Summary) {
	workers := min(o.workers, len(users))
	ch := make(chan domain.User, len(users))
	for _, u := range users {
		ch <- u
	}
	close(ch)

	var mu sync.Mutex
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for u := range ch {
				res, err := o.dispatchUser(ctx, u, warnings)

				mu.Lock()
				sum.Created += res.Created
				if err != nil {
					sum.UserFailures++
				}
				mu.Unlock()

				if err != nil {
					o.metrics.UserErrors.Inc()
					o.logger.Error("user dispatch failed", "user_email", u.Email, "error", err)
				}
			}
		}()
	}
	wg.Wait()
}

func (o *Orchestrator) dispatchUser(ctx context.Context, u domain.User, warnings []domain.Warning) (res dispatch.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during dispatch: %v", r)
		}
	}()
	return o.dispatcher.Dispatch(ctx, u, warnings)
}

// ActiveWarnings returns the warnings from the latest cycle that are still in
// the window and affect u.
func (o *Orchestrator) ActiveWarnings(u domain.User) []domain.Warning {
	o.mu.RLock()
	snapshot := o.snapshot
	o.mu.RUnlock()

	current := domain.FilterWindow(snapshot, domain.Now(), o.lookahead)
	return o.dispatcher.Relevant(u, current)
}

func (o *Orchestrator) setSnapshot(ws []domain.Warning) {
	o.mu.Lock()
	o.snapshot = slices.Clone(ws)
	o.mu.Unlock()
}

// unionLocations collects every user's locations in user order.
func unionLocations(users []domain.User) []domain.Location {
	var out []domain.Location
	for _, u := range users {
		out = append(out, u.Locations...)
	}
	return out
}
