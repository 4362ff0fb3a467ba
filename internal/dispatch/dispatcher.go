// Package dispatch turns relevant warnings into calendar events for one user,
// recording each dispatch in the ledger so it happens at most once.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/couchcryptid/warning-calendar-service/internal/domain"
	"github.com/couchcryptid/warning-calendar-service/internal/geo"
	"github.com/couchcryptid/warning-calendar-service/internal/observability"
)

// CredentialSource supplies a currently valid calendar credential for a user.
type CredentialSource interface {
	Credential(ctx context.Context, u domain.User) (domain.Credential, error)
}

// Calendar creates and removes calendar events. u.Credential is valid when
// CreateEvent is called.
type Calendar interface {
	CreateEvent(ctx context.Context, u domain.User, w domain.Warning) (string, error)
	DeleteEvent(ctx context.Context, eventID string) (bool, error)
}

// Result summarizes one dispatch pass for a user.
type Result struct {
	Considered  int
	Disabled    int
	Processed   int
	NotRelevant int
	Created     int
	Failed      int
}

// Dispatcher implements per-user dispatch.
type Dispatcher struct {
	ledger      domain.Ledger
	calendar    Calendar
	credentials CredentialSource
	radiusKm    float64
	metrics     *observability.Metrics
	logger      *slog.Logger
}

// New creates a Dispatcher.
func New(ledger domain.Ledger, calendar Calendar, credentials CredentialSource, radiusKm float64, metrics *observability.Metrics, logger *slog.Logger) *Dispatcher {
	if radiusKm <= 0 {
		radiusKm = geo.DefaultRadiusKm
	}
	return &Dispatcher{
		ledger:      ledger,
		calendar:    calendar,
		credentials: credentials,
		radiusKm:    radiusKm,
		metrics:     metrics,
		logger:      logger,
	}
}

// Dispatch creates one calendar event per relevant, enabled, not yet processed
// warning, in start time order. A failure on one warning is logged and the
// rest are still attempted. The only error returned is a credential failure,
// which aborts the user.
func (d *Dispatcher) Dispatch(ctx context.Context, u domain.User, warnings []domain.Warning) (Result, error) {
	var res Result

	cred, err := d.credentials.Credential(ctx, u)
	if err != nil {
		return res, fmt.Errorf("credential for %s: %w", u.Email, err)
	}
	u.Credential = cred

	for _, w := range byStartTime(warnings) {
		res.Considered++
		log := d.logger.With("user_email", u.Email, "warning_id", w.ID)

		if !u.Preferences.Enabled(w.Type) {
			res.Disabled++
			log.Debug("warning type disabled", "type", w.Type)
			continue
		}

		done, err := d.ledger.IsProcessed(ctx, u.Email, w.ID)
		if err != nil {
			res.Failed++
			log.Warn("ledger lookup failed", "error", err)
			continue
		}
		if done {
			res.Processed++
			d.metrics.LedgerSkips.Inc()
			continue
		}

		loc, ok := d.matchLocation(u.Locations, w)
		if !ok {
			res.NotRelevant++
			continue
		}

		eventID, err := d.calendar.CreateEvent(ctx, u, w)
		if err != nil {
			res.Failed++
			d.metrics.EventErrors.Inc()
			log.Error("failed to create calendar event", "error", err)
			continue
		}

		if err := d.ledger.MarkProcessed(ctx, u.Email, w.ID, eventID); err != nil {
			// The event exists; without the record it may be created again next cycle.
			res.Failed++
			d.metrics.EventErrors.Inc()
			log.Error("failed to record dispatched warning", "event_id", eventID, "error", err)
			continue
		}

		res.Created++
		d.metrics.EventsCreated.Inc()
		log.Info("calendar event created", "event_id", eventID, "location", loc.Name, "type", w.Type)
	}
	return res, nil
}

// Relevant returns the enabled warnings that affect any of the user's
// locations, in start time order. The ledger is not consulted.
func (d *Dispatcher) Relevant(u domain.User, warnings []domain.Warning) []domain.Warning {
	var out []domain.Warning
	for _, w := range byStartTime(warnings) {
		if !u.Preferences.Enabled(w.Type) {
			continue
		}
		if _, ok := d.matchLocation(u.Locations, w); ok {
			out = append(out, w)
		}
	}
	return out
}

// matchLocation returns the first location the warning affects.
func (d *Dispatcher) matchLocation(locs []domain.Location, w domain.Warning) (domain.Location, bool) {
	for _, l := range locs {
		if geo.IsRelevant(l.Point(), w, d.radiusKm) {
			return l, true
		}
	}
	return domain.Location{}, false
}

func byStartTime(warnings []domain.Warning) []domain.Warning {
	sorted := slices.Clone(warnings)
	slices.SortStableFunc(sorted, func(a, b domain.Warning) int {
		return a.StartTime.Compare(b.StartTime)
	})
	return sorted
}
