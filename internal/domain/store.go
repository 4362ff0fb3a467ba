package domain

import (
	"context"
	"time"
)

// DefaultHistoryLimit is the page size used when a caller asks for no limit.
const DefaultHistoryLimit = 50

// ProcessedRecord is one dedup ledger entry. Written once, never updated.
type ProcessedRecord struct {
	UserEmail       string    `json:"user_email"`
	WarningID       string    `json:"warning_id"`
	CalendarEventID string    `json:"calendar_event_id"`
	ProcessedAt     time.Time `json:"processed_at"`
}

// Ledger records which (user, warning) pairs have already been dispatched.
//
// IsProcessed followed by MarkProcessed is not atomic. Two callers racing on
// the same key may both dispatch; MarkProcessed still keeps a single record.
type Ledger interface {
	IsProcessed(ctx context.Context, userEmail, warningID string) (bool, error)
	MarkProcessed(ctx context.Context, userEmail, warningID, eventID string) error
	History(ctx context.Context, userEmail string, limit int) ([]ProcessedRecord, error)
}

// UserStore persists users with their locations, preferences and credentials.
type UserStore interface {
	ListActiveUsers(ctx context.Context) ([]User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	Save(ctx context.Context, u User) error
	UpdatePreferences(ctx context.Context, email string, prefs Preferences) error
	AddLocation(ctx context.Context, email string, l Location) error
	RemoveLocation(ctx context.Context, email, name string) error
	UpdateCredential(ctx context.Context, email string, c Credential) error
}
