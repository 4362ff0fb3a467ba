// Package memory provides process-local user and ledger storage for tests and
// single-node runs without a database.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/couchcryptid/warning-calendar-service/internal/domain"
)

type ledgerKey struct {
	email     string
	warningID string
}

// Store implements domain.UserStore and domain.Ledger.
type Store struct {
	mu      sync.RWMutex
	users   map[string]domain.User
	order   []string
	records map[ledgerKey]domain.ProcessedRecord
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		users:   make(map[string]domain.User),
		records: make(map[ledgerKey]domain.ProcessedRecord),
	}
}

func (s *Store) ListActiveUsers(_ context.Context) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.User
	for _, email := range s.order {
		if u := s.users[email]; u.Active {
			out = append(out, cloneUser(u))
		}
	}
	return out, nil
}

func (s *Store) FindByEmail(_ context.Context, email string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[email]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return cloneUser(u), nil
}

// Save inserts or replaces the user.
func (s *Store) Save(_ context.Context, u domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := domain.Now()
	if existing, ok := s.users[u.Email]; ok {
		u.CreatedAt = existing.CreatedAt
	} else {
		s.order = append(s.order, u.Email)
		if u.CreatedAt.IsZero() {
			u.CreatedAt = now
		}
	}
	u.UpdatedAt = now
	s.users[u.Email] = cloneUser(u)
	return nil
}

func (s *Store) UpdatePreferences(_ context.Context, email string, prefs domain.Preferences) error {
	return s.update(email, func(u *domain.User) error {
		u.Preferences = clonePrefs(prefs)
		return nil
	})
}

func (s *Store) AddLocation(_ context.Context, email string, l domain.Location) error {
	return s.update(email, func(u *domain.User) error {
		return u.AddLocation(l)
	})
}

func (s *Store) RemoveLocation(_ context.Context, email, name string) error {
	return s.update(email, func(u *domain.User) error {
		u.RemoveLocation(name)
		return nil
	})
}

func (s *Store) UpdateCredential(_ context.Context, email string, c domain.Credential) error {
	return s.update(email, func(u *domain.User) error {
		u.Credential = c
		return nil
	})
}

func (s *Store) update(email string, fn func(*domain.User) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[email]
	if !ok {
		return domain.ErrUserNotFound
	}
	u = cloneUser(u)
	if err := fn(&u); err != nil {
		return err
	}
	u.UpdatedAt = domain.Now()
	s.users[email] = u
	return nil
}

func (s *Store) IsProcessed(_ context.Context, email, warningID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.records[ledgerKey{email, warningID}]
	return ok, nil
}

// MarkProcessed keeps the first record written for a key.
func (s *Store) MarkProcessed(_ context.Context, email, warningID, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ledgerKey{email, warningID}
	if _, ok := s.records[key]; ok {
		return nil
	}
	s.records[key] = domain.ProcessedRecord{
		UserEmail:       email,
		WarningID:       warningID,
		CalendarEventID: eventID,
		ProcessedAt:     domain.Now(),
	}
	return nil
}

// History returns the user's records newest first.
func (s *Store) History(_ context.Context, email string, limit int) ([]domain.ProcessedRecord, error) {
	if limit <= 0 {
		limit = domain.DefaultHistoryLimit
	}

	s.mu.RLock()
	var out []domain.ProcessedRecord
	for k, r := range s.records {
		if k.email == email {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ProcessedAt.Equal(out[j].ProcessedAt) {
			return out[i].WarningID > out[j].WarningID
		}
		return out[i].ProcessedAt.After(out[j].ProcessedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneUser(u domain.User) domain.User {
	u.Locations = slices.Clone(u.Locations)
	u.Preferences = clonePrefs(u.Preferences)
	return u
}

func clonePrefs(p domain.Preferences) domain.Preferences {
	if p == nil {
		return nil
	}
	out := make(domain.Preferences, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
