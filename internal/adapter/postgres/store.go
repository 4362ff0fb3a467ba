// Package postgres stores users and the dedup ledger in PostgreSQL via pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/couchcryptid/warning-calendar-service/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
    email         TEXT PRIMARY KEY,
    preferences   JSONB NOT NULL DEFAULT '{}'::jsonb,
    access_token  TEXT NOT NULL DEFAULT '',
    refresh_token TEXT NOT NULL DEFAULT '',
    token_expiry  TIMESTAMPTZ,
    active        BOOLEAN NOT NULL DEFAULT TRUE,
    created_at    TIMESTAMPTZ NOT NULL,
    updated_at    TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS locations (
    user_email TEXT NOT NULL REFERENCES users(email) ON DELETE CASCADE,
    name       TEXT NOT NULL,
    lat        DOUBLE PRECISION NOT NULL,
    lon        DOUBLE PRECISION NOT NULL,
    position   INTEGER NOT NULL,
    PRIMARY KEY (user_email, name)
);
CREATE TABLE IF NOT EXISTS processed_warnings (
    user_email        TEXT NOT NULL,
    warning_id        TEXT NOT NULL,
    calendar_event_id TEXT NOT NULL,
    processed_at      TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (user_email, warning_id)
);
CREATE INDEX IF NOT EXISTS processed_warnings_history
    ON processed_warnings (user_email, processed_at DESC);
`

// Store implements domain.UserStore and domain.Ledger on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// Open creates and validates a connection pool, then applies the schema.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const userColumns = `email, preferences, access_token, refresh_token, token_expiry, active, created_at, updated_at`

func (s *Store) ListActiveUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM users WHERE active ORDER BY created_at, email`)
	if err != nil {
		return nil, fmt.Errorf("list active users: %w", err)
	}
	users, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.User, error) {
		return scanUser(row)
	})
	if err != nil {
		return nil, fmt.Errorf("list active users: %w", err)
	}

	for i := range users {
		if users[i].Locations, err = s.locations(ctx, users[i].Email); err != nil {
			return nil, err
		}
	}
	return users, nil
}

func (s *Store) FindByEmail(ctx context.Context, email string) (domain.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("find user: %w", err)
	}
	if u.Locations, err = s.locations(ctx, email); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// Save upserts the user row and replaces its locations in one transaction.
func (s *Store) Save(ctx context.Context, u domain.User) error {
	prefs, err := json.Marshal(u.Preferences)
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	now := domain.Now()

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO users (email, preferences, access_token, refresh_token, token_expiry, active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
			ON CONFLICT (email) DO UPDATE SET
				preferences = EXCLUDED.preferences,
				access_token = EXCLUDED.access_token,
				refresh_token = EXCLUDED.refresh_token,
				token_expiry = EXCLUDED.token_expiry,
				active = EXCLUDED.active,
				updated_at = EXCLUDED.updated_at`,
			u.Email, prefs, u.Credential.AccessToken, u.Credential.RefreshToken,
			optionalTime(u.Credential.Expiry), u.Active, now)
		if err != nil {
			return fmt.Errorf("upsert user: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM locations WHERE user_email = $1`, u.Email); err != nil {
			return fmt.Errorf("clear locations: %w", err)
		}
		if len(u.Locations) == 0 {
			return nil
		}
		batch := &pgx.Batch{}
		for i, l := range u.Locations {
			batch.Queue(`INSERT INTO locations (user_email, name, lat, lon, position) VALUES ($1, $2, $3, $4, $5)`,
				u.Email, l.Name, l.Lat, l.Lon, i)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert locations: %w", err)
		}
		return nil
	})
}

func (s *Store) UpdatePreferences(ctx context.Context, email string, prefs domain.Preferences) error {
	encoded, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	return s.updateUser(ctx, `UPDATE users SET preferences = $2, updated_at = $3 WHERE email = $1`,
		email, encoded, domain.Now())
}

func (s *Store) UpdateCredential(ctx context.Context, email string, c domain.Credential) error {
	return s.updateUser(ctx,
		`UPDATE users SET access_token = $2, refresh_token = $3, token_expiry = $4, updated_at = $5 WHERE email = $1`,
		email, c.AccessToken, c.RefreshToken, optionalTime(c.Expiry), domain.Now())
}

func (s *Store) AddLocation(ctx context.Context, email string, l domain.Location) error {
	if err := l.Validate(); err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := userExists(ctx, tx, email); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			INSERT INTO locations (user_email, name, lat, lon, position)
			VALUES ($1, $2, $3, $4, (SELECT COALESCE(MAX(position), -1) + 1 FROM locations WHERE user_email = $1))
			ON CONFLICT (user_email, name) DO NOTHING`,
			email, l.Name, l.Lat, l.Lon)
		if err != nil {
			return fmt.Errorf("insert location: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrDuplicateLocation
		}
		return nil
	})
}

func (s *Store) RemoveLocation(ctx context.Context, email, name string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := userExists(ctx, tx, email); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM locations WHERE user_email = $1 AND name = $2`, email, name); err != nil {
			return fmt.Errorf("delete location: %w", err)
		}
		return nil
	})
}

func (s *Store) IsProcessed(ctx context.Context, email, warningID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_warnings WHERE user_email = $1 AND warning_id = $2)`,
		email, warningID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check ledger: %w", err)
	}
	return exists, nil
}

// MarkProcessed inserts the record unless the key already exists.
func (s *Store) MarkProcessed(ctx context.Context, email, warningID, eventID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO processed_warnings (user_email, warning_id, calendar_event_id, processed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_email, warning_id) DO NOTHING`,
		email, warningID, eventID, domain.Now())
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

func (s *Store) History(ctx context.Context, email string, limit int) ([]domain.ProcessedRecord, error) {
	if limit <= 0 {
		limit = domain.DefaultHistoryLimit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT user_email, warning_id, calendar_event_id, processed_at
		FROM processed_warnings
		WHERE user_email = $1
		ORDER BY processed_at DESC, warning_id DESC
		LIMIT $2`, email, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.ProcessedRecord, error) {
		var r domain.ProcessedRecord
		err := row.Scan(&r.UserEmail, &r.WarningID, &r.CalendarEventID, &r.ProcessedAt)
		r.ProcessedAt = r.ProcessedAt.UTC()
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan history: %w", err)
	}
	return records, nil
}

func (s *Store) locations(ctx context.Context, email string) ([]domain.Location, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name, lat, lon FROM locations WHERE user_email = $1 ORDER BY position`, email)
	if err != nil {
		return nil, fmt.Errorf("query locations: %w", err)
	}
	locs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Location, error) {
		var l domain.Location
		err := row.Scan(&l.Name, &l.Lat, &l.Lon)
		return l, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan locations: %w", err)
	}
	return locs, nil
}

func (s *Store) updateUser(ctx context.Context, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (domain.User, error) {
	var (
		u      domain.User
		prefs  []byte
		expiry *time.Time
	)
	err := row.Scan(&u.Email, &prefs, &u.Credential.AccessToken, &u.Credential.RefreshToken,
		&expiry, &u.Active, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return domain.User{}, err
	}
	if err := json.Unmarshal(prefs, &u.Preferences); err != nil {
		return domain.User{}, fmt.Errorf("decode preferences for %s: %w", u.Email, err)
	}
	if expiry != nil {
		u.Credential.Expiry = expiry.UTC()
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return u, nil
}

func userExists(ctx context.Context, tx pgx.Tx, email string) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE email = $1)`, email).Scan(&exists); err != nil {
		return fmt.Errorf("check user: %w", err)
	}
	if !exists {
		return domain.ErrUserNotFound
	}
	return nil
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
