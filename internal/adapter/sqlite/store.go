// Package sqlite stores users and the dedup ledger in a local SQLite file
// using the pure Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/couchcryptid/warning-calendar-service/internal/domain"
)

// Fixed-width UTC layout so text timestamps sort chronologically.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS users (
    email         TEXT PRIMARY KEY,
    preferences   TEXT NOT NULL DEFAULT '{}',
    access_token  TEXT NOT NULL DEFAULT '',
    refresh_token TEXT NOT NULL DEFAULT '',
    token_expiry  TEXT NOT NULL DEFAULT '',
    active        INTEGER NOT NULL DEFAULT 1,
    created_at    TEXT NOT NULL,
    updated_at    TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS locations (
    user_email TEXT NOT NULL REFERENCES users(email) ON DELETE CASCADE,
    name       TEXT NOT NULL,
    lat        REAL NOT NULL,
    lon        REAL NOT NULL,
    position   INTEGER NOT NULL,
    PRIMARY KEY (user_email, name)
);
CREATE TABLE IF NOT EXISTS processed_warnings (
    user_email        TEXT NOT NULL,
    warning_id        TEXT NOT NULL,
    calendar_event_id TEXT NOT NULL,
    processed_at      TEXT NOT NULL,
    PRIMARY KEY (user_email, warning_id)
);
CREATE INDEX IF NOT EXISTS processed_warnings_history
    ON processed_warnings (user_email, processed_at DESC);
`

// Store implements domain.UserStore and domain.Ledger on SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the database at path and applies the schema.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; avoids SQLITE_BUSY under the dispatch worker pool.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		logger.Warn("could not enable WAL mode", "error", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is usable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) ListActiveUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE active = 1 ORDER BY created_at, email`)
	if err != nil {
		return nil, fmt.Errorf("list active users: %w", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list active users: %w", err)
	}
	// Release the single connection before the per-user location queries.
	rows.Close()

	for i := range users {
		if users[i].Locations, err = s.locations(ctx, users[i].Email); err != nil {
			return nil, err
		}
	}
	return users, nil
}

func (s *Store) FindByEmail(ctx context.Context, email string) (domain.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, err
	}
	if u.Locations, err = s.locations(ctx, email); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// Save upserts the user row and replaces its locations.
func (s *Store) Save(ctx context.Context, u domain.User) error {
	prefs, err := json.Marshal(u.Preferences)
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	now := domain.Now().Format(tsLayout)

	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO users (email, preferences, access_token, refresh_token, token_expiry, active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (email) DO UPDATE SET
				preferences = excluded.preferences,
				access_token = excluded.access_token,
				refresh_token = excluded.refresh_token,
				token_expiry = excluded.token_expiry,
				active = excluded.active,
				updated_at = excluded.updated_at`,
			u.Email, string(prefs), u.Credential.AccessToken, u.Credential.RefreshToken,
			formatOptional(u.Credential.Expiry), boolInt(u.Active), now, now)
		if err != nil {
			return fmt.Errorf("upsert user: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM locations WHERE user_email = ?`, u.Email); err != nil {
			return fmt.Errorf("clear locations: %w", err)
		}
		for i, l := range u.Locations {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO locations (user_email, name, lat, lon, position) VALUES (?, ?, ?, ?, ?)`,
				u.Email, l.Name, l.Lat, l.Lon, i); err != nil {
				return fmt.Errorf("insert location %q: %w", l.Name, err)
			}
		}
		return nil
	})
}

func (s *Store) UpdatePreferences(ctx context.Context, email string, prefs domain.Preferences) error {
	encoded, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	return s.updateUser(ctx, email, `UPDATE users SET preferences = ?, updated_at = ? WHERE email = ?`,
		string(encoded), domain.Now().Format(tsLayout), email)
}

func (s *Store) UpdateCredential(ctx context.Context, email string, c domain.Credential) error {
	return s.updateUser(ctx, email,
		`UPDATE users SET access_token = ?, refresh_token = ?, token_expiry = ?, updated_at = ? WHERE email = ?`,
		c.AccessToken, c.RefreshToken, formatOptional(c.Expiry), domain.Now().Format(tsLayout), email)
}

func (s *Store) AddLocation(ctx context.Context, email string, l domain.Location) error {
	if err := l.Validate(); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := userExists(ctx, tx, email); err != nil {
			return err
		}
		var n int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM locations WHERE user_email = ? AND name = ?`, email, l.Name).Scan(&n); err != nil {
			return fmt.Errorf("check location: %w", err)
		}
		if n > 0 {
			return domain.ErrDuplicateLocation
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO locations (user_email, name, lat, lon, position)
			VALUES (?, ?, ?, ?, (SELECT COALESCE(MAX(position), -1) + 1 FROM locations WHERE user_email = ?))`,
			email, l.Name, l.Lat, l.Lon, email)
		if err != nil {
			return fmt.Errorf("insert location: %w", err)
		}
		return nil
	})
}

func (s *Store) RemoveLocation(ctx context.Context, email, name string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := userExists(ctx, tx, email); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM locations WHERE user_email = ? AND name = ?`, email, name); err != nil {
			return fmt.Errorf("delete location: %w", err)
		}
		return nil
	})
}

func (s *Store) IsProcessed(ctx context.Context, email, warningID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM processed_warnings WHERE user_email = ? AND warning_id = ?`,
		email, warningID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check ledger: %w", err)
	}
	return n > 0, nil
}

// MarkProcessed inserts the record unless the key already exists.
func (s *Store) MarkProcessed(ctx context.Context, email, warningID, eventID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO processed_warnings (user_email, warning_id, calendar_event_id, processed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_email, warning_id) DO NOTHING`,
		email, warningID, eventID, domain.Now().Format(tsLayout))
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

func (s *Store) History(ctx context.Context, email string, limit int) ([]domain.ProcessedRecord, error) {
	if limit <= 0 {
		limit = domain.DefaultHistoryLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_email, warning_id, calendar_event_id, processed_at
		FROM processed_warnings
		WHERE user_email = ?
		ORDER BY processed_at DESC, warning_id DESC
		LIMIT ?`, email, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []domain.ProcessedRecord
	for rows.Next() {
		var r domain.ProcessedRecord
		var ts string
		if err := rows.Scan(&r.UserEmail, &r.WarningID, &r.CalendarEventID, &ts); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		if r.ProcessedAt, err = time.Parse(tsLayout, ts); err != nil {
			s.logger.Warn("unparsable ledger timestamp", "warning_id", r.WarningID, "error", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const userColumns = `email, preferences, access_token, refresh_token, token_expiry, active, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (domain.User, error) {
	var (
		u                           domain.User
		prefs, expiry, created, upd string
		active                      int
	)
	err := row.Scan(&u.Email, &prefs, &u.Credential.AccessToken, &u.Credential.RefreshToken,
		&expiry, &active, &created, &upd)
	if err != nil {
		return domain.User{}, err
	}
	if err := json.Unmarshal([]byte(prefs), &u.Preferences); err != nil {
		return domain.User{}, fmt.Errorf("decode preferences for %s: %w", u.Email, err)
	}
	u.Active = active != 0
	u.Credential.Expiry = parseOptional(expiry)
	u.CreatedAt = parseOptional(created)
	u.UpdatedAt = parseOptional(upd)
	return u, nil
}

func (s *Store) locations(ctx context.Context, email string) ([]domain.Location, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, lat, lon FROM locations WHERE user_email = ? ORDER BY position`, email)
	if err != nil {
		return nil, fmt.Errorf("query locations: %w", err)
	}
	defer rows.Close()

	var out []domain.Location
	for rows.Next() {
		var l domain.Location
		if err := rows.Scan(&l.Name, &l.Lat, &l.Lon); err != nil {
			return nil, fmt.Errorf("scan location: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) updateUser(ctx context.Context, email, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func userExists(ctx context.Context, tx *sql.Tx, email string) error {
	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE email = ?`, email).Scan(&n); err != nil {
		return fmt.Errorf("check user: %w", err)
	}
	if n == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func formatOptional(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(tsLayout)
}

func parseOptional(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
