package sqlite

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/warning-calendar-service/internal/domain"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "warncal.db")
	s, err := Open(context.Background(), path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func freezeClock(t *testing.T) *clockwork.FakeClock {
	t.Helper()
	c := clockwork.NewFakeClockAt(time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC))
	domain.SetClock(c)
	t.Cleanup(func() { domain.SetClock(nil) })
	return c
}

func TestStore_SaveAndFind(t *testing.T) {
	freezeClock(t)
	ctx := context.Background()
	s, _ := openTestStore(t)

	u := domain.NewUser("a@example.com")
	u.Locations = []domain.Location{
		{Name: "Home", Lat: 48.2082, Lon: 16.3738},
		{Name: "Cabin", Lat: 47.2692, Lon: 11.4041},
	}
	u.Preferences[domain.WarningHeat] = false
	u.Credential = domain.Credential{
		AccessToken:  "access",
		RefreshToken: "refresh",
		Expiry:       time.Date(2024, 7, 1, 13, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.Save(ctx, u))

	got, err := s.FindByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.Locations, got.Locations)
	assert.False(t, got.Preferences.Enabled(domain.WarningHeat))
	assert.True(t, got.Preferences.Enabled(domain.WarningRain))
	assert.Equal(t, u.Credential, got.Credential)
	assert.True(t, got.Active)
	assert.Equal(t, time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC), got.CreatedAt)

	_, err = s.FindByEmail(ctx, "missing@example.com")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestStore_LocationsAndPreferences(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)
	require.NoError(t, s.Save(ctx, domain.NewUser("a@example.com")))

	require.NoError(t, s.AddLocation(ctx, "a@example.com", domain.Location{Name: "Home", Lat: 48.2, Lon: 16.3}))
	require.NoError(t, s.AddLocation(ctx, "a@example.com", domain.Location{Name: "Work", Lat: 48.1, Lon: 16.2}))
	assert.ErrorIs(t, s.AddLocation(ctx, "a@example.com", domain.Location{Name: "Home", Lat: 1, Lon: 1}), domain.ErrDuplicateLocation)
	assert.ErrorIs(t, s.AddLocation(ctx, "a@example.com", domain.Location{Name: "Bad", Lat: 100, Lon: 1}), domain.ErrInvalidLocation)
	assert.ErrorIs(t, s.AddLocation(ctx, "nobody@example.com", domain.Location{Name: "Home", Lat: 1, Lon: 1}), domain.ErrUserNotFound)

	require.NoError(t, s.RemoveLocation(ctx, "a@example.com", "Home"))
	require.NoError(t, s.UpdatePreferences(ctx, "a@example.com", domain.Preferences{domain.WarningSnow: false}))
	assert.ErrorIs(t, s.UpdatePreferences(ctx, "nobody@example.com", nil), domain.ErrUserNotFound)

	got, err := s.FindByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	require.Len(t, got.Locations, 1)
	assert.Equal(t, "Work", got.Locations[0].Name)
	assert.False(t, got.Preferences.Enabled(domain.WarningSnow))
	assert.True(t, got.Preferences.Enabled(domain.WarningStorm))
}

func TestStore_ListActiveUsers(t *testing.T) {
	clock := freezeClock(t)
	ctx := context.Background()
	s, _ := openTestStore(t)

	a := domain.NewUser("a@example.com")
	a.Locations = []domain.Location{{Name: "Home", Lat: 48.2, Lon: 16.3}}
	require.NoError(t, s.Save(ctx, a))
	clock.Advance(time.Second)

	b := domain.NewUser("b@example.com")
	b.Active = false
	require.NoError(t, s.Save(ctx, b))
	clock.Advance(time.Second)

	require.NoError(t, s.Save(ctx, domain.NewUser("c@example.com")))

	users, err := s.ListActiveUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "a@example.com", users[0].Email)
	assert.Len(t, users[0].Locations, 1)
	assert.Equal(t, "c@example.com", users[1].Email)
}

func TestStore_UpdateCredential(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)
	require.NoError(t, s.Save(ctx, domain.NewUser("a@example.com")))

	cred := domain.Credential{AccessToken: "new", RefreshToken: "r"}
	require.NoError(t, s.UpdateCredential(ctx, "a@example.com", cred))

	got, err := s.FindByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, cred, got.Credential)
	assert.True(t, got.Credential.Expiry.IsZero())
}

func TestStore_Ledger(t *testing.T) {
	clock := freezeClock(t)
	ctx := context.Background()
	s, path := openTestStore(t)

	require.NoError(t, s.MarkProcessed(ctx, "a@example.com", "geosphere-1", "evt-1"))
	clock.Advance(time.Minute)
	require.NoError(t, s.MarkProcessed(ctx, "a@example.com", "geosphere-2", "evt-2"))
	clock.Advance(time.Minute)
	require.NoError(t, s.MarkProcessed(ctx, "a@example.com", "geosphere-1", "evt-dup"))
	require.NoError(t, s.MarkProcessed(ctx, "b@example.com", "geosphere-1", "evt-b"))

	done, err := s.IsProcessed(ctx, "a@example.com", "geosphere-1")
	require.NoError(t, err)
	assert.True(t, done)
	done, err = s.IsProcessed(ctx, "a@example.com", "geosphere-3")
	require.NoError(t, err)
	assert.False(t, done)

	hist, err := s.History(ctx, "a@example.com", 0)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "geosphere-2", hist[0].WarningID)
	assert.Equal(t, "evt-1", hist[1].CalendarEventID)
	assert.Equal(t, time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC), hist[1].ProcessedAt)

	// The ledger survives a restart.
	require.NoError(t, s.Close())
	reopened, err := Open(ctx, path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer reopened.Close()

	hist, err = reopened.History(ctx, "a@example.com", 1)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "geosphere-2", hist[0].WarningID)
}
