// Package account manages subscribers: registration, locations, warning type
// preferences and dispatch history.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/couchcryptid/warning-calendar-service/internal/adapter/mapbox"
	"github.com/couchcryptid/warning-calendar-service/internal/domain"
)

// ErrGeocodingDisabled is returned when a location lacks coordinates and no
// geocoder is configured.
var ErrGeocodingDisabled = errors.New("coordinates required: geocoding is disabled")

// Geocoder resolves place names to coordinates and back.
type Geocoder interface {
	ForwardGeocode(ctx context.Context, query string) (mapbox.Place, bool, error)
	ReverseGeocode(ctx context.Context, lat, lon float64) (mapbox.Place, bool, error)
}

// LocationInput describes a location to add. Coordinates are optional when a
// geocoder is available; the name is optional when coordinates are given.
type LocationInput struct {
	Name string
	Lat  *float64
	Lon  *float64
}

// Service applies account changes to the user store.
type Service struct {
	users    domain.UserStore
	ledger   domain.Ledger
	geocoder Geocoder
	logger   *slog.Logger
}

// NewService creates a Service. geocoder may be nil.
func NewService(users domain.UserStore, ledger domain.Ledger, geocoder Geocoder, logger *slog.Logger) *Service {
	return &Service{users: users, ledger: ledger, geocoder: geocoder, logger: logger}
}

// Register creates the user or, if it already exists, replaces its stored
// credential and reactivates it. Locations and preferences are kept.
func (s *Service) Register(ctx context.Context, email string, cred domain.Credential) (domain.User, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return domain.User{}, err
	}

	u, err := s.users.FindByEmail(ctx, email)
	switch {
	case errors.Is(err, domain.ErrUserNotFound):
		u = domain.NewUser(email)
	case err != nil:
		return domain.User{}, fmt.Errorf("find user: %w", err)
	}
	if cred.Present() {
		u.Credential = cred
	}
	u.Active = true

	if err := s.users.Save(ctx, u); err != nil {
		return domain.User{}, fmt.Errorf("save user: %w", err)
	}
	s.logger.Info("user registered", "user_email", email, "has_credential", u.HasCredential())
	return s.users.FindByEmail(ctx, email)
}

// SetActive pauses or resumes warning checks for the user.
func (s *Service) SetActive(ctx context.Context, email string, active bool) error {
	u, err := s.find(ctx, email)
	if err != nil {
		return err
	}
	u.Active = active
	return s.users.Save(ctx, u)
}

// AddLocation resolves in and stores it on the user's location list.
func (s *Service) AddLocation(ctx context.Context, email string, in LocationInput) (domain.Location, error) {
	u, err := s.find(ctx, email)
	if err != nil {
		return domain.Location{}, err
	}

	loc, err := s.resolve(ctx, in)
	if err != nil {
		return domain.Location{}, err
	}
	if err := s.users.AddLocation(ctx, u.Email, loc); err != nil {
		return domain.Location{}, err
	}
	s.logger.Info("location added", "user_email", u.Email, "location", loc.Name, "lat", loc.Lat, "lon", loc.Lon)
	return loc, nil
}

func (s *Service) resolve(ctx context.Context, in LocationInput) (domain.Location, error) {
	name := strings.TrimSpace(in.Name)
	hasCoords := in.Lat != nil && in.Lon != nil

	switch {
	case hasCoords && name != "":
		return domain.NewLocation(name, *in.Lat, *in.Lon)
	case !hasCoords && name == "":
		return domain.Location{}, fmt.Errorf("%w: name or coordinates required", domain.ErrInvalidLocation)
	case s.geocoder == nil:
		if hasCoords {
			return domain.Location{}, fmt.Errorf("%w: name is required", domain.ErrInvalidLocation)
		}
		return domain.Location{}, ErrGeocodingDisabled
	}

	if hasCoords {
		if !domain.ValidLatLon(*in.Lat, *in.Lon) {
			return domain.Location{}, fmt.Errorf("%w: lat=%v lon=%v out of range", domain.ErrInvalidLocation, *in.Lat, *in.Lon)
		}
		place, ok, err := s.geocoder.ReverseGeocode(ctx, *in.Lat, *in.Lon)
		if err != nil {
			return domain.Location{}, fmt.Errorf("reverse geocode: %w", err)
		}
		if !ok || place.Name == "" {
			return domain.Location{}, fmt.Errorf("%w: no place found at %v,%v", domain.ErrInvalidLocation, *in.Lat, *in.Lon)
		}
		return domain.NewLocation(place.Name, *in.Lat, *in.Lon)
	}

	place, ok, err := s.geocoder.ForwardGeocode(ctx, name)
	if err != nil {
		return domain.Location{}, fmt.Errorf("geocode %q: %w", name, err)
	}
	if !ok {
		return domain.Location{}, fmt.Errorf("%w: %q not found", domain.ErrInvalidLocation, name)
	}
	return domain.NewLocation(name, place.Lat, place.Lon)
}

// RemoveLocation deletes the named location.
func (s *Service) RemoveLocation(ctx context.Context, email, name string) error {
	u, err := s.find(ctx, email)
	if err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if !u.RemoveLocation(name) {
		return fmt.Errorf("%w: %q", domain.ErrLocationNotFound, name)
	}
	if err := s.users.RemoveLocation(ctx, u.Email, name); err != nil {
		return err
	}
	s.logger.Info("location removed", "user_email", u.Email, "location", name)
	return nil
}

// SetPreferences merges changes into the user's preferences and returns the
// result. Unknown type names are rejected.
func (s *Service) SetPreferences(ctx context.Context, email string, changes map[string]bool) (domain.Preferences, error) {
	u, err := s.find(ctx, email)
	if err != nil {
		return nil, err
	}

	prefs := domain.DefaultPreferences()
	for t, enabled := range u.Preferences {
		prefs[t] = enabled
	}
	for name, enabled := range changes {
		t, ok := domain.ParseWarningType(name)
		if !ok {
			return nil, fmt.Errorf("unknown warning type %q", name)
		}
		prefs[t] = enabled
	}

	if err := s.users.UpdatePreferences(ctx, u.Email, prefs); err != nil {
		return nil, err
	}
	return prefs, nil
}

// History returns the newest dispatched warnings for the user.
func (s *Service) History(ctx context.Context, email string, limit int) ([]domain.ProcessedRecord, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	return s.ledger.History(ctx, email, limit)
}

// User returns the stored user.
func (s *Service) User(ctx context.Context, email string) (domain.User, error) {
	return s.find(ctx, email)
}

func (s *Service) find(ctx context.Context, email string) (domain.User, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return domain.User{}, err
	}
	return s.users.FindByEmail(ctx, email)
}

// NormalizeEmail validates a bare address and lowercases it.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidEmail, email)
	}
	return email, nil
}
