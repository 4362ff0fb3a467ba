package domain

import (
	"time"
)

// Preferences maps warning types to an enabled flag. Types missing from the
// map are enabled, so a type the user has never seen is not silently dropped.
type Preferences map[WarningType]bool

// DefaultPreferences enables every known type.
func DefaultPreferences() Preferences {
	p := make(Preferences, len(WarningTypes))
	for _, t := range WarningTypes {
		p[t] = true
	}
	return p
}

// Enabled reports whether warnings of type t should reach the user.
func (p Preferences) Enabled(t WarningType) bool {
	enabled, ok := p[t]
	return !ok || enabled
}

// Credential is the calendar access grant stored for a user.
type Credential struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time // zero means no known expiry
}

// Present reports whether an access token is stored at all.
func (c Credential) Present() bool {
	return c.AccessToken != ""
}

// Expired reports whether the access token is no longer usable at now.
func (c Credential) Expired(now time.Time) bool {
	return !c.Expiry.IsZero() && !now.Before(c.Expiry)
}

// User is a subscriber. Locations are ordered and unique by name.
type User struct {
	Email       string
	Locations   []Location
	Preferences Preferences
	Credential  Credential
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewUser returns an active user with default preferences.
func NewUser(email string) User {
	return User{
		Email:       email,
		Preferences: DefaultPreferences(),
		Active:      true,
	}
}

// HasCredential reports whether the user ever completed the calendar grant.
func (u User) HasCredential() bool {
	return u.Credential.Present()
}

// AddLocation appends l unless a location with the same name exists.
func (u *User) AddLocation(l Location) error {
	if err := l.Validate(); err != nil {
		return err
	}
	for _, existing := range u.Locations {
		if existing.Name == l.Name {
			return ErrDuplicateLocation
		}
	}
	u.Locations = append(u.Locations, l)
	return nil
}

// RemoveLocation drops the named location and reports whether it was present.
func (u *User) RemoveLocation(name string) bool {
	for i, l := range u.Locations {
		if l.Name == name {
			u.Locations = append(u.Locations[:i:i], u.Locations[i+1:]...)
			return true
		}
	}
	return false
}
