// Package credential hands out usable calendar credentials, refreshing
// expired access tokens when a refresh token is stored.
package credential

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/warning-calendar-service/internal/domain"
)

// expirySkew treats tokens about to expire as already expired.
const expirySkew = 30 * time.Second

// Refresher exchanges a refresh token for a new access credential.
type Refresher interface {
	Refresh(ctx context.Context, c domain.Credential) (domain.Credential, error)
}

// Updater persists a refreshed credential.
type Updater interface {
	UpdateCredential(ctx context.Context, email string, c domain.Credential) error
}

// Provider implements the dispatcher's credential source.
type Provider struct {
	refresher Refresher
	store     Updater
	logger    *slog.Logger
}

// NewProvider creates a Provider. refresher may be nil, in which case expired
// credentials are reported as ErrCredentialExpired.
func NewProvider(refresher Refresher, store Updater, logger *slog.Logger) *Provider {
	return &Provider{refresher: refresher, store: store, logger: logger}
}

// Credential returns a credential that is valid now for u.
func (p *Provider) Credential(ctx context.Context, u domain.User) (domain.Credential, error) {
	c := u.Credential
	if !c.Present() {
		return domain.Credential{}, domain.ErrNoCredential
	}
	if !c.Expired(domain.Now().Add(expirySkew)) {
		return c, nil
	}
	if p.refresher == nil || c.RefreshToken == "" {
		return domain.Credential{}, domain.ErrCredentialExpired
	}

	refreshed, err := p.refresher.Refresh(ctx, c)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("%w: %w", domain.ErrCredentialExpired, err)
	}
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = c.RefreshToken
	}

	if err := p.store.UpdateCredential(ctx, u.Email, refreshed); err != nil {
		// The refreshed token is still good for this cycle.
		p.logger.Warn("failed to persist refreshed credential", "user_email", u.Email, "error", err)
	} else {
		p.logger.Debug("credential refreshed", "user_email", u.Email, "expiry", refreshed.Expiry)
	}
	return refreshed, nil
}
