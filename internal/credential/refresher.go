package credential

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"github.com/couchcryptid/warning-calendar-service/internal/domain"
)

// TokenRefresher performs the OAuth 2.0 refresh_token grant against a token
// endpoint.
type TokenRefresher struct {
	config     *oauth2.Config
	httpClient *http.Client
}

// NewTokenRefresher creates a refresher for the given OAuth client.
func NewTokenRefresher(tokenURL, clientID, clientSecret string, timeout time.Duration) *TokenRefresher {
	return &TokenRefresher{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Refresh exchanges c.RefreshToken for a new access token.
func (r *TokenRefresher) Refresh(ctx context.Context, c domain.Credential) (domain.Credential, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)

	tok, err := r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: c.RefreshToken}).Token()
	if err != nil {
		return domain.Credential{}, fmt.Errorf("refresh token: %w", err)
	}

	out := domain.Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	switch secs := expiresIn(tok); {
	case secs > 0:
		out.Expiry = domain.Now().Add(time.Duration(secs) * time.Second)
	case !tok.Expiry.IsZero():
		out.Expiry = tok.Expiry.UTC()
	}
	return out, nil
}

// expiresIn reads the raw lifetime so expiry follows the domain clock rather
// than the wall clock oauth2 stamps it with.
func expiresIn(tok *oauth2.Token) int64 {
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	default:
		return 0
	}
}
