// Package oauthflow runs the OAuth connection handshake: state issuance,
// single-use state consumption, code exchange, and credential storage.
package oauthflow

import (
	"context"
	"errors"
	"time"

	"github.com/urizennnn/omni-backend-sub001/internal/accounts"
	"github.com/urizennnn/omni-backend-sub001/internal/platform"
)

var (
	// ErrInvalidState reports an unknown or already consumed state token.
	ErrInvalidState = errors.New("invalid oauth state")
	// ErrExpiredState reports a state token past its lifetime. The token is
	// burned either way.
	ErrExpiredState = errors.New("expired oauth state")
)

// State is one pending handshake. The PKCE verifier never leaves the
// server; only the derived challenge is sent to the platform.
type State struct {
	ID           string
	UserID       string
	Platform     platform.Platform
	Token        string
	PKCEVerifier string
	RedirectURI  string
	ExpiresAt    time.Time
}

// StateStore persists pending handshakes. Consume must be atomic: two
// concurrent callbacks with the same token must not both succeed.
type StateStore interface {
	Create(ctx context.Context, st State) error
	Consume(ctx context.Context, token string, now time.Time) (State, error)
}

// AccountStore is the slice of the account service the flow consumes.
type AccountStore interface {
	Upsert(ctx context.Context, params accounts.CreateParams) (accounts.ConnectedAccount, error)
	ListByUser(ctx context.Context, userID string) ([]accounts.ConnectedAccount, error)
}
