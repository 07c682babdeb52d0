package oauthflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	dbpkg "github.com/urizennnn/omni-backend-sub001/internal/db"
	"github.com/urizennnn/omni-backend-sub001/internal/platform"
)

// PGStateStore is the Postgres-backed state store. Single use is enforced
// with a row lock so racing callbacks serialize on the token.
type PGStateStore struct {
	pool *pgxpool.Pool
}

// NewPGStateStore creates a state store over the pool.
func NewPGStateStore(pool *pgxpool.Pool) *PGStateStore {
	return &PGStateStore{pool: pool}
}

// Create persists one pending handshake.
func (s *PGStateStore) Create(ctx context.Context, st State) error {
	userID, err := dbpkg.ParseUUID(st.UserID)
	if err != nil {
		return fmt.Errorf("parse user id: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO oauth_states (user_id, platform, state, pkce_verifier, redirect_uri, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		userID, st.Platform.String(), st.Token, st.PKCEVerifier, st.RedirectURI, st.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert oauth state: %w", err)
	}
	return nil
}

// Consume burns a state token and returns the handshake it belongs to.
// A token that is unknown or already consumed yields ErrInvalidState. An
// expired token yields ErrExpiredState without writing consumed_at; the
// expiry check itself blocks reuse, and consumed_at is only ever set while
// the state is still live.
func (s *PGStateStore) Consume(ctx context.Context, token string, now time.Time) (State, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return State{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		st         State
		rawPlat    string
		consumedAt *time.Time
	)
	err = tx.QueryRow(ctx, `
		SELECT id, user_id, platform, state, pkce_verifier, redirect_uri, expires_at, consumed_at
		FROM oauth_states
		WHERE state = $1
		FOR UPDATE`,
		token,
	).Scan(&st.ID, &st.UserID, &rawPlat, &st.Token, &st.PKCEVerifier, &st.RedirectURI, &st.ExpiresAt, &consumedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return State{}, ErrInvalidState
	}
	if err != nil {
		return State{}, fmt.Errorf("select oauth state: %w", err)
	}
	if consumedAt != nil {
		return State{}, ErrInvalidState
	}

	if !now.Before(st.ExpiresAt) {
		return State{}, ErrExpiredState
	}

	st.Platform, err = platform.Parse(rawPlat)
	if err != nil {
		return State{}, fmt.Errorf("stored platform: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE oauth_states SET consumed_at = $2 WHERE id = $1`, st.ID, now); err != nil {
		return State{}, fmt.Errorf("consume oauth state: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return State{}, fmt.Errorf("commit: %w", err)
	}
	return st, nil
}
