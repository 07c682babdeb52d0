// Package contacts maintains the per-user directory of external identities.
package contacts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	dbpkg "github.com/urizennnn/omni-backend-sub001/internal/db"
	"github.com/urizennnn/omni-backend-sub001/internal/platform"
)

// Contact is a directory entry for an external identity, unique per
// (user, platform, external_id).
type Contact struct {
	ID           string            `json:"id"`
	UserID       string            `json:"user_id"`
	Platform     platform.Platform `json:"platform"`
	ExternalID   string            `json:"external_id"`
	Username     string            `json:"username,omitempty"`
	DisplayName  string            `json:"display_name,omitempty"`
	PlatformData map[string]any    `json:"platform_data,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// UpsertParams is the input for recording an external identity.
type UpsertParams struct {
	UserID       string
	Platform     platform.Platform
	ExternalID   string
	Username     string
	DisplayName  string
	PlatformData map[string]any
}

// Service persists and reads contacts.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewService creates a contact service.
func NewService(log *slog.Logger, pool *pgxpool.Pool) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		pool:   pool,
		logger: log.With(slog.String("service", "contacts")),
	}
}

// Upsert records an external identity, refreshing name fields on repeat
// sightings.
func (s *Service) Upsert(ctx context.Context, params UpsertParams) (Contact, error) {
	pgUserID, err := dbpkg.ParseUUID(params.UserID)
	if err != nil {
		return Contact{}, fmt.Errorf("invalid user id: %w", err)
	}
	var platformData []byte
	if len(params.PlatformData) > 0 {
		platformData, err = json.Marshal(params.PlatformData)
		if err != nil {
			return Contact{}, fmt.Errorf("marshal platform data: %w", err)
		}
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO contacts (user_id, platform, external_id, username, display_name, platform_data)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, platform, external_id) DO UPDATE SET
			username = CASE WHEN EXCLUDED.username <> '' THEN EXCLUDED.username ELSE contacts.username END,
			display_name = CASE WHEN EXCLUDED.display_name <> '' THEN EXCLUDED.display_name ELSE contacts.display_name END,
			updated_at = now()
		RETURNING id, user_id, platform, external_id, username, display_name, platform_data, created_at, updated_at`,
		pgUserID, params.Platform.String(), params.ExternalID,
		params.Username, params.DisplayName, platformData)

	return scanContact(row)
}

// ListByUser returns a user's directory, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Contact, error) {
	pgUserID, err := dbpkg.ParseUUID(userID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, platform, external_id, username, display_name, platform_data, created_at, updated_at
		FROM contacts
		WHERE user_id = $1
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3`,
		pgUserID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Contact
	for rows.Next() {
		contact, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, contact)
	}
	return items, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContact(row rowScanner) (Contact, error) {
	var (
		id, userID               pgtype.UUID
		platformRaw, externalID  string
		username, displayName    string
		platformData             []byte
		createdAt, updatedAt     pgtype.Timestamptz
	)
	err := row.Scan(&id, &userID, &platformRaw, &externalID, &username,
		&displayName, &platformData, &createdAt, &updatedAt)
	if err != nil {
		return Contact{}, err
	}
	contact := Contact{
		ID:          id.String(),
		UserID:      userID.String(),
		Platform:    platform.Platform(platformRaw),
		ExternalID:  externalID,
		Username:    username,
		DisplayName: displayName,
		CreatedAt:   createdAt.Time,
		UpdatedAt:   updatedAt.Time,
	}
	if len(platformData) > 0 {
		_ = json.Unmarshal(platformData, &contact.PlatformData)
	}
	return contact, nil
}
