package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	dbpkg "github.com/urizennnn/omni-backend-sub001/internal/db"
	"github.com/urizennnn/omni-backend-sub001/internal/platform"
)

// ErrNotFound reports a missing connected account.
var ErrNotFound = errors.New("connected account not found")

const accountColumns = `id, user_id, platform, status, credentials,
	polling_interval_seconds, job_key, last_polled_at, cursor,
	external_account_id, consecutive_failures, created_at, updated_at`

// Service persists and reads connected accounts.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewService creates an account service.
func NewService(log *slog.Logger, pool *pgxpool.Pool) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		pool:   pool,
		logger: log.With(slog.String("service", "accounts")),
	}
}

// Upsert creates the connected account, or refreshes credentials and
// reactivates it when the user reconnects the same platform account.
func (s *Service) Upsert(ctx context.Context, params CreateParams) (ConnectedAccount, error) {
	pgUserID, err := dbpkg.ParseUUID(params.UserID)
	if err != nil {
		return ConnectedAccount{}, fmt.Errorf("invalid user id: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO connected_accounts
			(user_id, platform, credentials, polling_interval_seconds, job_key, external_account_id)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
		ON CONFLICT (job_key) DO UPDATE SET
			credentials = EXCLUDED.credentials,
			status = 'active',
			consecutive_failures = 0,
			updated_at = now()
		RETURNING `+accountColumns,
		pgUserID, params.Platform.String(), params.Credentials,
		params.PollingIntervalSeconds, params.JobKey, params.ExternalAccountID)

	return scanAccount(row)
}

// Get returns one account by id.
func (s *Service) Get(ctx context.Context, id string) (ConnectedAccount, error) {
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return ConnectedAccount{}, err
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM connected_accounts WHERE id = $1`, pgID)
	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ConnectedAccount{}, ErrNotFound
	}
	return account, err
}

// ListByUser returns all accounts owned by a user.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]ConnectedAccount, error) {
	pgUserID, err := dbpkg.ParseUUID(userID)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+accountColumns+` FROM connected_accounts WHERE user_id = $1 ORDER BY created_at`, pgUserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAccounts(rows)
}

// ListSchedulable returns accounts eligible for polling (everything except
// needs_reauth; error-flagged accounts keep polling).
func (s *Service) ListSchedulable(ctx context.Context) ([]ConnectedAccount, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+accountColumns+` FROM connected_accounts WHERE status <> 'needs_reauth' ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAccounts(rows)
}

// Delete disconnects an account, destroying its credentials and schedule
// slot. Owned rows cascade at the database level.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return err
	}
	pgUserID, err := dbpkg.ParseUUID(userID)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM connected_accounts WHERE id = $1 AND user_id = $2`, pgID, pgUserID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetStatus transitions the account status.
func (s *Service) SetStatus(ctx context.Context, id string, status Status) error {
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE connected_accounts SET status = $2, updated_at = now() WHERE id = $1`,
		pgID, string(status))
	return err
}

// UpdateCredentials replaces the encrypted credential blob, used after a
// successful token refresh.
func (s *Service) UpdateCredentials(ctx context.Context, id, credentials string) error {
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE connected_accounts SET credentials = $2, updated_at = now() WHERE id = $1`,
		pgID, credentials)
	return err
}

// CommitCursor persists the new cursor and last_polled_at in one statement,
// and clears the failure streak. Called only after a batch has fully
// committed; a failed poll never reaches this point, so the cursor cannot
// regress on error.
func (s *Service) CommitCursor(ctx context.Context, id string, cursor platform.Cursor, polledAt time.Time) error {
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return err
	}
	raw, err := cursor.Encode()
	if err != nil {
		return fmt.Errorf("encode cursor: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE connected_accounts
		SET cursor = $2,
		    last_polled_at = $3,
		    consecutive_failures = 0,
		    status = CASE WHEN status = 'error' THEN 'active' ELSE status END,
		    updated_at = now()
		WHERE id = $1`,
		pgID, raw, pgtype.Timestamptz{Time: polledAt, Valid: true})
	return err
}

// RecordFailure increments the transient-failure streak and returns the new
// count so the poller can apply its error threshold.
func (s *Service) RecordFailure(ctx context.Context, id string) (int, error) {
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return 0, err
	}
	var failures int
	err = s.pool.QueryRow(ctx, `
		UPDATE connected_accounts
		SET consecutive_failures = consecutive_failures + 1, updated_at = now()
		WHERE id = $1
		RETURNING consecutive_failures`, pgID).Scan(&failures)
	return failures, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (ConnectedAccount, error) {
	var (
		id, userID                pgtype.UUID
		platformRaw, status       string
		credentials, jobKey       string
		interval, failures        int
		lastPolledAt              pgtype.Timestamptz
		cursor                    []byte
		externalAccountID         pgtype.Text
		createdAt, updatedAt      pgtype.Timestamptz
	)
	err := row.Scan(&id, &userID, &platformRaw, &status, &credentials,
		&interval, &jobKey, &lastPolledAt, &cursor,
		&externalAccountID, &failures, &createdAt, &updatedAt)
	if err != nil {
		return ConnectedAccount{}, err
	}

	account := ConnectedAccount{
		ID:                     id.String(),
		UserID:                 userID.String(),
		Platform:               platform.Platform(platformRaw),
		Status:                 Status(status),
		Credentials:            credentials,
		PollingIntervalSeconds: interval,
		JobKey:                 jobKey,
		Cursor:                 cursor,
		ExternalAccountID:      dbpkg.TextToString(externalAccountID),
		ConsecutiveFailures:    failures,
		CreatedAt:              createdAt.Time,
		UpdatedAt:              updatedAt.Time,
	}
	if lastPolledAt.Valid {
		t := lastPolledAt.Time
		account.LastPolledAt = &t
	}
	return account, nil
}

func scanAccounts(rows pgx.Rows) ([]ConnectedAccount, error) {
	var accounts []ConnectedAccount
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}
