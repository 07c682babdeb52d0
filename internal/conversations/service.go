package conversations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	dbpkg "github.com/urizennnn/omni-backend-sub001/internal/db"
	"github.com/urizennnn/omni-backend-sub001/internal/platform"
)

// ErrNotFound reports a missing conversation.
var ErrNotFound = errors.New("conversation not found")

const conversationColumns = `id, user_id, account_id, platform, external_id,
	display_name, state, unread_count, preview, online, last_seen_at,
	last_message_status, receiver_email, platform_data, participants, bcc,
	created_at, updated_at`

// Service persists and reads conversations.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewService creates a conversation service.
func NewService(log *slog.Logger, pool *pgxpool.Pool) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		pool:   pool,
		logger: log.With(slog.String("service", "conversations")),
	}
}

// FindOrCreate resolves a conversation by (platform, external_id), creating
// it when absent. The upsert relies on the unique constraint so concurrent
// pollers converge on one row; created reports whether this call inserted.
func (s *Service) FindOrCreate(ctx context.Context, params CreateParams) (Conversation, bool, error) {
	pgUserID, err := dbpkg.ParseUUID(params.UserID)
	if err != nil {
		return Conversation{}, false, fmt.Errorf("invalid user id: %w", err)
	}
	pgAccountID, err := dbpkg.ParseOptionalUUID(params.AccountID)
	if err != nil {
		return Conversation{}, false, fmt.Errorf("invalid account id: %w", err)
	}
	platformData, err := marshalOptional(params.PlatformData)
	if err != nil {
		return Conversation{}, false, fmt.Errorf("marshal platform data: %w", err)
	}
	participants, err := marshalOptional(params.Participants)
	if err != nil {
		return Conversation{}, false, fmt.Errorf("marshal participants: %w", err)
	}

	// xmax = 0 distinguishes a fresh insert from a conflict-update.
	row := s.pool.QueryRow(ctx, `
		INSERT INTO conversations
			(user_id, account_id, platform, external_id, display_name,
			 receiver_email, platform_data, participants)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)
		ON CONFLICT (platform, external_id) DO UPDATE SET
			display_name = CASE
				WHEN conversations.display_name = '' THEN EXCLUDED.display_name
				ELSE conversations.display_name
			END
		RETURNING `+conversationColumns+`, (xmax = 0) AS inserted`,
		pgUserID, pgAccountID, params.Platform.String(), params.ExternalID,
		params.DisplayName, params.ReceiverEmail, platformData, participants)

	return scanConversationWithInserted(row)
}

// FindByReceiverEmail implements the email grouping fallback: one
// conversation per (user, platform, receiver_email).
func (s *Service) FindByReceiverEmail(ctx context.Context, userID string, p platform.Platform, receiverEmail string) (Conversation, error) {
	pgUserID, err := dbpkg.ParseUUID(userID)
	if err != nil {
		return Conversation{}, err
	}
	row := s.pool.QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE user_id = $1 AND platform = $2 AND receiver_email = $3
		  AND parent_conversation_id IS NULL
		ORDER BY created_at
		LIMIT 1`,
		pgUserID, p.String(), receiverEmail)
	conversation, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	return conversation, err
}

// Get returns one conversation by id.
func (s *Service) Get(ctx context.Context, id string) (Conversation, error) {
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return Conversation{}, err
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, pgID)
	conversation, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	return conversation, err
}

// ListByUser returns a user's conversations, most recently active first.
func (s *Service) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Conversation, error) {
	pgUserID, err := dbpkg.ParseUUID(userID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE user_id = $1
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3`,
		pgUserID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conversations []Conversation
	for rows.Next() {
		conversation, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, conversation)
	}
	return conversations, rows.Err()
}

// RecordActivity applies a message's side effects to the owning
// conversation row: preview, unread count, last message status.
func (s *Service) RecordActivity(ctx context.Context, id string, activity Activity) error {
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return err
	}
	unreadDelta := 0
	if activity.IncrementUnread {
		unreadDelta = 1
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE conversations
		SET preview = $2,
		    last_message_status = NULLIF($3, ''),
		    unread_count = unread_count + $4,
		    updated_at = GREATEST(updated_at, $5)
		WHERE id = $1`,
		pgID, activity.Preview, activity.LastMessageStatus, unreadDelta,
		pgtype.Timestamptz{Time: activity.At, Valid: !activity.At.IsZero()})
	return err
}

// SetState opens or archives a conversation.
func (s *Service) SetState(ctx context.Context, userID, id, state string) error {
	if state != StateOpen && state != StateArchived {
		return fmt.Errorf("invalid conversation state: %s", state)
	}
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return err
	}
	pgUserID, err := dbpkg.ParseUUID(userID)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations SET state = $3, updated_at = now() WHERE id = $1 AND user_id = $2`,
		pgID, pgUserID, state)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkRead clears the unread counter.
func (s *Service) MarkRead(ctx context.Context, userID, id string) error {
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return err
	}
	pgUserID, err := dbpkg.ParseUUID(userID)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE conversations SET unread_count = 0 WHERE id = $1 AND user_id = $2`,
		pgID, pgUserID)
	return err
}

func marshalOptional(v any) ([]byte, error) {
	switch value := v.(type) {
	case map[string]any:
		if len(value) == 0 {
			return nil, nil
		}
	case []string:
		if len(value) == 0 {
			return nil, nil
		}
	case nil:
		return nil, nil
	}
	return json.Marshal(v)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversationInto(row rowScanner, extra ...any) (Conversation, error) {
	var (
		id, userID, accountID          pgtype.UUID
		platformRaw, externalID        string
		displayName, state             string
		unreadCount                    int
		preview                        string
		online                         bool
		lastSeenAt                     pgtype.Timestamptz
		lastMessageStatus              pgtype.Text
		receiverEmail                  pgtype.Text
		platformData, participants, bcc []byte
		createdAt, updatedAt           pgtype.Timestamptz
	)
	dest := []any{&id, &userID, &accountID, &platformRaw, &externalID,
		&displayName, &state, &unreadCount, &preview, &online, &lastSeenAt,
		&lastMessageStatus, &receiverEmail, &platformData, &participants,
		&bcc, &createdAt, &updatedAt}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return Conversation{}, err
	}

	conversation := Conversation{
		ID:                id.String(),
		UserID:            userID.String(),
		AccountID:         dbpkg.UUIDToString(accountID),
		Platform:          platform.Platform(platformRaw),
		ExternalID:        externalID,
		DisplayName:       displayName,
		State:             state,
		UnreadCount:       unreadCount,
		Preview:           preview,
		Online:            online,
		LastMessageStatus: dbpkg.TextToString(lastMessageStatus),
		ReceiverEmail:     dbpkg.TextToString(receiverEmail),
		CreatedAt:         createdAt.Time,
		UpdatedAt:         updatedAt.Time,
	}
	if lastSeenAt.Valid {
		t := lastSeenAt.Time
		conversation.LastSeenAt = &t
	}
	if len(platformData) > 0 {
		_ = json.Unmarshal(platformData, &conversation.PlatformData)
	}
	if len(participants) > 0 {
		_ = json.Unmarshal(participants, &conversation.Participants)
	}
	if len(bcc) > 0 {
		_ = json.Unmarshal(bcc, &conversation.BCC)
	}
	return conversation, nil
}

func scanConversation(row rowScanner) (Conversation, error) {
	return scanConversationInto(row)
}

func scanConversationWithInserted(row rowScanner) (Conversation, bool, error) {
	var inserted bool
	conversation, err := scanConversationInto(row, &inserted)
	return conversation, inserted, err
}
