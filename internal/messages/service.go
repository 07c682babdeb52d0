package messages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	dbpkg "github.com/urizennnn/omni-backend-sub001/internal/db"
)

// ErrNotFound reports a missing message.
var ErrNotFound = errors.New("message not found")

// pgUniqueViolation is SQLSTATE 23505.
const pgUniqueViolation = "23505"

const messageColumns = `id, conversation_id, external_message_id, direction,
	delivery_status, role, subject, body, sent_at, message_id, in_reply_to,
	references_list, thread_id, parent_message_id, sender_email, sender_name,
	sent_by, participants, created_at`

// Service persists and reads messages and actor mappings.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewService creates a message service.
func NewService(log *slog.Logger, pool *pgxpool.Pool) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		pool:   pool,
		logger: log.With(slog.String("service", "messages")),
	}
}

// Create inserts one message. A unique violation on (external_message_id,
// conversation_id) means the event was already ingested: the existing row
// is returned with created=false and no error. Re-delivery under
// at-least-once semantics is therefore safe to replay.
func (s *Service) Create(ctx context.Context, params CreateParams) (Message, bool, error) {
	pgConversationID, err := dbpkg.ParseUUID(params.ConversationID)
	if err != nil {
		return Message{}, false, fmt.Errorf("invalid conversation id: %w", err)
	}
	pgParentID, err := dbpkg.ParseOptionalUUID(params.ParentMessageID)
	if err != nil {
		return Message{}, false, fmt.Errorf("invalid parent message id: %w", err)
	}
	pgSentBy, err := dbpkg.ParseOptionalUUID(params.SentBy)
	if err != nil {
		return Message{}, false, fmt.Errorf("invalid sent_by id: %w", err)
	}
	references, err := marshalStrings(params.References)
	if err != nil {
		return Message{}, false, fmt.Errorf("marshal references: %w", err)
	}
	participants, err := marshalStrings(params.Participants)
	if err != nil {
		return Message{}, false, fmt.Errorf("marshal participants: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO messages
			(conversation_id, external_message_id, direction, delivery_status,
			 role, subject, body, sent_at, message_id, in_reply_to,
			 references_list, thread_id, parent_message_id, sender_email,
			 sender_name, sent_by, participants)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING `+messageColumns,
		pgConversationID, params.ExternalMessageID, params.Direction,
		params.DeliveryStatus, params.Role, params.Subject, params.Body,
		pgtype.Timestamptz{Time: params.SentAt, Valid: true},
		params.MessageID, params.InReplyTo, references, params.ThreadID,
		pgParentID, params.SenderEmail, params.SenderName, pgSentBy,
		participants)

	message, err := scanMessage(row)
	if err == nil {
		return message, true, nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		s.logger.Debug("duplicate message, already ingested",
			slog.String("external_message_id", params.ExternalMessageID),
			slog.String("conversation_id", params.ConversationID))
		existing, lookupErr := s.GetByExternalID(ctx, params.ConversationID, params.ExternalMessageID)
		if lookupErr != nil {
			return Message{}, false, lookupErr
		}
		return existing, false, nil
	}
	return Message{}, false, err
}

// GetByExternalID returns the message with the given dedup key.
func (s *Service) GetByExternalID(ctx context.Context, conversationID, externalMessageID string) (Message, error) {
	pgConversationID, err := dbpkg.ParseUUID(conversationID)
	if err != nil {
		return Message{}, err
	}
	row := s.pool.QueryRow(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = $1 AND external_message_id = $2`,
		pgConversationID, externalMessageID)
	message, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	return message, err
}

// FindByMessageID looks up a message by its protocol-level message id
// within one conversation, for reply threading. Threads never span
// conversations, so the lookup is always conversation scoped.
func (s *Service) FindByMessageID(ctx context.Context, conversationID, messageID string) (Message, error) {
	pgConversationID, err := dbpkg.ParseUUID(conversationID)
	if err != nil {
		return Message{}, err
	}
	row := s.pool.QueryRow(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = $1 AND message_id = $2
		ORDER BY sent_at
		LIMIT 1`,
		pgConversationID, messageID)
	message, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	return message, err
}

// ListByConversation returns messages oldest first, paged.
func (s *Service) ListByConversation(ctx context.Context, conversationID string, limit, offset int) ([]Message, error) {
	pgConversationID, err := dbpkg.ParseUUID(conversationID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = $1
		ORDER BY sent_at, created_at
		LIMIT $2 OFFSET $3`,
		pgConversationID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Message
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, message)
	}
	return items, rows.Err()
}

// --- Actor mappings ---

// GetActorMapping returns the mapping for (platform, account, message), or
// ErrNotFound when the sender is purely external.
func (s *Service) GetActorMapping(ctx context.Context, platform, accountID, messageID string) (ActorMapping, error) {
	pgAccountID, err := dbpkg.ParseUUID(accountID)
	if err != nil {
		return ActorMapping{}, err
	}
	row := s.pool.QueryRow(ctx, `
		SELECT id, platform, account_id, message_id, actor_user_id, role, created_at
		FROM message_actor_mappings
		WHERE platform = $1 AND account_id = $2 AND message_id = $3`,
		platform, pgAccountID, messageID)
	mapping, err := scanActorMapping(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ActorMapping{}, ErrNotFound
	}
	return mapping, err
}

// CreateActorMapping lazily records an internal actor for a message. A
// concurrent duplicate insert resolves to the existing row.
func (s *Service) CreateActorMapping(ctx context.Context, platform, accountID, messageID, actorUserID, role string) (ActorMapping, error) {
	pgAccountID, err := dbpkg.ParseUUID(accountID)
	if err != nil {
		return ActorMapping{}, err
	}
	pgActorID, err := dbpkg.ParseUUID(actorUserID)
	if err != nil {
		return ActorMapping{}, err
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO message_actor_mappings (platform, account_id, message_id, actor_user_id, role)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (platform, account_id, message_id) DO UPDATE SET role = message_actor_mappings.role
		RETURNING id, platform, account_id, message_id, actor_user_id, role, created_at`,
		platform, pgAccountID, messageID, pgActorID, role)
	return scanActorMapping(row)
}

func marshalStrings(values []string) ([]byte, error) {
	if len(values) == 0 {
		return nil, nil
	}
	return json.Marshal(values)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (Message, error) {
	var (
		id, conversationID          pgtype.UUID
		externalMessageID           string
		direction, deliveryStatus   string
		role, subject, body         string
		sentAt                      pgtype.Timestamptz
		messageID, inReplyTo        string
		references                  []byte
		threadID                    string
		parentMessageID, sentBy     pgtype.UUID
		senderEmail, senderName     string
		participants                []byte
		createdAt                   pgtype.Timestamptz
	)
	err := row.Scan(&id, &conversationID, &externalMessageID, &direction,
		&deliveryStatus, &role, &subject, &body, &sentAt, &messageID,
		&inReplyTo, &references, &threadID, &parentMessageID, &senderEmail,
		&senderName, &sentBy, &participants, &createdAt)
	if err != nil {
		return Message{}, err
	}

	message := Message{
		ID:                id.String(),
		ConversationID:    conversationID.String(),
		ExternalMessageID: externalMessageID,
		Direction:         direction,
		DeliveryStatus:    deliveryStatus,
		Role:              role,
		Subject:           subject,
		Body:              body,
		SentAt:            sentAt.Time,
		MessageID:         messageID,
		InReplyTo:         inReplyTo,
		ThreadID:          threadID,
		ParentMessageID:   dbpkg.UUIDToString(parentMessageID),
		SenderEmail:       senderEmail,
		SenderName:        senderName,
		SentBy:            dbpkg.UUIDToString(sentBy),
		CreatedAt:         createdAt.Time,
	}
	if len(references) > 0 {
		_ = json.Unmarshal(references, &message.References)
	}
	if len(participants) > 0 {
		_ = json.Unmarshal(participants, &message.Participants)
	}
	return message, nil
}

func scanActorMapping(row rowScanner) (ActorMapping, error) {
	var (
		id, accountID, actorUserID pgtype.UUID
		platform, messageID, role  string
		createdAt                  pgtype.Timestamptz
	)
	err := row.Scan(&id, &platform, &accountID, &messageID, &actorUserID, &role, &createdAt)
	if err != nil {
		return ActorMapping{}, err
	}
	return ActorMapping{
		ID:          id.String(),
		Platform:    platform,
		AccountID:   accountID.String(),
		MessageID:   messageID,
		ActorUserID: actorUserID.String(),
		Role:        role,
		CreatedAt:   createdAt.Time,
	}, nil
}
