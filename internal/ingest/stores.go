package ingest

import (
	"context"

	"github.com/urizennnn/omni-backend-sub001/internal/contacts"
	"github.com/urizennnn/omni-backend-sub001/internal/conversations"
	"github.com/urizennnn/omni-backend-sub001/internal/messages"
	"github.com/urizennnn/omni-backend-sub001/internal/platform"
	"github.com/urizennnn/omni-backend-sub001/internal/users"
)

// ConversationStore is the slice of the conversation service the pipeline
// consumes.
type ConversationStore interface {
	FindOrCreate(ctx context.Context, params conversations.CreateParams) (conversations.Conversation, bool, error)
	FindByReceiverEmail(ctx context.Context, userID string, p platform.Platform, receiverEmail string) (conversations.Conversation, error)
	RecordActivity(ctx context.Context, id string, activity conversations.Activity) error
}

// MessageStore is the slice of the message service the pipeline consumes.
type MessageStore interface {
	Create(ctx context.Context, params messages.CreateParams) (messages.Message, bool, error)
	FindByMessageID(ctx context.Context, conversationID, messageID string) (messages.Message, error)
	GetActorMapping(ctx context.Context, platform, accountID, messageID string) (messages.ActorMapping, error)
	CreateActorMapping(ctx context.Context, platform, accountID, messageID, actorUserID, role string) (messages.ActorMapping, error)
}

// ContactStore records external identities seen during ingestion.
type ContactStore interface {
	Upsert(ctx context.Context, params contacts.UpsertParams) (contacts.Contact, error)
}

// UserDirectory resolves internal actors by email.
type UserDirectory interface {
	GetByEmail(ctx context.Context, email string) (users.User, error)
}
