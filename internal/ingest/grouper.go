package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/urizennnn/omni-backend-sub001/internal/accounts"
	"github.com/urizennnn/omni-backend-sub001/internal/conversations"
	"github.com/urizennnn/omni-backend-sub001/internal/platform"
)

// Grouper resolves each normalized event to exactly one conversation.
type Grouper struct {
	conversations ConversationStore
	logger        *slog.Logger
}

// NewGrouper creates a grouper over the conversation store.
func NewGrouper(log *slog.Logger, store ConversationStore) *Grouper {
	if log == nil {
		log = slog.Default()
	}
	return &Grouper{
		conversations: store,
		logger:        log.With(slog.String("service", "grouper")),
	}
}

// Resolve finds or materializes the conversation an event belongs to.
// Platform-provided conversation identifiers win; email events without one
// fall back to the receiver address, minting a synthetic identifier on
// first sight so the external-id invariant holds for every conversation.
func (g *Grouper) Resolve(ctx context.Context, account accounts.ConnectedAccount, n Normalized) (conversations.Conversation, bool, error) {
	if n.ExternalConversationID != "" {
		return g.conversations.FindOrCreate(ctx, conversations.CreateParams{
			UserID:        account.UserID,
			AccountID:     account.ID,
			Platform:      n.Platform,
			ExternalID:    n.ExternalConversationID,
			DisplayName:   g.displayName(n),
			ReceiverEmail: n.ReceiverEmail,
			PlatformData:  n.PlatformData,
			Participants:  n.Participants,
		})
	}

	if n.Platform == platform.Email && n.ReceiverEmail != "" {
		conv, err := g.conversations.FindByReceiverEmail(ctx, account.UserID, n.Platform, n.ReceiverEmail)
		if err == nil {
			return conv, false, nil
		}
		if !errors.Is(err, conversations.ErrNotFound) {
			return conversations.Conversation{}, false, fmt.Errorf("find by receiver email: %w", err)
		}
		return g.conversations.FindOrCreate(ctx, conversations.CreateParams{
			UserID:        account.UserID,
			AccountID:     account.ID,
			Platform:      n.Platform,
			ExternalID:    SyntheticEmailID(account.UserID, n.ReceiverEmail),
			DisplayName:   g.displayName(n),
			ReceiverEmail: n.ReceiverEmail,
			PlatformData:  n.PlatformData,
			Participants:  n.Participants,
		})
	}

	return conversations.Conversation{}, false, fmt.Errorf("%w: no conversation identifier", ErrMalformedPayload)
}

func (g *Grouper) displayName(n Normalized) string {
	if n.ConversationName != "" {
		return n.ConversationName
	}
	if n.Sender.Name != "" {
		return n.Sender.Name
	}
	if n.Sender.Username != "" {
		return n.Sender.Username
	}
	if n.Sender.Email != "" {
		return n.Sender.Email
	}
	return ""
}

// SyntheticEmailID is the deterministic external identifier minted for
// email conversations grouped by receiver address.
func SyntheticEmailID(userID, receiverEmail string) string {
	return fmt.Sprintf("email:%s:%s", userID, strings.ToLower(receiverEmail))
}
