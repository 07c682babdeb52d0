package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/urizennnn/omni-backend-sub001/internal/messages"
)

// ThreadInfo is the placement assigned to one message within its
// conversation's thread graph.
type ThreadInfo struct {
	ThreadID        string
	ParentMessageID string
}

// Threader assigns thread placement from RFC 5322 style headers. Lookups
// are scoped to the already-resolved conversation, never across
// conversations.
type Threader struct {
	messages MessageStore
	logger   *slog.Logger
}

// NewThreader creates a threader over the message store.
func NewThreader(log *slog.Logger, store MessageStore) *Threader {
	if log == nil {
		log = slog.Default()
	}
	return &Threader{
		messages: store,
		logger:   log.With(slog.String("service", "threader")),
	}
}

// Thread resolves a message's placement. In-Reply-To is tried first, then
// the References chain newest first. When no ancestor is stored the
// message starts a new thread; out-of-order arrivals mean siblings may
// land in separate threads, which is accepted rather than repaired.
func (t *Threader) Thread(ctx context.Context, conversationID string, n Normalized) (ThreadInfo, error) {
	if n.InReplyTo != "" {
		parent, err := t.messages.FindByMessageID(ctx, conversationID, n.InReplyTo)
		if err == nil {
			return inherit(parent), nil
		}
		if !errors.Is(err, messages.ErrNotFound) {
			return ThreadInfo{}, fmt.Errorf("lookup in-reply-to: %w", err)
		}
	}

	for i := len(n.References) - 1; i >= 0; i-- {
		ref := n.References[i]
		if ref == "" || ref == n.InReplyTo {
			continue
		}
		ancestor, err := t.messages.FindByMessageID(ctx, conversationID, ref)
		if err == nil {
			return inherit(ancestor), nil
		}
		if !errors.Is(err, messages.ErrNotFound) {
			return ThreadInfo{}, fmt.Errorf("lookup reference: %w", err)
		}
	}

	threadID := n.MessageID
	if threadID == "" {
		threadID = uuid.NewString()
	}
	return ThreadInfo{ThreadID: threadID}, nil
}

func inherit(parent messages.Message) ThreadInfo {
	threadID := parent.ThreadID
	if threadID == "" {
		threadID = parent.MessageID
	}
	return ThreadInfo{ThreadID: threadID, ParentMessageID: parent.ID}
}
