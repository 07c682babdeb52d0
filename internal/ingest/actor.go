package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/urizennnn/omni-backend-sub001/internal/accounts"
	"github.com/urizennnn/omni-backend-sub001/internal/messages"
	"github.com/urizennnn/omni-backend-sub001/internal/users"
)

// ActorResolver attributes outbound messages to internal users. External
// senders get no mapping; their absence is the signal.
type ActorResolver struct {
	messages MessageStore
	users    UserDirectory
	logger   *slog.Logger
}

// NewActorResolver creates an actor resolver.
func NewActorResolver(log *slog.Logger, store MessageStore, directory UserDirectory) *ActorResolver {
	if log == nil {
		log = slog.Default()
	}
	return &ActorResolver{
		messages: store,
		users:    directory,
		logger:   log.With(slog.String("service", "actor_resolver")),
	}
}

// Actor is the resolved internal attribution for one message, or the zero
// value for external senders.
type Actor struct {
	UserID string
	Role   string
}

// Resolve returns the internal actor behind a message. Existing mappings
// win so replayed events keep their original attribution. New mappings are
// recorded only for outbound messages: a matching agent email takes the
// agent role, anything else falls to the account owner.
func (r *ActorResolver) Resolve(ctx context.Context, account accounts.ConnectedAccount, n Normalized) (Actor, error) {
	if n.ExternalMessageID != "" {
		mapping, err := r.messages.GetActorMapping(ctx, n.Platform.String(), account.ID, n.ExternalMessageID)
		if err == nil {
			return Actor{UserID: mapping.ActorUserID, Role: mapping.Role}, nil
		}
		if !errors.Is(err, messages.ErrNotFound) {
			return Actor{}, fmt.Errorf("lookup actor mapping: %w", err)
		}
	}

	if n.Direction != messages.DirectionOutbound {
		return Actor{}, nil
	}

	actor := Actor{UserID: account.UserID, Role: messages.ActorRoleOwner}
	if email := strings.ToLower(strings.TrimSpace(n.Sender.Email)); email != "" {
		u, err := r.users.GetByEmail(ctx, email)
		switch {
		case err == nil && u.ID != account.UserID:
			actor = Actor{UserID: u.ID, Role: messages.ActorRoleAgent}
		case err != nil && !errors.Is(err, users.ErrNotFound):
			return Actor{}, fmt.Errorf("lookup agent: %w", err)
		}
	}

	if n.ExternalMessageID != "" {
		if _, err := r.messages.CreateActorMapping(ctx, n.Platform.String(), account.ID, n.ExternalMessageID, actor.UserID, actor.Role); err != nil {
			return Actor{}, fmt.Errorf("record actor mapping: %w", err)
		}
	}
	return actor, nil
}
