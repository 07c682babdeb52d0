package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urizennnn/omni-backend-sub001/internal/accounts"
	"github.com/urizennnn/omni-backend-sub001/internal/connector"
	"github.com/urizennnn/omni-backend-sub001/internal/platform"
)

func testAccount() accounts.ConnectedAccount {
	return accounts.ConnectedAccount{
		ID:                "acct-row-1",
		UserID:            "user-1",
		Platform:          platform.Telegram,
		ExternalAccountID: "self-1",
	}
}

func TestGrouperResolveByExternalID(t *testing.T) {
	store := newFakeConversationStore()
	g := NewGrouper(nil, store)
	account := testAccount()

	n := Normalized{Platform: platform.Telegram, ExternalConversationID: "chat-42", ConversationName: "Alice"}

	conv, created, err := g.Resolve(context.Background(), account, n)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "chat-42", conv.ExternalID)
	assert.Equal(t, "Alice", conv.DisplayName)

	again, created, err := g.Resolve(context.Background(), account, n)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, conv.ID, again.ID)
}

func TestGrouperEmailReceiverFallback(t *testing.T) {
	store := newFakeConversationStore()
	g := NewGrouper(nil, store)
	account := testAccount()
	account.Platform = platform.Email

	n := Normalized{
		Platform:      platform.Email,
		ReceiverEmail: "support@example.com",
		Sender:        connector.SenderIdentity{Email: "customer@example.com", Name: "Customer"},
	}

	conv, created, err := g.Resolve(context.Background(), account, n)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, SyntheticEmailID("user-1", "support@example.com"), conv.ExternalID)
	assert.Equal(t, "support@example.com", conv.ReceiverEmail)

	// A later mail to the same receiver lands in the same conversation even
	// though it carries no platform conversation identifier.
	again, created, err := g.Resolve(context.Background(), account, n)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, conv.ID, again.ID)
}

func TestGrouperNoIdentifierIsMalformed(t *testing.T) {
	g := NewGrouper(nil, newFakeConversationStore())

	_, _, err := g.Resolve(context.Background(), testAccount(), Normalized{Platform: platform.Telegram})
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestGrouperDisplayNameFallbacks(t *testing.T) {
	g := NewGrouper(nil, newFakeConversationStore())

	assert.Equal(t, "Room", g.displayName(Normalized{ConversationName: "Room", Sender: connector.SenderIdentity{Name: "A"}}))
	assert.Equal(t, "A", g.displayName(Normalized{Sender: connector.SenderIdentity{Name: "A", Username: "a_user"}}))
	assert.Equal(t, "a_user", g.displayName(Normalized{Sender: connector.SenderIdentity{Username: "a_user"}}))
	assert.Equal(t, "a@b.c", g.displayName(Normalized{Sender: connector.SenderIdentity{Email: "a@b.c"}}))
}
