package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urizennnn/omni-backend-sub001/internal/messages"
)

func seedMessage(t *testing.T, store *fakeMessageStore, conversationID, messageID, threadID string) messages.Message {
	t.Helper()
	row, created, err := store.Create(context.Background(), messages.CreateParams{
		ConversationID:    conversationID,
		ExternalMessageID: "ext-" + messageID,
		MessageID:         messageID,
		ThreadID:          threadID,
		SentAt:            time.Now(),
	})
	require.NoError(t, err)
	require.True(t, created)
	return row
}

func TestThreaderInReplyTo(t *testing.T) {
	store := newFakeMessageStore()
	th := NewThreader(nil, store)
	root := seedMessage(t, store, "conv-1", "<root@mail>", "<root@mail>")

	info, err := th.Thread(context.Background(), "conv-1", Normalized{
		MessageID: "<reply@mail>",
		InReplyTo: "<root@mail>",
	})
	require.NoError(t, err)
	assert.Equal(t, "<root@mail>", info.ThreadID)
	assert.Equal(t, root.ID, info.ParentMessageID)
}

func TestThreaderReferencesWalkNewestFirst(t *testing.T) {
	store := newFakeMessageStore()
	th := NewThreader(nil, store)
	seedMessage(t, store, "conv-1", "<a@mail>", "<a@mail>")
	mid := seedMessage(t, store, "conv-1", "<b@mail>", "<a@mail>")

	// In-Reply-To points at a message that never arrived; the References
	// chain still finds the newest stored ancestor.
	info, err := th.Thread(context.Background(), "conv-1", Normalized{
		MessageID:  "<c@mail>",
		InReplyTo:  "<missing@mail>",
		References: []string{"<a@mail>", "<b@mail>", "<missing@mail>"},
	})
	require.NoError(t, err)
	assert.Equal(t, "<a@mail>", info.ThreadID)
	assert.Equal(t, mid.ID, info.ParentMessageID)
}

func TestThreaderNewThread(t *testing.T) {
	th := NewThreader(nil, newFakeMessageStore())

	info, err := th.Thread(context.Background(), "conv-1", Normalized{MessageID: "<solo@mail>"})
	require.NoError(t, err)
	assert.Equal(t, "<solo@mail>", info.ThreadID)
	assert.Empty(t, info.ParentMessageID)
}

func TestThreaderNewThreadWithoutMessageID(t *testing.T) {
	th := NewThreader(nil, newFakeMessageStore())

	info, err := th.Thread(context.Background(), "conv-1", Normalized{})
	require.NoError(t, err)
	assert.NotEmpty(t, info.ThreadID)
}

func TestThreaderScopedToConversation(t *testing.T) {
	store := newFakeMessageStore()
	th := NewThreader(nil, store)
	seedMessage(t, store, "conv-other", "<root@mail>", "<root@mail>")

	info, err := th.Thread(context.Background(), "conv-1", Normalized{
		MessageID: "<reply@mail>",
		InReplyTo: "<root@mail>",
	})
	require.NoError(t, err)
	assert.Empty(t, info.ParentMessageID)
	assert.Equal(t, "<reply@mail>", info.ThreadID)
}
