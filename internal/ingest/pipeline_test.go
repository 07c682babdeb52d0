package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urizennnn/omni-backend-sub001/internal/connector"
	"github.com/urizennnn/omni-backend-sub001/internal/events"
	"github.com/urizennnn/omni-backend-sub001/internal/platform"
)

type pipelineFixture struct {
	pipeline      *Pipeline
	conversations *fakeConversationStore
	messages      *fakeMessageStore
	contacts      *fakeContactStore
	publisher     *capturePublisher
}

func newPipelineFixture() *pipelineFixture {
	f := &pipelineFixture{
		conversations: newFakeConversationStore(),
		messages:      newFakeMessageStore(),
		contacts:      &fakeContactStore{},
		publisher:     &capturePublisher{},
	}
	f.pipeline = NewPipeline(nil, f.conversations, f.messages, f.contacts, &fakeUserDirectory{}, f.publisher)
	return f
}

func inboundEvent(id string) connector.RawEvent {
	return connector.RawEvent{
		Platform:               platform.Telegram,
		ExternalMessageID:      id,
		ExternalConversationID: "chat-1",
		Sender:                 connector.SenderIdentity{ExternalID: "peer-9", Name: "Peer"},
		Text:                   "hello there",
		SentAt:                 time.Now().UTC(),
	}
}

func TestPipelineIngestInbound(t *testing.T) {
	f := newPipelineFixture()
	account := testAccount()

	res, err := f.pipeline.Ingest(context.Background(), account, inboundEvent("m1"))
	require.NoError(t, err)
	assert.True(t, res.MessageCreated)
	assert.True(t, res.ConversationCreated)
	assert.False(t, res.Duplicate)

	require.Len(t, f.conversations.activities[res.ConversationID], 1)
	activity := f.conversations.activities[res.ConversationID][0]
	assert.Equal(t, "hello there", activity.Preview)
	assert.True(t, activity.IncrementUnread)

	require.Len(t, f.contacts.upserts, 1)
	assert.Equal(t, "peer-9", f.contacts.upserts[0].ExternalID)

	assert.Len(t, f.publisher.ofType(events.TypeConversationCreated), 1)
	assert.Len(t, f.publisher.ofType(events.TypeMessageCreated), 1)
}

func TestPipelineReplayIsSideEffectFree(t *testing.T) {
	f := newPipelineFixture()
	account := testAccount()
	event := inboundEvent("m1")

	_, err := f.pipeline.Ingest(context.Background(), account, event)
	require.NoError(t, err)

	res, err := f.pipeline.Ingest(context.Background(), account, event)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.False(t, res.MessageCreated)

	// The duplicate must not grow the unread count, contacts, or events.
	require.Len(t, f.conversations.activities[res.ConversationID], 1)
	assert.Len(t, f.contacts.upserts, 1)
	assert.Len(t, f.publisher.ofType(events.TypeMessageCreated), 1)
}

func TestPipelineOutboundSkipsUnreadAndContacts(t *testing.T) {
	f := newPipelineFixture()
	account := testAccount()

	event := inboundEvent("m2")
	event.Sender = connector.SenderIdentity{ExternalID: account.ExternalAccountID}
	event.MessageID = "<out@mail>"

	res, err := f.pipeline.Ingest(context.Background(), account, event)
	require.NoError(t, err)
	require.True(t, res.MessageCreated)

	activity := f.conversations.activities[res.ConversationID][0]
	assert.False(t, activity.IncrementUnread)
	assert.Empty(t, f.contacts.upserts)

	mapping, err := f.messages.GetActorMapping(context.Background(), "telegram", account.ID, "m2")
	require.NoError(t, err)
	assert.Equal(t, account.UserID, mapping.ActorUserID)
}

func TestPipelineBatchIsolation(t *testing.T) {
	f := newPipelineFixture()
	f.messages.failOn = "m-bad"
	account := testAccount()

	report := f.pipeline.IngestBatch(context.Background(), account, []connector.RawEvent{
		inboundEvent("m1"),
		{Platform: platform.Telegram}, // no external message id
		inboundEvent("m-bad"),
		inboundEvent("m1"), // replay
		inboundEvent("m2"),
	})

	assert.Equal(t, 2, report.Ingested)
	assert.Equal(t, 1, report.Duplicates)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, report.Failed)
}

func TestPipelineEmailThreading(t *testing.T) {
	f := newPipelineFixture()
	account := testAccount()
	account.Platform = platform.Email
	account.ExternalAccountID = "me@example.com"

	root := connector.RawEvent{
		Platform:          platform.Email,
		ExternalMessageID: "uid-1",
		ReceiverEmail:     "me@example.com",
		Sender:            connector.SenderIdentity{Email: "customer@example.com"},
		Subject:           "Order question",
		Text:              "Where is my order?",
		MessageID:         "<root@mail>",
		SentAt:            time.Now().UTC(),
	}
	reply := connector.RawEvent{
		Platform:          platform.Email,
		ExternalMessageID: "uid-2",
		ReceiverEmail:     "me@example.com",
		Sender:            connector.SenderIdentity{Email: "customer@example.com"},
		Text:              "Any update?",
		MessageID:         "<reply@mail>",
		InReplyTo:         "<root@mail>",
		SentAt:            time.Now().UTC(),
	}

	rootRes, err := f.pipeline.Ingest(context.Background(), account, root)
	require.NoError(t, err)
	replyRes, err := f.pipeline.Ingest(context.Background(), account, reply)
	require.NoError(t, err)

	// Both land in the receiver-keyed conversation and share a thread.
	assert.Equal(t, rootRes.ConversationID, replyRes.ConversationID)

	stored, err := f.messages.FindByMessageID(context.Background(), replyRes.ConversationID, "<reply@mail>")
	require.NoError(t, err)
	assert.Equal(t, "<root@mail>", stored.ThreadID)
	assert.Equal(t, rootRes.MessageID, stored.ParentMessageID)
}
