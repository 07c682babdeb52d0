package messages_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urizennnn/omni-backend-sub001/internal/conversations"
	"github.com/urizennnn/omni-backend-sub001/internal/db"
	"github.com/urizennnn/omni-backend-sub001/internal/messages"
	"github.com/urizennnn/omni-backend-sub001/internal/platform"
	"github.com/urizennnn/omni-backend-sub001/internal/users"
)

type messagesIntegrationFixture struct {
	messages       *messages.Service
	conversationID string
	userID         string
}

func setupMessagesIntegrationTest(t *testing.T) (messagesIntegrationFixture, func()) {
	t.Helper()

	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("skip integration test: TEST_POSTGRES_DSN is not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Skipf("skip integration test: cannot connect to database: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("skip integration test: database ping failed: %v", err)
	}
	if err := db.MigrateDSN(dsn); err != nil {
		pool.Close()
		t.Fatalf("migrate: %v", err)
	}

	userService := users.NewService(nil, pool)
	user, err := userService.Create(ctx, uuid.NewString()+"@integration.test", "test-password", users.RoleOwner)
	require.NoError(t, err)

	conversation, _, err := conversations.NewService(nil, pool).FindOrCreate(ctx, conversations.CreateParams{
		UserID:      user.ID,
		Platform:    platform.Telegram,
		ExternalID:  "chat-" + uuid.NewString(),
		DisplayName: "Integration Chat",
	})
	require.NoError(t, err)

	fixture := messagesIntegrationFixture{
		messages:       messages.NewService(nil, pool),
		conversationID: conversation.ID,
		userID:         user.ID,
	}
	cleanup := func() {
		pgID, _ := db.ParseUUID(user.ID)
		_, _ = pool.Exec(ctx, "DELETE FROM users WHERE id = $1", pgID)
		pool.Close()
	}
	return fixture, cleanup
}

func TestMessagesCreateDeduplicates(t *testing.T) {
	fixture, cleanup := setupMessagesIntegrationTest(t)
	defer cleanup()
	ctx := context.Background()

	params := messages.CreateParams{
		ConversationID:    fixture.conversationID,
		ExternalMessageID: "ext-1",
		Direction:         messages.DirectionInbound,
		Body:              "hello",
		SentAt:            time.Now().UTC(),
		MessageID:         "mid-1",
		SenderName:        "Alice",
	}
	first, created, err := fixture.messages.Create(ctx, params)
	require.NoError(t, err)
	assert.True(t, created)

	// Replaying the same event resolves to the existing row.
	params.Body = "hello again"
	second, created, err := fixture.messages.Create(ctx, params)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "hello", second.Body)

	found, err := fixture.messages.FindByMessageID(ctx, fixture.conversationID, "mid-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)
}

func TestMessagesListOrdersBySentAt(t *testing.T) {
	fixture, cleanup := setupMessagesIntegrationTest(t)
	defer cleanup()
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	for i, offset := range []time.Duration{2 * time.Minute, 0, time.Minute} {
		_, _, err := fixture.messages.Create(ctx, messages.CreateParams{
			ConversationID:    fixture.conversationID,
			ExternalMessageID: uuid.NewString(),
			Direction:         messages.DirectionInbound,
			Body:              "msg",
			SentAt:            base.Add(offset),
		})
		require.NoError(t, err, "message %d", i)
	}

	list, err := fixture.messages.ListByConversation(ctx, fixture.conversationID, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.True(t, list[0].SentAt.Before(list[1].SentAt))
	assert.True(t, list[1].SentAt.Before(list[2].SentAt))
}
