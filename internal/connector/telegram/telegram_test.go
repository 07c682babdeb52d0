package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urizennnn/omni-backend-sub001/internal/connector"
	"github.com/urizennnn/omni-backend-sub001/internal/platform"
)

func fakeBotAPI(t *testing.T, updates string) (*Connector, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			fmt.Fprint(w, `{"ok":true,"result":{"id":42,"is_bot":true,"first_name":"inbox","username":"inboxbot"}}`)
		case strings.HasSuffix(r.URL.Path, "/getUpdates"):
			fmt.Fprintf(w, `{"ok":true,"result":%s}`, updates)
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			fmt.Fprint(w, `{"ok":true,"result":{"message_id":77,"date":1700000000,"chat":{"id":99,"type":"private"}}}`)
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	t.Cleanup(srv.Close)
	return New(nil, WithEndpoint(srv.URL+"/bot%s/%s")), srv
}

func botCreds() connector.Credentials {
	return connector.Credentials{Extra: map[string]any{"bot_token": "123:abc"}}
}

func TestFetchSinceMapsUpdates(t *testing.T) {
	conn, _ := fakeBotAPI(t, `[
		{"update_id":10,"message":{
			"message_id":5,
			"from":{"id":7,"first_name":"Ann","last_name":"B","username":"annb"},
			"chat":{"id":99,"type":"private","first_name":"Ann","last_name":"B"},
			"date":1700000000,
			"text":"hi there"}},
		{"update_id":11,"message":{
			"message_id":6,
			"from":{"id":42,"first_name":"inbox"},
			"chat":{"id":99,"type":"private","first_name":"Ann","last_name":"B"},
			"date":1700000100,
			"text":"reply",
			"reply_to_message":{"message_id":5,"date":1700000000,"chat":{"id":99,"type":"private"}}}}
	]`)

	batch, err := conn.FetchSince(context.Background(), botCreds(), platform.Cursor{})
	require.NoError(t, err)
	require.Len(t, batch.Events, 2)

	first := batch.Events[0]
	assert.Equal(t, "5", first.ExternalMessageID)
	assert.Equal(t, "99", first.ExternalConversationID)
	assert.Equal(t, "Ann B", first.ConversationName)
	assert.Equal(t, "7", first.Sender.ExternalID)
	assert.Equal(t, "annb", first.Sender.Username)
	assert.Equal(t, "hi there", first.Text)
	assert.Empty(t, first.InReplyTo)

	second := batch.Events[1]
	assert.Equal(t, "42", second.Sender.ExternalID)
	assert.Equal(t, "5", second.InReplyTo)

	var offset int
	require.NoError(t, json.Unmarshal(batch.NextCursor.Value, &offset))
	assert.Equal(t, 12, offset)
}

func TestFetchSinceEmptyKeepsCursor(t *testing.T) {
	conn, _ := fakeBotAPI(t, `[]`)

	cursor := platform.NewCursor(platform.Telegram, json.RawMessage(`12`))
	batch, err := conn.FetchSince(context.Background(), botCreds(), cursor)
	require.NoError(t, err)
	assert.Empty(t, batch.Events)
	assert.Equal(t, cursor, batch.NextCursor)
}

func TestFetchSinceRejectsForeignCursor(t *testing.T) {
	conn := New(nil)

	_, err := conn.FetchSince(context.Background(), botCreds(),
		platform.NewCursor(platform.Telegram, json.RawMessage(`"not an offset"`)))
	assert.ErrorIs(t, err, platform.ErrCursorSchema)
}

func TestFetchSinceMissingToken(t *testing.T) {
	conn := New(nil)

	_, err := conn.FetchSince(context.Background(), connector.Credentials{}, platform.Cursor{})
	assert.True(t, connector.IsAuthExpired(err))
}

func TestRefreshFillsBotIdentity(t *testing.T) {
	conn, _ := fakeBotAPI(t, `[]`)

	creds, err := conn.Refresh(context.Background(), botCreds())
	require.NoError(t, err)
	assert.Equal(t, "42", creds.ExternalID)
}

func TestSend(t *testing.T) {
	conn, _ := fakeBotAPI(t, `[]`)

	id, err := conn.Send(context.Background(), botCreds(), connector.OutboundMessage{
		To:   []string{"99"},
		Body: "on my way",
	})
	require.NoError(t, err)
	assert.Equal(t, "77", id)
}

func TestSendBadChatID(t *testing.T) {
	conn, _ := fakeBotAPI(t, `[]`)

	_, err := conn.Send(context.Background(), botCreds(), connector.OutboundMessage{
		To:   []string{"not-a-chat"},
		Body: "x",
	})
	assert.Error(t, err)
}

func TestExchangeCodeUnsupported(t *testing.T) {
	conn := New(nil)

	_, err := conn.ExchangeCode(context.Background(), "code", "verifier", "uri")
	assert.Error(t, err)
}
