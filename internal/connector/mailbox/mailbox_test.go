package mailbox

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urizennnn/omni-backend-sub001/internal/connector"
	"github.com/urizennnn/omni-backend-sub001/internal/platform"
)

func TestEventFromBuffer(t *testing.T) {
	sent := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)
	buf := &imapclient.FetchMessageBuffer{
		UID: 57,
		Envelope: &imap.Envelope{
			Date:      sent,
			Subject:   "Invoice overdue",
			MessageID: "<inv-1@billing>",
			InReplyTo: []string{"<root@billing>"},
			From:      []imap.Address{{Name: "Billing", Mailbox: "billing", Host: "vendor.com"}},
			To: []imap.Address{
				{Mailbox: "other", Host: "example.com"},
				{Mailbox: "Support", Host: "Example.com"},
			},
		},
		BodySection: []imapclient.FetchBodySectionBuffer{
			{Bytes: []byte("please pay")},
		},
	}

	event := eventFromBuffer(buf, "support@example.com")
	assert.Equal(t, platform.Email, event.Platform)
	assert.Equal(t, "57", event.ExternalMessageID)
	assert.Equal(t, "Invoice overdue", event.Subject)
	assert.Equal(t, "please pay", event.Text)
	assert.Equal(t, sent, event.SentAt)
	assert.Equal(t, "<inv-1@billing>", event.MessageID)
	assert.Equal(t, "<root@billing>", event.InReplyTo)
	assert.Equal(t, "billing@vendor.com", event.Sender.Email)
	assert.Equal(t, "Billing", event.Sender.Name)
	// Matching is case insensitive and picks the addressed alias.
	assert.Equal(t, "support@example.com", event.ReceiverEmail)
	assert.Equal(t, []string{"other@example.com", "Support@Example.com"}, event.Recipients)
}

func TestEventFromBufferNoMatchFallsBackToSelf(t *testing.T) {
	buf := &imapclient.FetchMessageBuffer{
		UID: 3,
		Envelope: &imap.Envelope{
			To: []imap.Address{{Mailbox: "list", Host: "example.com"}},
		},
	}

	event := eventFromBuffer(buf, "me@example.com")
	assert.Equal(t, "me@example.com", event.ReceiverEmail)
}

func TestFetchSinceRejectsForeignCursor(t *testing.T) {
	conn := New(nil)

	_, err := conn.FetchSince(context.Background(), connector.Credentials{},
		platform.NewCursor(platform.Email, json.RawMessage(`"not a doc"`)))
	assert.ErrorIs(t, err, platform.ErrCursorSchema)
}

func TestFetchSinceIncompleteCredentials(t *testing.T) {
	conn := New(nil)

	_, err := conn.FetchSince(context.Background(), connector.Credentials{}, platform.Cursor{})
	assert.True(t, connector.IsAuthExpired(err))
}

func TestCursorDocRoundTrip(t *testing.T) {
	raw, err := json.Marshal(cursorDoc{UIDValidity: 11, LastUID: 57})
	require.NoError(t, err)

	cursor := platform.NewCursor(platform.Email, raw)
	encoded, err := cursor.Encode()
	require.NoError(t, err)

	parsed, err := platform.ParseCursor(encoded, platform.Email)
	require.NoError(t, err)

	var doc cursorDoc
	require.NoError(t, json.Unmarshal(parsed.Value, &doc))
	assert.Equal(t, uint32(11), doc.UIDValidity)
	assert.Equal(t, uint32(57), doc.LastUID)
}
