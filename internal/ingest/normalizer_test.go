package ingest

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urizennnn/omni-backend-sub001/internal/connector"
	"github.com/urizennnn/omni-backend-sub001/internal/messages"
	"github.com/urizennnn/omni-backend-sub001/internal/platform"
)

func TestNormalizeDirection(t *testing.T) {
	self := SelfIdentity{ExternalID: "acct-1", Email: "me@example.com"}

	tests := []struct {
		name   string
		sender connector.SenderIdentity
		want   string
	}{
		{"external sender", connector.SenderIdentity{ExternalID: "other"}, messages.DirectionInbound},
		{"self by external id", connector.SenderIdentity{ExternalID: "acct-1"}, messages.DirectionOutbound},
		{"self by email", connector.SenderIdentity{Email: "ME@Example.com"}, messages.DirectionOutbound},
		{"no identity", connector.SenderIdentity{}, messages.DirectionInbound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := Normalize(connector.RawEvent{
				Platform:          platform.Telegram,
				ExternalMessageID: "m1",
				Sender:            tt.sender,
			}, self, time.Now())
			require.NoError(t, err)
			assert.Equal(t, tt.want, n.Direction)
		})
	}
}

func TestNormalizeMissingExternalID(t *testing.T) {
	_, err := Normalize(connector.RawEvent{Platform: platform.X}, SelfIdentity{}, time.Now())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestNormalizeUnknownPlatform(t *testing.T) {
	_, err := Normalize(connector.RawEvent{
		Platform:          platform.Platform("myspace"),
		ExternalMessageID: "m1",
	}, SelfIdentity{}, time.Now())
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestNormalizeHTMLFallback(t *testing.T) {
	n, err := Normalize(connector.RawEvent{
		Platform:          platform.Email,
		ExternalMessageID: "m1",
		HTML:              `<html><head><style>p{color:red}</style></head><body><p>Hello</p><p>World &amp; co</p></body></html>`,
	}, SelfIdentity{}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "Hello\nWorld & co", n.Text)
	assert.NotContains(t, n.Text, "color:red")
}

func TestNormalizePrefersPlainText(t *testing.T) {
	n, err := Normalize(connector.RawEvent{
		Platform:          platform.Email,
		ExternalMessageID: "m1",
		Text:              "plain body",
		HTML:              "<p>html body</p>",
	}, SelfIdentity{}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "plain body", n.Text)
}

func TestNormalizeTruncatesLongBody(t *testing.T) {
	n, err := Normalize(connector.RawEvent{
		Platform:          platform.Email,
		ExternalMessageID: "m1",
		Text:              strings.Repeat("é", TextMaxRunes+100),
	}, SelfIdentity{}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, TextMaxRunes, len([]rune(n.Text)))
}

func TestNormalizeDefaultsSentAt(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	n, err := Normalize(connector.RawEvent{
		Platform:          platform.X,
		ExternalMessageID: "m1",
	}, SelfIdentity{}, now)
	require.NoError(t, err)
	assert.Equal(t, now, n.SentAt)

	// A platform-supplied timestamp always wins over the clock.
	sent := now.Add(-time.Hour)
	n, err = Normalize(connector.RawEvent{
		Platform:          platform.X,
		ExternalMessageID: "m1",
		SentAt:            sent,
	}, SelfIdentity{}, now)
	require.NoError(t, err)
	assert.Equal(t, sent, n.SentAt)
}

func TestNormalizeLowercasesReceiverEmail(t *testing.T) {
	n, err := Normalize(connector.RawEvent{
		Platform:          platform.Email,
		ExternalMessageID: "m1",
		ReceiverEmail:     " Support@Example.COM ",
	}, SelfIdentity{}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "support@example.com", n.ReceiverEmail)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "ab", Truncate("abc", 2))
	assert.Equal(t, "héllo"[:0], Truncate("héllo", 0))
}
