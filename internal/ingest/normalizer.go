// Package ingest turns unordered, at-least-once platform events into a
// consistent conversation/message graph: normalization, actor resolution,
// threading, conversation grouping, and idempotent commits.
package ingest

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/urizennnn/omni-backend-sub001/internal/connector"
	"github.com/urizennnn/omni-backend-sub001/internal/messages"
	"github.com/urizennnn/omni-backend-sub001/internal/platform"
)

// ErrMalformedPayload reports a single undecodable event. The poller skips
// the event and continues the batch.
var ErrMalformedPayload = errors.New("malformed payload")

// TextMaxRunes bounds normalized message text.
const TextMaxRunes = 4096

// SelfIdentity is the connected account's own identity on the platform,
// used to classify message direction.
type SelfIdentity struct {
	ExternalID string
	Email      string
}

// Normalized is the canonical shape of one platform event after
// normalization.
type Normalized struct {
	Platform               platform.Platform
	ExternalMessageID      string
	ExternalConversationID string
	ConversationName       string
	Direction              string
	Subject                string
	Text                   string
	SentAt                 time.Time
	Sender                 connector.SenderIdentity
	Participants           []string
	ReceiverEmail          string
	MessageID              string
	InReplyTo              string
	References             []string
	PlatformData           map[string]any
}

var collapseBlankLines = regexp.MustCompile(`\n{3,}`)

// Normalize maps a raw platform event into its canonical shape. It is a
// pure function of its arguments; now stands in for SentAt when the
// platform supplies none.
func Normalize(event connector.RawEvent, self SelfIdentity, now time.Time) (Normalized, error) {
	if strings.TrimSpace(event.ExternalMessageID) == "" {
		return Normalized{}, fmt.Errorf("%w: missing external message id", ErrMalformedPayload)
	}
	if _, err := platform.Parse(event.Platform.String()); err != nil {
		return Normalized{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	text := strings.TrimSpace(event.Text)
	if text == "" && event.HTML != "" {
		stripped, err := StripHTML(event.HTML)
		if err != nil {
			return Normalized{}, fmt.Errorf("%w: html body: %v", ErrMalformedPayload, err)
		}
		text = stripped
	}
	text = Truncate(text, TextMaxRunes)

	sentAt := event.SentAt
	if sentAt.IsZero() {
		sentAt = now.UTC()
	}

	return Normalized{
		Platform:               event.Platform,
		ExternalMessageID:      strings.TrimSpace(event.ExternalMessageID),
		ExternalConversationID: strings.TrimSpace(event.ExternalConversationID),
		ConversationName:       strings.TrimSpace(event.ConversationName),
		Direction:              direction(event, self),
		Subject:                Truncate(strings.TrimSpace(event.Subject), 512),
		Text:                   text,
		SentAt:                 sentAt,
		Sender:                 event.Sender,
		Participants:           event.Recipients,
		ReceiverEmail:          strings.ToLower(strings.TrimSpace(event.ReceiverEmail)),
		MessageID:              strings.TrimSpace(event.MessageID),
		InReplyTo:              strings.TrimSpace(event.InReplyTo),
		References:             event.References,
		PlatformData:           event.PlatformData,
	}, nil
}

// direction is inbound unless the sender matches the connected account's
// own external identity.
func direction(event connector.RawEvent, self SelfIdentity) string {
	senderID := strings.TrimSpace(event.Sender.ExternalID)
	if senderID != "" && senderID == strings.TrimSpace(self.ExternalID) {
		return messages.DirectionOutbound
	}
	senderEmail := strings.ToLower(strings.TrimSpace(event.Sender.Email))
	if senderEmail != "" && senderEmail == strings.ToLower(strings.TrimSpace(self.Email)) {
		return messages.DirectionOutbound
	}
	return messages.DirectionInbound
}

// StripHTML reduces an HTML body to readable plain text.
func StripHTML(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, head, meta, link").Remove()
	doc.Find("p, div, br, h1, h2, h3, h4, h5, h6, li, tr").Each(func(_ int, s *goquery.Selection) {
		s.PrependHtml("\n")
	})

	lines := strings.Split(doc.Text(), "\n")
	cleaned := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			cleaned = append(cleaned, line)
		}
	}
	text := strings.Join(cleaned, "\n")
	text = collapseBlankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text), nil
}

// Truncate bounds a string to max runes.
func Truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
