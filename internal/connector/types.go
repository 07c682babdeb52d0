// Package connector defines the uniform capability contract each platform
// adapter implements, plus the registry that dispatches on platform.
package connector

import (
	"context"
	"time"

	"github.com/urizennnn/omni-backend-sub001/internal/platform"
)

// Credentials is the decrypted credential document for one connected
// account. OAuth platforms populate the token fields; credential-based
// platforms (IMAP, bot tokens) carry their settings in Extra.
type Credentials struct {
	AccessToken  string         `json:"access_token,omitempty"`
	RefreshToken string         `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time      `json:"expires_at,omitempty"`
	ExternalID   string         `json:"external_id,omitempty"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// ExtraString returns a string value from Extra, or "" if absent.
func (c Credentials) ExtraString(key string) string {
	if c.Extra == nil {
		return ""
	}
	v, _ := c.Extra[key].(string)
	return v
}

// ExtraInt returns an integer value from Extra, or fallback if absent.
func (c Credentials) ExtraInt(key string, fallback int) int {
	if c.Extra == nil {
		return fallback
	}
	switch n := c.Extra[key].(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	default:
		return fallback
	}
}

// SenderIdentity describes who produced a raw event on the platform.
type SenderIdentity struct {
	ExternalID string `json:"external_id"`
	Username   string `json:"username,omitempty"`
	Name       string `json:"name,omitempty"`
	Email      string `json:"email,omitempty"`
}

// RawEvent is one platform event as fetched, before normalization.
type RawEvent struct {
	Platform               platform.Platform `json:"platform"`
	ExternalMessageID      string            `json:"external_message_id"`
	ExternalConversationID string            `json:"external_conversation_id,omitempty"`
	ConversationName       string            `json:"conversation_name,omitempty"`
	Sender                 SenderIdentity    `json:"sender"`
	Recipients             []string          `json:"recipients,omitempty"`
	ReceiverEmail          string            `json:"receiver_email,omitempty"`
	Subject                string            `json:"subject,omitempty"`
	Text                   string            `json:"text,omitempty"`
	HTML                   string            `json:"html,omitempty"`
	SentAt                 time.Time         `json:"sent_at"`
	MessageID              string            `json:"message_id,omitempty"`
	InReplyTo              string            `json:"in_reply_to,omitempty"`
	References             []string          `json:"references,omitempty"`
	PlatformData           map[string]any    `json:"platform_data,omitempty"`
}

// Batch is a finite slice of events plus the cursor candidate to persist
// once the batch has been fully committed.
type Batch struct {
	Events     []RawEvent
	NextCursor platform.Cursor
}

// OutboundMessage is content handed to a connector's write path.
type OutboundMessage struct {
	To      []string `json:"to"`
	Subject string   `json:"subject,omitempty"`
	Body    string   `json:"body"`
	HTML    bool     `json:"html,omitempty"`
}

// Connector is the capability contract the ingestion core consumes.
type Connector interface {
	Platform() platform.Platform

	// FetchSince returns a finite batch of events after the cursor plus a
	// new cursor candidate. The cursor is opaque to callers and
	// round-tripped verbatim.
	FetchSince(ctx context.Context, creds Credentials, cursor platform.Cursor) (Batch, error)

	// ExchangeCode redeems an authorization code for credentials.
	ExchangeCode(ctx context.Context, code, pkceVerifier, redirectURI string) (Credentials, error)

	// Refresh redeems a refresh token for fresh credentials. Platform
	// refresh tokens are frequently single use; callers serialize refresh
	// per account.
	Refresh(ctx context.Context, creds Credentials) (Credentials, error)
}

// Sender is implemented by connectors that support outbound delivery.
type Sender interface {
	Send(ctx context.Context, creds Credentials, msg OutboundMessage) (externalMessageID string, err error)
}
