// Package conversations owns the conversation store and its grouping keys.
package conversations

import (
	"time"

	"github.com/urizennnn/omni-backend-sub001/internal/platform"
)

// Conversation state constants.
const (
	StateOpen     = "open"
	StateArchived = "archived"
)

// Conversation is one grouped message container, unique per
// (platform, external_id).
type Conversation struct {
	ID                string            `json:"id"`
	UserID            string            `json:"user_id"`
	AccountID         string            `json:"account_id,omitempty"`
	Platform          platform.Platform `json:"platform"`
	ExternalID        string            `json:"external_id"`
	DisplayName       string            `json:"display_name,omitempty"`
	State             string            `json:"state"`
	UnreadCount       int               `json:"unread_count"`
	Preview           string            `json:"preview,omitempty"`
	Online            bool              `json:"online"`
	LastSeenAt        *time.Time        `json:"last_seen_at,omitempty"`
	LastMessageStatus string            `json:"last_message_status,omitempty"`
	ReceiverEmail     string            `json:"receiver_email,omitempty"`
	PlatformData      map[string]any    `json:"platform_data,omitempty"`
	Participants      []string          `json:"participants,omitempty"`
	BCC               []string          `json:"bcc,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// CreateParams is the input for materializing a conversation.
type CreateParams struct {
	UserID        string
	AccountID     string
	Platform      platform.Platform
	ExternalID    string
	DisplayName   string
	ReceiverEmail string
	PlatformData  map[string]any
	Participants  []string
}

// Activity is the per-message update applied to the owning conversation.
// Writes are last-writer-wins on the single conversation row.
type Activity struct {
	Preview           string
	LastMessageStatus string
	At                time.Time
	IncrementUnread   bool
}
