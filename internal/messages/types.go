// Package messages owns the message store, threading fields, and actor
// mappings.
package messages

import (
	"time"
)

// Direction of a message relative to the connected account.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Actor mapping roles.
const (
	ActorRoleOwner = "owner"
	ActorRoleAgent = "agent"
)

// Message belongs to exactly one conversation; (external_message_id,
// conversation_id) is the sole dedup key.
type Message struct {
	ID                string     `json:"id"`
	ConversationID    string     `json:"conversation_id"`
	ExternalMessageID string     `json:"external_message_id"`
	Direction         string     `json:"direction"`
	DeliveryStatus    string     `json:"delivery_status,omitempty"`
	Role              string     `json:"role,omitempty"`
	Subject           string     `json:"subject,omitempty"`
	Body              string     `json:"body,omitempty"`
	SentAt            time.Time  `json:"sent_at"`
	MessageID         string     `json:"message_id,omitempty"`
	InReplyTo         string     `json:"in_reply_to,omitempty"`
	References        []string   `json:"references,omitempty"`
	ThreadID          string     `json:"thread_id,omitempty"`
	ParentMessageID   string     `json:"parent_message_id,omitempty"`
	SenderEmail       string     `json:"sender_email,omitempty"`
	SenderName        string     `json:"sender_name,omitempty"`
	SentBy            string     `json:"sent_by,omitempty"`
	Participants      []string   `json:"participants,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// CreateParams is the input for persisting one message.
type CreateParams struct {
	ConversationID    string
	ExternalMessageID string
	Direction         string
	DeliveryStatus    string
	Role              string
	Subject           string
	Body              string
	SentAt            time.Time
	MessageID         string
	InReplyTo         string
	References        []string
	ThreadID          string
	ParentMessageID   string
	SenderEmail       string
	SenderName        string
	SentBy            string
	Participants      []string
}

// ActorMapping resolves (platform, account_id, message_id) to an internal
// actor. Absence means the sender is purely external.
type ActorMapping struct {
	ID          string    `json:"id"`
	Platform    string    `json:"platform"`
	AccountID   string    `json:"account_id"`
	MessageID   string    `json:"message_id"`
	ActorUserID string    `json:"actor_user_id"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}
