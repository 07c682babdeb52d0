// Package events is the in-process domain event hub consumed by the
// push/notification layer. Events carry the canonical row, never raw
// platform payloads.
package events

import (
	"encoding/json"
	"sync"
)

// Type identifies a domain event kind.
type Type string

const (
	TypeConversationCreated Type = "conversation.created"
	TypeConversationUpdated Type = "conversation.updated"
	TypeMessageCreated      Type = "message.created"
)

// Event is one domain event.
type Event struct {
	Type   Type            `json:"type"`
	UserID string          `json:"user_id"`
	Data   json.RawMessage `json:"data"`
}

// Publisher emits domain events.
type Publisher interface {
	Publish(event Event)
}

// Subscriber receives domain events for one user.
type Subscriber interface {
	Subscribe(userID string) (<-chan Event, func())
}

// Hub is a fan-out broker. Delivery is best effort: a subscriber whose
// buffer is full misses the event rather than blocking ingestion.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[int]chan Event
	next int
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[int]chan Event)}
}

// Publish delivers the event to every subscriber of its user.
func (h *Hub) Publish(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs[event.UserID] {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe registers a listener for one user's events. The returned
// cancel function must be called to release the subscription.
func (h *Hub) Subscribe(userID string) (<-chan Event, func()) {
	ch := make(chan Event, 32)

	h.mu.Lock()
	id := h.next
	h.next++
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[int]chan Event)
	}
	h.subs[userID][id] = ch
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if listeners, ok := h.subs[userID]; ok {
			if _, ok := listeners[id]; ok {
				delete(listeners, id)
				close(ch)
			}
			if len(listeners) == 0 {
				delete(h.subs, userID)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}
