package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/urizennnn/omni-backend-sub001/internal/contacts"
	"github.com/urizennnn/omni-backend-sub001/internal/conversations"
	"github.com/urizennnn/omni-backend-sub001/internal/events"
	"github.com/urizennnn/omni-backend-sub001/internal/messages"
	"github.com/urizennnn/omni-backend-sub001/internal/platform"
	"github.com/urizennnn/omni-backend-sub001/internal/users"
)

type fakeConversationStore struct {
	mu         sync.Mutex
	byKey      map[string]*conversations.Conversation
	activities map[string][]conversations.Activity
}

func newFakeConversationStore() *fakeConversationStore {
	return &fakeConversationStore{
		byKey:      make(map[string]*conversations.Conversation),
		activities: make(map[string][]conversations.Activity),
	}
}

func convKey(p platform.Platform, externalID string) string {
	return p.String() + "|" + externalID
}

func (f *fakeConversationStore) FindOrCreate(_ context.Context, params conversations.CreateParams) (conversations.Conversation, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := convKey(params.Platform, params.ExternalID)
	if existing, ok := f.byKey[key]; ok {
		return *existing, false, nil
	}
	conv := &conversations.Conversation{
		ID:            uuid.NewString(),
		UserID:        params.UserID,
		AccountID:     params.AccountID,
		Platform:      params.Platform,
		ExternalID:    params.ExternalID,
		DisplayName:   params.DisplayName,
		State:         conversations.StateOpen,
		ReceiverEmail: params.ReceiverEmail,
	}
	f.byKey[key] = conv
	return *conv, true, nil
}

func (f *fakeConversationStore) FindByReceiverEmail(_ context.Context, userID string, p platform.Platform, receiverEmail string) (conversations.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, conv := range f.byKey {
		if conv.UserID == userID && conv.Platform == p && strings.EqualFold(conv.ReceiverEmail, receiverEmail) {
			return *conv, nil
		}
	}
	return conversations.Conversation{}, conversations.ErrNotFound
}

func (f *fakeConversationStore) RecordActivity(_ context.Context, id string, activity conversations.Activity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activities[id] = append(f.activities[id], activity)
	for _, conv := range f.byKey {
		if conv.ID == id {
			conv.Preview = activity.Preview
			if activity.IncrementUnread {
				conv.UnreadCount++
			}
		}
	}
	return nil
}

type fakeMessageStore struct {
	mu       sync.Mutex
	rows     []messages.Message
	mappings map[string]messages.ActorMapping
	failOn   string
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{mappings: make(map[string]messages.ActorMapping)}
}

func mappingKey(platform, accountID, messageID string) string {
	return platform + "|" + accountID + "|" + messageID
}

func (f *fakeMessageStore) Create(_ context.Context, params messages.CreateParams) (messages.Message, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn != "" && params.ExternalMessageID == f.failOn {
		return messages.Message{}, false, fmt.Errorf("store unavailable")
	}
	for _, row := range f.rows {
		if row.ExternalMessageID == params.ExternalMessageID && row.ConversationID == params.ConversationID {
			return row, false, nil
		}
	}
	row := messages.Message{
		ID:                uuid.NewString(),
		ConversationID:    params.ConversationID,
		ExternalMessageID: params.ExternalMessageID,
		Direction:         params.Direction,
		Role:              params.Role,
		Subject:           params.Subject,
		Body:              params.Body,
		SentAt:            params.SentAt,
		MessageID:         params.MessageID,
		InReplyTo:         params.InReplyTo,
		References:        params.References,
		ThreadID:          params.ThreadID,
		ParentMessageID:   params.ParentMessageID,
		SenderEmail:       params.SenderEmail,
		SenderName:        params.SenderName,
		SentBy:            params.SentBy,
		Participants:      params.Participants,
	}
	f.rows = append(f.rows, row)
	return row, true, nil
}

func (f *fakeMessageStore) FindByMessageID(_ context.Context, conversationID, messageID string) (messages.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.ConversationID == conversationID && row.MessageID == messageID {
			return row, nil
		}
	}
	return messages.Message{}, messages.ErrNotFound
}

func (f *fakeMessageStore) GetActorMapping(_ context.Context, platform, accountID, messageID string) (messages.ActorMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.mappings[mappingKey(platform, accountID, messageID)]; ok {
		return m, nil
	}
	return messages.ActorMapping{}, messages.ErrNotFound
}

func (f *fakeMessageStore) CreateActorMapping(_ context.Context, platform, accountID, messageID, actorUserID, role string) (messages.ActorMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := mappingKey(platform, accountID, messageID)
	if m, ok := f.mappings[key]; ok {
		return m, nil
	}
	m := messages.ActorMapping{
		ID:          uuid.NewString(),
		Platform:    platform,
		AccountID:   accountID,
		MessageID:   messageID,
		ActorUserID: actorUserID,
		Role:        role,
	}
	f.mappings[key] = m
	return m, nil
}

type fakeContactStore struct {
	mu      sync.Mutex
	upserts []contacts.UpsertParams
}

func (f *fakeContactStore) Upsert(_ context.Context, params contacts.UpsertParams) (contacts.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, params)
	return contacts.Contact{ID: uuid.NewString(), ExternalID: params.ExternalID}, nil
}

type fakeUserDirectory struct {
	byEmail map[string]users.User
}

func (f *fakeUserDirectory) GetByEmail(_ context.Context, email string) (users.User, error) {
	if f.byEmail != nil {
		if u, ok := f.byEmail[strings.ToLower(email)]; ok {
			return u, nil
		}
	}
	return users.User{}, users.ErrNotFound
}

type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *capturePublisher) Publish(event events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *capturePublisher) ofType(t events.Type) []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []events.Event
	for _, e := range c.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
