package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/urizennnn/omni-backend-sub001/internal/accounts"
	"github.com/urizennnn/omni-backend-sub001/internal/connector"
	"github.com/urizennnn/omni-backend-sub001/internal/contacts"
	"github.com/urizennnn/omni-backend-sub001/internal/conversations"
	"github.com/urizennnn/omni-backend-sub001/internal/events"
	"github.com/urizennnn/omni-backend-sub001/internal/messages"
)

// previewMaxRunes bounds the conversation preview snippet.
const previewMaxRunes = 240

// Result reports what one event changed.
type Result struct {
	ConversationID      string
	MessageID           string
	MessageCreated      bool
	ConversationCreated bool
	Duplicate           bool
}

// BatchReport aggregates one batch of events.
type BatchReport struct {
	Ingested   int
	Duplicates int
	Skipped    int
	Failed     int
}

// Pipeline feeds each raw event through normalization, actor resolution,
// threading, grouping, and the idempotent commit. Stages run per event;
// one failing event never aborts the batch.
type Pipeline struct {
	grouper  *Grouper
	threader *Threader
	actors   *ActorResolver

	conversations ConversationStore
	messages      MessageStore
	contacts      ContactStore
	publisher     events.Publisher
	logger        *slog.Logger
	now           func() time.Time
}

// NewPipeline wires the ingestion stages over the given stores.
func NewPipeline(
	log *slog.Logger,
	convStore ConversationStore,
	msgStore MessageStore,
	contactStore ContactStore,
	directory UserDirectory,
	publisher events.Publisher,
) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("service", "ingest"))
	return &Pipeline{
		grouper:       NewGrouper(log, convStore),
		threader:      NewThreader(log, msgStore),
		actors:        NewActorResolver(log, msgStore, directory),
		conversations: convStore,
		messages:      msgStore,
		contacts:      contactStore,
		publisher:     publisher,
		logger:        log,
		now:           time.Now,
	}
}

// IngestBatch processes every event in order, isolating failures per
// event. Malformed events are skipped, store failures are counted, and
// processing always reaches the end of the batch.
func (p *Pipeline) IngestBatch(ctx context.Context, account accounts.ConnectedAccount, batch []connector.RawEvent) BatchReport {
	var report BatchReport
	for _, event := range batch {
		res, err := p.Ingest(ctx, account, event)
		switch {
		case err != nil && IsMalformed(err):
			report.Skipped++
			p.logger.Warn("skipping malformed event",
				slog.String("account_id", account.ID),
				slog.String("error", err.Error()))
		case err != nil:
			report.Failed++
			p.logger.Error("event ingestion failed",
				slog.String("account_id", account.ID),
				slog.String("external_message_id", event.ExternalMessageID),
				slog.String("error", err.Error()))
		case res.Duplicate:
			report.Duplicates++
		default:
			report.Ingested++
		}
	}
	return report
}

// Ingest processes a single raw event end to end.
func (p *Pipeline) Ingest(ctx context.Context, account accounts.ConnectedAccount, event connector.RawEvent) (Result, error) {
	n, err := Normalize(event, SelfIdentity{
		ExternalID: account.ExternalAccountID,
		Email:      account.ExternalAccountID,
	}, p.now())
	if err != nil {
		return Result{}, err
	}

	conv, convCreated, err := p.grouper.Resolve(ctx, account, n)
	if err != nil {
		return Result{}, err
	}

	actor, err := p.actors.Resolve(ctx, account, n)
	if err != nil {
		return Result{}, err
	}

	thread, err := p.threader.Thread(ctx, conv.ID, n)
	if err != nil {
		return Result{}, err
	}

	msg, created, err := p.messages.Create(ctx, messages.CreateParams{
		ConversationID:    conv.ID,
		ExternalMessageID: n.ExternalMessageID,
		Direction:         n.Direction,
		Role:              actor.Role,
		Subject:           n.Subject,
		Body:              n.Text,
		SentAt:            n.SentAt,
		MessageID:         n.MessageID,
		InReplyTo:         n.InReplyTo,
		References:        n.References,
		ThreadID:          thread.ThreadID,
		ParentMessageID:   thread.ParentMessageID,
		SenderEmail:       n.Sender.Email,
		SenderName:        n.Sender.Name,
		SentBy:            actor.UserID,
		Participants:      n.Participants,
	})
	if err != nil {
		return Result{}, fmt.Errorf("persist message: %w", err)
	}

	result := Result{
		ConversationID:      conv.ID,
		MessageID:           msg.ID,
		MessageCreated:      created,
		ConversationCreated: convCreated,
		Duplicate:           !created,
	}
	if !created {
		// Replayed event. No side effects beyond the lookup above.
		return result, nil
	}

	if n.Direction == messages.DirectionInbound && actor.UserID == "" {
		p.recordContact(ctx, account, n)
	}

	if err := p.conversations.RecordActivity(ctx, conv.ID, conversations.Activity{
		Preview:         Truncate(n.Text, previewMaxRunes),
		At:              n.SentAt,
		IncrementUnread: n.Direction == messages.DirectionInbound,
	}); err != nil {
		return result, fmt.Errorf("record activity: %w", err)
	}

	p.publish(account.UserID, conv, convCreated, msg)
	return result, nil
}

// recordContact is best effort; a directory failure never fails the event.
func (p *Pipeline) recordContact(ctx context.Context, account accounts.ConnectedAccount, n Normalized) {
	if p.contacts == nil || n.Sender.ExternalID == "" {
		return
	}
	_, err := p.contacts.Upsert(ctx, contacts.UpsertParams{
		UserID:      account.UserID,
		Platform:    n.Platform,
		ExternalID:  n.Sender.ExternalID,
		Username:    n.Sender.Username,
		DisplayName: n.Sender.Name,
	})
	if err != nil {
		p.logger.Warn("contact upsert failed",
			slog.String("account_id", account.ID),
			slog.String("error", err.Error()))
	}
}

func (p *Pipeline) publish(userID string, conv conversations.Conversation, convCreated bool, msg messages.Message) {
	if p.publisher == nil {
		return
	}
	if convCreated {
		if data, err := json.Marshal(conv); err == nil {
			p.publisher.Publish(events.Event{Type: events.TypeConversationCreated, UserID: userID, Data: data})
		}
	} else {
		if data, err := json.Marshal(conv); err == nil {
			p.publisher.Publish(events.Event{Type: events.TypeConversationUpdated, UserID: userID, Data: data})
		}
	}
	if data, err := json.Marshal(msg); err == nil {
		p.publisher.Publish(events.Event{Type: events.TypeMessageCreated, UserID: userID, Data: data})
	}
}

// IsMalformed reports whether err marks a single undecodable event.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedPayload)
}
