// Package telegram polls a Telegram bot's updates and sends replies
// through the Bot API. Connection is credential based: the user supplies
// a bot token, there is no OAuth redirect.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/urizennnn/omni-backend-sub001/internal/connector"
	"github.com/urizennnn/omni-backend-sub001/internal/platform"
)

const updateLimit = 100

// Connector is the Telegram bot adapter.
type Connector struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// Option adjusts the connector, used by tests to point at a fake API.
type Option func(*Connector)

// WithEndpoint overrides the Bot API endpoint template.
func WithEndpoint(endpoint string) Option {
	return func(c *Connector) { c.endpoint = endpoint }
}

// New creates the Telegram connector.
func New(log *slog.Logger, opts ...Option) *Connector {
	if log == nil {
		log = slog.Default()
	}
	c := &Connector{
		endpoint: tgbotapi.APIEndpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   log.With(slog.String("service", "connector"), slog.String("platform", "telegram")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Platform returns telegram.
func (c *Connector) Platform() platform.Platform {
	return platform.Telegram
}

func (c *Connector) bot(creds connector.Credentials) (*tgbotapi.BotAPI, error) {
	token := creds.ExtraString("bot_token")
	if token == "" {
		token = creds.AccessToken
	}
	if token == "" {
		return nil, connector.AuthExpired(fmt.Errorf("no bot token"))
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, c.endpoint, c.client)
	if err != nil {
		return nil, classify(err)
	}
	return bot, nil
}

// FetchSince reads pending updates after the cursor's offset. The next
// cursor is the offset Telegram expects on the following call, so
// consumed updates are acknowledged only once the batch commits.
func (c *Connector) FetchSince(ctx context.Context, creds connector.Credentials, cursor platform.Cursor) (connector.Batch, error) {
	offset := 0
	if !cursor.IsZero() {
		if err := json.Unmarshal(cursor.Value, &offset); err != nil {
			return connector.Batch{}, fmt.Errorf("%w: telegram cursor: %v", platform.ErrCursorSchema, err)
		}
	}

	bot, err := c.bot(creds)
	if err != nil {
		return connector.Batch{}, err
	}

	updates, err := bot.GetUpdates(tgbotapi.UpdateConfig{
		Offset: offset,
		Limit:  updateLimit,
	})
	if err != nil {
		return connector.Batch{}, classify(err)
	}

	events := make([]connector.RawEvent, 0, len(updates))
	nextOffset := offset
	for _, update := range updates {
		if update.UpdateID >= nextOffset {
			nextOffset = update.UpdateID + 1
		}
		msg := update.Message
		if msg == nil {
			msg = update.EditedMessage
		}
		if msg == nil || msg.Chat == nil {
			continue
		}
		events = append(events, eventFromMessage(msg))
	}

	next := cursor
	if nextOffset != offset {
		raw, err := json.Marshal(nextOffset)
		if err != nil {
			return connector.Batch{}, fmt.Errorf("encode offset: %w", err)
		}
		next = platform.NewCursor(platform.Telegram, raw)
	}
	return connector.Batch{Events: events, NextCursor: next}, nil
}

func eventFromMessage(msg *tgbotapi.Message) connector.RawEvent {
	event := connector.RawEvent{
		Platform:               platform.Telegram,
		ExternalMessageID:      strconv.Itoa(msg.MessageID),
		ExternalConversationID: strconv.FormatInt(msg.Chat.ID, 10),
		ConversationName:       chatName(msg.Chat),
		Text:                   msg.Text,
		SentAt:                 time.Unix(int64(msg.Date), 0).UTC(),
		MessageID:              strconv.Itoa(msg.MessageID),
	}
	if msg.From != nil {
		event.Sender = connector.SenderIdentity{
			ExternalID: strconv.FormatInt(msg.From.ID, 10),
			Username:   msg.From.UserName,
			Name:       fullName(msg.From.FirstName, msg.From.LastName),
		}
	}
	if msg.ReplyToMessage != nil {
		event.InReplyTo = strconv.Itoa(msg.ReplyToMessage.MessageID)
	}
	return event
}

func chatName(chat *tgbotapi.Chat) string {
	if chat.Title != "" {
		return chat.Title
	}
	if name := fullName(chat.FirstName, chat.LastName); name != "" {
		return name
	}
	return chat.UserName
}

func fullName(first, last string) string {
	if first == "" {
		return last
	}
	if last == "" {
		return first
	}
	return first + " " + last
}

// ExchangeCode is not part of the Telegram flow; connection happens with
// a bot token.
func (c *Connector) ExchangeCode(context.Context, string, string, string) (connector.Credentials, error) {
	return connector.Credentials{}, fmt.Errorf("telegram does not use oauth")
}

// Refresh validates the bot token and fills in the bot's own identity.
// Tokens do not expire, so this doubles as the connect-time check.
func (c *Connector) Refresh(_ context.Context, creds connector.Credentials) (connector.Credentials, error) {
	bot, err := c.bot(creds)
	if err != nil {
		return connector.Credentials{}, err
	}
	creds.ExternalID = strconv.FormatInt(bot.Self.ID, 10)
	return creds, nil
}

// Send delivers a message to the chat named in To[0].
func (c *Connector) Send(_ context.Context, creds connector.Credentials, msg connector.OutboundMessage) (string, error) {
	if len(msg.To) == 0 {
		return "", fmt.Errorf("no destination chat")
	}
	chatID, err := strconv.ParseInt(msg.To[0], 10, 64)
	if err != nil {
		return "", fmt.Errorf("parse chat id %q: %w", msg.To[0], err)
	}

	bot, err := c.bot(creds)
	if err != nil {
		return "", err
	}
	sent, err := bot.Send(tgbotapi.NewMessage(chatID, msg.Body))
	if err != nil {
		return "", classify(err)
	}
	return strconv.Itoa(sent.MessageID), nil
}

// classify maps Bot API failures onto the connector taxonomy.
func classify(err error) error {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		var valErr tgbotapi.Error
		if errors.As(err, &valErr) {
			apiErr = &valErr
		}
	}
	if apiErr != nil {
		switch {
		case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
			return connector.AuthExpired(err)
		case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500:
			return connector.Transient(err)
		}
		return err
	}
	return connector.Transient(err)
}
