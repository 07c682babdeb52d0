// Package mailbox is the email connector: IMAP for ingestion, SMTP or
// Mailgun for outbound delivery. Connection is credential based.
package mailbox

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"

	"github.com/urizennnn/omni-backend-sub001/internal/connector"
	"github.com/urizennnn/omni-backend-sub001/internal/platform"
)

// cursorDoc is the email cursor payload. A UIDVALIDITY change voids the
// stored UID watermark.
type cursorDoc struct {
	UIDValidity uint32 `json:"uidvalidity"`
	LastUID     uint32 `json:"last_uid"`
}

// Connector reads a mailbox over IMAP.
type Connector struct {
	outbound Outbound
	logger   *slog.Logger
}

// Outbound is the delivery backend used by Send.
type Outbound interface {
	Deliver(ctx context.Context, creds connector.Credentials, msg connector.OutboundMessage) (string, error)
}

// Option adjusts the connector.
type Option func(*Connector)

// WithOutbound selects the outbound delivery backend. Default is SMTP
// with the account's own credentials.
func WithOutbound(out Outbound) Option {
	return func(c *Connector) { c.outbound = out }
}

// New creates the email connector.
func New(log *slog.Logger, opts ...Option) *Connector {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("service", "connector"), slog.String("platform", "email"))
	c := &Connector{
		outbound: &SMTPSender{logger: log},
		logger:   log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Platform returns email.
func (c *Connector) Platform() platform.Platform {
	return platform.Email
}

// FetchSince reads messages with UIDs above the cursor watermark. The
// first poll of a mailbox seeds the watermark at the current top without
// ingesting history.
func (c *Connector) FetchSince(ctx context.Context, creds connector.Credentials, cursor platform.Cursor) (connector.Batch, error) {
	var doc cursorDoc
	if !cursor.IsZero() {
		if err := json.Unmarshal(cursor.Value, &doc); err != nil {
			return connector.Batch{}, fmt.Errorf("%w: email cursor: %v", platform.ErrCursorSchema, err)
		}
	}

	client, selected, err := c.dial(creds)
	if err != nil {
		return connector.Batch{}, err
	}
	defer client.Close()
	defer client.Logout()

	if doc.UIDValidity != 0 && selected.UIDValidity != doc.UIDValidity {
		c.logger.Warn("uidvalidity changed, resetting watermark",
			slog.Uint64("old", uint64(doc.UIDValidity)),
			slog.Uint64("new", uint64(selected.UIDValidity)))
		doc.LastUID = 0
	}
	firstRun := doc.LastUID == 0 && doc.UIDValidity == 0

	var uidSet imap.UIDSet
	if doc.LastUID > 0 {
		uidSet.AddRange(imap.UID(doc.LastUID)+1, 0)
	} else {
		uidSet.AddRange(1, 0)
	}

	fetchOpts := &imap.FetchOptions{
		Envelope:    true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{{}},
	}
	fetchCmd := client.Fetch(uidSet, fetchOpts)
	defer fetchCmd.Close()

	selfAddr := strings.ToLower(creds.ExtraString("username"))
	lastUID := doc.LastUID
	var events []connector.RawEvent
	for {
		msgData := fetchCmd.Next()
		if msgData == nil {
			break
		}
		buf, err := msgData.Collect()
		if err != nil || buf.Envelope == nil {
			continue
		}
		if uint32(buf.UID) > lastUID {
			lastUID = uint32(buf.UID)
		}
		if firstRun {
			continue
		}
		events = append(events, eventFromBuffer(buf, selfAddr))
	}

	next := cursor
	if lastUID != doc.LastUID || selected.UIDValidity != doc.UIDValidity {
		raw, err := json.Marshal(cursorDoc{UIDValidity: selected.UIDValidity, LastUID: lastUID})
		if err != nil {
			return connector.Batch{}, fmt.Errorf("encode cursor: %w", err)
		}
		next = platform.NewCursor(platform.Email, raw)
	}
	return connector.Batch{Events: events, NextCursor: next}, nil
}

// eventFromBuffer maps one fetched message. The receiver address is the
// To entry matching the connected mailbox, falling back to the mailbox
// itself, so alias deliveries still group by what was actually addressed.
func eventFromBuffer(buf *imapclient.FetchMessageBuffer, selfAddr string) connector.RawEvent {
	env := buf.Envelope

	var body string
	if len(buf.BodySection) > 0 {
		body = string(buf.BodySection[0].Bytes)
	}

	event := connector.RawEvent{
		Platform:          platform.Email,
		ExternalMessageID: fmt.Sprintf("%d", uint32(buf.UID)),
		Subject:           env.Subject,
		Text:              body,
		SentAt:            env.Date,
		MessageID:         env.MessageID,
		ReceiverEmail:     selfAddr,
	}
	if len(env.From) > 0 {
		event.Sender = connector.SenderIdentity{
			ExternalID: env.From[0].Addr(),
			Name:       env.From[0].Name,
			Email:      env.From[0].Addr(),
		}
	}
	for _, addr := range env.To {
		event.Recipients = append(event.Recipients, addr.Addr())
		if strings.EqualFold(addr.Addr(), selfAddr) {
			event.ReceiverEmail = strings.ToLower(addr.Addr())
		}
	}
	if len(env.InReplyTo) > 0 {
		event.InReplyTo = env.InReplyTo[0]
		event.References = env.InReplyTo
	}
	return event
}

func (c *Connector) dial(creds connector.Credentials) (*imapclient.Client, *imap.SelectData, error) {
	host := creds.ExtraString("imap_host")
	port := creds.ExtraInt("imap_port", 993)
	username := creds.ExtraString("username")
	password := creds.ExtraString("password")
	security := creds.ExtraString("imap_security")
	if host == "" || username == "" || (password == "" && creds.AccessToken == "") {
		return nil, nil, connector.AuthExpired(fmt.Errorf("incomplete imap credentials"))
	}

	addr := fmt.Sprintf("%s:%d", host, port)
	opts := &imapclient.Options{TLSConfig: &tls.Config{ServerName: host}}

	var client *imapclient.Client
	var err error
	switch security {
	case "starttls":
		client, err = imapclient.DialStartTLS(addr, opts)
	case "none":
		client, err = imapclient.DialInsecure(addr, opts)
	default:
		client, err = imapclient.DialTLS(addr, opts)
	}
	if err != nil {
		return nil, nil, connector.Transient(fmt.Errorf("dial imap (%s): %w", security, err))
	}

	// Password mailboxes use LOGIN; token mailboxes authenticate with
	// OAUTHBEARER.
	if password != "" {
		err = client.Login(username, password).Wait()
	} else {
		err = client.Authenticate(sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
			Username: username,
			Token:    creds.AccessToken,
			Host:     host,
			Port:     port,
		}))
	}
	if err != nil {
		client.Close()
		return nil, nil, connector.AuthExpired(fmt.Errorf("imap login: %w", err))
	}

	selected, err := client.Select("INBOX", nil).Wait()
	if err != nil {
		client.Logout()
		client.Close()
		return nil, nil, connector.Transient(fmt.Errorf("select inbox: %w", err))
	}
	return client, selected, nil
}

// ExchangeCode is not part of the email flow; connection happens with
// mailbox credentials.
func (c *Connector) ExchangeCode(context.Context, string, string, string) (connector.Credentials, error) {
	return connector.Credentials{}, fmt.Errorf("email does not use oauth")
}

// Refresh validates the IMAP login and fills in the mailbox identity.
// Passwords do not expire on a schedule, so this doubles as the
// connect-time check.
func (c *Connector) Refresh(_ context.Context, creds connector.Credentials) (connector.Credentials, error) {
	client, _, err := c.dial(creds)
	if err != nil {
		return connector.Credentials{}, err
	}
	client.Logout()
	client.Close()
	creds.ExternalID = strings.ToLower(creds.ExtraString("username"))
	return creds, nil
}

// Send delivers through the configured outbound backend.
func (c *Connector) Send(ctx context.Context, creds connector.Credentials, msg connector.OutboundMessage) (string, error) {
	return c.outbound.Deliver(ctx, creds, msg)
}

var (
	_ connector.Connector = (*Connector)(nil)
	_ connector.Sender    = (*Connector)(nil)
)
