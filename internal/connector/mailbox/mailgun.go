package mailbox

import (
	"context"
	"fmt"
	"log/slog"

	mg "github.com/mailgun/mailgun-go/v5"

	"github.com/urizennnn/omni-backend-sub001/internal/config"
	"github.com/urizennnn/omni-backend-sub001/internal/connector"
)

// MailgunSender delivers through the Mailgun API instead of the
// account's SMTP server. Selected with email.sender = "mailgun".
type MailgunSender struct {
	client *mg.Client
	domain string
	logger *slog.Logger
}

// NewMailgunSender creates the Mailgun backend from static config.
func NewMailgunSender(log *slog.Logger, cfg config.EmailConfig) (*MailgunSender, error) {
	if cfg.MailgunDomain == "" || cfg.MailgunAPIKey == "" {
		return nil, fmt.Errorf("mailgun sender requires domain and api key")
	}
	if log == nil {
		log = slog.Default()
	}
	client := mg.NewMailgun(cfg.MailgunAPIKey)
	if cfg.MailgunBaseURL != "" {
		client.SetAPIBase(cfg.MailgunBaseURL)
	}
	return &MailgunSender{
		client: client,
		domain: cfg.MailgunDomain,
		logger: log.With(slog.String("service", "mailgun_sender")),
	}, nil
}

// Deliver sends one message. The From address is the connected mailbox
// so replies land back in the polled inbox.
func (s *MailgunSender) Deliver(ctx context.Context, creds connector.Credentials, msg connector.OutboundMessage) (string, error) {
	from := creds.ExtraString("username")
	if from == "" {
		from = fmt.Sprintf("noreply@%s", s.domain)
	}

	m := mg.NewMessage(s.domain, from, msg.Subject, msg.Body, msg.To...)
	if msg.HTML {
		m.SetHTML(msg.Body)
	}

	resp, err := s.client.Send(ctx, m)
	if err != nil {
		return "", fmt.Errorf("mailgun send: %w", err)
	}
	return resp.ID, nil
}
