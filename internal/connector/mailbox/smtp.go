package mailbox

import (
	"context"
	"fmt"
	"log/slog"

	mail "github.com/wneessen/go-mail"

	"github.com/urizennnn/omni-backend-sub001/internal/connector"
)

// SMTPSender delivers through the account's own SMTP submission server.
type SMTPSender struct {
	logger *slog.Logger
}

// NewSMTPSender creates the default outbound backend.
func NewSMTPSender(log *slog.Logger) *SMTPSender {
	if log == nil {
		log = slog.Default()
	}
	return &SMTPSender{logger: log.With(slog.String("service", "smtp_sender"))}
}

// Deliver sends one message and returns its Message-ID.
func (s *SMTPSender) Deliver(ctx context.Context, creds connector.Credentials, msg connector.OutboundMessage) (string, error) {
	host := creds.ExtraString("smtp_host")
	port := creds.ExtraInt("smtp_port", 587)
	username := creds.ExtraString("username")
	password := creds.ExtraString("password")
	security := creds.ExtraString("smtp_security")
	if host == "" || username == "" {
		return "", fmt.Errorf("incomplete smtp credentials")
	}

	m := mail.NewMsg()
	if err := m.From(username); err != nil {
		return "", fmt.Errorf("set from: %w", err)
	}
	if err := m.To(msg.To...); err != nil {
		return "", fmt.Errorf("set to: %w", err)
	}
	m.Subject(msg.Subject)
	if msg.HTML {
		m.SetBodyString(mail.TypeTextHTML, msg.Body)
	} else {
		m.SetBodyString(mail.TypeTextPlain, msg.Body)
	}
	m.SetMessageID()

	opts := []mail.Option{
		mail.WithPort(port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(username),
		mail.WithPassword(password),
	}
	switch security {
	case "tls":
		opts = append(opts, mail.WithSSLPort(false), mail.WithTLSPolicy(mail.TLSMandatory))
	case "none":
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	}

	client, err := mail.NewClient(host, opts...)
	if err != nil {
		return "", fmt.Errorf("create smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return "", fmt.Errorf("send email: %w", err)
	}
	return m.GetMessageID(), nil
}
