package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wneessen/go-mail"
)

// Mailer sends one composed message.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// MailDeliveryError wraps a failed send. Retryable is false for
// permanent SMTP rejections.
type MailDeliveryError struct {
	Err       error
	Retryable bool
}

func (e *MailDeliveryError) Error() string {
	return fmt.Sprintf("mail delivery failed: %v", e.Err)
}

func (e *MailDeliveryError) Unwrap() error {
	return e.Err
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

type SMTPMailer struct {
	cfg SMTPConfig
}

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &SMTPMailer{cfg: cfg}
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	out, err := buildMessage(m.cfg.From, msg)
	if err != nil {
		return &MailDeliveryError{Err: err}
	}

	opts := []mail.Option{
		mail.WithPort(m.cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(m.cfg.Timeout),
	}
	if m.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.cfg.Username),
			mail.WithPassword(m.cfg.Password),
		)
	}
	client, err := mail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return &MailDeliveryError{Err: err}
	}
	if err := client.DialAndSendWithContext(ctx, out); err != nil {
		return &MailDeliveryError{Err: err, Retryable: isTemporary(err)}
	}
	return nil
}

func buildMessage(from string, msg Message) (*mail.Msg, error) {
	out := mail.NewMsg()
	if err := out.From(from); err != nil {
		return nil, fmt.Errorf("invalid sender: %w", err)
	}
	if err := out.AddToFormat(msg.ToName, msg.To); err != nil {
		return nil, fmt.Errorf("invalid recipient: %w", err)
	}
	out.Subject(msg.Subject)
	out.SetMessageIDWithValue(msg.MessageID)
	out.SetGenHeader(mail.HeaderInReplyTo, msg.InReplyTo)
	out.SetGenHeader(mail.HeaderReferences, msg.References)
	out.SetGenHeader(mail.Header("List-ID"), msg.ListID)
	out.SetGenHeader(mail.Header("X-Tracker-Entry"), msg.EntryID)
	out.SetBodyString(mail.TypeTextPlain, msg.Body)
	return out, nil
}

// isTemporary treats everything except a permanent SMTP reply as
// worth another attempt.
func isTemporary(err error) bool {
	var sendErr *mail.SendError
	if errors.As(err, &sendErr) {
		return sendErr.IsTemp()
	}
	return true
}

// LogMailer only logs messages. It is used when no SMTP host is
// configured.
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(_ context.Context, msg Message) error {
	m.logger.Info("mail not sent, smtp disabled",
		"to", msg.To,
		"subject", msg.Subject,
		"message_id", msg.MessageID,
		"entry_id", msg.EntryID,
	)
	return nil
}
