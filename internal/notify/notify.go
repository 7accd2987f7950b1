// Package notify delivers reviewer notifications over a log or email channel.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strconv"

	"github.com/jordan-wright/email"

	"github.com/opensource-finance/loandesk/internal/domain"
	"github.com/opensource-finance/loandesk/internal/telemetry"
)

// New creates the notifier selected by cfg.Channel.
func New(cfg domain.NotifyConfig) (domain.Notifier, error) {
	switch cfg.Channel {
	case "", "log":
		return NewLogNotifier(), nil
	case "email":
		return NewEmailNotifier(cfg)
	default:
		return nil, fmt.Errorf("unsupported notify channel: %s", cfg.Channel)
	}
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct{}

// NewLogNotifier creates a log notifier.
func NewLogNotifier() *LogNotifier { return &LogNotifier{} }

// Notify logs the notification.
func (LogNotifier) Notify(ctx context.Context, n *domain.Notification) error {
	slog.InfoContext(ctx, "notification",
		"recipient", n.Recipient,
		"subject", n.Subject,
	)
	telemetry.NotificationsSent.WithLabelValues("log", "sent").Inc()
	return nil
}

// sendFunc matches (*email.Email).Send so tests can capture outgoing mail.
type sendFunc func(e *email.Email, addr string, a smtp.Auth) error

// EmailNotifier sends notifications over SMTP.
type EmailNotifier struct {
	from string
	addr string
	auth smtp.Auth
	send sendFunc
}

// NewEmailNotifier creates an SMTP notifier.
func NewEmailNotifier(cfg domain.NotifyConfig) (*EmailNotifier, error) {
	if cfg.SMTPHost == "" {
		return nil, fmt.Errorf("smtp host is required for email notifications")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("sender address is required for email notifications")
	}
	port := cfg.SMTPPort
	if port == 0 {
		port = 587
	}

	var auth smtp.Auth
	if cfg.SMTPUser != "" {
		auth = smtp.PlainAuth("", cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPHost)
	}

	return &EmailNotifier{
		from: cfg.From,
		addr: cfg.SMTPHost + ":" + strconv.Itoa(port),
		auth: auth,
		send: func(e *email.Email, addr string, a smtp.Auth) error { return e.Send(addr, a) },
	}, nil
}

// Notify emails the recipient. Users without an address are skipped.
func (n *EmailNotifier) Notify(ctx context.Context, note *domain.Notification) error {
	if note.Email == "" {
		slog.DebugContext(ctx, "skipping email notification, no address", "recipient", note.Recipient)
		telemetry.NotificationsSent.WithLabelValues("email", "skipped").Inc()
		return nil
	}

	e := email.NewEmail()
	e.From = n.from
	e.To = []string{note.Email}
	e.Subject = note.Subject
	e.Text = []byte(fmt.Sprintf("Dear %s,\n\n%s\n\nLoanDesk", note.Recipient, note.Body))

	if err := n.send(e, n.addr, n.auth); err != nil {
		slog.ErrorContext(ctx, "failed to send email", "recipient", note.Recipient, "error", err)
		telemetry.NotificationsSent.WithLabelValues("email", "failed").Inc()
		return fmt.Errorf("failed to send email: %w", err)
	}

	slog.InfoContext(ctx, "email sent", "recipient", note.Recipient, "subject", note.Subject)
	telemetry.NotificationsSent.WithLabelValues("email", "sent").Inc()
	return nil
}
