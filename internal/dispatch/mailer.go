package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"remindd/internal/reminder"
)

// SMTPConfig configures the outbound mail channel.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

type smtpMailer struct {
	cfg SMTPConfig
}

// NewSMTPMailer sends reminder mail over plain SMTP AUTH.
func NewSMTPMailer(cfg SMTPConfig) (Mailer, error) {
	if cfg.Host == "" || cfg.Port == "" || cfg.From == "" {
		return nil, errors.New("smtp host, port and from are required")
	}
	return &smtpMailer{cfg: cfg}, nil
}

func (m *smtpMailer) Send(ctx context.Context, to, subject, body string) error {
	// net/smtp has no context support; honor cancellation before the dial
	// and rely on the dispatcher's channel timeout for the upper bound.
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := strings.Join([]string{
		"From: " + m.cfg.From,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=\"UTF-8\"",
		"",
		body,
	}, "\r\n")

	addr := m.cfg.Host + ":" + m.cfg.Port
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	return smtp.SendMail(addr, auth, m.cfg.From, []string{to}, []byte(msg))
}

func emailSubject(r reminder.Reminder) string {
	return "Reminder: " + r.Title
}

func emailBody(r reminder.Reminder) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Upcoming reminder: %s\n", r.Title)
	if r.Category != "" {
		fmt.Fprintf(&b, "Category: %s\n", r.Category)
	}
	if !r.DueAt.IsZero() {
		fmt.Fprintf(&b, "Time: %s\n", r.DueAt.Format(time.RFC1123))
	}
	if r.Description != "" {
		fmt.Fprintf(&b, "\nNotes:\n%s\n", r.Description)
	}
	if r.ExternalURL != "" {
		fmt.Fprintf(&b, "\nJoin: %s\n", r.ExternalURL)
	}
	return b.String()
}
