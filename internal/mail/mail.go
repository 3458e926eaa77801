// Package mail sends plain-text email over SMTP, falling back to the log
// when no SMTP host is configured.
package mail

import (
	"fmt"
	"net/smtp"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// DefaultFrom is used when no sender address is configured.
const DefaultFrom = "no-reply@transitpay.local"

// Config holds SMTP settings.
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

// ConfigFromEnv reads SMTP settings from the environment.
func ConfigFromEnv() Config {
	cfg := Config{
		Host:     os.Getenv("SMTP_HOST"),
		Port:     os.Getenv("SMTP_PORT"),
		Username: os.Getenv("SMTP_USER"),
		Password: os.Getenv("SMTP_PASS"),
		From:     os.Getenv("EMAIL_FROM"),
	}
	if cfg.Port == "" {
		cfg.Port = "587"
	}
	if cfg.From == "" {
		cfg.From = DefaultFrom
	}
	return cfg
}

// Mailer sends email.
type Mailer interface {
	Send(to, subject, body string) error
}

// SMTPMailer sends mail through a configured SMTP relay. When no host is
// configured, messages are logged instead so local development needs no
// inbox.
type SMTPMailer struct {
	cfg    Config
	logger zerolog.Logger
}

// NewSMTPMailer creates a mailer from cfg.
func NewSMTPMailer(cfg Config, logger zerolog.Logger) *SMTPMailer {
	return &SMTPMailer{
		cfg:    cfg,
		logger: logger.With().Str("component", "mail").Logger(),
	}
}

var _ Mailer = (*SMTPMailer)(nil)

// Send implements Mailer.
func (m *SMTPMailer) Send(to, subject, body string) error {
	if m.cfg.Host == "" {
		m.logger.Info().
			Str("to", to).
			Str("subject", subject).
			Msg("email (log only, no SMTP host configured)")
		return nil
	}

	msg := strings.Join([]string{
		"From: " + m.cfg.From,
		"To: " + to,
		"Subject: " + subject,
		"",
		body,
	}, "\r\n")

	addr := m.cfg.Host + ":" + m.cfg.Port
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	if err := smtp.SendMail(addr, auth, m.cfg.From, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("sending mail to %s: %w", to, err)
	}

	m.logger.Debug().Str("to", to).Str("subject", subject).Msg("email sent")
	return nil
}
