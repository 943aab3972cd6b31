package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-accounts"
	goerrors "github.com/goliatone/go-errors"
)

// Message is a rendered email
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Mailer delivers rendered messages
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer writes messages to the logger instead of sending them. It is
// the development default.
type LogMailer struct {
	Logger accounts.Logger
}

func (m LogMailer) Send(ctx context.Context, msg Message) error {
	if m.Logger == nil {
		return nil
	}
	m.Logger.Info("email to=%s subject=%q bytes=%d", msg.To, msg.Subject, len(msg.HTML))
	m.Logger.Debug("email body:\n%s", msg.HTML)
	return nil
}

// SMTPConfig configures SMTPMailer
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer sends mail through an SMTP relay using STARTTLS when offered.
type SMTPMailer struct {
	config SMTPConfig
	now    func() time.Time
}

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTPMailer{config: cfg, now: time.Now}
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	addr := net.JoinHostPort(m.config.Host, strconv.Itoa(m.config.Port))

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to connect to smtp server").
			WithMetadata(map[string]any{"addr": addr})
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, m.config.Host)
	if err != nil {
		conn.Close()
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to open smtp session")
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: m.config.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryOperation, "smtp starttls failed")
		}
	}

	if m.config.Username != "" {
		auth := smtp.PlainAuth("", m.config.Username, m.config.Password, m.config.Host)
		if err := client.Auth(auth); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryOperation, "smtp authentication failed")
		}
	}

	if err := client.Mail(m.config.From); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "smtp sender rejected")
	}
	if err := client.Rcpt(msg.To); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "smtp recipient rejected")
	}

	w, err := client.Data()
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "smtp data failed")
	}
	if _, err := w.Write(m.compose(msg)); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to write message")
	}
	if err := w.Close(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to close message")
	}

	return client.Quit()
}

func (m *SMTPMailer) compose(msg Message) []byte {
	var b strings.Builder
	headers := [][2]string{
		{"From", m.config.From},
		{"To", msg.To},
		{"Subject", msg.Subject},
		{"Date", m.now().Format(time.RFC1123Z)},
		{"MIME-Version", "1.0"},
		{"Content-Type", "text/html; charset=UTF-8"},
	}
	for _, h := range headers {
		fmt.Fprintf(&b, "%s: %s\r\n", h[0], h[1])
	}
	b.WriteString("\r\n")
	b.WriteString(msg.HTML)
	return []byte(b.String())
}
