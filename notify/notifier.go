// Package notify renders account emails from embedded django templates and
// hands them to a Mailer.
package notify

import (
	"bytes"
	"context"
	"embed"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/template/django/v3"
	"github.com/goliatone/go-accounts"
	goerrors "github.com/goliatone/go-errors"
)

//go:embed templates/*.html
var templates embed.FS

const (
	templateEmailVerification = "email_verification"
	templatePasswordReset     = "password_reset"
)

// Subjects holds the subject line per template
var Subjects = map[string]string{
	templateEmailVerification: "Confirme seu email",
	templatePasswordReset:     "Redefinição de senha",
}

// TemplateNotifier implements accounts.Notifier
type TemplateNotifier struct {
	engine          *django.Engine
	mailer          Mailer
	product         string
	verificationTTL time.Duration
	resetTTL        time.Duration
}

var _ accounts.Notifier = (*TemplateNotifier)(nil)

// Option configures a TemplateNotifier
type Option func(*TemplateNotifier)

// WithProductName sets the signature line of every email
func WithProductName(name string) Option {
	return func(n *TemplateNotifier) {
		n.product = name
	}
}

// WithLifetimes tells the templates how long links stay valid
func WithLifetimes(verification, reset time.Duration) Option {
	return func(n *TemplateNotifier) {
		if verification > 0 {
			n.verificationTTL = verification
		}
		if reset > 0 {
			n.resetTTL = reset
		}
	}
}

// WithTemplates replaces the embedded templates, e.g. with a directory on
// disk. The file system must hold one .html file per message.
func WithTemplates(fsys fs.FS) Option {
	return func(n *TemplateNotifier) {
		n.engine = django.NewFileSystem(http.FS(fsys), ".html")
	}
}

// NewTemplateNotifier parses the templates up front so a broken template
// fails at startup rather than on the first email.
func NewTemplateNotifier(mailer Mailer, opts ...Option) (*TemplateNotifier, error) {
	sub, err := fs.Sub(templates, "templates")
	if err != nil {
		return nil, err
	}

	n := &TemplateNotifier{
		engine:          django.NewFileSystem(http.FS(sub), ".html"),
		mailer:          mailer,
		product:         "Portal",
		verificationTTL: time.Hour,
		resetTTL:        time.Hour,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}

	if err := n.engine.Load(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load email templates")
	}
	return n, nil
}

func (n *TemplateNotifier) SendEmailVerification(ctx context.Context, account *accounts.Account, link string) error {
	return n.send(ctx, templateEmailVerification, account, link, n.verificationTTL)
}

func (n *TemplateNotifier) SendPasswordReset(ctx context.Context, account *accounts.Account, link string) error {
	return n.send(ctx, templatePasswordReset, account, link, n.resetTTL)
}

// Render renders a message without sending it
func (n *TemplateNotifier) Render(name string, account *accounts.Account, link string, ttl time.Duration) (Message, error) {
	subject := Subjects[name]

	var buf bytes.Buffer
	err := n.engine.Render(&buf, name, map[string]any{
		"subject":    subject,
		"first_name": account.FirstName,
		"link":       link,
		"expires_in": humanDuration(ttl),
		"product":    n.product,
	})
	if err != nil {
		return Message{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to render email").
			WithMetadata(map[string]any{"template": name})
	}

	return Message{To: account.Email, Subject: subject, HTML: buf.String()}, nil
}

func (n *TemplateNotifier) send(ctx context.Context, name string, account *accounts.Account, link string, ttl time.Duration) error {
	if account == nil {
		return goerrors.New("notification without recipient", goerrors.CategoryInternal)
	}

	msg, err := n.Render(name, account, link, ttl)
	if err != nil {
		return err
	}
	return n.mailer.Send(ctx, msg)
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		h := int(d / time.Hour)
		if h == 1 {
			return "1 hora"
		}
		return strconv.Itoa(h) + " horas"
	default:
		m := int(d / time.Minute)
		if m == 1 {
			return "1 minuto"
		}
		return strconv.Itoa(m) + " minutos"
	}
}
