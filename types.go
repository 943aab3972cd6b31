package accounts

import (
	"context"
	"fmt"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Config holds account service options
type Config interface {
	GetSigningKey() string
	GetTokenExpiration() time.Duration
	GetIssuer() string
	GetAudience() []string
	GetLinkSigningKey() string
	GetVerificationTTL() time.Duration
	GetResetTTL() time.Duration
	GetTrustedDomain() string
	GetFrontendURL() string
	GetNotifyTimeout() time.Duration
}

// PasswordHasher hashes and verifies secrets
type PasswordHasher interface {
	HashPassword(password string) (string, error)
	ComparePasswordAndHash(password, hash string) error
}

// Notifier delivers out of band messages. Implementations may fail, the
// Manager logs those failures and carries on.
type Notifier interface {
	SendEmailVerification(ctx context.Context, account *Account, link string) error
	SendPasswordReset(ctx context.Context, account *Account, link string) error
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] ACCOUNTS "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] ACCOUNTS "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] ACCOUNTS "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] ACCOUNTS "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

type noopNotifier struct{}

func (noopNotifier) SendEmailVerification(context.Context, *Account, string) error { return nil }
func (noopNotifier) SendPasswordReset(context.Context, *Account, string) error     { return nil }
