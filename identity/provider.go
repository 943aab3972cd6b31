// Package identity runs the OAuth authorization code flow against external
// identity providers and turns the outcome into an accounts.ExternalProfile.
package identity

import (
	"context"

	"github.com/goliatone/go-accounts"
)

// Provider is an external identity provider
type Provider interface {
	// Name is the provider identifier used in routes and stored on accounts
	Name() string

	// AuthCodeURL returns the consent page URL carrying state
	AuthCodeURL(state string, opts ...AuthCodeOption) string

	// Exchange trades an authorization code for the verified user profile
	Exchange(ctx context.Context, code string, opts ...ExchangeOption) (*accounts.ExternalProfile, error)
}

// AuthCodeOption configures the authorization URL.
type AuthCodeOption func(*AuthCodeConfig)

// ExchangeOption configures the token exchange.
type ExchangeOption func(*ExchangeConfig)

// AuthCodeConfig is the applied set of auth code options
type AuthCodeConfig struct {
	CodeChallenge string
	Prompt        string
}

// ExchangeConfig is the applied set of exchange options
type ExchangeConfig struct {
	CodeVerifier string
}

// WithPKCE sends an S256 code challenge.
func WithPKCE(codeChallenge string) AuthCodeOption {
	return func(c *AuthCodeConfig) {
		c.CodeChallenge = codeChallenge
	}
}

// WithPrompt sets the prompt parameter (e.g., "consent", "select_account").
func WithPrompt(prompt string) AuthCodeOption {
	return func(c *AuthCodeConfig) {
		c.Prompt = prompt
	}
}

// WithCodeVerifier sets the PKCE code verifier for token exchange.
func WithCodeVerifier(verifier string) ExchangeOption {
	return func(c *ExchangeConfig) {
		c.CodeVerifier = verifier
	}
}

func applyAuthCodeOptions(opts ...AuthCodeOption) AuthCodeConfig {
	cfg := AuthCodeConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

func applyExchangeOptions(opts ...ExchangeOption) ExchangeConfig {
	cfg := ExchangeConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}
