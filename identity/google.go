package identity

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-accounts"
	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/oauth2"
)

const (
	googleProviderName = "google"
	defaultAuthURL     = "https://accounts.google.com/o/oauth2/v2/auth"
	defaultTokenURL    = "https://oauth2.googleapis.com/token"
	defaultJWKSURL     = "https://www.googleapis.com/oauth2/v3/certs"
)

var googleIssuers = []string{"https://accounts.google.com", "accounts.google.com"}

// GoogleConfig holds Google OAuth configuration.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
	Scopes       []string

	AuthURL  string
	TokenURL string
	JWKSURL  string

	HTTPClient *http.Client
	// KeyFunc replaces the remote JWKS, mostly for tests
	KeyFunc jwt.Keyfunc
	Logger  accounts.Logger
}

// DefaultScopes returns the default Google scopes.
func DefaultScopes() []string {
	return []string{"openid", "email", "profile"}
}

// Google implements Provider. The profile comes from the id_token returned
// by the token endpoint, verified against Google's published keys.
type Google struct {
	config     GoogleConfig
	oauth      *oauth2.Config
	httpClient *http.Client
	now        func() time.Time

	mu   sync.Mutex
	jwks *keyfunc.JWKS
}

var _ Provider = (*Google)(nil)

// NewGoogle creates a Google provider. Keys are fetched on first use.
func NewGoogle(cfg GoogleConfig) *Google {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes()
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaultAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.JWKSURL == "" {
		cfg.JWKSURL = defaultJWKSURL
	}
	if cfg.Logger == nil {
		cfg.Logger = nopLogger{}
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	return &Google{
		config: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.CallbackURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: client,
		now:        time.Now,
	}
}

// WithClock overrides the time source used to check id_token expiry.
func (g *Google) WithClock(now func() time.Time) *Google {
	if now != nil {
		g.now = now
	}
	return g
}

func (g *Google) Name() string {
	return googleProviderName
}

func (g *Google) AuthCodeURL(state string, opts ...AuthCodeOption) string {
	cfg := applyAuthCodeOptions(opts...)

	params := []oauth2.AuthCodeOption{oauth2.AccessTypeOnline}
	if cfg.CodeChallenge != "" {
		params = append(params,
			oauth2.SetAuthURLParam("code_challenge", cfg.CodeChallenge),
			oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		)
	}
	if cfg.Prompt != "" {
		params = append(params, oauth2.SetAuthURLParam("prompt", cfg.Prompt))
	}

	return g.oauth.AuthCodeURL(state, params...)
}

func (g *Google) Exchange(ctx context.Context, code string, opts ...ExchangeOption) (*accounts.ExternalProfile, error) {
	cfg := applyExchangeOptions(opts...)

	var params []oauth2.AuthCodeOption
	if cfg.CodeVerifier != "" {
		params = append(params, oauth2.SetAuthURLParam("code_verifier", cfg.CodeVerifier))
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
	token, err := g.oauth.Exchange(ctx, code, params...)
	if err != nil {
		return nil, unavailable(googleProviderName, "exchange", exchangeError(err))
	}

	rawIDToken, _ := token.Extra("id_token").(string)
	if rawIDToken == "" {
		return nil, unavailable(googleProviderName, "exchange", &ProviderError{
			Provider:    googleProviderName,
			Operation:   "exchange",
			Code:        "missing_id_token",
			Description: "token response carried no id_token",
		})
	}

	return g.VerifyIDToken(ctx, rawIDToken)
}

// googleClaims are the id_token claims we read
type googleClaims struct {
	jwt.RegisteredClaims
	Email         string `json:"email"`
	EmailVerified any    `json:"email_verified"`
	Name          string `json:"name"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	Picture       string `json:"picture"`
}

// VerifyIDToken checks signature, audience, issuer and expiry of an id_token
// and maps its claims to a profile.
func (g *Google) VerifyIDToken(ctx context.Context, rawIDToken string) (*accounts.ExternalProfile, error) {
	kf, err := g.keyFunc(ctx)
	if err != nil {
		return nil, err
	}

	claims := &googleClaims{}
	_, err = jwt.ParseWithClaims(rawIDToken, claims, kf,
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithAudience(g.config.ClientID),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(g.now),
	)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryAuth, "identity token rejected").
			WithTextCode(TextCodeInvalidIDToken).
			WithCode(goerrors.CodeUnauthorized).
			WithMetadata(map[string]any{"provider": googleProviderName})
	}

	if !validIssuer(claims.Issuer) || claims.Subject == "" {
		return nil, ErrInvalidIDToken
	}

	return &accounts.ExternalProfile{
		Provider:      googleProviderName,
		Subject:       claims.Subject,
		Email:         claims.Email,
		EmailVerified: truthy(claims.EmailVerified),
		Name:          claims.Name,
		GivenName:     claims.GivenName,
		FamilyName:    claims.FamilyName,
		AvatarURL:     claims.Picture,
	}, nil
}

func (g *Google) keyFunc(ctx context.Context) (jwt.Keyfunc, error) {
	if g.config.KeyFunc != nil {
		return g.config.KeyFunc, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.jwks != nil {
		return g.jwks.Keyfunc, nil
	}

	jwks, err := keyfunc.Get(g.config.JWKSURL, keyfunc.Options{
		Client: g.httpClient,
		RefreshErrorHandler: func(err error) {
			g.config.Logger.Warn("failed to refresh google signing keys: %v", err)
		},
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  5 * time.Minute,
		RefreshTimeout:    10 * time.Second,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, unavailable(googleProviderName, "jwks", err)
	}
	g.jwks = jwks
	return jwks.Keyfunc, nil
}

// Close stops the background key refresh
func (g *Google) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.jwks != nil {
		g.jwks.EndBackground()
		g.jwks = nil
	}
}

func exchangeError(err error) error {
	perr := &ProviderError{
		Provider:  googleProviderName,
		Operation: "exchange",
		Err:       err,
	}
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		perr.Code = rerr.ErrorCode
		perr.Description = rerr.ErrorDescription
		if rerr.Response != nil {
			perr.Status = rerr.Response.StatusCode
		}
	}
	return perr
}

func validIssuer(iss string) bool {
	for _, allowed := range googleIssuers {
		if iss == allowed {
			return true
		}
	}
	return false
}

// truthy accepts the boolean and string forms Google has used for
// email_verified.
func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(t, "true")
	default:
		return false
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
