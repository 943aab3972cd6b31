package identity

import (
	"context"
	"sort"
	"time"

	"github.com/goliatone/go-accounts"
	goerrors "github.com/goliatone/go-errors"
)

// Linker turns a verified external profile into a local session
type Linker interface {
	LinkExternalIdentity(ctx context.Context, profile accounts.ExternalProfile) (*accounts.LinkResult, error)
}

// Flow runs the redirect and callback legs of the authorization code flow.
type Flow struct {
	providers       map[string]Provider
	states          *StateCodec
	linker          Linker
	defaultRedirect string
	now             func() time.Time
}

// FlowOption configures a Flow
type FlowOption func(*Flow)

// WithProvider registers a provider.
func WithProvider(p Provider) FlowOption {
	return func(f *Flow) {
		if p != nil {
			f.providers[p.Name()] = p
		}
	}
}

// WithDefaultRedirect sets where the frontend lands when the caller did not
// ask for a specific page.
func WithDefaultRedirect(url string) FlowOption {
	return func(f *Flow) {
		f.defaultRedirect = url
	}
}

func WithFlowClock(now func() time.Time) FlowOption {
	return func(f *Flow) {
		if now != nil {
			f.now = now
		}
	}
}

func NewFlow(states *StateCodec, linker Linker, opts ...FlowOption) *Flow {
	f := &Flow{
		providers: map[string]Provider{},
		states:    states,
		linker:    linker,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// Providers lists the registered provider names
func (f *Flow) Providers() []string {
	names := make([]string, 0, len(f.providers))
	for name := range f.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AuthRedirect is where to send the browser to start a sign in
type AuthRedirect struct {
	URL      string
	State    string
	Provider string
}

// Begin builds the consent URL. The PKCE verifier rides in the sealed state.
func (f *Flow) Begin(ctx context.Context, providerName, redirectURL string) (*AuthRedirect, error) {
	provider, err := f.provider(providerName)
	if err != nil {
		return nil, err
	}

	verifier, err := generateCodeVerifier()
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate code verifier")
	}

	if redirectURL == "" {
		redirectURL = f.defaultRedirect
	}

	now := f.now()
	state := &OAuthState{
		Nonce:        generateNonce(),
		Provider:     providerName,
		CodeVerifier: verifier,
		RedirectURL:  redirectURL,
		IssuedAt:     now.Unix(),
		ExpiresAt:    now.Add(f.states.ttl).Unix(),
	}

	token, err := f.states.Encode(state)
	if err != nil {
		return nil, err
	}

	return &AuthRedirect{
		URL:      provider.AuthCodeURL(token, WithPKCE(computeCodeChallenge(verifier))),
		State:    token,
		Provider: providerName,
	}, nil
}

// Completion is the outcome of a provider callback
type Completion struct {
	Result      *accounts.LinkResult
	RedirectURL string
}

// Complete checks the state, exchanges the code and links the identity.
func (f *Flow) Complete(ctx context.Context, providerName, code, stateToken string) (*Completion, error) {
	provider, err := f.provider(providerName)
	if err != nil {
		return nil, err
	}

	state, err := f.states.Decode(stateToken)
	if err != nil {
		return nil, err
	}
	if state.Provider != providerName {
		return nil, ErrInvalidState
	}

	if code == "" {
		return nil, accounts.NewValidationError(map[string]string{"code": "cannot be blank"})
	}

	profile, err := provider.Exchange(ctx, code, WithCodeVerifier(state.CodeVerifier))
	if err != nil {
		return nil, err
	}

	result, err := f.linker.LinkExternalIdentity(ctx, *profile)
	if err != nil {
		return nil, err
	}

	redirect := state.RedirectURL
	if redirect == "" {
		redirect = f.defaultRedirect
	}

	return &Completion{Result: result, RedirectURL: redirect}, nil
}

func (f *Flow) provider(name string) (Provider, error) {
	p, ok := f.providers[name]
	if !ok {
		return nil, ErrProviderNotFound.Clone().WithMetadata(map[string]any{"provider": name})
	}
	return p, nil
}
