package accounts

import (
	"context"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	defaultOperationTimeout = 10 * time.Second
	defaultNotifyTimeout    = 5 * time.Second
	defaultResetTTL         = 60 * time.Minute
)

// Manager drives the account lifecycle. Every operation takes the caller
// explicitly, nothing is resolved from ambient request state.
type Manager struct {
	repo          RepositoryManager
	signer        *LinkSigner
	sessions      *SessionIssuer
	machine       *AccountStateMachine
	hasher        PasswordHasher
	notifier      Notifier
	links         LinkBuilder
	activity      ActivitySink
	logger        Logger
	now           func() time.Time
	opTimeout     time.Duration
	notifyTimeout time.Duration
	resetTTL      time.Duration
	trustedDomain string

	dummyOnce sync.Once
	dummyHash string
}

// ManagerOption customizes a Manager
type ManagerOption func(*Manager)

func WithLogger(logger Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithActivitySink(sink ActivitySink) ManagerOption {
	return func(m *Manager) {
		m.activity = normalizeActivitySink(sink)
	}
}

func WithNotifier(n Notifier) ManagerOption {
	return func(m *Manager) {
		if n != nil {
			m.notifier = n
		}
	}
}

func WithHasher(h PasswordHasher) ManagerOption {
	return func(m *Manager) {
		if h != nil {
			m.hasher = h
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithNotifyTimeout bounds each notifier call
func WithNotifyTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.notifyTimeout = d
		}
	}
}

// WithResetTTL sets how long a password reset ticket stays valid
func WithResetTTL(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.resetTTL = d
		}
	}
}

// WithTrustedDomain grants administrator to new external identities whose
// email belongs to domain.
func WithTrustedDomain(domain string) ManagerOption {
	return func(m *Manager) {
		m.trustedDomain = domain
	}
}

func WithLinkBuilder(lb LinkBuilder) ManagerOption {
	return func(m *Manager) {
		m.links = lb
	}
}

// NewManager wires the lifecycle manager
func NewManager(repo RepositoryManager, signer *LinkSigner, sessions *SessionIssuer, opts ...ManagerOption) *Manager {
	m := &Manager{
		repo:          repo,
		signer:        signer,
		sessions:      sessions,
		hasher:        NewBcryptHasher(),
		notifier:      noopNotifier{},
		activity:      noopActivitySink{},
		logger:        defLogger{},
		now:           time.Now,
		opTimeout:     defaultOperationTimeout,
		notifyTimeout: defaultNotifyTimeout,
		resetTTL:      defaultResetTTL,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	m.machine = NewAccountStateMachine(repo.Accounts(),
		WithStateMachineClock(m.now),
		WithStateMachineActivitySink(m.activity),
		WithStateMachineLogger(m.logger),
	)

	return m
}

// NewManagerFromConfig builds the signer and issuer from cfg
func NewManagerFromConfig(cfg Config, repo RepositoryManager, denylist Denylist, opts ...ManagerOption) *Manager {
	signer := NewLinkSigner([]byte(cfg.GetLinkSigningKey()), cfg.GetVerificationTTL())
	sessions := NewSessionIssuer(
		[]byte(cfg.GetSigningKey()),
		cfg.GetTokenExpiration(),
		cfg.GetIssuer(),
		cfg.GetAudience(),
		denylist,
		nil,
	)

	base := []ManagerOption{
		WithResetTTL(cfg.GetResetTTL()),
		WithNotifyTimeout(cfg.GetNotifyTimeout()),
		WithTrustedDomain(cfg.GetTrustedDomain()),
		WithLinkBuilder(LinkBuilder{FrontendURL: cfg.GetFrontendURL()}),
	}

	m := NewManager(repo, signer, sessions, append(base, opts...)...)
	sessions.logger = m.logger
	return m
}

// Sessions exposes the issuer used by the boundary to validate tokens
func (m *Manager) Sessions() *SessionIssuer {
	return m.sessions
}

// StateMachine exposes the lifecycle graph
func (m *Manager) StateMachine() *AccountStateMachine {
	return m.machine
}

func (m *Manager) begin(ctx context.Context, op string) (context.Context, context.CancelFunc, error) {
	select {
	case <-ctx.Done():
		return ctx, func() {}, goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during "+op,
		)
	default:
	}
	c, cancel := context.WithTimeout(ctx, m.opTimeout)
	return c, cancel, nil
}

// dispatch runs a notifier call best-effort. The call is bounded by
// notifyTimeout and detached from the caller's cancellation; failures and
// timeouts are logged and never returned.
func (m *Manager) dispatch(ctx context.Context, kind string, account *Account, fn func(ctx context.Context) error) {
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.notifyTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- goerrors.New("notifier panicked", goerrors.CategoryInternal).
					WithMetadata(map[string]any{"panic": r})
			}
		}()
		done <- fn(nctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			m.logger.Warn("notifier %s failed for account %s: %v", kind, account.ID, err)
		}
	case <-nctx.Done():
		m.logger.Warn("notifier %s timed out for account %s", kind, account.ID)
	}
}

func (m *Manager) sendVerification(ctx context.Context, account *Account) {
	proof := m.signer.Sign(account.ID.String(), account.Email, m.now())
	link := m.links.VerificationURL(account, proof)
	m.dispatch(ctx, "email_verification", account, func(ctx context.Context) error {
		return m.notifier.SendEmailVerification(ctx, account, link)
	})
}

func (m *Manager) recordActivity(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = m.now()
	}
	if err := normalizeActivitySink(m.activity).Record(ctx, event); err != nil {
		m.logger.Warn("activity sink error for %s: %v", event.EventType, err)
	}
}

// passRich returns rich errors unchanged and wraps everything else
func passRich(err error, msg string) error {
	if err == nil {
		return nil
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return err
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, msg)
}
