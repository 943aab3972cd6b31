package accounts_test

import (
	"context"
	"database/sql"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-accounts"
	"github.com/goliatone/go-accounts/migrations"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"golang.org/x/crypto/bcrypt"

	_ "github.com/mattn/go-sqlite3"
)

const (
	testSigningKey = "session-signing-key-for-tests-only"
	testLinkKey    = "link-signing-key-for-tests-only-0"
	testPassword   = "Secret@123"
	frontendURL    = "https://portal.example.com"
)

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()
	sqldb, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	require.NoError(t, migrations.Up(context.Background(), sqldb, migrations.DialectSQLite))

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// testClock is a settable time source shared by every component under test
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sentLink struct {
	AccountID string
	Email     string
	Link      string
}

// recordingNotifier keeps every link it is asked to deliver
type recordingNotifier struct {
	mu            sync.Mutex
	verifications []sentLink
	resets        []sentLink
	err           error
	block         bool
}

func (n *recordingNotifier) SendEmailVerification(ctx context.Context, account *accounts.Account, link string) error {
	return n.record(ctx, &n.verifications, account, link)
}

func (n *recordingNotifier) SendPasswordReset(ctx context.Context, account *accounts.Account, link string) error {
	return n.record(ctx, &n.resets, account, link)
}

func (n *recordingNotifier) record(ctx context.Context, into *[]sentLink, account *accounts.Account, link string) error {
	if n.block {
		<-ctx.Done()
		return ctx.Err()
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	*into = append(*into, sentLink{AccountID: account.ID.String(), Email: account.Email, Link: link})
	return n.err
}

func (n *recordingNotifier) lastVerification(t *testing.T) sentLink {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.verifications, "no verification link was sent")
	return n.verifications[len(n.verifications)-1]
}

func (n *recordingNotifier) lastReset(t *testing.T) sentLink {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.resets, "no reset link was sent")
	return n.resets[len(n.resets)-1]
}

func (n *recordingNotifier) resetCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.resets)
}

type capturingSink struct {
	mu     sync.Mutex
	events []accounts.ActivityEvent
}

func (c *capturingSink) Record(ctx context.Context, evt accounts.ActivityEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *capturingSink) types() []accounts.ActivityEventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]accounts.ActivityEventType, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.EventType)
	}
	return out
}

type testEnv struct {
	db       *bun.DB
	manager  *accounts.Manager
	repo     accounts.RepositoryManager
	clock    *testClock
	notifier *recordingNotifier
	sink     *capturingSink
	sessions *accounts.SessionIssuer
}

func newTestEnv(t *testing.T, opts ...accounts.ManagerOption) *testEnv {
	t.Helper()
	db := newTestDB(t)
	env := &testEnv{
		db:       db,
		repo:     accounts.NewRepositoryManager(db),
		clock:    newTestClock(),
		notifier: &recordingNotifier{},
		sink:     &capturingSink{},
	}

	env.sessions = accounts.NewSessionIssuer(
		[]byte(testSigningKey), time.Hour, "accounts-test", []string{"portal"},
		accounts.NewMemoryDenylist().WithClock(env.clock.Now), nil,
	).WithClock(env.clock.Now)

	base := []accounts.ManagerOption{
		accounts.WithClock(env.clock.Now),
		accounts.WithHasher(accounts.BcryptHasher{Cost: bcrypt.MinCost}),
		accounts.WithNotifier(env.notifier),
		accounts.WithActivitySink(env.sink),
		accounts.WithLinkBuilder(accounts.LinkBuilder{FrontendURL: frontendURL}),
		accounts.WithLogger(accounts.NewZapLogger(nil)),
	}

	env.manager = accounts.NewManager(env.repo,
		accounts.NewLinkSigner([]byte(testLinkKey), time.Hour),
		env.sessions,
		append(base, opts...)...,
	)
	return env
}

func validRegistration(email, document string) accounts.RegisterInput {
	return accounts.RegisterInput{
		FirstName:            "Maria",
		LastName:             "Silva",
		Nickname:             "msilva",
		Email:                email,
		Password:             testPassword,
		PasswordConfirmation: testPassword,
		Phone:                "(11) 98765-4321",
		DocumentNumber:       document,
		BirthDate:            "1990-05-20",
		AcceptEmail:          true,
		AcceptTerms:          true,
		AcceptPrivacy:        true,
	}
}

func (e *testEnv) register(t *testing.T, email, document string) *accounts.Account {
	t.Helper()
	res, err := e.manager.Register(context.Background(), validRegistration(email, document))
	require.NoError(t, err)
	return res.Account
}

// registerVerified registers an account and follows its verification link
func (e *testEnv) registerVerified(t *testing.T, email, document string) *accounts.Account {
	t.Helper()
	e.register(t, email, document)
	account, err := e.manager.VerifyEmail(context.Background(), proofFromLink(t, e.notifier.lastVerification(t).Link))
	require.NoError(t, err)
	return account
}

func principalOf(account *accounts.Account) accounts.Principal {
	return accounts.Principal{AccountID: account.ID, Role: account.Role, Email: account.Email}
}

func proofFromLink(t *testing.T, link string) accounts.VerificationProof {
	t.Helper()
	u, err := url.Parse(link)
	require.NoError(t, err)
	q := u.Query()

	expires, err := strconv.ParseInt(q.Get("expires"), 10, 64)
	require.NoError(t, err)
	return accounts.VerificationProof{
		ID:        q.Get("id"),
		Hash:      q.Get("hash"),
		Expires:   expires,
		Signature: q.Get("signature"),
	}
}

func tokenFromLink(t *testing.T, link string) string {
	t.Helper()
	u, err := url.Parse(link)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(link, frontendURL))
	return u.Query().Get("token")
}
