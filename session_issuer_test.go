package accounts_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-accounts"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIssuer(clock *testClock) *accounts.SessionIssuer {
	return accounts.NewSessionIssuer(
		[]byte(testSigningKey), time.Hour, "accounts-test", []string{"portal"},
		accounts.NewMemoryDenylist().WithClock(clock.Now), nil,
	).WithClock(clock.Now)
}

func sessionAccount() *accounts.Account {
	return &accounts.Account{
		ID:        uuid.New(),
		FirstName: "Maria",
		LastName:  "Silva",
		Email:     "maria@example.com",
		Role:      accounts.RoleAdministrator,
	}
}

func TestSessionIssuerIssueAndValidate(t *testing.T) {
	clock := newTestClock()
	issuer := newIssuer(clock)
	account := sessionAccount()

	session, err := issuer.Issue(account)
	require.NoError(t, err)
	assert.Equal(t, "bearer", session.TokenType)
	assert.Equal(t, int64(3600), session.ExpiresIn)
	assert.Equal(t, clock.Now().Add(time.Hour), session.ExpiresAt)

	claims, err := issuer.Validate(context.Background(), session.Token)
	require.NoError(t, err)
	assert.Equal(t, account.ID.String(), claims.Subject)
	assert.Equal(t, accounts.RoleAdministrator, claims.Role)
	assert.Equal(t, "Maria Silva", claims.Name)
	assert.Equal(t, int64(0), claims.Generation)
	assert.True(t, claims.CurrentFor(account))
	assert.Equal(t, jwt.ClaimStrings{"portal"}, claims.Audience)

	principal, err := claims.Principal()
	require.NoError(t, err)
	assert.True(t, principal.IsAdmin())
	assert.Equal(t, claims.ID, principal.TokenID)
}

func TestSessionIssuerRejections(t *testing.T) {
	clock := newTestClock()
	issuer := newIssuer(clock)
	ctx := context.Background()

	session, err := issuer.Issue(sessionAccount())
	require.NoError(t, err)

	t.Run("garbage", func(t *testing.T) {
		_, err := issuer.Validate(ctx, "not-a-token")
		assert.ErrorIs(t, err, accounts.ErrTokenMalformed)
	})

	t.Run("other key", func(t *testing.T) {
		other := accounts.NewSessionIssuer([]byte("another-signing-key-another-one!"), time.Hour,
			"accounts-test", []string{"portal"}, nil, nil).WithClock(clock.Now)
		_, err := other.Validate(ctx, session.Token)
		assert.ErrorIs(t, err, accounts.ErrTokenMalformed)
	})

	t.Run("other audience", func(t *testing.T) {
		other := accounts.NewSessionIssuer([]byte(testSigningKey), time.Hour,
			"accounts-test", []string{"backoffice"}, nil, nil).WithClock(clock.Now)
		_, err := other.Validate(ctx, session.Token)
		assert.ErrorIs(t, err, accounts.ErrTokenMalformed)
	})

	t.Run("unsigned", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "x", "exp": clock.Now().Add(time.Hour).Unix()})
		unsigned, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = issuer.Validate(ctx, unsigned)
		assert.ErrorIs(t, err, accounts.ErrTokenMalformed)
	})

	t.Run("expired", func(t *testing.T) {
		clock.Advance(time.Hour + time.Minute)
		defer clock.Advance(-(time.Hour + time.Minute))
		_, err := issuer.Validate(ctx, session.Token)
		assert.ErrorIs(t, err, accounts.ErrTokenExpired)
	})
}

func TestSessionIssuerRevokeAndRefresh(t *testing.T) {
	clock := newTestClock()
	issuer := newIssuer(clock)
	ctx := context.Background()
	account := sessionAccount()

	first, err := issuer.Issue(account)
	require.NoError(t, err)
	firstClaims, err := issuer.Validate(ctx, first.Token)
	require.NoError(t, err)

	second, err := issuer.Refresh(ctx, firstClaims, account)
	require.NoError(t, err)
	assert.NotEqual(t, first.Token, second.Token)

	_, err = issuer.Validate(ctx, first.Token)
	assert.ErrorIs(t, err, accounts.ErrTokenRevoked)

	// a second refresh racing on the same claims loses
	_, err = issuer.Refresh(ctx, firstClaims, account)
	assert.ErrorIs(t, err, accounts.ErrTokenRevoked)

	secondClaims, err := issuer.Validate(ctx, second.Token)
	require.NoError(t, err)

	_, err = issuer.Refresh(ctx, secondClaims, sessionAccount())
	assert.ErrorIs(t, err, accounts.ErrTokenMalformed)

	require.NoError(t, issuer.Revoke(ctx, second.Token))
	_, err = issuer.Validate(ctx, second.Token)
	assert.ErrorIs(t, err, accounts.ErrTokenRevoked)
	assert.ErrorIs(t, issuer.Revoke(ctx, second.Token), accounts.ErrTokenRevoked)
}

func TestSessionIssuerRefreshRejectsStaleGeneration(t *testing.T) {
	clock := newTestClock()
	issuer := newIssuer(clock)
	ctx := context.Background()
	account := sessionAccount()

	session, err := issuer.Issue(account)
	require.NoError(t, err)
	claims, err := issuer.Validate(ctx, session.Token)
	require.NoError(t, err)

	account.EndSessions()
	assert.False(t, claims.CurrentFor(account))

	_, err = issuer.Refresh(ctx, claims, account)
	assert.ErrorIs(t, err, accounts.ErrTokenRevoked)

	// the rejected token was not denylisted
	_, err = issuer.Validate(ctx, session.Token)
	assert.NoError(t, err)

	fresh, err := issuer.Issue(account)
	require.NoError(t, err)
	freshClaims, err := issuer.Validate(ctx, fresh.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(1), freshClaims.Generation)
	assert.True(t, freshClaims.CurrentFor(account))
}
