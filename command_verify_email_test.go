package accounts_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-accounts"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyEmailThenLogin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	registered := env.register(t, "maria@example.com", "12345678901")

	_, err := env.manager.Login(ctx, "maria@example.com", testPassword)
	require.True(t, errors.Is(err, accounts.ErrEmailNotVerified))

	proof := proofFromLink(t, env.notifier.lastVerification(t).Link)
	verified, err := env.manager.VerifyEmail(ctx, proof)
	require.NoError(t, err)
	assert.Equal(t, registered.ID, verified.ID)
	assert.Equal(t, accounts.StateVerified, verified.State())

	_, err = env.manager.VerifyEmail(ctx, proof)
	assert.True(t, errors.Is(err, accounts.ErrAlreadyVerified))

	res, err := env.manager.Login(ctx, "maria@example.com", testPassword)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Session.Token)
	assert.Contains(t, env.sink.types(), accounts.ActivityEventEmailVerified)
}

func TestVerifyEmailRejectsExpiredLink(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "maria@example.com", "12345678901")
	proof := proofFromLink(t, env.notifier.lastVerification(t).Link)

	env.clock.Advance(61 * time.Minute)

	_, err := env.manager.VerifyEmail(context.Background(), proof)
	require.Error(t, err)
	assert.True(t, accounts.HasTextCode(err, accounts.TextCodeLinkExpired))
	assert.True(t, errors.Is(err, accounts.ErrProofExpired))
}

func TestVerifyEmailRejectsTamperedLink(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "maria@example.com", "12345678901")
	other := env.register(t, "joana@example.com", "10987654321")
	proof := proofFromLink(t, env.notifier.lastVerification(t).Link)

	cases := map[string]func(p *accounts.VerificationProof){
		"other account": func(p *accounts.VerificationProof) { p.ID = uuid.NewString() },
		"later expiry":  func(p *accounts.VerificationProof) { p.Expires += 3600 },
		"bad signature": func(p *accounts.VerificationProof) { p.Signature = p.Signature[:10] },
		"missing hash":  func(p *accounts.VerificationProof) { p.Hash = "" },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := proof
			mutate(&p)
			_, err := env.manager.VerifyEmail(context.Background(), p)
			require.Error(t, err)
			assert.True(t, accounts.HasTextCode(err, accounts.TextCodeLinkInvalid), "got %v", err)
		})
	}

	account, err := env.manager.Me(context.Background(), principalOf(other))
	require.NoError(t, err)
	assert.False(t, account.IsVerified())
}

func TestVerifyEmailFailsAfterEmailChange(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	account := env.register(t, "maria@example.com", "12345678901")
	oldProof := proofFromLink(t, env.notifier.lastVerification(t).Link)

	email := "maria.silva@example.com"
	_, err := env.manager.UpdateProfile(ctx, principalOf(account), accounts.ProfileUpdate{Email: &email})
	require.NoError(t, err)

	_, err = env.manager.VerifyEmail(ctx, oldProof)
	require.Error(t, err)
	assert.True(t, accounts.HasTextCode(err, accounts.TextCodeLinkInvalid))

	newProof := proofFromLink(t, env.notifier.lastVerification(t).Link)
	verified, err := env.manager.VerifyEmail(ctx, newProof)
	require.NoError(t, err)
	assert.Equal(t, email, verified.Email)
}

func TestVerifyEmailRejectsDeactivatedAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	account := env.register(t, "maria@example.com", "12345678901")
	proof := proofFromLink(t, env.notifier.lastVerification(t).Link)

	_, err := env.manager.Deactivate(ctx, principalOf(account), account.ID)
	require.NoError(t, err)

	_, err = env.manager.VerifyEmail(ctx, proof)
	assert.True(t, errors.Is(err, accounts.ErrInactiveAccount))
}

func TestResendVerification(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	account := env.register(t, "maria@example.com", "12345678901")
	first := env.notifier.lastVerification(t)

	env.clock.Advance(time.Minute)
	require.NoError(t, env.manager.ResendVerification(ctx, "MARIA@example.com"))
	second := env.notifier.lastVerification(t)
	assert.NotEqual(t, first.Link, second.Link)

	// unknown addresses look the same to the caller
	require.NoError(t, env.manager.ResendVerification(ctx, "ghost@example.com"))

	_, err := env.manager.VerifyEmail(ctx, proofFromLink(t, second.Link))
	require.NoError(t, err)

	err = env.manager.ResendVerificationFor(ctx, principalOf(account))
	assert.True(t, errors.Is(err, accounts.ErrAlreadyVerified))

	require.NoError(t, env.manager.ResendVerification(ctx, "maria@example.com"))
	assert.Equal(t, second.Link, env.notifier.lastVerification(t).Link)
}

func TestResendVerificationForUnverified(t *testing.T) {
	env := newTestEnv(t)
	account := env.register(t, "maria@example.com", "12345678901")

	env.clock.Advance(time.Minute)
	require.NoError(t, env.manager.ResendVerificationFor(context.Background(), principalOf(account)))

	env.notifier.mu.Lock()
	defer env.notifier.mu.Unlock()
	assert.Len(t, env.notifier.verifications, 2)
}
