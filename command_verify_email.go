package accounts

import (
	"context"
	"errors"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// VerifyEmail consumes an email verification proof. Proof failures keep
// their cause in the chain but surface as ErrLinkExpired or ErrLinkInvalid.
func (m *Manager) VerifyEmail(ctx context.Context, proof VerificationProof) (*Account, error) {
	ctx, cancel, err := m.begin(ctx, "email verification")
	defer cancel()
	if err != nil {
		return nil, err
	}

	if err := m.signer.Verify(proof, m.now()); err != nil {
		m.logger.Debug("verification proof for %q rejected: %v", proof.ID, err)
		return nil, linkError(err)
	}

	id, err := uuid.Parse(proof.ID)
	if err != nil {
		return nil, linkError(ErrProofMalformed)
	}

	var verified *Account
	err = m.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		account, err := m.repo.Accounts().FindAccountByIDTx(ctx, tx, id)
		if err != nil {
			if goerrors.Is(err, ErrAccountNotFound) {
				return linkError(ErrProofMalformed)
			}
			return err
		}

		// the email changed since the link was issued
		if !proof.MatchesEmail(account.Email) {
			return linkError(ErrProofSignatureMismatch)
		}

		if !account.Active {
			return ErrInactiveAccount
		}
		if account.IsVerified() {
			return ErrAlreadyVerified
		}

		verified, err = m.machine.Transition(ctx, tx, accountActor(account), account, StateVerified,
			WithTransitionReason("email verification link"),
		)
		return err
	})
	if err != nil {
		return nil, passRich(err, "failed to verify email")
	}

	m.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventEmailVerified,
		Actor:     accountActor(verified),
		AccountID: verified.ID.String(),
		ToState:   StateVerified,
	})
	m.logger.Info("account %s verified its email", verified.ID)

	return verified, nil
}

// ResendVerification sends a fresh link to email when it belongs to an
// active unverified account. The outcome is never reported to the caller.
func (m *Manager) ResendVerification(ctx context.Context, email string) error {
	ctx, cancel, err := m.begin(ctx, "resend verification")
	defer cancel()
	if err != nil {
		return err
	}

	account, err := m.repo.Accounts().FindActiveByEmailTx(ctx, nil, email)
	if err != nil {
		if !goerrors.Is(err, ErrAccountNotFound) {
			m.logger.Error("resend verification lookup failed: %v", err)
		}
		return nil
	}

	if account.IsVerified() {
		return nil
	}

	m.sendVerification(ctx, account)
	return nil
}

// ResendVerificationFor is the authenticated variant of ResendVerification
func (m *Manager) ResendVerificationFor(ctx context.Context, principal Principal) error {
	ctx, cancel, err := m.begin(ctx, "resend verification")
	defer cancel()
	if err != nil {
		return err
	}

	account, err := m.repo.Accounts().FindAccountByIDTx(ctx, nil, principal.AccountID)
	if err != nil {
		return passRich(err, "failed to load account")
	}
	if !account.Active {
		return ErrInactiveAccount
	}
	if account.IsVerified() {
		return ErrAlreadyVerified
	}

	m.sendVerification(ctx, account)
	return nil
}

func linkError(cause error) error {
	if errors.Is(cause, ErrProofExpired) {
		return goerrors.Wrap(cause, goerrors.CategoryAuth, "invalid or expired link").
			WithTextCode(TextCodeLinkExpired).
			WithCode(goerrors.CodeBadRequest)
	}
	return goerrors.Wrap(cause, goerrors.CategoryAuth, "invalid or expired link").
		WithTextCode(TextCodeLinkInvalid).
		WithCode(goerrors.CodeBadRequest)
}
