package accounts

import (
	"context"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// ResetPasswordInput finalizes a password reset
type ResetPasswordInput struct {
	Email                string `json:"email" example:"maria@example.com" doc:"Account email"`
	Token                string `json:"token" doc:"Secret from the reset link"`
	Password             string `json:"password" doc:"New password"`
	PasswordConfirmation string `json:"password_confirmation" doc:"New password confirmation"`
}

func (p ResetPasswordInput) Type() string { return "account.password_reset" }

func (p ResetPasswordInput) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required, is.Email),
		validation.Field(&p.Token, validation.Required, validation.Length(resetSecretLength, resetSecretLength)),
		validation.Field(&p.Password, validation.Required, validation.By(PasswordPolicy)),
		validation.Field(&p.PasswordConfirmation, validation.Required),
	)
}

// RequestPasswordReset issues a ticket for email and mails the link. Only
// active accounts get one, the caller sees the same outcome either way.
func (m *Manager) RequestPasswordReset(ctx context.Context, email string) error {
	ctx, cancel, err := m.begin(ctx, "password reset request")
	defer cancel()
	if err != nil {
		return err
	}

	email = NormalizeEmail(email)
	if err := validation.Validate(email, validation.Required, is.Email); err != nil {
		return NewValidationError(map[string]string{"email": err.Error()})
	}

	account, err := m.repo.Accounts().FindActiveByEmailTx(ctx, nil, email)
	if err != nil {
		if !goerrors.Is(err, ErrAccountNotFound) {
			m.logger.Error("password reset lookup failed: %v", err)
		}
		return nil
	}

	secret, err := NewResetSecret()
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate reset secret")
	}
	hash, err := m.hasher.HashPassword(secret)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash reset secret")
	}

	// two concurrent requests may collide on the email key, the loser
	// retries once so the newest ticket wins
	for attempt := 0; attempt < 2; attempt++ {
		err = m.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			now := m.now()
			return m.repo.ResetTickets().ReplaceTx(ctx, tx, &PasswordResetTicket{
				Email:      email,
				SecretHash: hash,
				CreatedAt:  &now,
			})
		})
		if err == nil || !HasTextCode(err, textCodeTicketConflict) {
			break
		}
	}
	if err != nil {
		return passRich(err, "failed to issue password reset ticket")
	}

	m.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventPasswordResetRequest,
		Actor:     accountActor(account),
		AccountID: account.ID.String(),
	})

	link := m.links.ResetURL(account, secret)
	m.dispatch(ctx, "password_reset", account, func(ctx context.Context) error {
		return m.notifier.SendPasswordReset(ctx, account, link)
	})

	return nil
}

// ResetPassword consumes the ticket for input.Email and sets a new password.
// A consumed or expired ticket cannot be used again.
func (m *Manager) ResetPassword(ctx context.Context, input ResetPasswordInput) error {
	ctx, cancel, err := m.begin(ctx, "password reset")
	defer cancel()
	if err != nil {
		return err
	}

	if input.Password != input.PasswordConfirmation {
		return ErrPasswordsDoNotMatch
	}
	if err := input.Validate(); err != nil {
		if fields := FormatValidationErrorToMap(err); fields["token"] != "" {
			return ErrTicketInvalidOrExpired
		}
		return asValidationError(err)
	}

	email := NormalizeEmail(input.Email)
	newHash, err := m.hasher.HashPassword(input.Password)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	var account *Account
	// stale tickets are dropped and the transaction still commits
	var stale bool
	err = m.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		tickets := m.repo.ResetTickets()

		ticket, err := tickets.FindByEmailTx(ctx, tx, email)
		if err != nil {
			if goerrors.Is(err, ErrTicketNotFound) {
				return ErrTicketInvalidOrExpired
			}
			return err
		}

		if ticket.CreatedAt == nil || m.now().After(ticket.CreatedAt.Add(m.resetTTL)) {
			stale = true
			return tickets.DeleteByEmailTx(ctx, tx, email)
		}

		if err := m.hasher.ComparePasswordAndHash(strings.TrimSpace(input.Token), ticket.SecretHash); err != nil {
			return ErrTicketInvalidOrExpired
		}

		account, err = m.repo.Accounts().FindActiveByEmailTx(ctx, tx, email)
		if err != nil {
			if goerrors.Is(err, ErrAccountNotFound) {
				stale = true
				return tickets.DeleteByEmailTx(ctx, tx, email)
			}
			return err
		}

		if err := m.repo.Accounts().SetPasswordHashTx(ctx, tx, account.ID, newHash, m.now()); err != nil {
			return err
		}

		return tickets.DeleteByEmailTx(ctx, tx, email)
	})
	if err != nil {
		return passRich(err, "failed to reset password")
	}
	if stale {
		return ErrTicketInvalidOrExpired
	}

	m.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventPasswordResetSuccess,
		Actor:     accountActor(account),
		AccountID: account.ID.String(),
	})
	m.logger.Info("password reset completed for account %s", account.ID)

	return nil
}
