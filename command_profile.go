package accounts

import (
	"context"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ChangePasswordInput changes the password of the caller
type ChangePasswordInput struct {
	CurrentPassword      string `json:"current_password" doc:"Current password, not required for accounts without one"`
	Password             string `json:"password" doc:"New password"`
	PasswordConfirmation string `json:"password_confirmation" doc:"New password confirmation"`
}

func (p ChangePasswordInput) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Password, validation.Required, validation.By(PasswordPolicy)),
		validation.Field(&p.PasswordConfirmation, validation.Required),
	)
}

// ProfileUpdate lists the fields an account holder may change. Nil fields
// are left alone. Role, document number and lifecycle fields are not
// editable here.
type ProfileUpdate struct {
	FirstName      *string `json:"first_name,omitempty"`
	LastName       *string `json:"last_name,omitempty"`
	Nickname       *string `json:"nickname,omitempty"`
	Email          *string `json:"email,omitempty"`
	Phone          *string `json:"phone,omitempty"`
	BirthDate      *string `json:"birth_date,omitempty"`
	AvatarURL      *string `json:"avatar_url,omitempty"`
	AcceptEmail    *bool   `json:"accept_email,omitempty"`
	AcceptSMS      *bool   `json:"accept_sms,omitempty"`
	AcceptWhatsApp *bool   `json:"accept_whatsapp,omitempty"`
}

func (p ProfileUpdate) Validate(now func() time.Time) error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.FirstName, validation.NilOrNotEmpty, validation.Length(2, 50), personNameRule),
		validation.Field(&p.LastName, validation.NilOrNotEmpty, validation.Length(2, 50), personNameRule),
		validation.Field(&p.Nickname, validation.NilOrNotEmpty, validation.Length(3, 30), nicknameRule),
		validation.Field(&p.Email, validation.NilOrNotEmpty, validation.Length(0, 255), is.Email),
		validation.Field(&p.Phone, validation.NilOrNotEmpty, validation.By(PhoneNumber)),
		validation.Field(&p.BirthDate, validation.NilOrNotEmpty, validation.By(BirthDate(now))),
		validation.Field(&p.AvatarURL, is.URL),
	)
}

// ChangePassword replaces the caller's password. A wrong current password
// fails with ErrInvalidCredentials.
func (m *Manager) ChangePassword(ctx context.Context, principal Principal, input ChangePasswordInput) error {
	ctx, cancel, err := m.begin(ctx, "password change")
	defer cancel()
	if err != nil {
		return err
	}

	if input.Password != input.PasswordConfirmation {
		return ErrPasswordsDoNotMatch
	}
	if err := input.Validate(); err != nil {
		return asValidationError(err)
	}

	hash, err := m.hasher.HashPassword(input.Password)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	var account *Account
	err = m.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		account, err = m.repo.Accounts().FindAccountByIDTx(ctx, tx, principal.AccountID)
		if err != nil {
			return err
		}
		if !account.Active {
			return ErrInactiveAccount
		}

		if account.HasPassword() {
			if err := m.hasher.ComparePasswordAndHash(input.CurrentPassword, *account.PasswordHash); err != nil {
				return ErrInvalidCredentials
			}
		}

		return m.repo.Accounts().SetPasswordHashTx(ctx, tx, account.ID, hash, m.now())
	})
	if err != nil {
		return passRich(err, "failed to change password")
	}

	m.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventPasswordChanged,
		Actor:     principalActor(principal),
		AccountID: account.ID.String(),
	})
	return nil
}

// UpdateProfile applies update to the caller's account. Changing the email
// checks it is free among active accounts, clears the verification and
// sends a new link.
func (m *Manager) UpdateProfile(ctx context.Context, principal Principal, update ProfileUpdate) (*Account, error) {
	ctx, cancel, err := m.begin(ctx, "profile update")
	defer cancel()
	if err != nil {
		return nil, err
	}

	if err := update.Validate(m.now); err != nil {
		return nil, asValidationError(err)
	}

	var updated *Account
	var emailChanged bool
	err = m.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		accounts := m.repo.Accounts()

		account, err := accounts.FindAccountByIDTx(ctx, tx, principal.AccountID)
		if err != nil {
			return err
		}
		if !account.Active {
			return ErrInactiveAccount
		}

		if err := applyProfileUpdate(account, update); err != nil {
			return err
		}

		if update.Email != nil {
			email := NormalizeEmail(*update.Email)
			if email != account.Email {
				holder, err := accounts.FindActiveByEmailTx(ctx, tx, email)
				switch {
				case err == nil && holder.ID != account.ID:
					return ErrEmailAlreadyUsed
				case err != nil && !goerrors.Is(err, ErrAccountNotFound):
					return err
				}
				account.Email = email
				emailChanged = true
			}
		}

		if emailChanged && account.IsVerified() {
			updated, err = m.machine.Transition(ctx, tx, principalActor(principal), account, StateUnverified,
				WithTransitionReason("email changed"),
			)
			return err
		}

		now := m.now()
		account.UpdatedAt = &now
		updated, err = accounts.SaveAccountTx(ctx, tx, account)
		return err
	})
	if err != nil {
		return nil, passRich(err, "failed to update profile")
	}

	m.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventProfileUpdated,
		Actor:     principalActor(principal),
		AccountID: updated.ID.String(),
		Metadata:  map[string]any{"email_changed": emailChanged},
	})

	if emailChanged {
		m.sendVerification(ctx, updated)
	}

	return updated, nil
}

func applyProfileUpdate(account *Account, update ProfileUpdate) error {
	if update.FirstName != nil {
		account.FirstName = strings.TrimSpace(*update.FirstName)
	}
	if update.LastName != nil {
		account.LastName = strings.TrimSpace(*update.LastName)
	}
	if update.Nickname != nil {
		account.Nickname = strings.TrimSpace(*update.Nickname)
	}
	if update.Phone != nil {
		phone, err := NormalizePhone(*update.Phone)
		if err != nil {
			return NewValidationError(map[string]string{"phone": "must be a valid phone number"})
		}
		account.Phone = phone
	}
	if update.BirthDate != nil {
		birth, err := parseDate(*update.BirthDate)
		if err != nil {
			return NewValidationError(map[string]string{"birth_date": "must be a date in YYYY-MM-DD format"})
		}
		account.BirthDate = birth
	}
	if update.AvatarURL != nil {
		account.AvatarURL = strings.TrimSpace(*update.AvatarURL)
	}
	if update.AcceptEmail != nil {
		account.AcceptEmail = *update.AcceptEmail
	}
	if update.AcceptSMS != nil {
		account.AcceptSMS = *update.AcceptSMS
	}
	if update.AcceptWhatsApp != nil {
		account.AcceptWhatsApp = *update.AcceptWhatsApp
	}
	return nil
}

// Deactivate soft deletes an account. Callers may deactivate themselves,
// administrators may deactivate anyone.
func (m *Manager) Deactivate(ctx context.Context, principal Principal, accountID uuid.UUID) (*Account, error) {
	ctx, cancel, err := m.begin(ctx, "account deactivation")
	defer cancel()
	if err != nil {
		return nil, err
	}

	if principal.AccountID != accountID && !principal.IsAdmin() {
		return nil, ErrForbidden
	}

	var deactivated *Account
	err = m.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		account, err := m.repo.Accounts().FindAccountByIDTx(ctx, tx, accountID)
		if err != nil {
			return err
		}

		deactivated, err = m.machine.Transition(ctx, tx, principalActor(principal), account, StateDeactivated,
			WithTransitionMetadata(map[string]any{"self": principal.AccountID == accountID}),
		)
		return err
	})
	if err != nil {
		return nil, passRich(err, "failed to deactivate account")
	}

	m.logger.Info("account %s deactivated by %s", accountID, principal.AccountID)
	return deactivated, nil
}
