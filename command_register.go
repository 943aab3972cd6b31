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

// RegisterInput is the local signup payload
type RegisterInput struct {
	FirstName            string `json:"first_name" example:"Maria" doc:"First name"`
	LastName             string `json:"last_name" example:"Silva" doc:"Last name"`
	Nickname             string `json:"nickname" example:"msilva" doc:"Display nickname"`
	Email                string `json:"email" example:"maria@example.com" doc:"Email"`
	Password             string `json:"password" doc:"Password"`
	PasswordConfirmation string `json:"password_confirmation" doc:"Password confirmation"`
	Phone                string `json:"phone" example:"(11) 98765-4321" doc:"Phone number"`
	DocumentNumber       string `json:"document_number" example:"12345678901" doc:"CPF, 11 digits"`
	BirthDate            string `json:"birth_date" example:"1990-05-20" doc:"Birth date, YYYY-MM-DD"`
	AcceptEmail          bool   `json:"accept_email"`
	AcceptSMS            bool   `json:"accept_sms"`
	AcceptWhatsApp       bool   `json:"accept_whatsapp"`
	AcceptTerms          bool   `json:"accept_terms"`
	AcceptPrivacy        bool   `json:"accept_privacy"`
}

func (p RegisterInput) Type() string { return "account.register" }

// Validate checks field formats. now bounds the birth date.
func (p RegisterInput) Validate(now func() time.Time) error {
	if now == nil {
		now = time.Now
	}
	return validation.ValidateStruct(&p,
		validation.Field(&p.FirstName, validation.Required, validation.Length(2, 50), personNameRule),
		validation.Field(&p.LastName, validation.Required, validation.Length(2, 50), personNameRule),
		validation.Field(&p.Nickname, validation.Required, validation.Length(3, 30), nicknameRule),
		validation.Field(&p.Email, validation.Required, validation.Length(0, 255), is.Email),
		validation.Field(&p.Password, validation.Required, validation.By(PasswordPolicy)),
		validation.Field(&p.PasswordConfirmation, validation.Required),
		validation.Field(&p.Phone, validation.Required, validation.By(PhoneNumber)),
		validation.Field(&p.DocumentNumber, validation.Required, documentRule),
		validation.Field(&p.BirthDate, validation.Required, validation.By(BirthDate(now))),
		validation.Field(&p.AcceptTerms, validation.By(MustBeTrue("terms of use must be accepted"))),
		validation.Field(&p.AcceptPrivacy, validation.By(MustBeTrue("privacy policy must be accepted"))),
	)
}

// AccountProfile holds the fields a registration writes on an account. It
// is also the overwrite list applied by Reactivate.
type AccountProfile struct {
	FirstName      string
	LastName       string
	Nickname       string
	Email          string
	PasswordHash   string
	Phone          string
	DocumentNumber string
	BirthDate      *time.Time
	Role           Role
	AcceptEmail    bool
	AcceptSMS      bool
	AcceptWhatsApp bool
}

// RegisterResult is returned by Register
type RegisterResult struct {
	Account     *Account
	Session     Session
	Reactivated bool
	Message     string
}

const (
	msgRegistered  = "Account created. Check your email to verify your address."
	msgReactivated = "Your previous account was reactivated with the new details. Check your email to verify your address."
)

// Register creates a local account, or reactivates the deactivated account
// holding the same document number.
func (m *Manager) Register(ctx context.Context, input RegisterInput) (*RegisterResult, error) {
	return m.register(ctx, input, RoleStandard)
}

// RegisterAdministrator is Register for administrators. Only an
// administrator may call it.
func (m *Manager) RegisterAdministrator(ctx context.Context, actor Principal, input RegisterInput) (*RegisterResult, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	return m.register(ctx, input, RoleAdministrator)
}

func (m *Manager) register(ctx context.Context, input RegisterInput, role Role) (*RegisterResult, error) {
	ctx, cancel, err := m.begin(ctx, "registration")
	defer cancel()
	if err != nil {
		return nil, err
	}

	if input.Password != input.PasswordConfirmation {
		return nil, ErrPasswordsDoNotMatch
	}

	if err := input.Validate(m.now); err != nil {
		return nil, asValidationError(err)
	}

	profile, err := m.profileFromInput(input, role)
	if err != nil {
		return nil, err
	}

	result := &RegisterResult{Message: msgRegistered}

	err = m.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		accounts := m.repo.Accounts()

		if _, err := accounts.FindActiveByEmailTx(ctx, tx, profile.Email); err == nil {
			return ErrEmailAlreadyUsed
		} else if !goerrors.Is(err, ErrAccountNotFound) {
			return err
		}

		dormant, err := accounts.FindDeactivatedByDocumentTx(ctx, tx, profile.DocumentNumber)
		switch {
		case err == nil:
			if _, err := accounts.FindActiveByDocumentTx(ctx, tx, profile.DocumentNumber); err == nil {
				return ErrDocumentAlreadyUsed
			} else if !goerrors.Is(err, ErrAccountNotFound) {
				return err
			}
			account, err := m.machine.Reactivate(ctx, tx, systemActor(), dormant, profile, false,
				WithTransitionReason("registration with known document number"),
			)
			if goerrors.Is(err, ErrAccountReactivated) {
				return ErrDocumentAlreadyUsed
			}
			if err != nil {
				return err
			}
			result.Account = account
			result.Reactivated = true
			result.Message = msgReactivated
			return nil
		case !goerrors.Is(err, ErrAccountNotFound):
			return err
		}

		if _, err := accounts.FindActiveByDocumentTx(ctx, tx, profile.DocumentNumber); err == nil {
			return ErrDocumentAlreadyUsed
		} else if !goerrors.Is(err, ErrAccountNotFound) {
			return err
		}

		account, err := accounts.InsertAccountTx(ctx, tx, m.newAccount(profile))
		if err != nil {
			return err
		}
		result.Account = account
		return nil
	})
	if err != nil {
		return nil, passRich(err, "failed to register account")
	}

	event := ActivityEventAccountRegistered
	if result.Reactivated {
		event = ActivityEventAccountReactivated
	}
	m.recordActivity(ctx, ActivityEvent{
		EventType: event,
		Actor:     accountActor(result.Account),
		AccountID: result.Account.ID.String(),
		ToState:   result.Account.State(),
		Metadata:  map[string]any{"role": string(role)},
	})

	m.sendVerification(ctx, result.Account)

	session, err := m.sessions.Issue(result.Account)
	if err != nil {
		return nil, err
	}
	result.Session = session

	m.logger.Info("account %s registered (reactivated=%t)", result.Account.ID, result.Reactivated)
	return result, nil
}

func (m *Manager) profileFromInput(input RegisterInput, role Role) (AccountProfile, error) {
	hash, err := m.hasher.HashPassword(input.Password)
	if err != nil {
		return AccountProfile{}, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid password provided")
	}

	phone, err := NormalizePhone(input.Phone)
	if err != nil {
		return AccountProfile{}, NewValidationError(map[string]string{"phone": "must be a valid phone number"})
	}

	birth, err := parseDate(input.BirthDate)
	if err != nil {
		return AccountProfile{}, NewValidationError(map[string]string{"birth_date": "must be a date in YYYY-MM-DD format"})
	}

	return AccountProfile{
		FirstName:      strings.TrimSpace(input.FirstName),
		LastName:       strings.TrimSpace(input.LastName),
		Nickname:       strings.TrimSpace(input.Nickname),
		Email:          NormalizeEmail(input.Email),
		PasswordHash:   hash,
		Phone:          phone,
		DocumentNumber: input.DocumentNumber,
		BirthDate:      birth,
		Role:           role,
		AcceptEmail:    input.AcceptEmail,
		AcceptSMS:      input.AcceptSMS,
		AcceptWhatsApp: input.AcceptWhatsApp,
	}, nil
}

func (m *Manager) newAccount(p AccountProfile) *Account {
	now := m.now()
	a := &Account{
		ID:             uuid.New(),
		FirstName:      p.FirstName,
		LastName:       p.LastName,
		Nickname:       p.Nickname,
		Email:          p.Email,
		Phone:          p.Phone,
		BirthDate:      p.BirthDate,
		Role:           p.Role,
		AcceptEmail:    p.AcceptEmail,
		AcceptSMS:      p.AcceptSMS,
		AcceptWhatsApp: p.AcceptWhatsApp,
		Active:         true,
		CreatedAt:      &now,
		UpdatedAt:      &now,
	}
	if p.PasswordHash != "" {
		a.PasswordHash = stringPtr(p.PasswordHash)
	}
	if p.DocumentNumber != "" {
		a.DocumentNumber = stringPtr(p.DocumentNumber)
	}
	return a
}
