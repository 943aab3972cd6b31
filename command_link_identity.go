package accounts

import (
	"context"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// ExternalProfile is what an identity provider tells us about a user
type ExternalProfile struct {
	Provider      string `json:"provider"`
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	AvatarURL     string `json:"picture"`
}

func (p ExternalProfile) Validate() error {
	err := validation.ValidateStruct(&p,
		validation.Field(&p.Provider, validation.Required),
		validation.Field(&p.Subject, validation.Required),
		validation.Field(&p.Email, validation.Required, is.Email),
	)
	if err != nil {
		return err
	}
	if first, _ := p.names(); first == "" {
		return validation.Errors{"name": validation.NewError("validation_required", "cannot be blank")}
	}
	return nil
}

// names prefers the structured claims and falls back to splitting Name
func (p ExternalProfile) names() (first, last string) {
	first = strings.TrimSpace(p.GivenName)
	last = strings.TrimSpace(p.FamilyName)
	if first != "" {
		return first, last
	}
	parts := strings.Fields(p.Name)
	if len(parts) == 0 {
		return "", last
	}
	if last == "" && len(parts) > 1 {
		last = strings.Join(parts[1:], " ")
	}
	return parts[0], last
}

// LinkResult is returned by LinkExternalIdentity
type LinkResult struct {
	Account     *Account
	Session     Session
	IsNew       bool
	Linked      bool
	Reactivated bool
}

// LinkExternalIdentity signs in with an external identity.
//
// A known subject wins over everything else: that account is refreshed and
// reactivated if needed, any other account holding the same email is left
// untouched. Otherwise the subject is attached to the account holding the
// email, and as a last resort a new verified account is created. Provider
// emails flagged unverified can neither link nor sign up.
func (m *Manager) LinkExternalIdentity(ctx context.Context, profile ExternalProfile) (*LinkResult, error) {
	ctx, cancel, err := m.begin(ctx, "external identity link")
	defer cancel()
	if err != nil {
		return nil, err
	}

	profile.Email = NormalizeEmail(profile.Email)
	if err := profile.Validate(); err != nil {
		return nil, asValidationError(err)
	}

	result := &LinkResult{}
	err = m.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		accounts := m.repo.Accounts()

		bySubject, err := accounts.FindBySubjectTx(ctx, tx, profile.Provider, profile.Subject)
		switch {
		case err == nil:
			result.Account, result.Reactivated, err = m.refreshLinked(ctx, tx, bySubject, profile)
			return err
		case !goerrors.Is(err, ErrAccountNotFound):
			return err
		}

		if !profile.EmailVerified {
			return ErrExternalEmailUnverified
		}

		byEmail, err := accounts.FindAnyByEmailTx(ctx, tx, profile.Email)
		switch {
		case err == nil:
			if byEmail.Provider != nil && *byEmail.Provider == profile.Provider &&
				byEmail.ProviderSubject != nil && *byEmail.ProviderSubject != profile.Subject {
				return ErrSubjectAlreadyLinked
			}
			result.Linked = true
			result.Reactivated = !byEmail.Active
			result.Account, err = m.attachIdentity(ctx, tx, byEmail, profile)
			return err
		case !goerrors.Is(err, ErrAccountNotFound):
			return err
		}

		result.IsNew = true
		result.Account, err = accounts.InsertAccountTx(ctx, tx, m.newExternalAccount(profile))
		return err
	})
	if err != nil {
		return nil, passRich(err, "failed to link external identity")
	}

	m.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventExternalLogin,
		Actor:     accountActor(result.Account),
		AccountID: result.Account.ID.String(),
		ToState:   result.Account.State(),
		Metadata: map[string]any{
			"provider":    profile.Provider,
			"is_new":      result.IsNew,
			"linked":      result.Linked,
			"reactivated": result.Reactivated,
		},
	})

	session, err := m.sessions.Issue(result.Account)
	if err != nil {
		return nil, err
	}
	result.Session = session

	return result, nil
}

// refreshLinked updates an account found by subject. Its email is kept, the
// provider may report an address another account holds.
func (m *Manager) refreshLinked(ctx context.Context, tx bun.IDB, account *Account, profile ExternalProfile) (*Account, bool, error) {
	first, last := profile.names()
	account.FirstName = first
	if last != "" {
		account.LastName = last
	}
	if profile.AvatarURL != "" {
		account.AvatarURL = profile.AvatarURL
	}

	actor := systemActor()
	sameEmail := profile.EmailVerified && profile.Email == account.Email

	switch {
	case !account.Active:
		updated, err := m.machine.Transition(ctx, tx, actor, account, StateVerified,
			WithTransitionReason("external sign in"),
			WithTransitionMetadata(map[string]any{"provider": profile.Provider}),
		)
		return updated, true, err
	case !account.IsVerified() && sameEmail:
		updated, err := m.machine.Transition(ctx, tx, actor, account, StateVerified,
			WithTransitionReason("email confirmed by provider"),
			WithTransitionMetadata(map[string]any{"provider": profile.Provider}),
		)
		return updated, false, err
	default:
		now := m.now()
		account.UpdatedAt = &now
		updated, err := m.repo.Accounts().SaveAccountTx(ctx, tx, account)
		return updated, false, err
	}
}

// attachIdentity binds the subject to an account found by email and marks
// the email verified, the provider vouched for it.
func (m *Manager) attachIdentity(ctx context.Context, tx bun.IDB, account *Account, profile ExternalProfile) (*Account, error) {
	account.Provider = stringPtr(profile.Provider)
	account.ProviderSubject = stringPtr(profile.Subject)
	if account.AvatarURL == "" {
		account.AvatarURL = profile.AvatarURL
	}

	if !account.Active {
		first, last := profile.names()
		// the trusted domain rule only applies to new accounts
		reactivated, err := m.machine.Reactivate(ctx, tx, systemActor(), account, AccountProfile{
			FirstName:      first,
			LastName:       last,
			Nickname:       account.Nickname,
			Email:          profile.Email,
			Phone:          account.Phone,
			BirthDate:      account.BirthDate,
			Role:           account.Role,
			AcceptEmail:    account.AcceptEmail,
			AcceptSMS:      account.AcceptSMS,
			AcceptWhatsApp: account.AcceptWhatsApp,
		}, true,
			WithTransitionReason("external sign in"),
			WithTransitionMetadata(map[string]any{"provider": profile.Provider}),
		)
		if goerrors.Is(err, ErrAccountReactivated) {
			return nil, ErrEmailAlreadyUsed
		}
		return reactivated, err
	}

	if !account.IsVerified() {
		return m.machine.Transition(ctx, tx, systemActor(), account, StateVerified,
			WithTransitionReason("email confirmed by provider"),
			WithTransitionMetadata(map[string]any{"provider": profile.Provider}),
		)
	}

	now := m.now()
	account.UpdatedAt = &now
	return m.repo.Accounts().SaveAccountTx(ctx, tx, account)
}

func (m *Manager) newExternalAccount(profile ExternalProfile) *Account {
	first, last := profile.names()
	account := m.newAccount(AccountProfile{
		FirstName: first,
		LastName:  last,
		Email:     profile.Email,
		Role:      RoleForEmail(profile.Email, m.trustedDomain),
	})
	verifiedAt := m.now()
	account.EmailVerifiedAt = &verifiedAt
	account.Provider = stringPtr(profile.Provider)
	account.ProviderSubject = stringPtr(profile.Subject)
	account.AvatarURL = profile.AvatarURL
	return account
}
