package accounts

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
)

// LoginResult is returned by Login and Refresh
type LoginResult struct {
	Account *Account
	Session Session
}

// Login checks credentials and gates on account state.
//
// An unknown email and a wrong password both fail with ErrInvalidCredentials.
// A deactivated account fails with ErrInactiveAccount whatever the password,
// an unverified one with ErrEmailNotVerified once the password matched.
func (m *Manager) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	ctx, cancel, err := m.begin(ctx, "login")
	defer cancel()
	if err != nil {
		return nil, err
	}

	account, err := m.repo.Accounts().FindAnyByEmailTx(ctx, nil, email)
	if err != nil {
		if goerrors.Is(err, ErrAccountNotFound) {
			m.burnComparison(password)
			m.loginFailed(ctx, nil, email, "unknown_email")
			return nil, ErrInvalidCredentials
		}
		return nil, passRich(err, "failed to load account for login")
	}

	if !account.Active {
		m.loginFailed(ctx, account, email, "inactive")
		return nil, ErrInactiveAccount
	}

	if !account.HasPassword() {
		m.burnComparison(password)
		m.loginFailed(ctx, account, email, "no_local_password")
		return nil, ErrInvalidCredentials
	}

	if err := m.hasher.ComparePasswordAndHash(password, *account.PasswordHash); err != nil {
		m.loginFailed(ctx, account, email, "password_mismatch")
		return nil, ErrInvalidCredentials
	}

	if !account.IsVerified() {
		m.loginFailed(ctx, account, email, "unverified")
		return nil, ErrEmailNotVerified
	}

	session, err := m.sessions.Issue(account)
	if err != nil {
		return nil, err
	}

	m.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		Actor:     accountActor(account),
		AccountID: account.ID.String(),
	})

	return &LoginResult{Account: account, Session: session}, nil
}

// burnComparison spends a hash comparison when there is nothing to compare
// against, keeping login latency flat across outcomes.
func (m *Manager) burnComparison(password string) {
	m.dummyOnce.Do(func() {
		m.dummyHash, _ = m.hasher.HashPassword("not-a-real-password")
	})
	if m.dummyHash != "" {
		_ = m.hasher.ComparePasswordAndHash(password, m.dummyHash)
	}
}

func (m *Manager) loginFailed(ctx context.Context, account *Account, email, reason string) {
	event := ActivityEvent{
		EventType: ActivityEventLoginFailure,
		Actor:     ActorRef{ID: NormalizeEmail(email), Type: "anonymous"},
		Metadata:  map[string]any{"reason": reason},
	}
	if account != nil {
		event.AccountID = account.ID.String()
	}
	m.logger.Debug("login rejected: %s", reason)
	m.recordActivity(ctx, event)
}

// Logout revokes the presented token. It only needs a valid token, the
// account behind it may already be deactivated.
func (m *Manager) Logout(ctx context.Context, token string) error {
	ctx, cancel, err := m.begin(ctx, "logout")
	defer cancel()
	if err != nil {
		return err
	}

	claims, err := m.sessions.Validate(ctx, token)
	if err != nil {
		return err
	}

	if err := m.sessions.RevokeClaims(ctx, claims); err != nil {
		return err
	}

	m.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventLogout,
		Actor:     ActorRef{ID: claims.Subject, Type: string(claims.Role)},
		AccountID: claims.Subject,
		Metadata:  map[string]any{"jti": claims.ID},
	})
	return nil
}

// Refresh swaps a valid token for a new one. The account must still be
// active and the token must belong to its current session generation; the
// old token stops working.
func (m *Manager) Refresh(ctx context.Context, token string) (*LoginResult, error) {
	ctx, cancel, err := m.begin(ctx, "session refresh")
	defer cancel()
	if err != nil {
		return nil, err
	}

	claims, err := m.sessions.Validate(ctx, token)
	if err != nil {
		return nil, err
	}

	id, err := claims.AccountID()
	if err != nil {
		return nil, ErrTokenMalformed
	}

	account, err := m.repo.Accounts().FindAccountByIDTx(ctx, nil, id)
	if err != nil {
		return nil, passRich(err, "failed to load account for refresh")
	}
	if !account.Active {
		return nil, ErrInactiveAccount
	}

	session, err := m.sessions.Refresh(ctx, claims, account)
	if err != nil {
		return nil, err
	}

	return &LoginResult{Account: account, Session: session}, nil
}

// Me returns the caller's current account
func (m *Manager) Me(ctx context.Context, principal Principal) (*Account, error) {
	ctx, cancel, err := m.begin(ctx, "profile lookup")
	defer cancel()
	if err != nil {
		return nil, err
	}

	account, err := m.repo.Accounts().GetByID(ctx, principal.AccountID.String())
	if err != nil {
		if isNotFound(err) {
			return nil, ErrAccountNotFound
		}
		return nil, passRich(err, "failed to load account")
	}
	if !account.Active {
		return nil, ErrInactiveAccount
	}
	return account, nil
}

// Authenticate resolves a bearer token into a principal and checks the
// account behind it is still active.
func (m *Manager) Authenticate(ctx context.Context, token string) (Principal, error) {
	claims, err := m.sessions.Validate(ctx, token)
	if err != nil {
		return Principal{}, err
	}

	principal, err := claims.Principal()
	if err != nil {
		return Principal{}, err
	}

	account, err := m.repo.Accounts().FindAccountByIDTx(ctx, nil, principal.AccountID)
	if err != nil {
		if goerrors.Is(err, ErrAccountNotFound) {
			return Principal{}, ErrTokenMalformed
		}
		return Principal{}, passRich(err, "failed to load session account")
	}
	if !account.Active {
		return Principal{}, ErrInactiveAccount
	}
	// deactivation and reactivation start a new generation
	if !claims.CurrentFor(account) {
		return Principal{}, ErrTokenRevoked
	}

	principal.Role = account.Role
	principal.Email = account.Email
	return principal, nil
}
