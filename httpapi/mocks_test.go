package httpapi_test

import (
	"context"

	"github.com/goliatone/go-accounts"
	"github.com/goliatone/go-accounts/identity"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockService implements httpapi.Service
type MockService struct {
	mock.Mock
}

func (m *MockService) Authenticate(ctx context.Context, token string) (accounts.Principal, error) {
	args := m.Called(ctx, token)
	return args.Get(0).(accounts.Principal), args.Error(1)
}

func (m *MockService) Register(ctx context.Context, input accounts.RegisterInput) (*accounts.RegisterResult, error) {
	args := m.Called(ctx, input)
	res, _ := args.Get(0).(*accounts.RegisterResult)
	return res, args.Error(1)
}

func (m *MockService) RegisterAdministrator(ctx context.Context, actor accounts.Principal, input accounts.RegisterInput) (*accounts.RegisterResult, error) {
	args := m.Called(ctx, actor, input)
	res, _ := args.Get(0).(*accounts.RegisterResult)
	return res, args.Error(1)
}

func (m *MockService) Login(ctx context.Context, email, password string) (*accounts.LoginResult, error) {
	args := m.Called(ctx, email, password)
	res, _ := args.Get(0).(*accounts.LoginResult)
	return res, args.Error(1)
}

func (m *MockService) Logout(ctx context.Context, token string) error {
	return m.Called(ctx, token).Error(0)
}

func (m *MockService) Refresh(ctx context.Context, token string) (*accounts.LoginResult, error) {
	args := m.Called(ctx, token)
	res, _ := args.Get(0).(*accounts.LoginResult)
	return res, args.Error(1)
}

func (m *MockService) Me(ctx context.Context, principal accounts.Principal) (*accounts.Account, error) {
	args := m.Called(ctx, principal)
	res, _ := args.Get(0).(*accounts.Account)
	return res, args.Error(1)
}

func (m *MockService) VerifyEmail(ctx context.Context, proof accounts.VerificationProof) (*accounts.Account, error) {
	args := m.Called(ctx, proof)
	res, _ := args.Get(0).(*accounts.Account)
	return res, args.Error(1)
}

func (m *MockService) ResendVerification(ctx context.Context, email string) error {
	return m.Called(ctx, email).Error(0)
}

func (m *MockService) ResendVerificationFor(ctx context.Context, principal accounts.Principal) error {
	return m.Called(ctx, principal).Error(0)
}

func (m *MockService) RequestPasswordReset(ctx context.Context, email string) error {
	return m.Called(ctx, email).Error(0)
}

func (m *MockService) ResetPassword(ctx context.Context, input accounts.ResetPasswordInput) error {
	return m.Called(ctx, input).Error(0)
}

func (m *MockService) ChangePassword(ctx context.Context, principal accounts.Principal, input accounts.ChangePasswordInput) error {
	return m.Called(ctx, principal, input).Error(0)
}

func (m *MockService) UpdateProfile(ctx context.Context, principal accounts.Principal, update accounts.ProfileUpdate) (*accounts.Account, error) {
	args := m.Called(ctx, principal, update)
	res, _ := args.Get(0).(*accounts.Account)
	return res, args.Error(1)
}

func (m *MockService) Deactivate(ctx context.Context, principal accounts.Principal, accountID uuid.UUID) (*accounts.Account, error) {
	args := m.Called(ctx, principal, accountID)
	res, _ := args.Get(0).(*accounts.Account)
	return res, args.Error(1)
}

// MockFlow implements httpapi.IdentityFlow
type MockFlow struct {
	mock.Mock
}

func (m *MockFlow) Begin(ctx context.Context, providerName, redirectURL string) (*identity.AuthRedirect, error) {
	args := m.Called(ctx, providerName, redirectURL)
	res, _ := args.Get(0).(*identity.AuthRedirect)
	return res, args.Error(1)
}

func (m *MockFlow) Complete(ctx context.Context, providerName, code, stateToken string) (*identity.Completion, error) {
	args := m.Called(ctx, providerName, code, stateToken)
	res, _ := args.Get(0).(*identity.Completion)
	return res, args.Error(1)
}
