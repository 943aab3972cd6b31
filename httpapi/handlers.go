// Package httpapi exposes the account lifecycle over HTTP with fiber.
package httpapi

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-accounts"
	"github.com/goliatone/go-accounts/identity"
	"github.com/google/uuid"
)

// Service is the part of accounts.Manager the handlers need
type Service interface {
	Authenticator
	Register(ctx context.Context, input accounts.RegisterInput) (*accounts.RegisterResult, error)
	RegisterAdministrator(ctx context.Context, actor accounts.Principal, input accounts.RegisterInput) (*accounts.RegisterResult, error)
	Login(ctx context.Context, email, password string) (*accounts.LoginResult, error)
	Logout(ctx context.Context, token string) error
	Refresh(ctx context.Context, token string) (*accounts.LoginResult, error)
	Me(ctx context.Context, principal accounts.Principal) (*accounts.Account, error)
	VerifyEmail(ctx context.Context, proof accounts.VerificationProof) (*accounts.Account, error)
	ResendVerification(ctx context.Context, email string) error
	ResendVerificationFor(ctx context.Context, principal accounts.Principal) error
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, input accounts.ResetPasswordInput) error
	ChangePassword(ctx context.Context, principal accounts.Principal, input accounts.ChangePasswordInput) error
	UpdateProfile(ctx context.Context, principal accounts.Principal, update accounts.ProfileUpdate) (*accounts.Account, error)
	Deactivate(ctx context.Context, principal accounts.Principal, accountID uuid.UUID) (*accounts.Account, error)
}

// IdentityFlow runs external sign in
type IdentityFlow interface {
	Begin(ctx context.Context, providerName, redirectURL string) (*identity.AuthRedirect, error)
	Complete(ctx context.Context, providerName, code, stateToken string) (*identity.Completion, error)
}

var _ Service = (*accounts.Manager)(nil)
var _ IdentityFlow = (*identity.Flow)(nil)

const (
	msgLoggedOut      = "Signed out."
	msgVerified       = "Email verified."
	msgResent         = "If the address belongs to an account pending verification, a new link was sent."
	msgResentMe       = "A new verification link was sent."
	msgResetRequested = "If the address belongs to an account, a password reset link was sent."
	msgPasswordReset  = "Password changed. You can sign in with the new password."
	msgPasswordSaved  = "Password changed."
	msgProfileSaved   = "Profile updated."
	msgDeactivated    = "Account deactivated."

	adminPanelPath    = "/admin/painel"
	customerPanelPath = "/cliente/painel"
	loginPath         = "/login"
)

// Handler serves the account routes
type Handler struct {
	service     Service
	flow        IdentityFlow
	frontendURL string
	logger      accounts.Logger
}

// HandlerOption customizes a Handler
type HandlerOption func(*Handler)

// WithIdentityFlow enables the external sign in routes
func WithIdentityFlow(flow IdentityFlow) HandlerOption {
	return func(h *Handler) {
		h.flow = flow
	}
}

func WithFrontendURL(u string) HandlerOption {
	return func(h *Handler) {
		h.frontendURL = strings.TrimRight(u, "/")
	}
}

func WithLogger(logger accounts.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func NewHandler(service Service, opts ...HandlerOption) *Handler {
	h := &Handler{
		service: service,
		logger:  nopLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Register mounts every route on router
func (h *Handler) Register(router fiber.Router) {
	session := SessionMiddleware(h.service)
	bearer := BearerMiddleware()

	auth := router.Group("/auth")
	auth.Post("/register", h.register)
	auth.Post("/register-admin", session, RequireAdmin(), h.registerAdmin)
	auth.Post("/login", h.login)
	auth.Post("/logout", bearer, h.logout)
	auth.Post("/refresh", bearer, h.refresh)
	auth.Get("/me", session, h.me)
	auth.Post("/verify-email", h.verifyEmail)
	auth.Post("/resend-verification", h.resendVerification)
	auth.Post("/resend-verification/me", session, h.resendVerificationMe)
	auth.Post("/password/forgot", h.forgotPassword)
	auth.Post("/password/reset", h.resetPassword)

	if h.flow != nil {
		auth.Get("/:provider", h.beginExternal)
		auth.Get("/:provider/callback", h.completeExternal)
	}

	acc := router.Group("/accounts", session)
	acc.Put("/me/password", h.changePassword)
	acc.Put("/me", h.updateProfile)
	acc.Delete("/:id", h.deactivate)
}

type response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type sessionData struct {
	Account     accounts.AccountSummary `json:"account"`
	Session     accounts.Session        `json:"session"`
	Reactivated bool                    `json:"reactivated,omitempty"`
}

type accountData struct {
	Account accounts.AccountSummary `json:"account"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func ok(c *fiber.Ctx, status int, message string, data any) error {
	return c.Status(status).JSON(response{Success: true, Message: message, Data: data})
}

func bind(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return accounts.NewValidationError(map[string]string{"body": "malformed request body"})
	}
	return nil
}

func principal(c *fiber.Ctx) (accounts.Principal, error) {
	p, found := PrincipalFrom(c)
	if !found {
		return accounts.Principal{}, accounts.ErrTokenMalformed
	}
	return p, nil
}

func (h *Handler) register(c *fiber.Ctx) error {
	var input accounts.RegisterInput
	if err := bind(c, &input); err != nil {
		return err
	}
	result, err := h.service.Register(c.UserContext(), input)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusCreated, result.Message, sessionData{
		Account:     result.Account.Summary(),
		Session:     result.Session,
		Reactivated: result.Reactivated,
	})
}

func (h *Handler) registerAdmin(c *fiber.Ctx) error {
	actor, err := principal(c)
	if err != nil {
		return err
	}
	var input accounts.RegisterInput
	if err := bind(c, &input); err != nil {
		return err
	}
	result, err := h.service.RegisterAdministrator(c.UserContext(), actor, input)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusCreated, result.Message, sessionData{
		Account:     result.Account.Summary(),
		Session:     result.Session,
		Reactivated: result.Reactivated,
	})
}

func (h *Handler) login(c *fiber.Ctx) error {
	var req loginRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	result, err := h.service.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, "", sessionData{Account: result.Account.Summary(), Session: result.Session})
}

func (h *Handler) logout(c *fiber.Ctx) error {
	if err := h.service.Logout(c.UserContext(), tokenFrom(c)); err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, msgLoggedOut, nil)
}

func (h *Handler) refresh(c *fiber.Ctx) error {
	result, err := h.service.Refresh(c.UserContext(), tokenFrom(c))
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, "", sessionData{Account: result.Account.Summary(), Session: result.Session})
}

func (h *Handler) me(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	account, err := h.service.Me(c.UserContext(), p)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, "", accountData{Account: account.Summary()})
}

// verifyEmail accepts the proof as a JSON body or as the query string of
// the emailed link.
func (h *Handler) verifyEmail(c *fiber.Ctx) error {
	var proof accounts.VerificationProof
	if len(c.Body()) > 0 {
		if err := bind(c, &proof); err != nil {
			return err
		}
	}
	if proof.ID == "" {
		if err := c.QueryParser(&proof); err != nil {
			return accounts.ErrLinkInvalid
		}
	}

	account, err := h.service.VerifyEmail(c.UserContext(), proof)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, msgVerified, accountData{Account: account.Summary()})
}

func (h *Handler) resendVerification(c *fiber.Ctx) error {
	var req emailRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.service.ResendVerification(c.UserContext(), req.Email); err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, msgResent, nil)
}

func (h *Handler) resendVerificationMe(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	if err := h.service.ResendVerificationFor(c.UserContext(), p); err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, msgResentMe, nil)
}

func (h *Handler) forgotPassword(c *fiber.Ctx) error {
	var req emailRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.service.RequestPasswordReset(c.UserContext(), req.Email); err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, msgResetRequested, nil)
}

func (h *Handler) resetPassword(c *fiber.Ctx) error {
	var input accounts.ResetPasswordInput
	if err := bind(c, &input); err != nil {
		return err
	}
	if err := h.service.ResetPassword(c.UserContext(), input); err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, msgPasswordReset, nil)
}

func (h *Handler) changePassword(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var input accounts.ChangePasswordInput
	if err := bind(c, &input); err != nil {
		return err
	}
	if err := h.service.ChangePassword(c.UserContext(), p, input); err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, msgPasswordSaved, nil)
}

func (h *Handler) updateProfile(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var update accounts.ProfileUpdate
	if err := bind(c, &update); err != nil {
		return err
	}
	account, err := h.service.UpdateProfile(c.UserContext(), p, update)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, msgProfileSaved, accountData{Account: account.Summary()})
}

func (h *Handler) deactivate(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return accounts.ErrAccountNotFound
	}
	account, err := h.service.Deactivate(c.UserContext(), p, id)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, msgDeactivated, accountData{Account: account.Summary()})
}

// beginExternal redirects to the provider consent page. An optional
// redirect query value must be a path on the frontend.
func (h *Handler) beginExternal(c *fiber.Ctx) error {
	redirect := c.Query("redirect")
	if redirect != "" && (!strings.HasPrefix(redirect, "/") || strings.HasPrefix(redirect, "//")) {
		return accounts.NewValidationError(map[string]string{"redirect": "must be a path"})
	}

	auth, err := h.flow.Begin(c.UserContext(), c.Params("provider"), redirect)
	if err != nil {
		return err
	}
	return c.Redirect(auth.URL, fiber.StatusFound)
}

// completeExternal finishes the provider callback and always answers with
// a redirect to the frontend, carrying either the session or an error code.
func (h *Handler) completeExternal(c *fiber.Ctx) error {
	provider := c.Params("provider")

	if denied := c.Query("error"); denied != "" {
		h.logger.Info("external sign in with %s cancelled: %s", provider, denied)
		return c.Redirect(h.loginErrorURL("ACCESS_DENIED"), fiber.StatusFound)
	}

	completion, err := h.flow.Complete(c.UserContext(), provider, c.Query("code"), c.Query("state"))
	if err != nil {
		_, body := errorResponse(err)
		h.logger.Warn("external sign in with %s failed: %v", provider, err)
		return c.Redirect(h.loginErrorURL(body.Code), fiber.StatusFound)
	}

	account := completion.Result.Account
	path := completion.RedirectURL
	if path == "" {
		path = customerPanelPath
		if account.IsAdmin() {
			path = adminPanelPath
		}
	}

	session := completion.Result.Session
	fragment := url.Values{
		"access_token": {session.Token},
		"token_type":   {session.TokenType},
		"expires_in":   {strconv.FormatInt(session.ExpiresIn, 10)},
	}
	if completion.Result.IsNew {
		fragment.Set("new_account", "1")
	}

	h.logger.Info("account %s signed in with %s", account.ID, provider)
	return c.Redirect(h.frontend(path)+"#"+fragment.Encode(), fiber.StatusFound)
}

func (h *Handler) loginErrorURL(code string) string {
	return h.frontend(loginPath) + "?" + url.Values{"error": {code}}.Encode()
}

func (h *Handler) frontend(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return h.frontendURL + path
}
