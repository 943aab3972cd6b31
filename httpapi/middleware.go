package httpapi

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-accounts"
)

const (
	principalKey = "accounts.principal"
	tokenKey     = "accounts.token"
	authScheme   = "Bearer"
)

// Authenticator resolves a bearer token into a principal
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (accounts.Principal, error)
}

// SessionMiddleware requires a valid bearer token and stores the resolved
// principal in the request locals.
func SessionMiddleware(auth Authenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, ok := bearerToken(c.Get(fiber.HeaderAuthorization))
		if !ok {
			return accounts.ErrTokenMalformed
		}

		principal, err := auth.Authenticate(c.UserContext(), token)
		if err != nil {
			return err
		}

		c.Locals(principalKey, principal)
		c.Locals(tokenKey, token)
		c.SetUserContext(accounts.WithPrincipal(c.UserContext(), principal))
		return c.Next()
	}
}

// BearerMiddleware only extracts the bearer token. Handlers behind it hand
// the token to an operation that validates it, whatever the state of the
// account behind it.
func BearerMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, ok := bearerToken(c.Get(fiber.HeaderAuthorization))
		if !ok {
			return accounts.ErrTokenMalformed
		}
		c.Locals(tokenKey, token)
		return c.Next()
	}
}

// RequireAdmin must run after SessionMiddleware
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFrom(c)
		if !ok {
			return accounts.ErrTokenMalformed
		}
		if !principal.IsAdmin() {
			return accounts.ErrForbidden
		}
		return c.Next()
	}
}

// PrincipalFrom returns the caller stored by SessionMiddleware
func PrincipalFrom(c *fiber.Ctx) (accounts.Principal, bool) {
	principal, ok := c.Locals(principalKey).(accounts.Principal)
	return principal, ok
}

func tokenFrom(c *fiber.Ctx) string {
	token, _ := c.Locals(tokenKey).(string)
	return token
}

func bearerToken(header string) (string, bool) {
	l := len(authScheme)
	if len(header) > l+1 && strings.EqualFold(header[:l], authScheme) && header[l] == ' ' {
		token := strings.TrimSpace(header[l:])
		return token, token != ""
	}
	return "", false
}
