package accounts

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SessionClaims is the payload of a session token
type SessionClaims struct {
	jwt.RegisteredClaims
	Role       Role   `json:"role"`
	Email      string `json:"email"`
	Name       string `json:"name,omitempty"`
	Generation int64  `json:"gen"`
}

// AccountID parses the subject into an account id
func (c *SessionClaims) AccountID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

// CurrentFor reports whether the token was issued under the account's
// current session generation.
func (c *SessionClaims) CurrentFor(account *Account) bool {
	return account != nil && c.Subject == account.ID.String() && c.Generation == account.SessionGen
}

// Principal resolves the claims into the caller passed to lifecycle
// operations.
func (c *SessionClaims) Principal() (Principal, error) {
	id, err := c.AccountID()
	if err != nil {
		return Principal{}, ErrTokenMalformed
	}
	return Principal{
		AccountID: id,
		Role:      c.Role,
		Email:     c.Email,
		TokenID:   c.ID,
	}, nil
}

func ensureTokenID(claims *jwt.RegisteredClaims) {
	if claims.ID == "" {
		claims.ID = uuid.NewString()
	}
}
