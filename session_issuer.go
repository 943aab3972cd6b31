package accounts

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
)

// Session is an issued bearer token
type Session struct {
	Token     string    `json:"access_token"`
	TokenType string    `json:"token_type"`
	ExpiresIn int64     `json:"expires_in"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionIssuer mints, validates, refreshes and revokes session tokens
type SessionIssuer struct {
	signingKey []byte
	ttl        time.Duration
	issuer     string
	audience   jwt.ClaimStrings
	denylist   Denylist
	logger     Logger
	now        func() time.Time
}

// NewSessionIssuer creates an issuer. A nil denylist keeps revocations in
// process memory.
func NewSessionIssuer(signingKey []byte, ttl time.Duration, issuer string, audience []string, denylist Denylist, logger Logger) *SessionIssuer {
	if logger == nil {
		logger = defLogger{}
	}
	if denylist == nil {
		denylist = NewMemoryDenylist()
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &SessionIssuer{
		signingKey: signingKey,
		ttl:        ttl,
		issuer:     issuer,
		audience:   jwt.ClaimStrings(audience),
		denylist:   denylist,
		logger:     logger,
		now:        time.Now,
	}
}

// WithClock overrides the time source
func (s *SessionIssuer) WithClock(now func() time.Time) *SessionIssuer {
	if now != nil {
		s.now = now
	}
	return s
}

// TTL returns the configured token lifetime
func (s *SessionIssuer) TTL() time.Duration {
	return s.ttl
}

// Issue signs a new token for the account
func (s *SessionIssuer) Issue(account *Account) (Session, error) {
	if account == nil {
		return Session{}, goerrors.New("account must not be nil", goerrors.CategoryInternal)
	}

	now := s.now()
	expiresAt := now.Add(s.ttl)
	claims := &SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   account.ID.String(),
			Audience:  s.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Role:       account.Role,
		Email:      account.Email,
		Name:       account.FullName(),
		Generation: account.SessionGen,
	}
	ensureTokenID(&claims.RegisteredClaims)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return Session{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign session token")
	}

	return Session{
		Token:     signed,
		TokenType: "bearer",
		ExpiresIn: int64(s.ttl / time.Second),
		ExpiresAt: expiresAt,
	}, nil
}

// Validate checks signature, expiry and revocation. It does not look at the
// account, callers re-check active status at the point of use.
func (s *SessionIssuer) Validate(ctx context.Context, tokenString string) (*SessionClaims, error) {
	claims, err := s.parse(tokenString)
	if err != nil {
		return nil, err
	}

	revoked, err := s.denylist.Contains(ctx, claims.ID)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check session revocation")
	}
	if revoked {
		return nil, ErrTokenRevoked
	}

	return claims, nil
}

// Refresh trades validated claims for a new token and revokes the old
// one. Only one caller can win the revocation of a given token, the others
// get ErrTokenRevoked.
func (s *SessionIssuer) Refresh(ctx context.Context, claims *SessionClaims, account *Account) (Session, error) {
	if claims == nil || account == nil || claims.Subject != account.ID.String() {
		return Session{}, ErrTokenMalformed
	}
	if !claims.CurrentFor(account) {
		return Session{}, ErrTokenRevoked
	}

	if err := s.RevokeClaims(ctx, claims); err != nil {
		return Session{}, err
	}

	return s.Issue(account)
}

// Revoke makes the token unusable for the rest of its natural lifetime
func (s *SessionIssuer) Revoke(ctx context.Context, tokenString string) error {
	claims, err := s.Validate(ctx, tokenString)
	if err != nil {
		return err
	}
	return s.RevokeClaims(ctx, claims)
}

// RevokeClaims denylists an already validated token. It fails with
// ErrTokenRevoked when the token id was denylisted in the meantime.
func (s *SessionIssuer) RevokeClaims(ctx context.Context, claims *SessionClaims) error {
	ttl := time.Second
	if claims.ExpiresAt != nil {
		if remaining := claims.ExpiresAt.Time.Sub(s.now()); remaining > ttl {
			ttl = remaining
		}
	}

	added, err := s.denylist.Add(ctx, claims.ID, ttl)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to revoke session token")
	}
	if !added {
		return ErrTokenRevoked
	}

	s.logger.Debug("session %s revoked for %s", claims.ID, ttl)
	return nil
}

func (s *SessionIssuer) parse(tokenString string) (*SessionClaims, error) {
	parserOptions := []jwt.ParserOption{
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if s.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(s.issuer))
	}
	if len(s.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(s.audience...))
	}

	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			s.logger.Error("session issuer encountered unexpected signing method %v", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	}, parserOptions...)

	if err != nil {
		if goerrors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenMalformed
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid || claims.ID == "" {
		return nil, ErrTokenMalformed
	}

	return claims, nil
}
