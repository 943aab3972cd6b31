package identity

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-accounts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKID = "test-key"

type googleFixture struct {
	server   *httptest.Server
	key      *rsa.PrivateKey
	idToken  string
	tokenErr bool
	lastForm url.Values
}

func newGoogleFixture(t *testing.T) *googleFixture {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	f := &googleFixture{key: key}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/token":
			require.NoError(t, r.ParseForm())
			f.lastForm = r.PostForm
			if f.tokenErr {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Bad Request"}`))
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "access-token",
				"token_type":   "Bearer",
				"expires_in":   3600,
				"id_token":     f.idToken,
			})
		case "/certs":
			pub := key.Public().(*rsa.PublicKey)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"keys": []map[string]string{{
					"kty": "RSA",
					"kid": testKID,
					"alg": "RS256",
					"use": "sig",
					"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
					"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
				}},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *googleFixture) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKID
	signed, err := token.SignedString(f.key)
	require.NoError(t, err)
	return signed
}

func (f *googleFixture) provider() *Google {
	g := NewGoogle(GoogleConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		CallbackURL:  "https://api.example.com/auth/google/callback",
		TokenURL:     f.server.URL + "/token",
		JWKSURL:      f.server.URL + "/certs",
		HTTPClient:   f.server.Client(),
	})
	return g
}

func validClaims() jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":            "https://accounts.google.com",
		"aud":            "client-id",
		"sub":            "google-sub-1",
		"email":          "Maria@Example.com",
		"email_verified": true,
		"name":           "Maria Silva",
		"given_name":     "Maria",
		"family_name":    "Silva",
		"picture":        "https://example.com/avatar.png",
		"iat":            now.Unix(),
		"exp":            now.Add(time.Hour).Unix(),
	}
}

func TestGoogleAuthCodeURL(t *testing.T) {
	g := NewGoogle(GoogleConfig{
		ClientID:    "client-id",
		CallbackURL: "https://api.example.com/auth/google/callback",
	})

	authURL := g.AuthCodeURL("state-token", WithPKCE("challenge"), WithPrompt("select_account"))

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	assert.Equal(t, "accounts.google.com", parsed.Host)

	query := parsed.Query()
	assert.Equal(t, "client-id", query.Get("client_id"))
	assert.Equal(t, "https://api.example.com/auth/google/callback", query.Get("redirect_uri"))
	assert.Equal(t, "state-token", query.Get("state"))
	assert.Equal(t, "code", query.Get("response_type"))
	assert.Equal(t, "select_account", query.Get("prompt"))
	assert.Equal(t, "challenge", query.Get("code_challenge"))
	assert.Equal(t, "S256", query.Get("code_challenge_method"))
	assert.Contains(t, query.Get("scope"), "openid")
	assert.Contains(t, query.Get("scope"), "email")
}

func TestGoogleExchange(t *testing.T) {
	f := newGoogleFixture(t)
	f.idToken = f.sign(t, validClaims())

	g := f.provider()
	defer g.Close()

	profile, err := g.Exchange(context.Background(), "auth-code", WithCodeVerifier("verifier"))
	require.NoError(t, err)

	assert.Equal(t, "auth-code", f.lastForm.Get("code"))
	assert.Equal(t, "verifier", f.lastForm.Get("code_verifier"))
	assert.Equal(t, "client-secret", f.lastForm.Get("client_secret"))

	assert.Equal(t, "google", profile.Provider)
	assert.Equal(t, "google-sub-1", profile.Subject)
	assert.Equal(t, "Maria@Example.com", profile.Email)
	assert.True(t, profile.EmailVerified)
	assert.Equal(t, "Maria", profile.GivenName)
	assert.Equal(t, "Silva", profile.FamilyName)
	assert.Equal(t, "https://example.com/avatar.png", profile.AvatarURL)
}

func TestGoogleExchangeRejectsForeignAudience(t *testing.T) {
	f := newGoogleFixture(t)
	claims := validClaims()
	claims["aud"] = "someone-else"
	f.idToken = f.sign(t, claims)

	g := f.provider()
	defer g.Close()

	_, err := g.Exchange(context.Background(), "auth-code")
	require.Error(t, err)
	assert.True(t, accounts.HasTextCode(err, TextCodeInvalidIDToken))
}

func TestGoogleExchangeRejectsUnknownIssuer(t *testing.T) {
	f := newGoogleFixture(t)
	claims := validClaims()
	claims["iss"] = "https://evil.example.com"
	f.idToken = f.sign(t, claims)

	g := f.provider()
	defer g.Close()

	_, err := g.Exchange(context.Background(), "auth-code")
	assert.ErrorIs(t, err, ErrInvalidIDToken)
}

func TestGoogleExchangeRejectsExpiredToken(t *testing.T) {
	f := newGoogleFixture(t)
	claims := validClaims()
	claims["exp"] = time.Now().Add(-time.Minute).Unix()
	f.idToken = f.sign(t, claims)

	g := f.provider()
	defer g.Close()

	_, err := g.Exchange(context.Background(), "auth-code")
	assert.True(t, accounts.HasTextCode(err, TextCodeInvalidIDToken))
}

func TestGoogleExchangeProviderFailure(t *testing.T) {
	f := newGoogleFixture(t)
	f.tokenErr = true

	g := f.provider()
	defer g.Close()

	_, err := g.Exchange(context.Background(), "bad-code")
	require.Error(t, err)
	assert.True(t, accounts.HasTextCode(err, accounts.TextCodeProviderUnavailable))

	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "invalid_grant", perr.Code)
	assert.Equal(t, http.StatusBadRequest, perr.Status)
}

func TestGoogleExchangeWithoutIDToken(t *testing.T) {
	f := newGoogleFixture(t)

	g := f.provider()
	defer g.Close()

	_, err := g.Exchange(context.Background(), "auth-code")
	assert.True(t, accounts.HasTextCode(err, accounts.TextCodeProviderUnavailable))
}

func TestTruthy(t *testing.T) {
	assert.True(t, truthy(true))
	assert.True(t, truthy("true"))
	assert.True(t, truthy("TRUE"))
	assert.False(t, truthy("false"))
	assert.False(t, truthy(nil))
	assert.False(t, truthy(1))
}
