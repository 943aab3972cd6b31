package accounts

import (
	"net/url"
	"strings"
)

const (
	adminVerifyPath    = "/admin/verificar-email"
	customerVerifyPath = "/cliente/verificar-email"
	adminResetPath     = "/admin/redefinir-senha"
	customerResetPath  = "/cliente/redefinir-senha"
)

// LinkBuilder renders the frontend URLs sent in notifications.
// Administrators and customers land on different areas of the portal.
type LinkBuilder struct {
	FrontendURL string
}

// VerificationURL renders the email verification link for proof
func (b LinkBuilder) VerificationURL(account *Account, proof VerificationProof) string {
	path := customerVerifyPath
	if account != nil && account.IsAdmin() {
		path = adminVerifyPath
	}
	return b.build(path, proof.Query())
}

// ResetURL renders the password reset link for secret
func (b LinkBuilder) ResetURL(account *Account, secret string) string {
	path := customerResetPath
	if account != nil && account.IsAdmin() {
		path = adminResetPath
	}
	return b.build(path, url.Values{
		"token": {secret},
		"email": {account.Email},
	})
}

func (b LinkBuilder) build(path string, q url.Values) string {
	base := strings.TrimRight(b.FrontendURL, "/")
	return base + path + "?" + q.Encode()
}
