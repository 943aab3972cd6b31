package accounts

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeValidation              = "VALIDATION_ERROR"
	TextCodePasswordsDoNotMatch     = "PASSWORDS_DO_NOT_MATCH"
	TextCodeEmailAlreadyUsed        = "EMAIL_ALREADY_USED"
	TextCodeDocumentAlreadyUsed     = "DOCUMENT_ALREADY_USED"
	TextCodeSubjectAlreadyLinked    = "SUBJECT_ALREADY_LINKED"
	TextCodeInvalidCredentials      = "INVALID_CREDENTIALS"
	TextCodeInactiveAccount         = "INACTIVE_ACCOUNT"
	TextCodeEmailNotVerified        = "EMAIL_NOT_VERIFIED"
	TextCodeAlreadyVerified         = "ALREADY_VERIFIED"
	TextCodeLinkExpired             = "LINK_EXPIRED"
	TextCodeLinkInvalid             = "LINK_INVALID"
	TextCodeTicketInvalidOrExpired  = "TICKET_INVALID_OR_EXPIRED"
	TextCodeTokenExpired            = "TOKEN_EXPIRED"
	TextCodeTokenMalformed          = "TOKEN_MALFORMED"
	TextCodeTokenRevoked            = "TOKEN_REVOKED"
	TextCodeForbidden               = "FORBIDDEN"
	TextCodeAccountNotFound         = "ACCOUNT_NOT_FOUND"
	TextCodeProviderUnavailable     = "PROVIDER_UNAVAILABLE"
	TextCodeExternalEmailUnverified = "EXTERNAL_EMAIL_NOT_VERIFIED"
)

// ErrNoEmptyString is returned when hashing an empty secret
var ErrNoEmptyString = errors.New("password can't be an empty string")

// ErrMismatchedHashAndPassword is returned when a secret does not match its hash
var ErrMismatchedHashAndPassword = errors.New("mismatched hash and password")

// Proof failures stay distinguishable for callers and logs. The boundary
// collapses them into ErrLinkExpired or ErrLinkInvalid.
var (
	ErrProofExpired           = errors.New("verification proof expired")
	ErrProofSignatureMismatch = errors.New("verification proof signature mismatch")
	ErrProofMalformed         = errors.New("verification proof malformed")
)

var ErrPasswordsDoNotMatch = goerrors.New("password confirmation does not match", goerrors.CategoryValidation).
	WithTextCode(TextCodePasswordsDoNotMatch).
	WithCode(goerrors.CodeBadRequest)

var ErrEmailAlreadyUsed = goerrors.New("email is already in use", goerrors.CategoryConflict).
	WithTextCode(TextCodeEmailAlreadyUsed).
	WithCode(goerrors.CodeConflict)

var ErrDocumentAlreadyUsed = goerrors.New("document number is already in use", goerrors.CategoryConflict).
	WithTextCode(TextCodeDocumentAlreadyUsed).
	WithCode(goerrors.CodeConflict)

var ErrSubjectAlreadyLinked = goerrors.New("external identity is already linked to another account", goerrors.CategoryConflict).
	WithTextCode(TextCodeSubjectAlreadyLinked).
	WithCode(goerrors.CodeConflict)

var ErrInvalidCredentials = goerrors.New("invalid email or password", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

var ErrInactiveAccount = goerrors.New("account is inactive", goerrors.CategoryAuth).
	WithTextCode(TextCodeInactiveAccount).
	WithCode(goerrors.CodeUnauthorized)

var ErrEmailNotVerified = goerrors.New("email address has not been verified", goerrors.CategoryAuth).
	WithTextCode(TextCodeEmailNotVerified).
	WithCode(goerrors.CodeForbidden)

var ErrAlreadyVerified = goerrors.New("email address is already verified", goerrors.CategoryValidation).
	WithTextCode(TextCodeAlreadyVerified).
	WithCode(goerrors.CodeBadRequest)

var ErrLinkExpired = goerrors.New("invalid or expired link", goerrors.CategoryAuth).
	WithTextCode(TextCodeLinkExpired).
	WithCode(goerrors.CodeBadRequest)

var ErrLinkInvalid = goerrors.New("invalid or expired link", goerrors.CategoryAuth).
	WithTextCode(TextCodeLinkInvalid).
	WithCode(goerrors.CodeBadRequest)

var ErrTicketInvalidOrExpired = goerrors.New("invalid or expired password reset token", goerrors.CategoryAuth).
	WithTextCode(TextCodeTicketInvalidOrExpired).
	WithCode(goerrors.CodeBadRequest)

var ErrTokenExpired = goerrors.New("session token expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

var ErrTokenMalformed = goerrors.New("session token malformed", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(goerrors.CodeUnauthorized)

var ErrTokenRevoked = goerrors.New("session token revoked", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenRevoked).
	WithCode(goerrors.CodeUnauthorized)

var ErrForbidden = goerrors.New("operation not allowed for this account", goerrors.CategoryAuthz).
	WithTextCode(TextCodeForbidden).
	WithCode(goerrors.CodeForbidden)

var ErrAccountNotFound = goerrors.New("account not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeAccountNotFound).
	WithCode(goerrors.CodeNotFound)

var ErrProviderUnavailable = goerrors.New("external identity provider unavailable", goerrors.CategoryOperation).
	WithTextCode(TextCodeProviderUnavailable).
	WithCode(http.StatusBadGateway)

var ErrExternalEmailUnverified = goerrors.New("external identity email is not verified", goerrors.CategoryAuth).
	WithTextCode(TextCodeExternalEmailUnverified).
	WithCode(goerrors.CodeForbidden)

// NewValidationError builds a field scoped validation failure. fields maps a
// field name to its message.
func NewValidationError(fields map[string]string) error {
	return goerrors.New("invalid input", goerrors.CategoryValidation).
		WithTextCode(TextCodeValidation).
		WithCode(goerrors.CodeBadRequest).
		WithMetadata(map[string]any{"fields": fields})
}

// ValidationFields returns the field map carried by a validation error
func ValidationFields(err error) map[string]string {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr.Metadata == nil {
		return nil
	}
	fields, _ := richErr.Metadata["fields"].(map[string]string)
	return fields
}

// HasTextCode reports whether err is a rich error carrying code
func HasTextCode(err error, code string) bool {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode == code
	}
	return false
}

// isUniqueViolation matches driver messages for unique constraint failures.
// SQLite names columns ("accounts.email"), PostgreSQL names the index.
func isUniqueViolation(err error, needles ...string) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	if !strings.Contains(msg, "unique") && !strings.Contains(msg, "duplicate key") {
		return false
	}
	for _, n := range needles {
		if strings.Contains(msg, strings.ToLower(n)) {
			return true
		}
	}
	return false
}
