package accounts

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AccountState is derived from the active flag and email_verified_at
type AccountState string

const (
	StateUnverified  AccountState = "unverified"
	StateVerified    AccountState = "verified"
	StateDeactivated AccountState = "deactivated"
)

// Account is the account model
type Account struct {
	bun.BaseModel   `bun:"table:accounts,alias:acc"`
	ID              uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	FirstName       string     `bun:"first_name,notnull" json:"first_name"`
	LastName        string     `bun:"last_name,notnull" json:"last_name"`
	Nickname        string     `bun:"nickname" json:"nickname,omitempty"`
	Email           string     `bun:"email,notnull" json:"email"`
	EmailVerifiedAt *time.Time `bun:"email_verified_at,nullzero" json:"email_verified_at,omitempty"`
	PasswordHash    *string    `bun:"password_hash" json:"-"`
	Phone           string     `bun:"phone" json:"phone,omitempty"`
	DocumentNumber  *string    `bun:"document_number" json:"document_number,omitempty"`
	BirthDate       *time.Time `bun:"birth_date,nullzero" json:"birth_date,omitempty"`
	Role            Role       `bun:"role,notnull" json:"role"`
	AcceptEmail     bool       `bun:"accept_email,notnull" json:"accept_email"`
	AcceptSMS       bool       `bun:"accept_sms,notnull" json:"accept_sms"`
	AcceptWhatsApp  bool       `bun:"accept_whatsapp,notnull" json:"accept_whatsapp"`
	Active          bool       `bun:"active,notnull" json:"active"`
	Provider        *string    `bun:"provider" json:"provider,omitempty"`
	ProviderSubject *string    `bun:"provider_subject" json:"-"`
	AvatarURL       string     `bun:"avatar_url" json:"avatar_url,omitempty"`
	SessionGen      int64      `bun:"session_generation,notnull" json:"-"`
	CreatedAt       *time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt       *time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at,omitempty"`
}

// State returns the lifecycle state of the account
func (a *Account) State() AccountState {
	switch {
	case !a.Active:
		return StateDeactivated
	case a.EmailVerifiedAt != nil:
		return StateVerified
	default:
		return StateUnverified
	}
}

// EndSessions invalidates every token issued before the call
func (a *Account) EndSessions() {
	a.SessionGen++
}

func (a *Account) IsVerified() bool {
	return a.EmailVerifiedAt != nil
}

func (a *Account) HasPassword() bool {
	return a.PasswordHash != nil && *a.PasswordHash != ""
}

func (a *Account) IsAdmin() bool {
	return a.Role.IsAdmin()
}

func (a *Account) FullName() string {
	return strings.TrimSpace(a.FirstName + " " + a.LastName)
}

// Summary returns the public projection of the account
func (a *Account) Summary() AccountSummary {
	s := AccountSummary{
		ID:              a.ID.String(),
		FirstName:       a.FirstName,
		LastName:        a.LastName,
		FullName:        a.FullName(),
		Nickname:        a.Nickname,
		Email:           a.Email,
		Phone:           a.Phone,
		Role:            a.Role,
		IsAdmin:         a.IsAdmin(),
		Active:          a.Active,
		EmailVerified:   a.IsVerified(),
		EmailVerifiedAt: a.EmailVerifiedAt,
		AvatarURL:       a.AvatarURL,
		AcceptEmail:     a.AcceptEmail,
		AcceptSMS:       a.AcceptSMS,
		AcceptWhatsApp:  a.AcceptWhatsApp,
		CreatedAt:       a.CreatedAt,
	}
	if a.DocumentNumber != nil {
		s.DocumentNumber = *a.DocumentNumber
	}
	if a.Provider != nil {
		s.Provider = *a.Provider
	}
	if a.BirthDate != nil {
		s.BirthDate = a.BirthDate.Format(dateLayout)
	}
	return s
}

// AccountSummary is what callers get to see of an account
type AccountSummary struct {
	ID              string     `json:"id"`
	FirstName       string     `json:"first_name"`
	LastName        string     `json:"last_name"`
	FullName        string     `json:"full_name"`
	Nickname        string     `json:"nickname,omitempty"`
	Email           string     `json:"email"`
	Phone           string     `json:"phone,omitempty"`
	DocumentNumber  string     `json:"document_number,omitempty"`
	BirthDate       string     `json:"birth_date,omitempty"`
	Role            Role       `json:"role"`
	IsAdmin         bool       `json:"is_admin"`
	Active          bool       `json:"active"`
	EmailVerified   bool       `json:"email_verified"`
	EmailVerifiedAt *time.Time `json:"email_verified_at,omitempty"`
	Provider        string     `json:"provider,omitempty"`
	AvatarURL       string     `json:"avatar_url,omitempty"`
	AcceptEmail     bool       `json:"accept_email"`
	AcceptSMS       bool       `json:"accept_sms"`
	AcceptWhatsApp  bool       `json:"accept_whatsapp"`
	CreatedAt       *time.Time `json:"created_at,omitempty"`
}

// PasswordResetTicket is the live reset request for an email. There is
// at most one per email.
type PasswordResetTicket struct {
	bun.BaseModel `bun:"table:password_reset_tickets,alias:prt"`
	Email         string     `bun:"email,pk" json:"email"`
	SecretHash    string     `bun:"secret_hash,notnull" json:"-"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at,omitempty"`
}

// Principal is the authenticated caller, resolved once from a validated
// session token.
type Principal struct {
	AccountID uuid.UUID
	Role      Role
	Email     string
	TokenID   string
}

func (p Principal) IsAdmin() bool {
	return p.Role.IsAdmin()
}

// NormalizeEmail lowercases and trims an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func stringPtr(s string) *string {
	return &s
}

const dateLayout = "2006-01-02"
