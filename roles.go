package accounts

import (
	"fmt"
	"strings"
)

// Role is the account role. Only the admin distinction matters.
type Role string

const (
	RoleStandard      Role = "standard"
	RoleAdministrator Role = "administrator"
)

// IsValid checks if the role is one of the predefined roles
func (r Role) IsValid() bool {
	switch r {
	case RoleStandard, RoleAdministrator:
		return true
	default:
		return false
	}
}

func (r Role) IsAdmin() bool {
	return r == RoleAdministrator
}

func (r Role) String() string {
	return string(r)
}

// ParseRole converts a string into a Role
func ParseRole(s string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(s)))
	if !role.IsValid() {
		return "", fmt.Errorf("invalid role: %s", s)
	}
	return role, nil
}

// RoleForEmail returns RoleAdministrator when the email belongs to the
// trusted domain. An empty domain trusts nobody.
func RoleForEmail(email, trustedDomain string) Role {
	trustedDomain = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(trustedDomain), "@"))
	if trustedDomain == "" {
		return RoleStandard
	}
	email = NormalizeEmail(email)
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return RoleStandard
	}
	if email[at+1:] == trustedDomain {
		return RoleAdministrator
	}
	return RoleStandard
}
