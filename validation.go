package accounts

import (
	"errors"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/nyaruka/phonenumbers"
)

// DefaultPhoneRegion is used to parse numbers written without a country code
const DefaultPhoneRegion = "BR"

const passwordSpecials = "@$!%*?&"

var (
	personNameRule = validation.Match(regexp.MustCompile(`^[\p{L} ]+$`)).Error("must contain only letters and spaces")
	nicknameRule   = validation.Match(regexp.MustCompile(`^[\p{L}\p{N}]+$`)).Error("must contain only letters and digits")
	documentRule   = validation.Match(regexp.MustCompile(`^\d{11}$`)).Error("must contain exactly 11 digits")
)

// PasswordPolicy checks length 8 to 50 and requires a lowercase letter, an
// uppercase letter, a digit and one of @$!%*?&.
func PasswordPolicy(value any) error {
	s := stringValue(value)
	if s == "" {
		return nil
	}
	if n := len([]rune(s)); n < 8 || n > 50 {
		return errors.New("must be between 8 and 50 characters")
	}

	var lower, upper, digit, special bool
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(passwordSpecials, r):
			special = true
		default:
			return errors.New("contains an unsupported character")
		}
	}

	if !lower || !upper || !digit || !special {
		return errors.New("must contain a lowercase letter, an uppercase letter, a digit and one of " + passwordSpecials)
	}
	return nil
}

// PhoneNumber validates a number for DefaultPhoneRegion
func PhoneNumber(value any) error {
	s := stringValue(value)
	if strings.TrimSpace(s) == "" {
		return nil
	}
	if _, err := NormalizePhone(s); err != nil {
		return errors.New("must be a valid phone number")
	}
	return nil
}

// NormalizePhone parses a phone number and renders it in E.164
func NormalizePhone(s string) (string, error) {
	num, err := phonenumbers.Parse(s, DefaultPhoneRegion)
	if err != nil {
		return "", err
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", errors.New("invalid phone number")
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// BirthDate accepts YYYY-MM-DD strings after 1900-01-01 and before today
func BirthDate(now func() time.Time) validation.RuleFunc {
	return func(value any) error {
		s := stringValue(value)
		if s == "" {
			return nil
		}
		d, err := time.Parse(dateLayout, s)
		if err != nil {
			return errors.New("must be a date in YYYY-MM-DD format")
		}
		lower := time.Date(1900, time.January, 1, 0, 0, 0, 0, time.UTC)
		n := now().UTC()
		today := time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, time.UTC)
		if !d.After(lower) || !d.Before(today) {
			return errors.New("must be after 1900-01-01 and before today")
		}
		return nil
	}
}

// stringValue reads string and *string rule inputs
func stringValue(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case *string:
		if v != nil {
			return *v
		}
	}
	return ""
}

// MustBeTrue rejects unchecked acceptances
func MustBeTrue(msg string) validation.RuleFunc {
	return func(value any) error {
		if b, _ := value.(bool); !b {
			return errors.New(msg)
		}
		return nil
	}
}

// ValidateStringEquals will check that both values match
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != str {
			return errors.New("values must match")
		}
		return nil
	}
}

// FormatValidationErrorToMap flattens ozzo errors into field -> message
func FormatValidationErrorToMap(err error) map[string]string {
	out := map[string]string{}
	var verrs validation.Errors
	if !errors.As(err, &verrs) {
		if err != nil {
			out["_"] = err.Error()
		}
		return out
	}

	keys := make([]string, 0, len(verrs))
	for k := range verrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if verrs[k] != nil {
			out[k] = verrs[k].Error()
		}
	}
	return out
}

// asValidationError converts an ozzo error into the package validation error
func asValidationError(err error) error {
	if err == nil {
		return nil
	}
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		return NewValidationError(FormatValidationErrorToMap(verrs))
	}
	return NewValidationError(map[string]string{"_": err.Error()})
}

func parseDate(s string) (*time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
