//go:build race

package accounts

import "golang.org/x/crypto/bcrypt"

// race builds run several times slower, drop to the library default
func passwordHashCost() int {
	return bcrypt.DefaultCost
}
