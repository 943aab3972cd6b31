package accounts_test

import (
	"testing"

	"github.com/goliatone/go-accounts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHasher(t *testing.T) {
	h := accounts.BcryptHasher{Cost: bcrypt.MinCost}

	first, err := h.HashPassword(testPassword)
	require.NoError(t, err)
	second, err := h.HashPassword(testPassword)
	require.NoError(t, err)
	assert.NotEqual(t, first, second, "every hash is salted")

	assert.NoError(t, h.ComparePasswordAndHash(testPassword, first))
	assert.NoError(t, h.ComparePasswordAndHash(testPassword, second))
	assert.ErrorIs(t, h.ComparePasswordAndHash("Other@123", first), accounts.ErrMismatchedHashAndPassword)
	assert.Error(t, h.ComparePasswordAndHash(testPassword, "not-a-hash"))

	_, err = h.HashPassword("")
	assert.ErrorIs(t, err, accounts.ErrNoEmptyString)
}
