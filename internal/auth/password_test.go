// ABOUTME: Unit tests for bcrypt credential verification
// ABOUTME: Covers match, mismatch, malformed hashes and the 72 byte limit

package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestVerifyPassword(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret123"), bcrypt.MinCost)
	require.NoError(t, err)

	assert.True(t, VerifyPassword("secret123", string(hash)))
	assert.False(t, VerifyPassword("secret124", string(hash)))
	assert.False(t, VerifyPassword("", string(hash)))
	assert.False(t, VerifyPassword("secret123", "not-a-bcrypt-hash"))
	assert.False(t, VerifyPassword("secret123", ""))
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("secret123")
	require.NoError(t, err)

	assert.NotEqual(t, "secret123", hash)
	assert.True(t, strings.HasPrefix(hash, "$2a$"))
	assert.True(t, VerifyPassword("secret123", hash))

	again, err := HashPassword("secret123")
	require.NoError(t, err)
	assert.NotEqual(t, hash, again, "hashes must be salted")
}

func TestHashPassword_TooLong(t *testing.T) {
	_, err := HashPassword(strings.Repeat("a", 73))
	assert.ErrorIs(t, err, ErrPasswordTooLong)
}
