package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledAcceptsAnything(t *testing.T) {
	a := New("", false)
	assert.False(t, a.Enabled())
	assert.NoError(t, a.CheckBearer(""))
	assert.NoError(t, a.CheckToken("whatever"))
}

func TestPlaintextToken(t *testing.T) {
	a := New("secret-token", false)
	require.True(t, a.Enabled())
	assert.Empty(t, a.GeneratedToken())

	assert.NoError(t, a.CheckBearer("Bearer secret-token"))
	assert.NoError(t, a.CheckBearer("Bearer  secret-token "))
	assert.ErrorIs(t, a.CheckBearer("Bearer wrong"), ErrUnauthorized)
	assert.ErrorIs(t, a.CheckBearer("secret-token"), ErrUnauthorized, "scheme prefix is required")
	assert.ErrorIs(t, a.CheckBearer(""), ErrUnauthorized)
}

func TestGeneratedToken(t *testing.T) {
	a := New("", true)
	require.True(t, a.Enabled())
	token := a.GeneratedToken()
	require.Len(t, token, 48, "24 random bytes hex encoded")
	assert.NoError(t, a.CheckToken(token))
	assert.ErrorIs(t, a.CheckToken("guess"), ErrUnauthorized)
}

func TestHashedToken(t *testing.T) {
	hash, err := HashToken("hunter2")
	require.NoError(t, err)
	require.Len(t, hash, 60)

	a := New(hash, false)
	assert.NoError(t, a.CheckToken("hunter2"))
	assert.ErrorIs(t, a.CheckToken("hunter3"), ErrUnauthorized)
	assert.ErrorIs(t, a.CheckToken(hash), ErrUnauthorized, "the hash itself is not the token")
}

func TestStreamTokenScope(t *testing.T) {
	s := NewStreamTokens()
	token, expiresAt, err := s.Issue("cam1")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), expiresAt, 5*time.Second)

	assert.NoError(t, s.Validate(token, "cam1"))
	assert.ErrorIs(t, s.Validate(token, "cam2"), ErrInvalidToken)
	assert.ErrorIs(t, s.Validate("not-a-jwt", "cam1"), ErrInvalidToken)

	// Tokens from another process's signer are rejected.
	other := NewStreamTokens()
	assert.ErrorIs(t, other.Validate(token, "cam1"), ErrInvalidToken)
}

func TestStreamTokenUnscoped(t *testing.T) {
	s := NewStreamTokens()
	token, _, err := s.Issue("")
	require.NoError(t, err)
	assert.NoError(t, s.Validate(token, "cam1"), "an unscoped token covers any camera")
}
