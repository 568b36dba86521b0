package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateToken(t *testing.T) {
	m, err := NewManager("test-secret", time.Minute, "relaychat")
	require.NoError(t, err)

	token, err := m.GenerateToken("user-1", "u1@example.com", "alice")
	require.NoError(t, err)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "relaychat", claims.Issuer)
}

func TestValidateExpiredToken(t *testing.T) {
	m, err := NewManager("test-secret", -time.Minute, "relaychat")
	require.NoError(t, err)

	token, err := m.GenerateToken("user-1", "", "")
	require.NoError(t, err)

	_, err = m.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestValidateWrongSecret(t *testing.T) {
	m1, err := NewManager("secret-a", time.Minute, "relaychat")
	require.NoError(t, err)
	m2, err := NewManager("secret-b", time.Minute, "relaychat")
	require.NoError(t, err)

	token, err := m1.GenerateToken("user-1", "", "")
	require.NoError(t, err)

	_, err = m2.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateGarbageToken(t *testing.T) {
	m, err := NewManager("test-secret", time.Minute, "relaychat")
	require.NoError(t, err)

	_, err = m.ValidateToken("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestEmptySecretRejected(t *testing.T) {
	_, err := NewManager("", time.Minute, "relaychat")
	assert.Error(t, err)
}
