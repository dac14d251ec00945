package admin

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthService(t *testing.T) {
	a, err := NewAuthService("pw", "secret")
	require.NoError(t, err)
	assert.False(t, a.Ephemeral())

	assert.NoError(t, a.ValidatePassword("pw"))
	assert.ErrorIs(t, a.ValidatePassword("nope"), ErrInvalidPassword)

	token, err := a.GenerateToken()
	require.NoError(t, err)
	claims, err := a.ValidateToken(token)
	require.NoError(t, err)
	assert.True(t, claims.Admin)
	assert.Equal(t, "subjectfix", claims.Issuer)

	other, err := NewAuthService("pw", "other-secret")
	require.NoError(t, err)
	_, err = other.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthServiceTokenExpiry(t *testing.T) {
	a, err := NewAuthService("pw", "secret")
	require.NoError(t, err)

	issued := time.Now()
	a.now = func() time.Time { return issued }
	token, err := a.GenerateToken()
	require.NoError(t, err)

	a.now = func() time.Time { return issued.Add(tokenTTL + time.Minute) }
	_, err = a.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthServiceRequiresPassword(t *testing.T) {
	_, err := NewAuthService("", "secret")
	assert.ErrorIs(t, err, ErrNoPassword)

	a, err := NewAuthService("pw", "")
	require.NoError(t, err)
	assert.True(t, a.Ephemeral())
}
