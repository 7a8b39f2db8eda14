package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocketscienceinc/tictactoe-stake/internal/apperror"
)

func TestAuthService(t *testing.T) {
	t.Run("Issued token resolves to its account", func(t *testing.T) {
		// Given: a service with a secret
		auth := NewAuthService("secret")

		// When: a token is issued and parsed back
		token, err := auth.GenerateToken("alice")
		require.NoError(t, err)

		account, err := auth.ParseToken(token)

		// Then: the account is the token subject
		require.NoError(t, err)
		assert.Equal(t, "alice", account)
	})

	t.Run("Rejects a token signed with another secret", func(t *testing.T) {
		token, err := NewAuthService("other").GenerateToken("alice")
		require.NoError(t, err)

		_, err = NewAuthService("secret").ParseToken(token)

		require.ErrorIs(t, err, apperror.ErrUnauthorized)
	})

	t.Run("Rejects an expired token", func(t *testing.T) {
		auth := NewAuthService("secret")
		auth.now = func() time.Time { return time.Now().Add(-2 * tokenTTL) }
		token, err := auth.GenerateToken("alice")
		require.NoError(t, err)

		auth.now = time.Now
		_, err = auth.ParseToken(token)

		require.ErrorIs(t, err, apperror.ErrUnauthorized)
	})

	t.Run("Rejects unsigned tokens", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = NewAuthService("secret").ParseToken(token)

		require.ErrorIs(t, err, apperror.ErrUnauthorized)
	})

	t.Run("Refuses to issue a token without an account", func(t *testing.T) {
		_, err := NewAuthService("secret").GenerateToken("")

		require.ErrorIs(t, err, apperror.ErrUnauthorized)
	})
}
