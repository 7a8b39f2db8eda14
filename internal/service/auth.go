package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rocketscienceinc/tictactoe-stake/internal/apperror"
)

const tokenTTL = 24 * time.Hour

// AuthService issues and verifies bearer tokens. The token subject is the
// ledger account the caller acts as.
type AuthService struct {
	secretKey []byte
	now       func() time.Time
}

func NewAuthService(secretKey string) *AuthService {
	return &AuthService{
		secretKey: []byte(secretKey),
		now:       time.Now,
	}
}

func (that *AuthService) GenerateToken(account string) (string, error) {
	if account == "" {
		return "", fmt.Errorf("%w: empty account", apperror.ErrUnauthorized)
	}

	now := that.now()
	claims := jwt.RegisteredClaims{
		Subject:   account,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString(that.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// ParseToken returns the account a valid token was issued for.
func (that *AuthService) ParseToken(tokenString string) (string, error) {
	var claims jwt.RegisteredClaims

	_, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return that.secretKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(that.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("%w: token expired", apperror.ErrUnauthorized)
		}
		return "", fmt.Errorf("%w: %w", apperror.ErrUnauthorized, err)
	}

	if claims.Subject == "" {
		return "", fmt.Errorf("%w: token has no subject", apperror.ErrUnauthorized)
	}

	return claims.Subject, nil
}
