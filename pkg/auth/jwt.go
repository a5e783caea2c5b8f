// Package auth issues and verifies the device tokens that bind a node to
// its UUID on the fabric.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrInvalidClaims    = errors.New("invalid token claims")
	ErrEmptyUUID        = errors.New("device uuid cannot be empty")
	ErrShortSecret      = errors.New("secret must be at least 32 characters")
	ErrIdentityMismatch = errors.New("token does not belong to this device")
)

// DeviceClaims are the claims of a device token
type DeviceClaims struct {
	UUID      string
	IssuedAt  time.Time
	ExpiresAt time.Time // zero when the token never expires
}

// TokenManager manages device token generation and validation
type TokenManager struct {
	secretKey     []byte
	tokenDuration time.Duration
}

// NewTokenManager creates a token manager. A zero tokenDuration issues
// tokens without expiry, which is how long-lived device tokens are
// provisioned.
func NewTokenManager(secret string, tokenDuration time.Duration) (*TokenManager, error) {
	if len(secret) < 32 {
		return nil, ErrShortSecret
	}

	return &TokenManager{
		secretKey:     []byte(secret),
		tokenDuration: tokenDuration,
	}, nil
}

// GenerateToken issues a token for device uuid
func (m *TokenManager) GenerateToken(uuid string) (string, error) {
	if uuid == "" {
		return "", ErrEmptyUUID
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"uuid": uuid,
		"iat":  now.Unix(),
	}
	if m.tokenDuration > 0 {
		claims["exp"] = now.Add(m.tokenDuration).Unix()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString(m.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// ValidateToken validates a device token and returns its claims
func (m *TokenManager) ValidateToken(_ context.Context, tokenString string) (*DeviceClaims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		// Verify signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secretKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claimsMap, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidClaims
	}

	uuid, ok := claimsMap["uuid"].(string)
	if !ok || uuid == "" {
		return nil, fmt.Errorf("%w: missing or invalid uuid", ErrInvalidClaims)
	}

	claims := &DeviceClaims{UUID: uuid}
	if iat, err := claimsMap.GetIssuedAt(); err == nil && iat != nil {
		claims.IssuedAt = iat.Time
	}
	if exp, err := claimsMap.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}
	return claims, nil
}

// VerifyIdentity checks that tokenString is a valid token for uuid
func (m *TokenManager) VerifyIdentity(ctx context.Context, tokenString, uuid string) error {
	claims, err := m.ValidateToken(ctx, tokenString)
	if err != nil {
		return err
	}
	if claims.UUID != uuid {
		return fmt.Errorf("%w: token is for %s", ErrIdentityMismatch, claims.UUID)
	}
	return nil
}

// Name returns the validator name for logging
func (m *TokenManager) Name() string {
	return "jwt-hs256"
}
