package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key-must-be-at-least-32-characters-long"

func TestNewTokenManager_ShortSecret(t *testing.T) {
	if _, err := NewTokenManager("short", 0); !errors.Is(err, ErrShortSecret) {
		t.Errorf("expected ErrShortSecret, got %v", err)
	}
}

// TestTokenManager_RoundTrip tests issuing and validating device tokens
func TestTokenManager_RoundTrip(t *testing.T) {
	tests := []struct {
		name       string
		duration   time.Duration
		wantExpiry bool
	}{
		{name: "Expiring token", duration: time.Hour, wantExpiry: true},
		{name: "Non-expiring token", duration: 0, wantExpiry: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewTokenManager(testSecret, tt.duration)
			if err != nil {
				t.Fatalf("Failed to create token manager: %v", err)
			}

			token, err := m.GenerateToken("A1")
			if err != nil {
				t.Fatalf("GenerateToken() error = %v", err)
			}

			claims, err := m.ValidateToken(context.Background(), token)
			if err != nil {
				t.Fatalf("ValidateToken() error = %v", err)
			}
			if claims.UUID != "A1" {
				t.Errorf("expected uuid A1, got %s", claims.UUID)
			}
			if claims.IssuedAt.IsZero() {
				t.Error("expected issued-at to be set")
			}
			if tt.wantExpiry == claims.ExpiresAt.IsZero() {
				t.Errorf("expiry set = %v, want %v", !claims.ExpiresAt.IsZero(), tt.wantExpiry)
			}
		})
	}
}

func TestTokenManager_EmptyUUID(t *testing.T) {
	m, _ := NewTokenManager(testSecret, 0)
	if _, err := m.GenerateToken(""); !errors.Is(err, ErrEmptyUUID) {
		t.Errorf("expected ErrEmptyUUID, got %v", err)
	}
}

func TestTokenManager_RejectsForeignSecret(t *testing.T) {
	issuer, _ := NewTokenManager(testSecret, 0)
	verifier, _ := NewTokenManager(strings.Repeat("x", 32), 0)

	token, err := issuer.GenerateToken("A1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := verifier.ValidateToken(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestTokenManager_Expired(t *testing.T) {
	m, _ := NewTokenManager(testSecret, 0)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"uuid": "A1",
		"exp":  time.Now().Add(-time.Minute).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := m.ValidateToken(context.Background(), signed); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("expected ErrExpiredToken, got %v", err)
	}
}

func TestTokenManager_MissingUUIDClaim(t *testing.T) {
	m, _ := NewTokenManager(testSecret, 0)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "A1"})
	signed, _ := token.SignedString([]byte(testSecret))

	if _, err := m.ValidateToken(context.Background(), signed); !errors.Is(err, ErrInvalidClaims) {
		t.Errorf("expected ErrInvalidClaims, got %v", err)
	}
}

func TestTokenManager_RejectsNoneAlgorithm(t *testing.T) {
	m, _ := NewTokenManager(testSecret, 0)

	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"uuid": "A1"})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := m.ValidateToken(context.Background(), signed); err == nil {
		t.Error("expected unsigned token to be rejected")
	}
}

func TestVerifyIdentity(t *testing.T) {
	m, _ := NewTokenManager(testSecret, 0)
	token, _ := m.GenerateToken("M0")

	if err := m.VerifyIdentity(context.Background(), token, "M0"); err != nil {
		t.Errorf("VerifyIdentity() error = %v", err)
	}
	if err := m.VerifyIdentity(context.Background(), token, "A1"); !errors.Is(err, ErrIdentityMismatch) {
		t.Errorf("expected ErrIdentityMismatch, got %v", err)
	}
	if err := m.VerifyIdentity(context.Background(), "", "M0"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestDeriveSecret(t *testing.T) {
	a, err := DeriveSecret("cluster passphrase", "prod")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := DeriveSecret("cluster passphrase", "prod")
	c, _ := DeriveSecret("cluster passphrase", "staging")

	if a != b {
		t.Error("derivation must be deterministic")
	}
	if a == c {
		t.Error("different salts must give different secrets")
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex characters, got %d", len(a))
	}
	if _, err := NewTokenManager(a, 0); err != nil {
		t.Errorf("derived secret should be accepted: %v", err)
	}

	if _, err := DeriveSecret("", "prod"); !errors.Is(err, ErrEmptyPassphrase) {
		t.Errorf("expected ErrEmptyPassphrase, got %v", err)
	}
}
