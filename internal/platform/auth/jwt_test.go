package auth

import (
	"testing"
	"time"

	"chatgate/internal/platform/config"
)

func TestTokenRoundTrip(t *testing.T) {
	svc := NewTokenService(config.JWTConfig{Secret: "test-secret", AccessTokenTTL: time.Minute})

	token, err := svc.GenerateAccessToken(42, "admin", "admin@example.com")
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.UserID != 42 || claims.Role != "admin" || claims.Subject != "42" {
		t.Errorf("unexpected claims %+v", claims)
	}
}

func TestValidateTokenRejects(t *testing.T) {
	svc := NewTokenService(config.JWTConfig{Secret: "test-secret", AccessTokenTTL: time.Minute})
	other := NewTokenService(config.JWTConfig{Secret: "other-secret", AccessTokenTTL: time.Minute})

	foreign, _ := other.GenerateAccessToken(1, "admin", "a@example.com")
	if _, err := svc.ValidateToken(foreign); err == nil {
		t.Error("expected signature mismatch to fail")
	}

	expired := NewTokenService(config.JWTConfig{Secret: "test-secret", AccessTokenTTL: time.Minute})
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	old, _ := expired.GenerateAccessToken(1, "admin", "a@example.com")
	if _, err := svc.ValidateToken(old); err == nil {
		t.Error("expected expired token to fail")
	}

	if _, err := svc.ValidateToken("not-a-token"); err == nil {
		t.Error("expected garbage to fail")
	}
}
