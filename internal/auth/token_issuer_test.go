package auth

import (
	"testing"
	"time"
)

func TestTokenIssuerIssuesValidatableTokens(t *testing.T) {
	clockNow := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time { return clockNow }
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("super-secret"),
		TokenTTL:      30 * time.Minute,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	tokenString, expiresAt, err := issuer.IssueSessionToken("user-123")
	if err != nil {
		t.Fatalf("expected successful issuance: %v", err)
	}
	if !expiresAt.Equal(clockNow.Add(30 * time.Minute)) {
		t.Fatalf("unexpected expiry %s", expiresAt)
	}

	validator, err := NewSessionValidator(SessionValidatorConfig{SigningSecret: []byte("super-secret"), Clock: clock})
	if err != nil {
		t.Fatalf("unexpected validator error: %v", err)
	}
	claims, err := validator.ValidateToken(tokenString)
	if err != nil {
		t.Fatalf("issued token did not validate: %v", err)
	}
	if claims.UserID != "user-123" || claims.Subject != "user-123" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if claims.Issuer != DefaultIssuer {
		t.Fatalf("unexpected issuer %s", claims.Issuer)
	}
}

func TestTokenIssuerRejectsMissingSecret(t *testing.T) {
	_, err := NewTokenIssuer(TokenIssuerConfig{TokenTTL: 30 * time.Minute})
	if err == nil {
		t.Fatalf("expected constructor error for missing secret")
	}
}

func TestTokenIssuerRejectsEmptySubject(t *testing.T) {
	issuer, err := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte("secret")})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	if _, _, err := issuer.IssueSessionToken("  "); err == nil {
		t.Fatalf("expected error for empty subject")
	}
}
