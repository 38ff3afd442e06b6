package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"pocketmoney/internal/core"
)

var testKey = []byte(strings.Repeat("s", 32))

func newIssuer(t *testing.T, now time.Time) *TokenIssuer {
	t.Helper()
	iss, err := NewTokenIssuer(testKey, time.Hour)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	iss.SetClock(func() time.Time { return now })
	return iss
}

func TestTokenIssuer_IssueAndVerify(t *testing.T) {
	now := time.Date(2026, 10, 23, 7, 30, 0, 0, time.UTC)
	iss := newIssuer(t, now)

	tok, err := iss.Issue()
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if tok.TokenType != "bearer" {
		t.Errorf("TokenType = %q", tok.TokenType)
	}
	if !tok.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v, want %v", tok.ExpiresAt, now.Add(time.Hour))
	}
	if err := iss.Verify(tok.AccessToken); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestTokenIssuer_Rejects(t *testing.T) {
	now := time.Date(2026, 10, 23, 7, 30, 0, 0, time.UTC)
	iss := newIssuer(t, now)
	tok, _ := iss.Issue()

	otherKey, _ := NewTokenIssuer([]byte(strings.Repeat("x", 32)), time.Hour)
	otherKey.SetClock(func() time.Time { return now })
	foreign, _ := otherKey.Issue()

	wrongScope, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Scope: "viewer",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subjectAdmin,
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}).SignedString(testKey)

	noExpiry, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Scope:            ScopeAdmin,
		RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer, Subject: subjectAdmin},
	}).SignedString(testKey)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not.a.token"},
		{"signed with another key", foreign.AccessToken},
		{"wrong scope", wrongScope},
		{"missing expiry", noExpiry},
		{"tampered", tok.AccessToken + "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := iss.Verify(tt.token); !errors.Is(err, core.ErrForbidden) {
				t.Errorf("Verify() = %v, want ErrForbidden", err)
			}
		})
	}

	t.Run("expired", func(t *testing.T) {
		iss.SetClock(func() time.Time { return now.Add(2 * time.Hour) })
		defer iss.SetClock(func() time.Time { return now })
		if err := iss.Verify(tok.AccessToken); !errors.Is(err, core.ErrForbidden) {
			t.Errorf("Verify() = %v, want ErrForbidden", err)
		}
	})
}

func TestNewTokenIssuer_Validation(t *testing.T) {
	if _, err := NewTokenIssuer([]byte("short"), time.Hour); err == nil {
		t.Error("expected error for short key")
	}
	if _, err := NewTokenIssuer(testKey, 0); err == nil {
		t.Error("expected error for zero ttl")
	}
	key, err := RandomKey()
	if err != nil {
		t.Fatalf("RandomKey: %v", err)
	}
	if _, err := NewTokenIssuer(key, time.Minute); err != nil {
		t.Errorf("random key rejected: %v", err)
	}
}

func TestPasswordChecker(t *testing.T) {
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}

	tests := []struct {
		name     string
		hash     string
		legacy   string
		password string
		want     bool
	}{
		{"hash match", hash, "", "correct horse", true},
		{"hash mismatch", hash, "", "battery staple", false},
		{"hash wins over legacy", hash, "legacy", "legacy", false},
		{"legacy match", "", "legacy", "legacy", true},
		{"legacy mismatch", "", "legacy", "Legacy", false},
		{"empty password", hash, "", "", false},
		{"nothing configured", "", "", "anything", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pc, err := NewPasswordChecker(tt.hash, tt.legacy)
			if err != nil {
				t.Fatalf("NewPasswordChecker: %v", err)
			}
			if got := pc.Check(tt.password); got != tt.want {
				t.Errorf("Check(%q) = %v, want %v", tt.password, got, tt.want)
			}
		})
	}

	if _, err := NewPasswordChecker("plaintext", ""); err == nil {
		t.Error("expected error for malformed hash")
	}
}
