package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// PasswordChecker compares a presented admin password against a bcrypt hash.
type PasswordChecker struct {
	hash []byte
}

// NewPasswordChecker prefers an explicit bcrypt hash. A legacy plaintext
// secret is hashed once here so the comparison path is identical for both.
// With neither configured every check fails.
func NewPasswordChecker(passwordHash, legacySecret string) (*PasswordChecker, error) {
	switch {
	case passwordHash != "":
		if _, err := bcrypt.Cost([]byte(passwordHash)); err != nil {
			return nil, fmt.Errorf("admin password hash: %w", err)
		}
		return &PasswordChecker{hash: []byte(passwordHash)}, nil
	case legacySecret != "":
		hash, err := HashPassword(legacySecret)
		if err != nil {
			return nil, err
		}
		return &PasswordChecker{hash: []byte(hash)}, nil
	default:
		return &PasswordChecker{}, nil
	}
}

// Enabled reports whether any credential is configured.
func (p *PasswordChecker) Enabled() bool {
	return p != nil && len(p.hash) > 0
}

// Check reports whether password matches.
func (p *PasswordChecker) Check(password string) bool {
	if !p.Enabled() || password == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(p.hash, []byte(password)) == nil
}

// HashPassword produces a bcrypt hash suitable for ADMIN_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash admin password: %w", err)
	}
	return string(hash), nil
}
