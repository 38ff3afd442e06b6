// Package auth guards the admin-only ledger operations.
//
// An admin proves knowledge of the admin password once, at POST /admin/token,
// and receives a short-lived HS256 capability token. Every admin request then
// presents that token as a bearer credential; the password itself never
// travels with ledger traffic.
package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"pocketmoney/internal/core"
)

const (
	// ScopeAdmin is the only scope the API understands.
	ScopeAdmin = "admin"

	subjectAdmin = "admin"
	issuer       = "pocketmoney"
	minKeyLength = 32
)

// Claims are the JWT claims carried by an admin token.
type Claims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// Token is what POST /admin/token hands back.
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// TokenIssuer mints and verifies admin capability tokens.
type TokenIssuer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewTokenIssuer returns an issuer signing with key. The key must be at least
// 32 bytes; use RandomKey when none is configured.
func NewTokenIssuer(key []byte, ttl time.Duration) (*TokenIssuer, error) {
	if len(key) < minKeyLength {
		return nil, fmt.Errorf("signing key must be at least %d bytes", minKeyLength)
	}
	if ttl <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	return &TokenIssuer{key: key, ttl: ttl, now: time.Now}, nil
}

// RandomKey generates an ephemeral signing key. Tokens signed with it do not
// survive a restart.
func RandomKey() ([]byte, error) {
	key := make([]byte, minKeyLength)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	return key, nil
}

// SetClock overrides the time source. Tests only.
func (i *TokenIssuer) SetClock(now func() time.Time) {
	i.now = now
}

// TTL returns how long issued tokens stay valid.
func (i *TokenIssuer) TTL() time.Duration {
	return i.ttl
}

// Issue mints a new admin token.
func (i *TokenIssuer) Issue() (Token, error) {
	now := i.now().UTC()
	exp := now.Add(i.ttl).Truncate(time.Second)

	claims := Claims{
		Scope: ScopeAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subjectAdmin,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return Token{}, fmt.Errorf("sign admin token: %w", err)
	}
	return Token{AccessToken: signed, TokenType: "bearer", ExpiresAt: exp}, nil
}

// Verify checks signature, expiry, subject and scope. Every failure is
// reported as core.ErrForbidden; the cause is kept in the chain for logs.
func (i *TokenIssuer) Verify(tokenString string) error {
	if tokenString == "" {
		return fmt.Errorf("missing token: %w", core.ErrForbidden)
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return i.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(issuer),
		jwt.WithSubject(subjectAdmin),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrForbidden, err)
	}
	if claims.Scope != ScopeAdmin {
		return fmt.Errorf("%w: scope %q", core.ErrForbidden, claims.Scope)
	}
	return nil
}
