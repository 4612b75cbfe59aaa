// Package stub is a development implementation of the venue backend's auth
// contract. It issues the same cookie and fallback token the real backend
// does, which lets the client be exercised end to end.
package stub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/respawn-arena/arena_auth/internal/accounts"
)

const tokenIssuer = "respawn-arena-stub"

var ErrTokenRevoked = errors.New("token revoked")

// Claims are carried by both the session cookie and the fallback token.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Tokens issues and verifies HS256 session tokens.
type Tokens struct {
	secret  []byte
	ttl     time.Duration
	revoked Revocations
	now     func() time.Time
}

func NewTokens(secret string, ttl time.Duration, revoked Revocations) *Tokens {
	return &Tokens{secret: []byte(secret), ttl: ttl, revoked: revoked, now: time.Now}
}

// Issue signs a new token for a.
func (t *Tokens) Issue(a accounts.Account) (string, time.Time, error) {
	now := t.now()
	exp := now.Add(t.ttl)
	claims := Claims{
		Role: string(a.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    tokenIssuer,
			Subject:   a.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify checks signature, expiry and revocation.
func (t *Tokens) Verify(ctx context.Context, raw string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, err
	}
	revoked, err := t.revoked.Revoked(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrTokenRevoked
	}
	return &claims, nil
}

// Revoke invalidates a verified token until it would have expired anyway.
func (t *Tokens) Revoke(ctx context.Context, c *Claims) error {
	until := t.now().Add(t.ttl)
	if c.ExpiresAt != nil {
		until = c.ExpiresAt.Time
	}
	return t.revoked.Revoke(ctx, c.ID, until)
}
