package stub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const googleIssuer = "https://accounts.google.com"

// GoogleIdentity is what a verified identity-provider credential asserts.
type GoogleIdentity struct {
	Subject string
	Email   string
	Name    string
}

// CredentialVerifier checks an identity-provider credential.
type CredentialVerifier interface {
	Verify(ctx context.Context, credential string) (GoogleIdentity, error)
}

type googleClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	jwt.RegisteredClaims
}

// DevGoogleVerifier accepts ID-token shaped credentials signed with a
// shared secret instead of Google's keys.
type DevGoogleVerifier struct {
	secret   []byte
	audience string
}

func NewDevGoogleVerifier(secret, audience string) *DevGoogleVerifier {
	return &DevGoogleVerifier{secret: []byte(secret), audience: audience}
}

func (v *DevGoogleVerifier) Verify(_ context.Context, credential string) (GoogleIdentity, error) {
	var c googleClaims
	_, err := jwt.ParseWithClaims(credential, &c, func(*jwt.Token) (any, error) { return v.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(googleIssuer),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return GoogleIdentity{}, fmt.Errorf("verify credential: %w", err)
	}
	if c.Subject == "" {
		return GoogleIdentity{}, errors.New("credential has no subject")
	}
	if c.Email != "" && !c.EmailVerified {
		return GoogleIdentity{}, errors.New("credential email is not verified")
	}
	return GoogleIdentity{Subject: c.Subject, Email: c.Email, Name: c.Name}, nil
}

// MintDevGoogleCredential produces a credential DevGoogleVerifier accepts.
// Local runs and tests use it in place of the browser sign-in widget.
func MintDevGoogleCredential(secret, audience string, id GoogleIdentity, ttl time.Duration) (string, error) {
	now := time.Now()
	c := googleClaims{
		Email:         id.Email,
		EmailVerified: id.Email != "",
		Name:          id.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    googleIssuer,
			Subject:   id.Subject,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secret))
}
