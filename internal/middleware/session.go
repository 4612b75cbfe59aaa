package middleware

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/respawn-arena/arena_auth/internal/stub"
)

// SessionVerifier validates a raw session token.
type SessionVerifier interface {
	Verify(ctx context.Context, raw string) (*stub.Claims, error)
}

// Session resolves the caller's session from the cookie or, failing that,
// a bearer token. Requests without a valid session pass through anonymous.
func Session(v SessionVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		for _, raw := range []string{c.Cookies(stub.CookieName), stub.BearerToken(c)} {
			if raw == "" {
				continue
			}
			if claims, err := v.Verify(c.UserContext(), raw); err == nil {
				c.Locals(stub.LocalClaims, claims)
				break
			}
		}
		return c.Next()
	}
}
