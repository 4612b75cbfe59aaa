package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/respawn-arena/arena_auth/internal/stub"
)

// AuthMiddleware are the per-route guards of the auth group.
type AuthMiddleware struct {
	RateLimit   fiber.Handler
	Idempotency fiber.Handler
	Session     fiber.Handler
}

// RegisterAuthRoutes wires the /auth endpoints of the client contract.
func RegisterAuthRoutes(r fiber.Router, h *stub.Handler, mw AuthMiddleware) {
	group := r.Group("/auth")
	group.Post("/login", mw.RateLimit, h.Login)
	group.Post("/signup", mw.Idempotency, h.Signup)
	group.Post("/send-otp", mw.RateLimit, h.SendOTP)
	group.Post("/verify-otp", mw.RateLimit, h.VerifyOTP)
	group.Post("/google-login", h.GoogleLogin)
	group.Get("/check", mw.Session, h.Check)
	group.Post("/logout", h.Logout)
}
