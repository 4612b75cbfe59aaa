package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// LoginRateLimit limits sign-in attempts per login name, phone or IP using
// Redis if available. Each route keeps its own budget.
func LoginRateLimit(cache *redis.Client, maxPerMin int) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 5
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next() // no-op without Redis
		}
		var req struct {
			Identifier string `json:"identifier"`
			Username   string `json:"username"`
			Phone      string `json:"phone"`
		}
		_ = c.BodyParser(&req)
		subject := strings.TrimSpace(req.Identifier)
		if subject == "" {
			subject = strings.TrimSpace(req.Username)
		}
		if subject == "" {
			subject = strings.TrimSpace(req.Phone)
		}
		if subject == "" {
			subject = c.IP()
		}
		key := "rl:auth:" + c.Path() + ":" + strings.ToLower(subject)
		cnt, err := cache.Incr(c.UserContext(), key).Result()
		if err != nil {
			return c.Next() // fail-open on cache errors
		}
		if cnt == 1 {
			cache.Expire(c.UserContext(), key, time.Minute)
		}
		if cnt > int64(maxPerMin) {
			return fiber.NewError(http.StatusTooManyRequests, "Too many attempts, try again in a minute")
		}
		return c.Next()
	}
}
