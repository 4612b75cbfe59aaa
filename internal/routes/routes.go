package routes

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/respawn-arena/arena_auth/internal/accounts"
	"github.com/respawn-arena/arena_auth/internal/config"
	"github.com/respawn-arena/arena_auth/internal/logging"
	"github.com/respawn-arena/arena_auth/internal/middleware"
	"github.com/respawn-arena/arena_auth/internal/notification"
	"github.com/respawn-arena/arena_auth/internal/stub"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.StubConfig
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
	// Notifier delivers OTP codes. Defaults to the log, revealing codes
	// only in dev environments.
	Notifier notification.Notifier
}

// Setup configures middlewares and all stub routes.
func Setup(app *fiber.App, d Deps) error {
	d.Logger = logging.OrDiscard(d.Logger)
	if !d.Cfg.IsDev() && d.Cache == nil {
		return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	ctx := context.Background()
	var repo accounts.Repository = accounts.NewMemoryRepository()
	if d.DB != nil {
		pg, err := accounts.NewPostgresRepository(ctx, d.DB)
		if err != nil {
			return err
		}
		repo = pg
	}
	accountSvc := accounts.NewService(repo)
	if d.Cfg.SeedAdmin != "" {
		if err := accountSvc.SeedAdmin(ctx, d.Cfg.SeedAdmin); err != nil {
			return fmt.Errorf("seed admin: %w", err)
		}
	}

	codes, revocations := stub.NewMemoryCodeStore(), stub.NewMemoryRevocations()
	if d.Cache != nil {
		codes, revocations = stub.NewRedisCodeStore(d.Cache), stub.NewRedisRevocations(d.Cache)
	}
	notifier := d.Notifier
	if notifier == nil {
		notifier = notification.NewLoggerNotifier(d.Logger, d.Cfg.IsDev())
	}
	tokens := stub.NewTokens(d.Cfg.TokenSecret, d.Cfg.TokenTTL, revocations)

	handler := stub.NewHandler(stub.Deps{
		Accounts:       accountSvc,
		Tokens:         tokens,
		Codes:          codes,
		Google:         stub.NewDevGoogleVerifier(d.Cfg.GoogleSecret, d.Cfg.GoogleAudience),
		Notifier:       notifier,
		OTPTTL:         d.Cfg.OTPTTL,
		OTPMaxAttempts: d.Cfg.OTPMaxAttempts,
		SecureCookies:  !d.Cfg.IsDev(),
		Logger:         d.Logger,
	})

	api := app.Group("/api")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	RegisterAuthRoutes(api, handler, AuthMiddleware{
		RateLimit:   middleware.LoginRateLimit(d.Cache, d.Cfg.LoginPerMinute),
		Idempotency: middleware.Idempotency(d.Cache, 10*time.Minute, d.Logger),
		Session:     middleware.Session(tokens),
	})
	return nil
}
