package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/respawn-arena/arena_auth/internal/config"
	"github.com/respawn-arena/arena_auth/internal/notification"
	"github.com/respawn-arena/arena_auth/internal/routes"
)

// Server wraps the Fiber application and shared dependencies.
type Server struct {
	app *fiber.App
	cfg config.StubConfig
}

// Option adjusts the route dependencies before wiring.
type Option func(*routes.Deps)

// WithNotifier replaces the default OTP delivery.
func WithNotifier(n notification.Notifier) Option {
	return func(d *routes.Deps) { d.Notifier = n }
}

// New instantiates the stub backend and delegates route wiring to routes.Setup.
// db and cache may be nil in dev environments.
func New(cfg config.StubConfig, db *pgxpool.Pool, cache *redis.Client, logger *slog.Logger, opts ...Option) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:               cfg.AppName,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	deps := routes.Deps{Cfg: cfg, DB: db, Cache: cache, Logger: logger}
	for _, opt := range opts {
		opt(&deps)
	}
	if err := routes.Setup(app, deps); err != nil {
		return nil, err
	}
	return &Server{app: app, cfg: cfg}, nil
}

// errorHandler renders every unhandled error in the contract's failure
// envelope. Internal details never reach the client.
func errorHandler(c *fiber.Ctx, err error) error {
	status, message := fiber.StatusInternalServerError, "Something went wrong, please try again later"
	var fe *fiber.Error
	if errors.As(err, &fe) {
		status, message = fe.Code, fe.Message
	}
	return c.Status(status).JSON(fiber.Map{"success": false, "message": message})
}

// App exposes the Fiber application, mainly for in-process tests.
func (s *Server) App() *fiber.App { return s.app }

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
