package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	defaultOTPTTL         = 300 * time.Second
	defaultOTPMaxAttempts = 5
)

// Config captures client runtime configuration loaded from environment variables.
type Config struct {
	AppName        string        `env:"APP_NAME" envDefault:"RespawnArena"`
	AppEnv         string        `env:"APP_ENV" envDefault:"development"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	BackendURL     string        `env:"ARENA_BACKEND_URL" envDefault:"http://localhost:8080"`
	StateDSN       string        `env:"ARENA_STATE_DSN" envDefault:"memory:"`
	RequestTimeout time.Duration `env:"ARENA_REQUEST_TIMEOUT" envDefault:"15s"`
	OTPTTL         time.Duration `env:"ARENA_OTP_TTL" envDefault:"300s"`
	OTPMaxAttempts int           `env:"ARENA_OTP_MAX_ATTEMPTS" envDefault:"5"`
	HomeRoute      string        `env:"ARENA_HOME_ROUTE" envDefault:"/"`
	AdminRoute     string        `env:"ARENA_ADMIN_ROUTE" envDefault:"/admin/dashboard"`
	LoginRoute     string        `env:"ARENA_LOGIN_ROUTE" envDefault:"/login"`
	OTELEndpoint   string        `env:"OTEL_ENDPOINT"`
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values env tags cannot express.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BackendURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid ARENA_BACKEND_URL %q", c.BackendURL)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("ARENA_REQUEST_TIMEOUT must be positive")
	}
	if c.OTPTTL <= 0 {
		c.OTPTTL = defaultOTPTTL
	}
	if c.OTPMaxAttempts <= 0 {
		c.OTPMaxAttempts = defaultOTPMaxAttempts
	}
	for name, route := range map[string]string{"ARENA_HOME_ROUTE": c.HomeRoute, "ARENA_ADMIN_ROUTE": c.AdminRoute, "ARENA_LOGIN_ROUTE": c.LoginRoute} {
		if !strings.HasPrefix(route, "/") {
			return fmt.Errorf("%s must be an absolute path, got %q", name, route)
		}
	}
	return nil
}

// StubConfig configures the development backend stub.
type StubConfig struct {
	AppName        string        `env:"APP_NAME" envDefault:"RespawnArenaStub"`
	AppEnv         string        `env:"APP_ENV" envDefault:"development"`
	Port           string        `env:"PORT" envDefault:"8080"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	RedisURL       string        `env:"REDIS_URL"`
	DatabaseURL    string        `env:"DATABASE_URL"`
	TokenSecret    string        `env:"STUB_TOKEN_SECRET" envDefault:"dev-only-stub-secret-change-me-0123456789"`
	TokenTTL       time.Duration `env:"STUB_TOKEN_TTL" envDefault:"24h"`
	GoogleSecret   string        `env:"STUB_GOOGLE_SECRET" envDefault:"dev-only-google-secret-change-me-0123456789"`
	GoogleAudience string        `env:"STUB_GOOGLE_AUDIENCE" envDefault:"respawn-arena-web"`
	OTPTTL         time.Duration `env:"ARENA_OTP_TTL" envDefault:"300s"`
	OTPMaxAttempts int           `env:"ARENA_OTP_MAX_ATTEMPTS" envDefault:"5"`
	LoginPerMinute int           `env:"STUB_LOGIN_PER_MINUTE" envDefault:"5"`
	ShutdownPeriod time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	SeedAdmin      string        `env:"STUB_SEED_ADMIN" envDefault:"admin:arena-admin"`
}

// LoadStub reads the stub configuration from the environment.
func LoadStub() (StubConfig, error) {
	var cfg StubConfig
	if err := env.Parse(&cfg); err != nil {
		return StubConfig{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if len(cfg.TokenSecret) < 32 {
		return StubConfig{}, fmt.Errorf("STUB_TOKEN_SECRET must be at least 32 bytes")
	}
	if cfg.OTPTTL <= 0 {
		cfg.OTPTTL = defaultOTPTTL
	}
	if cfg.OTPMaxAttempts <= 0 {
		cfg.OTPMaxAttempts = defaultOTPMaxAttempts
	}
	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c StubConfig) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsDev reports whether the stub runs in a local environment.
func (c StubConfig) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}
