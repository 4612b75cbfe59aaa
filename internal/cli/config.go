package cli

import (
	"flag"
	"os"
	"path/filepath"
	"strings"

	"github.com/respawn-arena/arena_auth/internal/config"
)

// EnvLookup returns the value for a key when present.
type EnvLookup func(string) (string, bool)

// Options are the global flags that precede the subcommand.
type Options struct {
	Config config.Config
	// Next is the route the user was trying to open, if any.
	Next string
}

// ParseOptions layers flags over cfg. The state DSN defaults to a SQLite
// file under the user config dir unless ARENA_STATE_DSN is set, so that a
// session outlives one invocation.
func ParseOptions(fs *flag.FlagSet, args []string, cfg config.Config, lookup EnvLookup) (Options, []string, error) {
	if _, ok := envValue(lookup, "ARENA_STATE_DSN"); !ok {
		if path := defaultStatePath(); path != "" {
			cfg.StateDSN = "sqlite://" + path
		}
	}
	opts := Options{Config: cfg}

	fs.StringVar(&opts.Config.BackendURL, "backend", cfg.BackendURL, "Backend base URL")
	fs.StringVar(&opts.Config.StateDSN, "state", cfg.StateDSN, "Client state store (memory:, sqlite path, redis:// or postgres://)")
	fs.StringVar(&opts.Config.LogLevel, "log-level", cfg.LogLevel, "Log level")
	fs.DurationVar(&opts.Config.RequestTimeout, "timeout", cfg.RequestTimeout, "Per-request timeout")
	fs.StringVar(&opts.Next, "next", "", "Route to open after signing in")
	if err := fs.Parse(args); err != nil {
		return Options{}, nil, err
	}
	opts.Config.LogLevel = strings.ToLower(opts.Config.LogLevel)
	if err := opts.Config.Validate(); err != nil {
		return Options{}, nil, err
	}
	return opts, fs.Args(), nil
}

func envValue(lookup EnvLookup, key string) (string, bool) {
	if lookup == nil {
		return "", false
	}
	v, ok := lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func defaultStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "respawn-arena", "state.db")
}
