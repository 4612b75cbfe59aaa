// Package cli is the terminal front end of the auth client. It picks a
// login strategy per subcommand and hands it to the orchestrator.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/respawn-arena/arena_auth/internal/auth"
	"github.com/respawn-arena/arena_auth/internal/backend"
	"github.com/respawn-arena/arena_auth/internal/credential"
	"github.com/respawn-arena/arena_auth/internal/federated"
	"github.com/respawn-arena/arena_auth/internal/logging"
	"github.com/respawn-arena/arena_auth/internal/otp"
	"github.com/respawn-arena/arena_auth/internal/redirect"
	"github.com/respawn-arena/arena_auth/internal/session"
)

// stateNamespace scopes persisted keys when one store serves several apps.
const stateNamespace = "arena-auth"

// App holds one client session and the flows that can produce it.
type App struct {
	opts   Options
	logger *slog.Logger
	in     io.Reader
	out    io.Writer

	kv          session.KV
	client      *backend.Client
	orch        *auth.Orchestrator
	credentials *credential.Flow
	otp         *otp.Flow
	federated   *federated.Flow
	resolver    *redirect.Resolver
	guard       *redirect.Guard
}

// Option customises an App.
type Option func(*appOptions)

type appOptions struct {
	transport http.RoundTripper
	kv        session.KV
}

// WithTransport sets the HTTP transport used to reach the backend.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *appOptions) { o.transport = rt }
}

// WithKV uses kv instead of opening the configured state DSN. The App
// does not close it.
func WithKV(kv session.KV) Option {
	return func(o *appOptions) { o.kv = kv }
}

// New wires the client. Close releases the state store.
func New(ctx context.Context, opts Options, in io.Reader, out io.Writer, logger *slog.Logger, options ...Option) (*App, error) {
	var ao appOptions
	for _, o := range options {
		o(&ao)
	}
	logger = logging.OrDiscard(logger)
	cfg := opts.Config

	kv := ao.kv
	owned := false
	if kv == nil {
		var err error
		kv, err = session.OpenKV(ctx, cfg.StateDSN, stateNamespace)
		if err != nil {
			return nil, fmt.Errorf("open client state: %w", err)
		}
		owned = true
	}

	jar := session.NewJar()
	clientOpts := []backend.Option{backend.WithTimeout(cfg.RequestTimeout), backend.WithLogger(logger)}
	if ao.transport != nil {
		clientOpts = append(clientOpts, backend.WithTransport(ao.transport))
	}
	client, err := backend.New(cfg.BackendURL, jar, clientOpts...)
	if err != nil {
		if owned {
			_ = kv.Close()
		}
		return nil, err
	}

	routes := redirect.Routes{Home: cfg.HomeRoute, Admin: cfg.AdminRoute, Login: cfg.LoginRoute}
	resolver := redirect.NewResolver(routes, nil)
	guard, err := redirect.NewGuard(routes, resolver.Pending())
	if err != nil {
		if owned {
			_ = kv.Close()
		}
		return nil, err
	}

	store := session.NewStore(kv, jar, client.BaseURL(), client, logger)
	a := &App{
		opts:        opts,
		logger:      logger,
		in:          in,
		out:         &syncWriter{w: out},
		client:      client,
		orch:        auth.New(store, client, logger),
		credentials: credential.NewFlow(client, false, logger),
		otp:         otp.NewFlow(client, otp.Options{TTL: cfg.OTPTTL, MaxAttempts: cfg.OTPMaxAttempts, Logger: logger}),
		federated:   federated.NewFlow(client, logger),
		resolver:    resolver,
		guard:       guard,
	}
	if owned {
		a.kv = kv
	}
	return a, nil
}

// Close releases the state store if the App opened it.
func (a *App) Close() error {
	if a.kv == nil {
		return nil
	}
	return a.kv.Close()
}

// Orchestrator exposes the auth state owner, mainly for embedding programs.
func (a *App) Orchestrator() *auth.Orchestrator { return a.orch }

// BackendOrigin is the origin whose cookies make up the session.
func (a *App) BackendOrigin() *url.URL { return a.client.BaseURL() }

// syncWriter serialises writes from the countdown goroutine and the
// command loop.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
