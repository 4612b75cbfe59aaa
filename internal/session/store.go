// Package session persists the authenticated identity across restarts over
// two channels: the backend's session cookie (authoritative) and a fallback
// token kept in client storage for environments that drop the cookie.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/respawn-arena/arena_auth/internal/backend"
	"github.com/respawn-arena/arena_auth/internal/identity"
	"github.com/respawn-arena/arena_auth/internal/logging"
)

// Checker validates a session against the backend.
type Checker interface {
	Check(ctx context.Context, bearer string) (backend.CheckPayload, error)
}

// Store is the only component that touches persisted identity material.
type Store struct {
	kv      KV
	jar     *Jar
	origin  *url.URL
	checker Checker
	logger  *slog.Logger
}

// NewStore wires a store. origin is the backend URL whose cookies form the
// cookie channel.
func NewStore(kv KV, jar *Jar, origin *url.URL, checker Checker, logger *slog.Logger) *Store {
	return &Store{kv: kv, jar: jar, origin: origin, checker: checker, logger: logging.OrDiscard(logger)}
}

// Load reconstructs the session at startup. The cookie channel is tried
// first; the fallback token is only used when the cookie check does not
// yield an authenticated session.
func (s *Store) Load(ctx context.Context) identity.AuthState {
	rec, err := s.kv.Get(ctx, allKeys...)
	if err != nil {
		s.logger.Warn("read persisted session", slog.Any("error", err))
		rec = map[string]string{}
	}
	if err := s.jar.Restore(s.origin, rec[KeyCookies]); err != nil {
		s.logger.Warn("restore cookie snapshot", slog.Any("error", err))
	}

	payload, err := s.checker.Check(ctx, "")
	if err == nil {
		if state, ok := toState(payload, rec[KeyRole]); ok {
			s.logger.Debug("session restored", slog.String("channel", "cookie"))
			return state
		}
	} else {
		s.logger.Info("cookie session check failed", slog.Any("error", err))
	}

	token := rec[KeyToken]
	if token == "" {
		return identity.Anonymous()
	}

	payload, err = s.checker.Check(ctx, token)
	if err != nil && !refused(err) {
		s.logger.Info("fallback session check failed", slog.Any("error", err))
		return identity.Anonymous()
	}
	state, ok := toState(payload, rec[KeyRole])
	if err != nil || !ok {
		if err := s.kv.Update(ctx, nil, allKeys); err != nil {
			s.logger.Warn("drop stale fallback token", slog.Any("error", err))
		}
		return identity.Anonymous()
	}
	s.logger.Debug("session restored", slog.String("channel", "fallback"))
	return state
}

// refused reports whether the backend explicitly turned the token down, as
// opposed to being unreachable or failing on its side.
func refused(err error) bool {
	var se *backend.StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.Status >= 400 && se.Status < 500 && se.Status != http.StatusTooManyRequests && se.Status != http.StatusRequestTimeout
}

func toState(p backend.CheckPayload, persistedRole string) (identity.AuthState, bool) {
	if !p.Authenticated || p.User == nil {
		return identity.AuthState{}, false
	}
	user := p.User.User()
	if !user.Valid() {
		return identity.AuthState{}, false
	}
	raw := p.Role
	if raw == "" {
		raw = p.User.Role
	}
	if raw == "" {
		raw = persistedRole
	}
	role := identity.ParseRole(raw)
	user.Role = role
	return identity.Authenticated(user, role), true
}

// Stage returns a ctx whose backend requests collect cookies privately. Only
// a Commit made with that ctx moves them into the shared jar, so an abandoned
// login leaves no cookie behind.
func (s *Store) Stage(ctx context.Context) context.Context {
	return backend.WithCookieJar(ctx, s.jar.Stage())
}

// Commit persists the session unit. The fallback token is only written when
// the backend issued one; otherwise any older token is removed in the same
// unit so two sessions never mix.
func (s *Store) Commit(ctx context.Context, user identity.User, role identity.Role, token string) error {
	set := map[string]string{
		KeyLoggedIn: "true",
		KeyRole:     string(role),
	}
	var remove []string
	if token != "" {
		set[KeyToken] = token
	} else {
		remove = append(remove, KeyToken)
	}

	var src cookieSource = s.jar
	staged, _ := backend.CookieJarFrom(ctx).(*Staged)
	if staged != nil && staged.base == s.jar {
		src = staged
	} else {
		staged = nil
	}
	snap, err := encodeSnapshot(src, s.origin)
	if err != nil {
		return err
	}
	if snap != "" {
		set[KeyCookies] = snap
	} else {
		remove = append(remove, KeyCookies)
	}

	if err := s.kv.Update(ctx, set, remove); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	if staged != nil {
		staged.merge()
	}
	s.logger.Debug("session persisted",
		slog.String("user_id", user.ID),
		slog.String("role", string(role)),
		slog.Bool("fallback_token", token != ""),
	)
	return nil
}

// FallbackToken returns the persisted fallback token, if any.
func (s *Store) FallbackToken(ctx context.Context) (string, error) {
	rec, err := s.kv.Get(ctx, KeyToken)
	if err != nil {
		return "", fmt.Errorf("read fallback token: %w", err)
	}
	return rec[KeyToken], nil
}

// Clear removes identity material from both channels. It is idempotent.
func (s *Store) Clear(ctx context.Context) error {
	s.jar.Reset()
	if err := s.kv.Update(ctx, nil, allKeys); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}
