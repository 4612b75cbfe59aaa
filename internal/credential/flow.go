// Package credential implements the password login and signup flows.
package credential

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/respawn-arena/arena_auth/internal/autherr"
	"github.com/respawn-arena/arena_auth/internal/backend"
	"github.com/respawn-arena/arena_auth/internal/identity"
	"github.com/respawn-arena/arena_auth/internal/logging"
)

// API is the slice of the backend the flow needs.
type API interface {
	Login(ctx context.Context, req backend.LoginRequest) (backend.SessionPayload, error)
	Signup(ctx context.Context, req backend.SignupRequest) (backend.SessionPayload, error)
}

// Flow exchanges passwords for sessions. It never touches shared state.
type Flow struct {
	api          API
	requirePhone bool
	logger       *slog.Logger
}

// NewFlow builds a credential flow. requirePhone selects the signup variant
// that asks for a phone number.
func NewFlow(api API, requirePhone bool, logger *slog.Logger) *Flow {
	return &Flow{api: api, requirePhone: requirePhone, logger: logging.OrDiscard(logger)}
}

// Login authenticates a customer by email or phone.
func (f *Flow) Login(ctx context.Context, identifier, password string) (identity.SessionResult, error) {
	identifier = strings.TrimSpace(identifier)
	if err := requireFields(identifier, password, "identifier"); err != nil {
		return identity.SessionResult{}, err
	}
	return f.login(ctx, backend.LoginRequest{Identifier: identifier, Password: password})
}

// AdminLogin authenticates staff by username.
func (f *Flow) AdminLogin(ctx context.Context, username, password string) (identity.SessionResult, error) {
	username = strings.TrimSpace(username)
	if err := requireFields(username, password, "username"); err != nil {
		return identity.SessionResult{}, err
	}
	return f.login(ctx, backend.LoginRequest{Username: username, Password: password})
}

func requireFields(id, password, field string) error {
	if id == "" {
		return autherr.Validation(field, "Please fill in all fields")
	}
	if password == "" {
		return autherr.Validation("password", "Please fill in all fields")
	}
	return nil
}

func (f *Flow) login(ctx context.Context, req backend.LoginRequest) (identity.SessionResult, error) {
	payload, err := f.api.Login(ctx, req)
	if err != nil {
		cerr := classify(err)
		f.logger.Info("login rejected", slog.String("kind", string(autherr.KindOf(cerr))))
		return identity.SessionResult{}, cerr
	}
	res, err := payload.Session(identity.MethodPassword)
	if err != nil {
		return identity.SessionResult{}, autherr.New(autherr.KindServerError, "", err)
	}
	return res, nil
}

// Signup validates the profile locally and only then registers it.
func (f *Flow) Signup(ctx context.Context, p identity.SignupProfile) (identity.SessionResult, error) {
	if err := identity.ValidateSignup(p, f.requirePhone); err != nil {
		return identity.SessionResult{}, err
	}
	payload, err := f.api.Signup(ctx, backend.SignupRequest{
		Name:     strings.TrimSpace(p.Name),
		Email:    strings.TrimSpace(p.Email),
		Password: p.Password,
		Phone:    p.Phone,
	})
	if err != nil {
		return identity.SessionResult{}, classifySignup(err)
	}
	res, err := payload.Session(identity.MethodSignup)
	if err != nil {
		return identity.SessionResult{}, autherr.New(autherr.KindServerError, "", err)
	}
	res.IsNewUser = true
	return res, nil
}

// classify maps a backend outcome onto the credential taxonomy: no response
// is a network failure, an explicit rejection below 500 is bad credentials,
// anything else is a server error.
func classify(err error) error {
	var se *backend.StatusError
	switch {
	case errors.Is(err, backend.ErrTransport):
		return autherr.New(autherr.KindNetworkFailure, "", err)
	case errors.As(err, &se) && se.Status < http.StatusInternalServerError:
		return autherr.New(autherr.KindInvalidCredentials, se.Message, err)
	default:
		return autherr.New(autherr.KindServerError, "", err)
	}
}

// classifySignup keeps the backend's message (for example "email already
// registered") but reports it as a server-side rejection.
func classifySignup(err error) error {
	var se *backend.StatusError
	if errors.As(err, &se) && se.Status < http.StatusInternalServerError {
		return autherr.New(autherr.KindServerError, se.Message, err)
	}
	return classify(err)
}
