// Package federated exchanges an identity-provider credential for an
// application session. The credential is opaque here; verifying it is the
// backend's job.
package federated

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/respawn-arena/arena_auth/internal/autherr"
	"github.com/respawn-arena/arena_auth/internal/backend"
	"github.com/respawn-arena/arena_auth/internal/identity"
	"github.com/respawn-arena/arena_auth/internal/logging"
)

// API is the slice of the backend the flow needs.
type API interface {
	GoogleLogin(ctx context.Context, credential string) (backend.SessionPayload, error)
}

// Flow performs the token exchange.
type Flow struct {
	api    API
	logger *slog.Logger
}

// NewFlow builds a federated flow.
func NewFlow(api API, logger *slog.Logger) *Flow {
	return &Flow{api: api, logger: logging.OrDiscard(logger)}
}

// Exchange forwards credential to the backend. Every failure, network or
// rejection, is reported as a federated auth failure.
func (f *Flow) Exchange(ctx context.Context, credential string) (identity.SessionResult, error) {
	if strings.TrimSpace(credential) == "" {
		return identity.SessionResult{}, autherr.Validation("credential", "Google sign-in did not return a credential")
	}
	payload, err := f.api.GoogleLogin(ctx, credential)
	if err != nil {
		msg := ""
		var se *backend.StatusError
		if errors.As(err, &se) {
			msg = se.Message
		}
		f.logger.Info("federated exchange failed", slog.Any("error", err))
		return identity.SessionResult{}, autherr.New(autherr.KindFederatedAuthFailed, msg, err)
	}
	res, err := payload.Session(identity.MethodFederated)
	if err != nil {
		return identity.SessionResult{}, autherr.New(autherr.KindFederatedAuthFailed, "", err)
	}
	f.logger.Info("federated exchange completed",
		slog.Bool("new_user", res.IsNewUser),
		slog.Bool("fallback_token", res.Token != ""),
	)
	return res, nil
}
