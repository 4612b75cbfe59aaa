// Package otp drives the phone one-time-passcode login as a small state
// machine. Its state is private to the view running it; only the
// SessionResult of a successful verification leaves the package.
package otp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/respawn-arena/arena_auth/internal/autherr"
	"github.com/respawn-arena/arena_auth/internal/backend"
	"github.com/respawn-arena/arena_auth/internal/identity"
	"github.com/respawn-arena/arena_auth/internal/logging"
)

const (
	DefaultTTL         = 300 * time.Second
	DefaultMaxAttempts = 5
	expiredCode        = "otp_expired"
)

// ErrRestarted is returned by a verification whose flow was restarted while
// the exchange was in flight. Its result is discarded.
var ErrRestarted = errors.New("otp flow restarted")

// State is a step of the OTP state machine.
type State int

const (
	StateIdle State = iota
	StateRequested
	StateVerifying
	StateAuthenticated
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequested:
		return "requested"
	case StateVerifying:
		return "verifying"
	case StateAuthenticated:
		return "authenticated"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Challenge is the live passcode request for one phone.
type Challenge struct {
	Phone             string
	IssuedAt          time.Time
	TTL               time.Duration
	AttemptsRemaining int
}

// ExpiresAt is the instant the challenge stops being verifiable.
func (c Challenge) ExpiresAt() time.Time { return c.IssuedAt.Add(c.TTL) }

// Remaining is TTL minus elapsed time, never negative.
func (c Challenge) Remaining(now time.Time) time.Duration {
	left := c.ExpiresAt().Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// API is the slice of the backend the flow needs.
type API interface {
	SendOTP(ctx context.Context, phone string) error
	VerifyOTP(ctx context.Context, req backend.VerifyOTPRequest) (backend.SessionPayload, error)
}

// Options tune a Flow. Zero values select the defaults.
type Options struct {
	TTL         time.Duration
	MaxAttempts int
	Clock       func() time.Time
	Logger      *slog.Logger
}

// Flow is one OTP login attempt. It is safe for concurrent use; at most one
// network exchange runs at a time.
type Flow struct {
	api         API
	ttl         time.Duration
	maxAttempts int
	now         func() time.Time
	logger      *slog.Logger

	mu        sync.Mutex
	state     State
	challenge *Challenge
	phone     string
	sending   bool
	gen       uint64
}

// NewFlow builds an idle flow.
func NewFlow(api API, opts Options) *Flow {
	f := &Flow{
		api:         api,
		ttl:         opts.TTL,
		maxAttempts: opts.MaxAttempts,
		now:         opts.Clock,
		logger:      logging.OrDiscard(opts.Logger),
	}
	if f.ttl <= 0 {
		f.ttl = DefaultTTL
	}
	if f.maxAttempts <= 0 {
		f.maxAttempts = DefaultMaxAttempts
	}
	if f.now == nil {
		f.now = time.Now
	}
	return f
}

// expireLocked moves a lapsed challenge to Expired. f.mu must be held.
func (f *Flow) expireLocked() {
	if f.state == StateRequested && f.challenge != nil && !f.now().Before(f.challenge.ExpiresAt()) {
		f.state = StateExpired
		f.challenge = nil
		f.logger.Info("otp challenge expired")
	}
}

// State reports the current step.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expireLocked()
	return f.state
}

// Challenge returns the live challenge, if any.
func (f *Flow) Challenge() (Challenge, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expireLocked()
	if f.challenge == nil {
		return Challenge{}, false
	}
	return *f.challenge, true
}

// Remaining is the advisory countdown for the live challenge.
func (f *Flow) Remaining() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expireLocked()
	if f.challenge == nil {
		return 0
	}
	return f.challenge.Remaining(f.now())
}

// Request asks the backend to send a code to phone. It is only valid from
// Idle or Expired.
func (f *Flow) Request(ctx context.Context, phone string) error {
	phone = strings.TrimSpace(phone)
	f.mu.Lock()
	f.expireLocked()
	if f.sending || (f.state != StateIdle && f.state != StateExpired) {
		f.mu.Unlock()
		return autherr.Validation("otp", "A code has already been sent, wait for it to expire or start over")
	}
	if err := identity.ValidatePhone(phone); err != nil {
		f.mu.Unlock()
		return err
	}
	f.sending = true
	gen := f.gen
	f.mu.Unlock()

	err := f.api.SendOTP(ctx, phone)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.sending = false
	if gen != f.gen {
		return ErrRestarted
	}
	if err != nil {
		f.logger.Info("otp request failed", slog.Any("error", err))
		return classifySend(err)
	}
	f.phone = phone
	f.challenge = &Challenge{Phone: phone, IssuedAt: f.now(), TTL: f.ttl, AttemptsRemaining: f.maxAttempts}
	f.state = StateRequested
	f.logger.Info("otp challenge issued", slog.Duration("ttl", f.ttl))
	return nil
}

// Resend issues a fresh code to the same phone. The countdown is the only
// gate: before expiry the call is rejected without a network round trip.
func (f *Flow) Resend(ctx context.Context) error {
	f.mu.Lock()
	f.expireLocked()
	if f.state != StateExpired || f.phone == "" {
		f.mu.Unlock()
		return autherr.Validation("otp", "You can resend the code once the timer runs out")
	}
	phone := f.phone
	f.mu.Unlock()
	return f.Request(ctx, phone)
}

// Restart drops the local challenge and returns to Idle. An exchange in
// flight finishes with ErrRestarted.
func (f *Flow) Restart() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gen++
	f.state = StateIdle
	f.challenge = nil
	f.phone = ""
}

// Verify answers the live challenge. displayName is forwarded for first-time
// registrations of the phone and ignored by the backend otherwise.
func (f *Flow) Verify(ctx context.Context, code, displayName string) (identity.SessionResult, error) {
	code = strings.TrimSpace(code)
	f.mu.Lock()
	f.expireLocked()
	switch f.state {
	case StateExpired:
		f.mu.Unlock()
		return identity.SessionResult{}, autherr.New(autherr.KindOtpExpired, "", nil)
	case StateRequested:
	default:
		f.mu.Unlock()
		return identity.SessionResult{}, autherr.Validation("otp", "Request a code first")
	}
	if err := identity.ValidateOTP(code); err != nil {
		f.mu.Unlock()
		return identity.SessionResult{}, err
	}
	f.state = StateVerifying
	phone, gen := f.challenge.Phone, f.gen
	f.mu.Unlock()

	payload, err := f.api.VerifyOTP(ctx, backend.VerifyOTPRequest{Phone: phone, OTP: code, Name: strings.TrimSpace(displayName)})

	f.mu.Lock()
	defer f.mu.Unlock()
	if gen != f.gen {
		return identity.SessionResult{}, ErrRestarted
	}
	if err != nil {
		return identity.SessionResult{}, f.rejectLocked(ctx, err)
	}
	res, err := payload.Session(identity.MethodOTP)
	if err != nil {
		f.state = StateRequested
		return identity.SessionResult{}, autherr.New(autherr.KindServerError, "", err)
	}
	f.state = StateAuthenticated
	f.challenge = nil
	f.logger.Info("otp verified", slog.Bool("new_user", res.IsNewUser))
	return res, nil
}

// rejectLocked settles the state after a failed verification. f.mu must be held.
func (f *Flow) rejectLocked(ctx context.Context, err error) error {
	f.state = StateRequested
	var se *backend.StatusError
	switch {
	case ctx.Err() != nil, errors.Is(err, backend.ErrTransport):
		f.expireLocked()
		return autherr.New(autherr.KindNetworkFailure, "", err)
	case errors.As(err, &se) && (se.Code == expiredCode || se.Status == http.StatusGone):
		f.state = StateExpired
		f.challenge = nil
		return autherr.New(autherr.KindOtpExpired, se.Message, err)
	case errors.As(err, &se) && se.Status < http.StatusInternalServerError:
		if se.AttemptsRemaining != nil {
			f.challenge.AttemptsRemaining = max(*se.AttemptsRemaining, 0)
		} else if f.challenge.AttemptsRemaining > 0 {
			f.challenge.AttemptsRemaining--
		}
		f.logger.Info("otp mismatch", slog.Int("attempts_remaining", f.challenge.AttemptsRemaining))
		if f.challenge.AttemptsRemaining == 0 {
			f.state = StateExpired
			f.challenge = nil
			return autherr.New(autherr.KindOtpMismatch, "Too many incorrect attempts, request a new code", err)
		}
		f.expireLocked()
		return autherr.New(autherr.KindOtpMismatch, se.Message, err)
	default:
		f.expireLocked()
		return autherr.New(autherr.KindServerError, "", err)
	}
}

func classifySend(err error) error {
	var se *backend.StatusError
	switch {
	case errors.Is(err, backend.ErrTransport):
		return autherr.New(autherr.KindNetworkFailure, "", err)
	case errors.As(err, &se) && se.Status < http.StatusInternalServerError:
		return autherr.New(autherr.KindServerError, se.Message, err)
	default:
		return autherr.New(autherr.KindServerError, "", err)
	}
}
