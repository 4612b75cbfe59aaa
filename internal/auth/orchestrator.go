// Package auth owns the application-wide authentication state. Every login
// flow's success becomes visible only through Orchestrator.Commit.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/respawn-arena/arena_auth/internal/autherr"
	"github.com/respawn-arena/arena_auth/internal/identity"
	"github.com/respawn-arena/arena_auth/internal/logging"
)

// ErrDiscarded is returned when a result arrives after its initiator went
// away. Nothing is persisted or published.
var ErrDiscarded = errors.New("session result discarded")

// SessionStore persists the session across restarts.
type SessionStore interface {
	Load(ctx context.Context) identity.AuthState
	// Stage scopes the session material a login attempt receives to the
	// returned ctx. It reaches shared storage only through Commit.
	Stage(ctx context.Context) context.Context
	Commit(ctx context.Context, user identity.User, role identity.Role, token string) error
	Clear(ctx context.Context) error
	FallbackToken(ctx context.Context) (string, error)
}

// Revoker tells the backend to end its side of a session.
type Revoker interface {
	Logout(ctx context.Context, bearer string) error
}

// Subscriber receives every published state in commit order. It runs while
// the commit lock is held, so it must not call Commit, Logout or
// Initialize synchronously.
type Subscriber func(identity.AuthState)

// Orchestrator is the single authority over AuthState.
type Orchestrator struct {
	store   SessionStore
	revoker Revoker
	logger  *slog.Logger

	commitMu sync.Mutex
	initOnce sync.Once

	stateMu sync.RWMutex
	state   identity.AuthState

	subsMu sync.Mutex
	subs   []subscription
	nextID uint64
}

type subscription struct {
	id uint64
	fn Subscriber
}

// New builds an orchestrator in the loading state. revoker may be nil.
func New(store SessionStore, revoker Revoker, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:   store,
		revoker: revoker,
		logger:  logging.OrDiscard(logger),
		state:   identity.Loading(),
	}
}

// State returns a copy of the current state.
func (o *Orchestrator) State() identity.AuthState {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	return o.state.Clone()
}

// Subscribe registers fn and returns a function that removes it.
// Subscribers are notified in the order they subscribed.
func (o *Orchestrator) Subscribe(fn Subscriber) func() {
	o.subsMu.Lock()
	id := o.nextID
	o.nextID++
	o.subs = append(o.subs, subscription{id: id, fn: fn})
	o.subsMu.Unlock()
	return func() {
		o.subsMu.Lock()
		defer o.subsMu.Unlock()
		for i, sub := range o.subs {
			if sub.id == id {
				o.subs = append(o.subs[:i:i], o.subs[i+1:]...)
				return
			}
		}
	}
}

// publishLocked swaps the state and notifies subscribers. commitMu must be held.
func (o *Orchestrator) publishLocked(next identity.AuthState) {
	o.stateMu.Lock()
	o.state = next.Clone()
	o.stateMu.Unlock()

	o.subsMu.Lock()
	subs := make([]Subscriber, 0, len(o.subs))
	for _, sub := range o.subs {
		subs = append(subs, sub.fn)
	}
	o.subsMu.Unlock()

	for _, fn := range subs {
		fn(next.Clone())
	}
}

// Initialize loads the persisted session. Only the first call does any
// work; later calls return the current state.
func (o *Orchestrator) Initialize(ctx context.Context) identity.AuthState {
	o.initOnce.Do(func() {
		o.commitMu.Lock()
		defer o.commitMu.Unlock()
		next := o.store.Load(ctx)
		next.IsLoading = false
		o.publishLocked(next)
		o.logger.Info("auth state initialized", slog.Bool("authenticated", next.IsAuthenticated), slog.String("role", string(next.Role)))
	})
	return o.State()
}

// Commit makes a flow's result the application-wide session. Commits are
// applied one at a time in arrival order and replace the previous state
// wholesale. A result whose ctx is already done is discarded.
func (o *Orchestrator) Commit(ctx context.Context, res identity.SessionResult) (identity.AuthState, error) {
	o.commitMu.Lock()
	defer o.commitMu.Unlock()

	if err := ctx.Err(); err != nil {
		o.logger.Debug("discarding late session result", slog.String("method", string(res.Method)))
		return o.State(), fmt.Errorf("%w: %v", ErrDiscarded, err)
	}
	if !res.User.Valid() {
		return o.State(), autherr.New(autherr.KindServerError, "", fmt.Errorf("session result without a usable user"))
	}

	user := res.User
	user.Role = res.Role
	// Persist and publish as one step even if ctx is cancelled from here on.
	if err := o.store.Commit(context.WithoutCancel(ctx), user, res.Role, res.Token); err != nil {
		o.logger.Error("commit session", slog.Any("error", err))
		return o.State(), autherr.New(autherr.KindServerError, "Could not save your session, please try again", err)
	}
	next := identity.Authenticated(user, res.Role)
	o.publishLocked(next)
	o.logger.Info("session committed",
		slog.String("user_id", user.ID),
		slog.String("role", string(res.Role)),
		slog.String("method", string(res.Method)),
	)
	return next.Clone(), nil
}

// Authenticate runs a login strategy and commits its result. Flow errors and
// discarded results leave the shared state and the cookie channel untouched.
func (o *Orchestrator) Authenticate(ctx context.Context, s Strategy) (identity.AuthState, error) {
	ctx = o.store.Stage(ctx)
	res, err := s.Authenticate(ctx)
	if err != nil {
		return o.State(), err
	}
	return o.Commit(ctx, res)
}

// Logout ends the session on both channels. Calling it while logged out is
// harmless.
func (o *Orchestrator) Logout(ctx context.Context) error {
	o.commitMu.Lock()
	defer o.commitMu.Unlock()

	token, err := o.store.FallbackToken(ctx)
	if err != nil {
		o.logger.Warn("read fallback token", slog.Any("error", err))
	}
	o.stateMu.RLock()
	wasAuthenticated := o.state.IsAuthenticated
	o.stateMu.RUnlock()

	if o.revoker != nil && (wasAuthenticated || token != "") {
		if err := o.revoker.Logout(ctx, token); err != nil {
			o.logger.Warn("backend logout failed", slog.Any("error", err))
		}
	}

	clearErr := o.store.Clear(context.WithoutCancel(ctx))
	if clearErr != nil {
		o.logger.Error("clear session", slog.Any("error", clearErr))
	}
	o.publishLocked(identity.Anonymous())
	o.logger.Info("logged out", slog.Bool("was_authenticated", wasAuthenticated))
	return clearErr
}
