package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/respawn-arena/arena_auth/internal/autherr"
	"github.com/respawn-arena/arena_auth/internal/backend"
	"github.com/respawn-arena/arena_auth/internal/identity"
	"github.com/respawn-arena/arena_auth/internal/logging"
	"github.com/respawn-arena/arena_auth/internal/session"
)

type fakeStore struct {
	mu       sync.Mutex
	loads    int
	loaded   identity.AuthState
	commits  []identity.User
	tokens   []string
	token    string
	clears   int
	inFlight int32
	overlap  atomic.Bool
	delay    time.Duration
}

func (s *fakeStore) Load(context.Context) identity.AuthState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	return s.loaded
}

func (s *fakeStore) Stage(ctx context.Context) context.Context { return ctx }

func (s *fakeStore) Commit(_ context.Context, user identity.User, _ identity.Role, token string) error {
	if atomic.AddInt32(&s.inFlight, 1) > 1 {
		s.overlap.Store(true)
	}
	defer atomic.AddInt32(&s.inFlight, -1)
	time.Sleep(s.delay)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits = append(s.commits, user)
	s.tokens = append(s.tokens, token)
	s.token = token
	return nil
}

func (s *fakeStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clears++
	s.token = ""
	return nil
}

func (s *fakeStore) FallbackToken(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, nil
}

type fakeRevoker struct {
	mu      sync.Mutex
	bearers []string
	err     error
}

func (r *fakeRevoker) Logout(_ context.Context, bearer string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bearers = append(r.bearers, bearer)
	return r.err
}

func result(id, email string, role identity.Role, token string, method identity.Method) identity.SessionResult {
	return identity.SessionResult{
		User:   identity.User{ID: id, Name: "Player " + id, Email: email},
		Role:   role,
		Token:  token,
		Method: method,
	}
}

func TestNewOrchestratorStartsLoading(t *testing.T) {
	o := New(&fakeStore{}, nil, logging.Discard())
	if st := o.State(); !st.IsLoading || st.IsAuthenticated {
		t.Fatalf("expected loading state, got %+v", st)
	}
}

func TestInitializeRunsOnce(t *testing.T) {
	store := &fakeStore{loaded: identity.Authenticated(identity.User{ID: "u1", Email: "a@b.co"}, identity.RoleCustomer)}
	o := New(store, nil, logging.Discard())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.Initialize(context.Background())
		}()
	}
	wg.Wait()

	if store.loads != 1 {
		t.Fatalf("expected a single load, got %d", store.loads)
	}
	st := o.State()
	if st.IsLoading || !st.IsAuthenticated || st.User.ID != "u1" {
		t.Fatalf("unexpected state %+v", st)
	}
}

func TestInitializeSettlesWithoutSession(t *testing.T) {
	o := New(&fakeStore{loaded: identity.Anonymous()}, nil, logging.Discard())
	st := o.Initialize(context.Background())
	if st.IsLoading || st.IsAuthenticated || st.User != nil {
		t.Fatalf("expected settled anonymous state, got %+v", st)
	}
}

func TestCommitIsIdempotent(t *testing.T) {
	o := New(&fakeStore{}, nil, logging.Discard())
	ctx := context.Background()
	res := result("u1", "ada@example.com", identity.RoleCustomer, "tok", identity.MethodPassword)

	first, err := o.Commit(ctx, res)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	second, err := o.Commit(ctx, res)
	if err != nil {
		t.Fatalf("commit again: %v", err)
	}
	if !first.Equal(second) || !second.Equal(o.State()) {
		t.Fatalf("states differ: %+v vs %+v", first, second)
	}
}

func TestCommitStampsRoleOnUser(t *testing.T) {
	o := New(&fakeStore{}, nil, logging.Discard())
	st, err := o.Commit(context.Background(), result("a1", "boss@example.com", identity.RoleAdmin, "", identity.MethodPassword))
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if st.Role != identity.RoleAdmin || st.User.Role != identity.RoleAdmin {
		t.Fatalf("expected admin on state and user, got %+v / %+v", st.Role, st.User.Role)
	}
}

func TestConcurrentFlowsLastCommitWins(t *testing.T) {
	store := &fakeStore{delay: 10 * time.Millisecond}
	o := New(store, nil, logging.Discard())
	o.Initialize(context.Background())

	credential := StrategyFunc(func(context.Context) (identity.SessionResult, error) {
		return result("cred-user", "cred@example.com", identity.RoleCustomer, "cred-token", identity.MethodPassword), nil
	})
	federated := StrategyFunc(func(context.Context) (identity.SessionResult, error) {
		r := result("fed-user", "", identity.RoleAdmin, "", identity.MethodFederated)
		r.User.Phone = "0123456789"
		return r, nil
	})

	var wg sync.WaitGroup
	for _, s := range []Strategy{credential, federated} {
		wg.Add(1)
		go func(s Strategy) {
			defer wg.Done()
			if _, err := o.Authenticate(context.Background(), s); err != nil {
				t.Errorf("authenticate: %v", err)
			}
		}(s)
	}
	wg.Wait()

	if store.overlap.Load() {
		t.Fatal("commits interleaved")
	}
	if len(store.commits) != 2 {
		t.Fatalf("expected two commits, got %d", len(store.commits))
	}
	last := store.commits[1]
	st := o.State()
	if *st.User != last {
		t.Fatalf("final user %+v is not the last commit %+v", *st.User, last)
	}
	if st.Role != last.Role {
		t.Fatalf("role %q does not match last commit %q", st.Role, last.Role)
	}
}

func TestCommitAfterCancelIsDiscarded(t *testing.T) {
	store := &fakeStore{}
	o := New(store, nil, logging.Discard())
	o.Initialize(context.Background())

	var published int
	o.Subscribe(func(identity.AuthState) { published++ })

	ctx, cancel := context.WithCancel(context.Background())
	late := StrategyFunc(func(context.Context) (identity.SessionResult, error) {
		cancel()
		return result("late", "late@example.com", identity.RoleCustomer, "late-token", identity.MethodOTP), nil
	})

	st, err := o.Authenticate(ctx, late)
	if !errors.Is(err, ErrDiscarded) {
		t.Fatalf("expected ErrDiscarded, got %v", err)
	}
	if st.IsAuthenticated || o.State().IsAuthenticated {
		t.Fatal("discarded result became visible")
	}
	if len(store.commits) != 0 || published != 0 {
		t.Fatalf("discarded result had side effects: commits=%d published=%d", len(store.commits), published)
	}
}

func TestFlowErrorLeavesStateUntouched(t *testing.T) {
	store := &fakeStore{}
	o := New(store, nil, logging.Discard())
	ctx := context.Background()
	if _, err := o.Commit(ctx, result("u1", "ada@example.com", identity.RoleCustomer, "", identity.MethodPassword)); err != nil {
		t.Fatalf("commit: %v", err)
	}
	before := o.State()

	failing := StrategyFunc(func(context.Context) (identity.SessionResult, error) {
		return identity.SessionResult{}, autherr.New(autherr.KindInvalidCredentials, "", nil)
	})
	if _, err := o.Authenticate(ctx, failing); !errors.Is(err, autherr.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if !before.Equal(o.State()) {
		t.Fatalf("state changed after a failed flow")
	}
}

func TestCommitRejectsIncompleteUser(t *testing.T) {
	store := &fakeStore{}
	o := New(store, nil, logging.Discard())
	_, err := o.Commit(context.Background(), identity.SessionResult{User: identity.User{ID: "x"}, Role: identity.RoleCustomer})
	if autherr.KindOf(err) != autherr.KindServerError {
		t.Fatalf("expected server error, got %v", err)
	}
	if len(store.commits) != 0 {
		t.Fatal("incomplete user was persisted")
	}
}

func TestSubscribersSeeEveryStateInOrder(t *testing.T) {
	o := New(&fakeStore{loaded: identity.Anonymous()}, nil, logging.Discard())
	ctx := context.Background()

	var seen []identity.AuthState
	unsubscribe := o.Subscribe(func(st identity.AuthState) { seen = append(seen, st) })

	o.Initialize(ctx)
	if _, err := o.Commit(ctx, result("u1", "ada@example.com", identity.RoleCustomer, "", identity.MethodSignup)); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := o.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	unsubscribe()
	if _, err := o.Commit(ctx, result("u2", "bob@example.com", identity.RoleCustomer, "", identity.MethodSignup)); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if len(seen) != 3 {
		t.Fatalf("expected 3 notifications, got %d", len(seen))
	}
	if seen[0].IsAuthenticated || seen[0].IsLoading {
		t.Fatalf("first notification should be settled anonymous, got %+v", seen[0])
	}
	if !seen[1].IsAuthenticated || seen[1].User.ID != "u1" {
		t.Fatalf("second notification should be u1, got %+v", seen[1])
	}
	if seen[2].IsAuthenticated {
		t.Fatalf("third notification should be logged out, got %+v", seen[2])
	}
}

func TestLogoutRevokesAndClears(t *testing.T) {
	store := &fakeStore{}
	revoker := &fakeRevoker{err: errors.New("backend down")}
	o := New(store, revoker, logging.Discard())
	ctx := context.Background()
	if _, err := o.Commit(ctx, result("u1", "ada@example.com", identity.RoleCustomer, "fallback", identity.MethodPassword)); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if err := o.Logout(ctx); err != nil {
		t.Fatalf("logout should survive a backend failure: %v", err)
	}
	if len(revoker.bearers) != 1 || revoker.bearers[0] != "fallback" {
		t.Fatalf("expected revoke with fallback token, got %v", revoker.bearers)
	}
	if store.clears != 1 || o.State().IsAuthenticated {
		t.Fatalf("logout did not clear: clears=%d state=%+v", store.clears, o.State())
	}
}

func TestLogoutWhenLoggedOutIsHarmless(t *testing.T) {
	store := &fakeStore{loaded: identity.Anonymous()}
	revoker := &fakeRevoker{}
	o := New(store, revoker, logging.Discard())
	o.Initialize(context.Background())

	for i := 0; i < 2; i++ {
		if err := o.Logout(context.Background()); err != nil {
			t.Fatalf("logout %d: %v", i, err)
		}
	}
	if len(revoker.bearers) != 0 {
		t.Fatalf("nothing to revoke, yet backend was called %d times", len(revoker.bearers))
	}
	if st := o.State(); st.IsAuthenticated || st.IsLoading {
		t.Fatalf("unexpected state %+v", st)
	}
}

type refusingChecker struct{}

func (refusingChecker) Check(context.Context, string) (backend.CheckPayload, error) {
	return backend.CheckPayload{}, nil
}

func TestLogoutThenRestartLoadsNothing(t *testing.T) {
	origin, _ := url.Parse("http://arena.test")
	kv := session.NewMemoryKV()
	ctx := context.Background()

	store := session.NewStore(kv, session.NewJar(), origin, refusingChecker{}, logging.Discard())
	o := New(store, nil, logging.Discard())
	o.Initialize(ctx)
	if _, err := o.Commit(ctx, result("u1", "ada@example.com", identity.RoleAdmin, "fallback", identity.MethodPassword)); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := o.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if kv.Len() != 0 {
		t.Fatalf("expected empty storage after logout, found %d keys", kv.Len())
	}

	restarted := New(session.NewStore(kv, session.NewJar(), origin, refusingChecker{}, logging.Discard()), nil, logging.Discard())
	if st := restarted.Initialize(ctx); st.IsAuthenticated {
		t.Fatalf("session survived logout: %+v", st)
	}
}

func TestSubscribersNotifiedInSubscriptionOrder(t *testing.T) {
	o := New(&fakeStore{loaded: identity.Anonymous()}, nil, logging.Discard())

	var order []int
	unsubscribe := make([]func(), 8)
	for i := range unsubscribe {
		unsubscribe[i] = o.Subscribe(func(identity.AuthState) { order = append(order, i) })
	}
	unsubscribe[3]()

	o.Initialize(context.Background())
	want := []int{0, 1, 2, 4, 5, 6, 7}
	if len(order) != len(want) {
		t.Fatalf("notified %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("notified %v, want %v", order, want)
		}
	}
}

// sessionBackend issues a session cookie named after the login identifier
// and answers checks from that cookie or from a "tok"+id bearer token.
func sessionBackend(t *testing.T) *httptest.Server {
	t.Helper()
	user := func(id string) *backend.UserPayload {
		return &backend.UserPayload{ID: id, Name: id, Email: id + "@x.io"}
	}
	mux := http.NewServeMux()
	mux.HandleFunc(backend.PathLogin, func(w http.ResponseWriter, r *http.Request) {
		var req backend.LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "arena_session", Value: req.Identifier, Path: "/", HttpOnly: true})
		_ = json.NewEncoder(w).Encode(backend.SessionPayload{Success: true, User: user(req.Identifier), Role: "customer", Token: "tok" + req.Identifier})
	})
	mux.HandleFunc(backend.PathCheck, func(w http.ResponseWriter, r *http.Request) {
		out := backend.CheckPayload{}
		if c, err := r.Cookie("arena_session"); err == nil {
			out = backend.CheckPayload{Authenticated: true, User: user(c.Value), Role: "customer"}
		} else if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer tok"); ok {
			out = backend.CheckPayload{Authenticated: true, User: user(bearer), Role: "customer"}
		}
		_ = json.NewEncoder(w).Encode(out)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newSessionStack(t *testing.T, baseURL string, kv session.KV) (*Orchestrator, *backend.Client) {
	t.Helper()
	client, err := backend.New(baseURL, session.NewJar())
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	jar := client.Jar().(*session.Jar)
	store := session.NewStore(kv, jar, client.BaseURL(), client, logging.Discard())
	return New(store, client, logging.Discard()), client
}

func passwordAs(client *backend.Client, id string, after func()) Strategy {
	return StrategyFunc(func(ctx context.Context) (identity.SessionResult, error) {
		p, err := client.Login(ctx, backend.LoginRequest{Identifier: id, Password: "secret1"})
		if after != nil {
			after()
		}
		if err != nil {
			return identity.SessionResult{}, err
		}
		return p.Session(identity.MethodPassword)
	})
}

func TestAbandonedLoginLeavesNoCookieBehind(t *testing.T) {
	srv := sessionBackend(t)
	kv := session.NewMemoryKV()
	o, client := newSessionStack(t, srv.URL, kv)
	o.Initialize(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	if _, err := o.Authenticate(ctx, passwordAs(client, "A", cancel)); !errors.Is(err, ErrDiscarded) {
		t.Fatalf("expected ErrDiscarded, got %v", err)
	}
	if n := len(client.Jar().Cookies(client.BaseURL())); n != 0 {
		t.Fatalf("discarded login left %d cookies in the shared jar", n)
	}

	failed := passwordAs(client, "C", nil)
	rejecting := StrategyFunc(func(ctx context.Context) (identity.SessionResult, error) {
		if _, err := failed.Authenticate(ctx); err != nil {
			return identity.SessionResult{}, err
		}
		return identity.SessionResult{}, autherr.New(autherr.KindServerError, "", nil)
	})
	if _, err := o.Authenticate(context.Background(), rejecting); err == nil {
		t.Fatal("expected the rejecting strategy to fail")
	}

	if _, err := o.Authenticate(context.Background(), passwordAs(client, "B", nil)); err != nil {
		t.Fatalf("login B: %v", err)
	}
	if got := client.Jar().Cookies(client.BaseURL()); len(got) != 1 || got[0].Value != "B" {
		t.Fatalf("shared jar holds %v after committing B", got)
	}

	restarted, _ := newSessionStack(t, srv.URL, kv)
	st := restarted.Initialize(context.Background())
	if !st.IsAuthenticated || st.User.ID != "B" {
		t.Fatalf("last commit was B, restart restored %+v", st.User)
	}
}
