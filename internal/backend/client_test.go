package backend

import (
	"context"
	"errors"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/respawn-arena/arena_auth/internal/identity"
)

func newTestClient(t *testing.T, h http.Handler, opts ...Option) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	c, err := New(srv.URL, jar, opts...)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c, srv
}

func TestLoginDecodesSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(PathLogin, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(requestIDHeader) == "" {
			t.Errorf("missing request id header")
		}
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "cookie-1", Path: "/"})
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"user":{"_id":"u1","name":"Ada","email":"ada@example.com","role":"user"},"role":"admin"}`))
	})
	c, _ := newTestClient(t, mux)

	payload, err := c.Login(context.Background(), LoginRequest{Identifier: "ada@example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	res, err := payload.Session(identity.MethodPassword)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if res.User.ID != "u1" || res.Role != identity.RoleAdmin || res.User.Role != identity.RoleAdmin {
		t.Fatalf("unexpected session %+v", res)
	}
	if len(c.Jar().Cookies(c.BaseURL())) != 1 {
		t.Fatalf("expected session cookie in jar")
	}
}

func TestBearerCheckBypassesJar(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/set", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "cookie-1", Path: "/"})
		_, _ = w.Write([]byte(`{"success":true}`))
	})
	mux.HandleFunc(PathCheck, func(w http.ResponseWriter, r *http.Request) {
		_, cookieErr := r.Cookie("sid")
		bearer := r.Header.Get("Authorization")
		switch {
		case bearer != "" && cookieErr == nil:
			t.Errorf("bearer request must not carry cookies")
		case bearer == "" && cookieErr != nil:
			t.Errorf("cookie request must carry the session cookie")
		}
		_, _ = w.Write([]byte(`{"authenticated":true,"user":{"id":"u1","name":"Ada","phone":"9876543210"},"role":"customer"}`))
	})
	c, _ := newTestClient(t, mux)
	if err := c.do(context.Background(), http.MethodGet, "/set", "", true, nil, nil); err != nil {
		t.Fatalf("set cookie: %v", err)
	}
	if _, err := c.Check(context.Background(), ""); err != nil {
		t.Fatalf("cookie check: %v", err)
	}
	out, err := c.Check(context.Background(), "fallback-token")
	if err != nil {
		t.Fatalf("bearer check: %v", err)
	}
	if !out.Authenticated || out.User.User().ID != "u1" {
		t.Fatalf("unexpected check payload %+v", out)
	}
}

func TestContextJarScopesCookies(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(PathLogin, func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "scoped", Path: "/"})
		_, _ = w.Write([]byte(`{"success":true,"user":{"id":"u1","name":"Ada","email":"ada@example.com"}}`))
	})
	c, _ := newTestClient(t, mux)
	scoped, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}

	ctx := WithCookieJar(context.Background(), scoped)
	if _, err := c.Login(ctx, LoginRequest{Identifier: "ada@example.com", Password: "secret1"}); err != nil {
		t.Fatalf("login: %v", err)
	}
	if n := len(c.Jar().Cookies(c.BaseURL())); n != 0 {
		t.Fatalf("client jar received %d cookies from a scoped request", n)
	}
	if got := scoped.Cookies(c.BaseURL()); len(got) != 1 || got[0].Value != "scoped" {
		t.Fatalf("scoped jar holds %v", got)
	}
}

func TestStatusErrorCarriesPayload(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(PathVerifyOTP, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"success":false,"message":"Invalid OTP","attemptsRemaining":2}`))
	})
	c, _ := newTestClient(t, mux)

	_, err := c.VerifyOTP(context.Background(), VerifyOTPRequest{Phone: "9876543210", OTP: "000000"})
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected status error, got %v", err)
	}
	if se.Status != http.StatusBadRequest || se.Message != "Invalid OTP" || se.AttemptsRemaining == nil || *se.AttemptsRemaining != 2 {
		t.Fatalf("unexpected status error %+v", se)
	}
}

func TestSuccessFalseOnOK(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(PathLogin, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"message":"Invalid credentials"}`))
	})
	c, _ := newTestClient(t, mux)
	_, err := c.Login(context.Background(), LoginRequest{Identifier: "x", Password: "y"})
	var se *StatusError
	if !errors.As(err, &se) || se.Status != http.StatusOK {
		t.Fatalf("expected explicit failure payload, got %v", err)
	}
}

func TestMalformedResponse(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(PathGoogle, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>gateway</html>`))
	})
	c, _ := newTestClient(t, mux)
	_, err := c.GoogleLogin(context.Background(), "opaque")
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected malformed error, got %v", err)
	}
}

func TestTransportFailure(t *testing.T) {
	c, srv := newTestClient(t, http.NewServeMux())
	srv.Close()
	_, err := c.Check(context.Background(), "")
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestSessionRejectsIncompleteUser(t *testing.T) {
	p := SessionPayload{Success: true, User: &UserPayload{ID: "u1", Name: "NoContact"}}
	if _, err := p.Session(identity.MethodOTP); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected malformed error, got %v", err)
	}
	if _, err := (SessionPayload{Success: true}).Session(identity.MethodOTP); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected malformed error for missing user, got %v", err)
	}
}

func TestRequestsAreTraced(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	mux := http.NewServeMux()
	mux.HandleFunc(PathSendOTP, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true}`))
	})
	c, _ := newTestClient(t, mux, WithTracerProvider(tp))

	if err := c.SendOTP(context.Background(), "9876543210"); err != nil {
		t.Fatalf("send otp: %v", err)
	}
	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected one span, got %d", len(spans))
	}
	if spans[0].Name() != "POST "+PathSendOTP {
		t.Fatalf("unexpected span name %q", spans[0].Name())
	}
}
