package credential

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/respawn-arena/arena_auth/internal/autherr"
	"github.com/respawn-arena/arena_auth/internal/backend"
	"github.com/respawn-arena/arena_auth/internal/identity"
)

type fakeAPI struct {
	loginCalls  []backend.LoginRequest
	signupCalls []backend.SignupRequest
	loginErr    error
	signupErr   error
	payload     backend.SessionPayload
}

func (f *fakeAPI) Login(_ context.Context, req backend.LoginRequest) (backend.SessionPayload, error) {
	f.loginCalls = append(f.loginCalls, req)
	return f.payload, f.loginErr
}

func (f *fakeAPI) Signup(_ context.Context, req backend.SignupRequest) (backend.SessionPayload, error) {
	f.signupCalls = append(f.signupCalls, req)
	return f.payload, f.signupErr
}

func okPayload(role string) backend.SessionPayload {
	return backend.SessionPayload{Success: true, User: &backend.UserPayload{ID: "u1", Name: "Ada", Email: "ada@example.com"}, Role: role}
}

func TestLoginSuccess(t *testing.T) {
	api := &fakeAPI{payload: okPayload("customer")}
	res, err := NewFlow(api, false, nil).Login(context.Background(), " ada@example.com ", "secret1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.User.ID != "u1" || res.Role != identity.RoleCustomer || res.Method != identity.MethodPassword {
		t.Fatalf("unexpected result %+v", res)
	}
	if api.loginCalls[0].Identifier != "ada@example.com" {
		t.Fatalf("identifier not trimmed: %+v", api.loginCalls[0])
	}
}

func TestAdminLoginSendsUsername(t *testing.T) {
	api := &fakeAPI{payload: okPayload("admin")}
	res, err := NewFlow(api, false, nil).AdminLogin(context.Background(), "root", "hunter22")
	if err != nil {
		t.Fatalf("admin login: %v", err)
	}
	if res.Role != identity.RoleAdmin {
		t.Fatalf("expected admin role, got %s", res.Role)
	}
	if got := api.loginCalls[0]; got.Username != "root" || got.Identifier != "" {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestLoginRequiresBothFields(t *testing.T) {
	api := &fakeAPI{}
	flow := NewFlow(api, false, nil)
	for _, tc := range [][2]string{{"", "pw"}, {"ada", ""}, {"   ", "pw"}} {
		if _, err := flow.Login(context.Background(), tc[0], tc[1]); !errors.Is(err, autherr.ErrValidation) {
			t.Fatalf("expected validation error for %q, got %v", tc, err)
		}
	}
	if len(api.loginCalls) != 0 {
		t.Fatalf("validation failures must not reach the network")
	}
}

func TestLoginClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"transport", fmt.Errorf("%w: dial", backend.ErrTransport), autherr.ErrNetworkFailure},
		{"unauthorized", &backend.StatusError{Status: http.StatusUnauthorized, Message: "Invalid credentials"}, autherr.ErrInvalidCredentials},
		{"explicit payload", &backend.StatusError{Status: http.StatusOK, Message: "Invalid credentials"}, autherr.ErrInvalidCredentials},
		{"server", &backend.StatusError{Status: http.StatusBadGateway}, autherr.ErrServerError},
		{"malformed", fmt.Errorf("%w: html", backend.ErrMalformed), autherr.ErrServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			api := &fakeAPI{loginErr: tc.err}
			_, err := NewFlow(api, false, nil).Login(context.Background(), "ada", "secret1")
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestLoginIncompletePayloadIsServerError(t *testing.T) {
	api := &fakeAPI{payload: backend.SessionPayload{Success: true}}
	_, err := NewFlow(api, false, nil).Login(context.Background(), "ada", "secret1")
	if !errors.Is(err, autherr.ErrServerError) {
		t.Fatalf("expected server error, got %v", err)
	}
}

func TestSignupValidationShortCircuits(t *testing.T) {
	api := &fakeAPI{payload: okPayload("customer")}
	flow := NewFlow(api, true, nil)
	p := identity.SignupProfile{Name: "Ada", Email: "ada@example.com", Password: "abc", Confirm: "abc", Phone: "9876543210"}
	if _, err := flow.Signup(context.Background(), p); !errors.Is(err, autherr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(api.signupCalls) != 0 {
		t.Fatalf("validation failure reached the network")
	}

	p.Password, p.Confirm = "abcdef", "abcdef"
	res, err := flow.Signup(context.Background(), p)
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if !res.IsNewUser || res.Method != identity.MethodSignup {
		t.Fatalf("unexpected signup result %+v", res)
	}
	if api.signupCalls[0].Phone != "9876543210" {
		t.Fatalf("phone not forwarded")
	}
}

func TestSignupPhoneVariant(t *testing.T) {
	api := &fakeAPI{payload: okPayload("customer")}
	p := identity.SignupProfile{Name: "Ada", Email: "ada@example.com", Password: "abcdef", Confirm: "abcdef"}
	if _, err := NewFlow(api, true, nil).Signup(context.Background(), p); !errors.Is(err, autherr.ErrValidation) {
		t.Fatalf("phone variant must require a phone, got %v", err)
	}
	if _, err := NewFlow(api, false, nil).Signup(context.Background(), p); err != nil {
		t.Fatalf("email variant should not require phone: %v", err)
	}
}

func TestSignupRejectionKeepsMessage(t *testing.T) {
	api := &fakeAPI{signupErr: &backend.StatusError{Status: http.StatusConflict, Message: "Email already registered"}}
	p := identity.SignupProfile{Name: "Ada", Email: "ada@example.com", Password: "abcdef", Confirm: "abcdef"}
	_, err := NewFlow(api, false, nil).Signup(context.Background(), p)
	if autherr.UserMessage(err) != "Email already registered" {
		t.Fatalf("expected backend message, got %q", autherr.UserMessage(err))
	}
}
