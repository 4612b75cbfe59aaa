package federated

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/respawn-arena/arena_auth/internal/autherr"
	"github.com/respawn-arena/arena_auth/internal/backend"
)

type fakeAPI struct {
	got     []string
	payload backend.SessionPayload
	err     error
}

func (f *fakeAPI) GoogleLogin(_ context.Context, credential string) (backend.SessionPayload, error) {
	f.got = append(f.got, credential)
	return f.payload, f.err
}

func TestExchangeForwardsCredentialUntouched(t *testing.T) {
	api := &fakeAPI{payload: backend.SessionPayload{
		Success:   true,
		User:      &backend.UserPayload{ID: "g1", Name: "Ada", Email: "ada@example.com"},
		Role:      "customer",
		Token:     "fallback-xyz",
		IsNewUser: true,
	}}
	cred := "not-even-a-jwt"
	res, err := NewFlow(api, nil).Exchange(context.Background(), cred)
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if api.got[0] != cred {
		t.Fatalf("credential altered: %q", api.got[0])
	}
	if !res.IsNewUser || res.Token != "fallback-xyz" || res.User.ID != "g1" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestExchangeFailuresAreFederated(t *testing.T) {
	for _, cause := range []error{
		fmt.Errorf("%w: offline", backend.ErrTransport),
		&backend.StatusError{Status: http.StatusUnauthorized, Message: "Invalid Google token"},
		&backend.StatusError{Status: http.StatusInternalServerError},
	} {
		_, err := NewFlow(&fakeAPI{err: cause}, nil).Exchange(context.Background(), "cred")
		if !errors.Is(err, autherr.ErrFederatedAuth) {
			t.Fatalf("expected federated failure for %v, got %v", cause, err)
		}
	}
}

func TestExchangeRejectsEmptyCredential(t *testing.T) {
	api := &fakeAPI{}
	if _, err := NewFlow(api, nil).Exchange(context.Background(), " "); !errors.Is(err, autherr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(api.got) != 0 {
		t.Fatalf("empty credential reached the network")
	}
}
