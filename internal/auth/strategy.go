package auth

import (
	"context"

	"github.com/respawn-arena/arena_auth/internal/credential"
	"github.com/respawn-arena/arena_auth/internal/federated"
	"github.com/respawn-arena/arena_auth/internal/identity"
	"github.com/respawn-arena/arena_auth/internal/otp"
)

// Strategy is one way of obtaining a session. The login views pick a
// strategy; the orchestrator treats them all alike.
type Strategy interface {
	Authenticate(ctx context.Context) (identity.SessionResult, error)
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(ctx context.Context) (identity.SessionResult, error)

func (f StrategyFunc) Authenticate(ctx context.Context) (identity.SessionResult, error) {
	return f(ctx)
}

// PasswordLogin signs a customer in by email or phone and password.
func PasswordLogin(f *credential.Flow, identifier, password string) Strategy {
	return StrategyFunc(func(ctx context.Context) (identity.SessionResult, error) {
		return f.Login(ctx, identifier, password)
	})
}

// AdminLogin signs staff in by username and password.
func AdminLogin(f *credential.Flow, username, password string) Strategy {
	return StrategyFunc(func(ctx context.Context) (identity.SessionResult, error) {
		return f.AdminLogin(ctx, username, password)
	})
}

// Signup registers an account and signs it in.
func Signup(f *credential.Flow, p identity.SignupProfile) Strategy {
	return StrategyFunc(func(ctx context.Context) (identity.SessionResult, error) {
		return f.Signup(ctx, p)
	})
}

// OTPVerify answers the live challenge of an OTP flow that has already
// requested a code.
func OTPVerify(f *otp.Flow, code, displayName string) Strategy {
	return StrategyFunc(func(ctx context.Context) (identity.SessionResult, error) {
		return f.Verify(ctx, code, displayName)
	})
}

// Federated exchanges an identity-provider credential.
func Federated(f *federated.Flow, credential string) Strategy {
	return StrategyFunc(func(ctx context.Context) (identity.SessionResult, error) {
		return f.Exchange(ctx, credential)
	})
}
