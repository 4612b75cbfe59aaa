// Package accounts keeps the user records of the development backend.
package accounts

import (
	"errors"
	"time"

	"github.com/respawn-arena/arena_auth/internal/identity"
)

var (
	ErrNotFound           = errors.New("account not found")
	ErrExists             = errors.New("account already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Account is the stored form of a user.
type Account struct {
	ID            string
	Name          string
	Email         string
	Phone         string
	Username      string
	Role          identity.Role
	PasswordHash  []byte
	GoogleSubject string
	CreatedAt     time.Time
	LastLogin     time.Time
}

// Public strips the account down to what the auth endpoints disclose.
func (a Account) Public() identity.User {
	return identity.User{ID: a.ID, Name: a.Name, Email: a.Email, Phone: a.Phone, Role: a.Role}
}

// SignupInput is what the signup endpoint accepts.
type SignupInput struct {
	Name     string
	Email    string
	Password string
	Phone    string
}
