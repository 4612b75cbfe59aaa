package identity

import "strings"

// Role is the authorization class attached to a session.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

// ParseRole maps a backend role string onto a Role. Anything that is not an
// explicit admin marker is treated as a customer.
func ParseRole(s string) Role {
	if strings.EqualFold(strings.TrimSpace(s), string(RoleAdmin)) {
		return RoleAdmin
	}
	return RoleCustomer
}

// User is the identity record returned by the backend. It is replaced
// wholesale on re-authentication and never mutated in place.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
	Role  Role   `json:"role,omitempty"`
}

// Valid reports whether the record carries an id and at least one contact.
func (u User) Valid() bool {
	return u.ID != "" && (u.Email != "" || u.Phone != "")
}

// Method names the flow that produced a session.
type Method string

const (
	MethodPassword  Method = "password"
	MethodSignup    Method = "signup"
	MethodOTP       Method = "otp"
	MethodFederated Method = "federated"
	MethodRestored  Method = "restored"
)

// SessionResult is what every login flow hands to the orchestrator.
type SessionResult struct {
	User      User
	Role      Role
	Token     string
	IsNewUser bool
	Method    Method
}

// AuthState is the application-wide view of the current session.
type AuthState struct {
	User            *User
	Role            Role
	IsAuthenticated bool
	IsLoading       bool
}

// Loading is the state before the session store has been consulted.
func Loading() AuthState {
	return AuthState{IsLoading: true}
}

// Anonymous is the settled unauthenticated state.
func Anonymous() AuthState {
	return AuthState{}
}

// Authenticated builds a settled state for the given user and role.
func Authenticated(user User, role Role) AuthState {
	u := user
	return AuthState{User: &u, Role: role, IsAuthenticated: true}
}

// Clone returns a copy that shares no memory with s.
func (s AuthState) Clone() AuthState {
	if s.User != nil {
		u := *s.User
		s.User = &u
	}
	return s
}

// Equal compares two states field by field.
func (s AuthState) Equal(o AuthState) bool {
	if s.Role != o.Role || s.IsAuthenticated != o.IsAuthenticated || s.IsLoading != o.IsLoading {
		return false
	}
	if s.User == nil || o.User == nil {
		return s.User == nil && o.User == nil
	}
	return *s.User == *o.User
}
