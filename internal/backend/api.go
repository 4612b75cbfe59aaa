package backend

import (
	"context"
	"fmt"
	"net/http"

	"github.com/respawn-arena/arena_auth/internal/identity"
)

// UserPayload is the user record as serialised by the backend. Older
// endpoints still send the document id as _id.
type UserPayload struct {
	ID       string `json:"id,omitempty"`
	LegacyID string `json:"_id,omitempty"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Role     string `json:"role,omitempty"`
}

// User converts the payload into an identity.User.
func (p UserPayload) User() identity.User {
	id := p.ID
	if id == "" {
		id = p.LegacyID
	}
	return identity.User{ID: id, Name: p.Name, Email: p.Email, Phone: p.Phone, Role: identity.ParseRole(p.Role)}
}

// SessionPayload is the success body of every session-issuing endpoint.
type SessionPayload struct {
	Success   bool         `json:"success"`
	User      *UserPayload `json:"user,omitempty"`
	Role      string       `json:"role,omitempty"`
	Token     string       `json:"token,omitempty"`
	IsNewUser bool         `json:"isNewUser,omitempty"`
	Message   string       `json:"message,omitempty"`
}

// Session converts the payload into a SessionResult. The role field wins
// over the user's embedded role when both are present.
func (p SessionPayload) Session(method identity.Method) (identity.SessionResult, error) {
	if p.User == nil {
		return identity.SessionResult{}, fmt.Errorf("%w: missing user", ErrMalformed)
	}
	user := p.User.User()
	if !user.Valid() {
		return identity.SessionResult{}, fmt.Errorf("%w: incomplete user record", ErrMalformed)
	}
	role := user.Role
	if p.Role != "" {
		role = identity.ParseRole(p.Role)
	}
	user.Role = role
	return identity.SessionResult{User: user, Role: role, Token: p.Token, IsNewUser: p.IsNewUser, Method: method}, nil
}

// CheckPayload is the body of the session check endpoint.
type CheckPayload struct {
	Authenticated bool         `json:"authenticated"`
	User          *UserPayload `json:"user,omitempty"`
	Role          string       `json:"role,omitempty"`
}

// LoginRequest carries either Identifier (customer form) or Username (admin form).
type LoginRequest struct {
	Identifier string `json:"identifier,omitempty"`
	Username   string `json:"username,omitempty"`
	Password   string `json:"password"`
}

// SignupRequest creates an account.
type SignupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"phone,omitempty"`
}

// VerifyOTPRequest answers a phone challenge. Name is only used by the
// backend when the phone has no account yet.
type VerifyOTPRequest struct {
	Phone string `json:"phone"`
	OTP   string `json:"otp"`
	Name  string `json:"name,omitempty"`
}

// Login exchanges credentials for a session.
func (c *Client) Login(ctx context.Context, req LoginRequest) (SessionPayload, error) {
	var out SessionPayload
	err := c.do(ctx, http.MethodPost, PathLogin, "", true, req, &out)
	return out, err
}

// Signup registers a new account and opens a session for it.
func (c *Client) Signup(ctx context.Context, req SignupRequest) (SessionPayload, error) {
	var out SessionPayload
	err := c.do(ctx, http.MethodPost, PathSignup, "", true, req, &out)
	return out, err
}

// SendOTP asks the backend to issue a challenge to phone. The code itself
// never travels back to the client.
func (c *Client) SendOTP(ctx context.Context, phone string) error {
	return c.do(ctx, http.MethodPost, PathSendOTP, "", true, map[string]string{"phone": phone}, nil)
}

// VerifyOTP answers the live challenge.
func (c *Client) VerifyOTP(ctx context.Context, req VerifyOTPRequest) (SessionPayload, error) {
	var out SessionPayload
	err := c.do(ctx, http.MethodPost, PathVerifyOTP, "", true, req, &out)
	return out, err
}

// GoogleLogin forwards an identity-provider credential untouched.
func (c *Client) GoogleLogin(ctx context.Context, credential string) (SessionPayload, error) {
	var out SessionPayload
	err := c.do(ctx, http.MethodPost, PathGoogle, "", true, map[string]string{"credential": credential}, &out)
	return out, err
}

// Check validates the current session. An empty bearer uses the cookie
// channel; otherwise the request carries only the bearer token.
func (c *Client) Check(ctx context.Context, bearer string) (CheckPayload, error) {
	var out CheckPayload
	err := c.do(ctx, http.MethodGet, PathCheck, bearer, bearer == "", nil, &out)
	return out, err
}

// Logout asks the backend to drop its side of the session. Cookies and the
// bearer token, when present, are both sent.
func (c *Client) Logout(ctx context.Context, bearer string) error {
	return c.do(ctx, http.MethodPost, PathLogout, bearer, true, nil, nil)
}
