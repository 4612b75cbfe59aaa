package stub

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/respawn-arena/arena_auth/internal/accounts"
	"github.com/respawn-arena/arena_auth/internal/autherr"
	"github.com/respawn-arena/arena_auth/internal/backend"
	"github.com/respawn-arena/arena_auth/internal/identity"
	"github.com/respawn-arena/arena_auth/internal/logging"
	"github.com/respawn-arena/arena_auth/internal/notification"
)

const (
	// CookieName is the HTTP-only session cookie.
	CookieName = "arena_session"
	// LocalClaims is the fiber local holding the verified session, if any.
	LocalClaims = "session_claims"

	codeOTPExpired  = "otp_expired"
	codeOTPMismatch = "otp_mismatch"
)

// Deps are the collaborators of Handler.
type Deps struct {
	Accounts       *accounts.Service
	Tokens         *Tokens
	Codes          CodeStore
	Google         CredentialVerifier
	Notifier       notification.Notifier
	OTPTTL         time.Duration
	OTPMaxAttempts int
	SecureCookies  bool
	Logger         *slog.Logger
}

// Handler serves the /api/auth endpoints.
type Handler struct {
	d       Deps
	now     func() time.Time
	newCode func() (string, error)
}

func NewHandler(d Deps) *Handler {
	d.Logger = logging.OrDiscard(d.Logger)
	return &Handler{d: d, now: time.Now, newCode: randomCode}
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// BearerToken returns the token of an Authorization: Bearer header.
func BearerToken(c *fiber.Ctx) string {
	authz := c.Get(fiber.HeaderAuthorization)
	if len(authz) < 7 || !strings.EqualFold(authz[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(authz[7:])
}

func fail(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{"success": false, "message": message})
}

func userPayload(u identity.User) *backend.UserPayload {
	return &backend.UserPayload{ID: u.ID, Name: u.Name, Email: u.Email, Phone: u.Phone, Role: string(u.Role)}
}

func (h *Handler) openSession(c *fiber.Ctx, status int, a accounts.Account, created bool) error {
	token, exp, err := h.d.Tokens.Issue(a)
	if err != nil {
		return err
	}
	c.Cookie(&fiber.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Expires:  exp,
		HTTPOnly: true,
		Secure:   h.d.SecureCookies,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return c.Status(status).JSON(backend.SessionPayload{
		Success:   true,
		User:      userPayload(a.Public()),
		Role:      string(a.Role),
		Token:     token,
		IsNewUser: created,
	})
}

// Login accepts the customer form (identifier) and the staff form (username).
func (h *Handler) Login(c *fiber.Ctx) error {
	var req backend.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid request body")
	}
	if req.Password == "" || (req.Identifier == "" && req.Username == "") {
		return fail(c, http.StatusBadRequest, "login and password are required")
	}

	var (
		a   accounts.Account
		err error
	)
	if req.Username != "" {
		a, err = h.d.Accounts.AuthenticateAdmin(c.UserContext(), req.Username, req.Password)
	} else {
		a, err = h.d.Accounts.Authenticate(c.UserContext(), req.Identifier, req.Password)
	}
	if errors.Is(err, accounts.ErrInvalidCredentials) {
		return fail(c, http.StatusUnauthorized, "Invalid credentials")
	}
	if err != nil {
		return err
	}
	h.d.Logger.Info("login succeeded", slog.String("user_id", a.ID), slog.String("role", string(a.Role)))
	return h.openSession(c, http.StatusOK, a, false)
}

// Signup creates a customer account and signs it in.
func (h *Handler) Signup(c *fiber.Ctx) error {
	var req backend.SignupRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid request body")
	}
	a, err := h.d.Accounts.Register(c.UserContext(), accounts.SignupInput{Name: req.Name, Email: req.Email, Password: req.Password, Phone: req.Phone})
	switch {
	case errors.Is(err, autherr.ErrValidation):
		return fail(c, http.StatusBadRequest, autherr.UserMessage(err))
	case errors.Is(err, accounts.ErrExists):
		return fail(c, http.StatusConflict, "An account with this email or phone already exists")
	case err != nil:
		return err
	}
	h.d.Logger.Info("signup completed", slog.String("user_id", a.ID))
	return h.openSession(c, http.StatusCreated, a, true)
}

// SendOTP issues a fresh challenge for a phone, replacing any live one.
func (h *Handler) SendOTP(c *fiber.Ctx) error {
	var req struct {
		Phone string `json:"phone"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid request body")
	}
	if err := identity.ValidatePhone(req.Phone); err != nil {
		return fail(c, http.StatusBadRequest, autherr.UserMessage(err))
	}
	code, err := h.newCode()
	if err != nil {
		return err
	}
	ctx := c.UserContext()
	ch := Challenge{Code: code, ExpiresAt: h.now().Add(h.d.OTPTTL), Attempts: h.d.OTPMaxAttempts}
	if err := h.d.Codes.Put(ctx, req.Phone, ch); err != nil {
		return err
	}
	msg := notification.Message{
		Kind:        notification.KindOTP,
		Destination: req.Phone,
		Body:        fmt.Sprintf("Your Respawn Arena code is %s", code),
		Code:        code,
	}
	if err := h.d.Notifier.Send(ctx, msg); err != nil {
		h.d.Logger.Error("deliver otp", slog.Any("error", err))
		_ = h.d.Codes.Delete(ctx, req.Phone)
		return fail(c, http.StatusBadGateway, "Could not send OTP, please try again")
	}
	return c.JSON(fiber.Map{"success": true, "message": "OTP sent", "expiresIn": int(h.d.OTPTTL.Seconds())})
}

func otpExpired(c *fiber.Ctx) error {
	return c.Status(http.StatusGone).JSON(fiber.Map{
		"success": false,
		"message": "OTP has expired, please request a new one",
		"code":    codeOTPExpired,
	})
}

// VerifyOTP answers the live challenge of a phone. A phone without an
// account gets one.
func (h *Handler) VerifyOTP(c *fiber.Ctx) error {
	var req backend.VerifyOTPRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid request body")
	}
	if err := identity.ValidatePhone(req.Phone); err != nil {
		return fail(c, http.StatusBadRequest, autherr.UserMessage(err))
	}
	if err := identity.ValidateOTP(req.OTP); err != nil {
		return fail(c, http.StatusBadRequest, autherr.UserMessage(err))
	}

	ctx := c.UserContext()
	ch, ok, err := h.d.Codes.Get(ctx, req.Phone)
	if err != nil {
		return err
	}
	if !ok || !h.now().Before(ch.ExpiresAt) {
		_ = h.d.Codes.Delete(ctx, req.Phone)
		return otpExpired(c)
	}
	if subtle.ConstantTimeCompare([]byte(ch.Code), []byte(req.OTP)) != 1 {
		left, err := h.d.Codes.Fail(ctx, req.Phone)
		if err != nil {
			return err
		}
		if left <= 0 {
			left = 0
			_ = h.d.Codes.Delete(ctx, req.Phone)
		}
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{
			"success":           false,
			"message":           "Invalid OTP, please try again",
			"code":              codeOTPMismatch,
			"attemptsRemaining": left,
		})
	}
	if err := h.d.Codes.Delete(ctx, req.Phone); err != nil {
		return err
	}

	a, created, err := h.d.Accounts.EnsurePhone(ctx, req.Phone, req.Name)
	if err != nil {
		return err
	}
	h.d.Logger.Info("otp verified", slog.String("user_id", a.ID), slog.Bool("new_user", created))
	return h.openSession(c, http.StatusOK, a, created)
}

// GoogleLogin exchanges an identity-provider credential for a session.
func (h *Handler) GoogleLogin(c *fiber.Ctx) error {
	var req struct {
		Credential string `json:"credential"`
	}
	if err := c.BodyParser(&req); err != nil || req.Credential == "" {
		return fail(c, http.StatusBadRequest, "credential is required")
	}
	id, err := h.d.Google.Verify(c.UserContext(), req.Credential)
	if err != nil {
		h.d.Logger.Warn("google credential rejected", slog.Any("error", err))
		return fail(c, http.StatusUnauthorized, "Google sign-in failed")
	}
	a, created, err := h.d.Accounts.EnsureGoogle(c.UserContext(), id.Subject, id.Email, id.Name)
	if err != nil {
		return err
	}
	return h.openSession(c, http.StatusOK, a, created)
}

// Check reports the session resolved by the session middleware.
func (h *Handler) Check(c *fiber.Ctx) error {
	claims, _ := c.Locals(LocalClaims).(*Claims)
	if claims == nil {
		return c.JSON(backend.CheckPayload{})
	}
	a, err := h.d.Accounts.Get(c.UserContext(), claims.Subject)
	if errors.Is(err, accounts.ErrNotFound) {
		return c.JSON(backend.CheckPayload{})
	}
	if err != nil {
		return err
	}
	return c.JSON(backend.CheckPayload{Authenticated: true, User: userPayload(a.Public()), Role: string(a.Role)})
}

// Logout revokes whatever tokens the request carries and expires the
// cookie. It succeeds without a session.
func (h *Handler) Logout(c *fiber.Ctx) error {
	ctx := c.UserContext()
	for _, raw := range []string{c.Cookies(CookieName), BearerToken(c)} {
		if raw == "" {
			continue
		}
		claims, err := h.d.Tokens.Verify(ctx, raw)
		if err != nil {
			continue
		}
		if err := h.d.Tokens.Revoke(ctx, claims); err != nil {
			return err
		}
	}
	c.Cookie(&fiber.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(1, 0),
		HTTPOnly: true,
		Secure:   h.d.SecureCookies,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return c.JSON(fiber.Map{"success": true})
}
