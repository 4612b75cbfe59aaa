// Package backend is the HTTP client for the venue backend's auth contract.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/respawn-arena/arena_auth/internal/logging"
)

const (
	requestIDHeader      = "X-Request-ID"
	idempotencyKeyHeader = "Idempotency-Key"
	maxBodyBytes         = 1 << 20
	tracerName           = "github.com/respawn-arena/arena_auth/internal/backend"
)

const (
	PathLogin      = "/api/auth/login"
	PathSignup     = "/api/auth/signup"
	PathSendOTP    = "/api/auth/send-otp"
	PathVerifyOTP  = "/api/auth/verify-otp"
	PathGoogle     = "/api/auth/google-login"
	PathCheck      = "/api/auth/check"
	PathLogout     = "/api/auth/logout"
	defaultTimeout = 15 * time.Second
)

var (
	// ErrTransport marks failures where no response was received.
	ErrTransport = errors.New("backend unreachable")
	// ErrMalformed marks responses that do not match the contract.
	ErrMalformed = errors.New("unexpected backend response")
)

// StatusError is an explicit failure answered by the backend.
type StatusError struct {
	Status            int
	Message           string
	Code              string
	AttemptsRemaining *int
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend rejected request with status %d", e.Status)
	}
	return fmt.Sprintf("backend rejected request with status %d: %s", e.Status, e.Message)
}

// Client talks to the backend. The cookie jar on the embedded http.Client is
// the primary session channel; bearer requests bypass it.
type Client struct {
	base    *url.URL
	cookies *http.Client
	bare    *http.Client
	tracer  trace.Tracer
	prop    propagation.TextMapPropagator
	logger  *slog.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithTimeout bounds every request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.cookies.Timeout = d
		c.bare.Timeout = d
	}
}

// WithTransport replaces the round tripper, mostly for tests.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.cookies.Transport = rt
		c.bare.Transport = rt
	}
}

// WithTracerProvider sets the provider used for request spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) { c.tracer = tp.Tracer(tracerName) }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = logging.OrDiscard(l) }
}

// New builds a client for baseURL that keeps cookies in jar.
func New(baseURL string, jar http.CookieJar, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("backend url %q must be absolute", baseURL)
	}
	c := &Client{
		base:    u,
		cookies: &http.Client{Jar: jar, Timeout: defaultTimeout},
		bare:    &http.Client{Timeout: defaultTimeout},
		tracer:  otel.GetTracerProvider().Tracer(tracerName),
		prop:    otel.GetTextMapPropagator(),
		logger:  logging.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the backend origin.
func (c *Client) BaseURL() *url.URL {
	u := *c.base
	return &u
}

// Jar returns the cookie jar backing the primary channel.
func (c *Client) Jar() http.CookieJar { return c.cookies.Jar }

type cookieJarKey struct{}

// WithCookieJar routes the cookie channel of every request made with ctx
// through jar instead of the client's own jar.
func WithCookieJar(ctx context.Context, jar http.CookieJar) context.Context {
	return context.WithValue(ctx, cookieJarKey{}, jar)
}

// CookieJarFrom returns the jar installed by WithCookieJar, or nil.
func CookieJarFrom(ctx context.Context) http.CookieJar {
	jar, _ := ctx.Value(cookieJarKey{}).(http.CookieJar)
	return jar
}

type failureEnvelope struct {
	Success           *bool  `json:"success"`
	Message           string `json:"message"`
	Error             string `json:"error"`
	Code              string `json:"code"`
	AttemptsRemaining *int   `json:"attemptsRemaining"`
}

func (f failureEnvelope) message() string {
	if f.Message != "" {
		return f.Message
	}
	return f.Error
}

// do performs one exchange. useJar selects the cookie channel; bearer, when
// set, is sent as an Authorization header.
func (c *Client) do(ctx context.Context, method, path, bearer string, useJar bool, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		body = bytes.NewReader(raw)
	}

	ctx, span := c.tracer.Start(ctx, method+" "+path, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("http.request.method", method),
		attribute.String("url.path", path),
		attribute.Bool("arena.auth.bearer", bearer != ""),
	)

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	reqID := uuid.NewString()
	req.Header.Set(requestIDHeader, reqID)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == http.MethodPost {
		// Lets the backend collapse a replayed signup into one account.
		req.Header.Set(idempotencyKeyHeader, uuid.NewString())
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	c.prop.Inject(ctx, propagation.HeaderCarrier(req.Header))

	hc := c.bare
	if useJar {
		hc = c.cookies
		if jar := CookieJarFrom(ctx); jar != nil {
			scoped := *c.cookies
			scoped.Jar = jar
			hc = &scoped
		}
	}

	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		c.logger.Warn("backend request failed",
			slog.String("request_id", reqID),
			slog.String("path", path),
			slog.Any("error", err),
		)
		return fmt.Errorf("%w: %s %s: %v", ErrTransport, method, path, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	c.logger.Debug("backend request completed",
		slog.String("request_id", reqID),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		span.SetStatus(codes.Error, "read body")
		return fmt.Errorf("%w: read %s response: %v", ErrTransport, path, err)
	}

	var env failureEnvelope
	envErr := json.Unmarshal(raw, &env)
	empty := len(bytes.TrimSpace(raw)) == 0

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
		se := &StatusError{Status: resp.StatusCode}
		if envErr == nil {
			se.Message, se.Code, se.AttemptsRemaining = env.message(), env.Code, env.AttemptsRemaining
		} else {
			se.Message = strings.TrimSpace(string(raw))
		}
		return se
	}
	if empty && out == nil {
		return nil
	}
	if envErr != nil {
		span.SetStatus(codes.Error, "malformed")
		return fmt.Errorf("%w: %s: %v", ErrMalformed, path, envErr)
	}
	if env.Success != nil && !*env.Success {
		span.SetStatus(codes.Error, "rejected")
		return &StatusError{Status: resp.StatusCode, Message: env.message(), Code: env.Code, AttemptsRemaining: env.AttemptsRemaining}
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			span.SetStatus(codes.Error, "malformed")
			return fmt.Errorf("%w: %s: %v", ErrMalformed, path, err)
		}
	}
	return nil
}
