// Package autherr classifies authentication failures so views can render
// them without knowing which flow produced them.
package autherr

import (
	"errors"
	"fmt"
)

// Kind is the failure class of an authentication error.
type Kind string

const (
	KindValidation          Kind = "validation_error"
	KindInvalidCredentials  Kind = "invalid_credentials"
	KindOtpMismatch         Kind = "otp_mismatch"
	KindOtpExpired          Kind = "otp_expired"
	KindFederatedAuthFailed Kind = "federated_auth_failure"
	KindNetworkFailure      Kind = "network_failure"
	KindServerError         Kind = "server_error"
)

// Sentinels for errors.Is. Matching is by Kind only.
var (
	ErrValidation         = &Error{Kind: KindValidation}
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials}
	ErrOtpMismatch        = &Error{Kind: KindOtpMismatch}
	ErrOtpExpired         = &Error{Kind: KindOtpExpired}
	ErrFederatedAuth      = &Error{Kind: KindFederatedAuthFailed}
	ErrNetworkFailure     = &Error{Kind: KindNetworkFailure}
	ErrServerError        = &Error{Kind: KindServerError}
)

var defaultMessages = map[Kind]string{
	KindValidation:          "Please check the form and try again",
	KindInvalidCredentials:  "Invalid credentials",
	KindOtpMismatch:         "Invalid OTP, please try again",
	KindOtpExpired:          "OTP has expired, please request a new one",
	KindFederatedAuthFailed: "Google sign-in failed, please try again",
	KindNetworkFailure:      "Unable to reach the server, check your connection",
	KindServerError:         "Something went wrong, please try again later",
}

// Error is a classified authentication failure.
type Error struct {
	Kind    Kind
	Field   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = defaultMessages[e.Kind]
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// New builds a classified error wrapping cause.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// Validation reports a local, pre-network rejection of a form field.
func Validation(field, message string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: message}
}

// KindOf returns the Kind of err, or the empty string for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// UserMessage renders err for display. Unclassified errors fall back to the
// server error wording so internals are not shown to the user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) {
		return defaultMessages[KindServerError]
	}
	if e.Message != "" {
		return e.Message
	}
	return defaultMessages[e.Kind]
}
