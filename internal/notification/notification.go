package notification

import (
	"context"
	"log/slog"
	"sync"
)

const (
	// KindOTP carries a one-time sign-in code to a phone.
	KindOTP = "otp"
)

// Message describes a notification payload.
type Message struct {
	Kind        string
	Destination string
	Body        string
	// Code is the secret part of Body, kept separately so it can be redacted.
	Code string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier is a stub implementation that writes notifications to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
	reveal bool
}

// NewLoggerNotifier constructs a logging notifier stub. Codes are only
// written to the log when reveal is set, which local runs need to sign in.
func NewLoggerNotifier(logger *slog.Logger, reveal bool) *LoggerNotifier {
	return &LoggerNotifier{logger: logger, reveal: reveal}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	attrs := []any{"kind", message.Kind, "destination", message.Destination}
	if n.reveal {
		attrs = append(attrs, "body", message.Body)
	}
	n.logger.Info("notification", attrs...)
	return nil
}

// Outbox keeps every message in memory.
type Outbox struct {
	mu       sync.Mutex
	messages []Message
}

func (o *Outbox) Send(_ context.Context, message Message) error {
	o.mu.Lock()
	o.messages = append(o.messages, message)
	o.mu.Unlock()
	return nil
}

// LastCode returns the most recent code sent to destination.
func (o *Outbox) LastCode(destination string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.messages) - 1; i >= 0; i-- {
		if o.messages[i].Destination == destination && o.messages[i].Code != "" {
			return o.messages[i].Code, true
		}
	}
	return "", false
}

// Len reports how many messages were sent.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.messages)
}
