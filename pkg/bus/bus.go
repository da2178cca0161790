// Package bus provides the publish/subscribe channel the coordinator uses
// to notify UI collaborators (selection changes, fallback outcomes,
// reclamation results). The default implementation uses NATS, with an
// in-memory option for tests and single-process runs.
package bus

import (
	"context"
	"errors"
	"time"
)

// Subjects published by the coordinator.
const (
	SubjectSelectionChanged = "switchboard.selection.changed"
	SubjectFallbackResolved = "switchboard.fallback.resolved"
	SubjectReclaimSwept     = "switchboard.reclaim.swept"
)

// ErrClosed is returned when operating on a closed bus or subscription.
var ErrClosed = errors.New("bus or subscription closed")

// MessageBus is the notification channel between the coordinator and UI
// collaborators. The coordinator only ever fans out; there is no
// request/reply path. Implementations must be safe for concurrent use.
type MessageBus interface {
	// Publish sends a message to all subscribers of the given subject.
	// Returns immediately; does not wait for message delivery.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The handler is called in a separate goroutine for each message.
	// Supports wildcards: "switchboard.fallback.*" matches
	// "switchboard.fallback.resolved".
	Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error)

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(msg *Message)

// Message represents an incoming message from the bus.
type Message struct {
	Subject string
	Data    []byte
}

// Subscription represents an active subscription that can be cancelled.
type Subscription interface {
	// Unsubscribe stops receiving messages and cleans up resources.
	Unsubscribe() error

	// Subject returns the subject pattern this subscription is for.
	Subject() string
}

// Config holds configuration for creating a MessageBus.
type Config struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	// Ignored for in-memory bus.
	URL string

	// Name is a client identifier for debugging/monitoring.
	Name string

	// Timeout is the default timeout for operations.
	Timeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:     "nats://localhost:4222",
		Name:    "switchboard",
		Timeout: 30 * time.Second,
	}
}
