// Package notify carries coordinator events to the user interface and
// collects answers back. The fallback negotiator uses it for the model
// substitution dialog and for silent-switch notices.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odvcencio/switchboard/pkg/errors"
)

// EventType defines the type of UI event.
type EventType string

const (
	// EventNotice is a non-blocking informational banner.
	EventNotice EventType = "notice"

	// EventConfirm asks the user a yes/no question and expects a Response.
	EventConfirm EventType = "confirm"
)

// Well-known option IDs for confirm events.
const (
	OptionAccept  = "accept"
	OptionDecline = "decline"
)

// Event is a message pushed to the UI.
type Event struct {
	// ID is the unique event identifier
	ID string `json:"id"`

	// Type is the event type
	Type EventType `json:"type"`

	// Title is a short summary
	Title string `json:"title"`

	// Message is the detailed message
	Message string `json:"message"`

	// Options are the selectable responses (confirm events only)
	Options []ResponseOption `json:"options,omitempty"`

	// Metadata carries extra context, e.g. the model IDs involved
	Metadata map[string]string `json:"metadata,omitempty"`

	// Timestamp is when the event occurred
	Timestamp time.Time `json:"timestamp"`
}

// ResponseOption is an option the user can select.
type ResponseOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Response is the user's answer to a confirm event.
type Response struct {
	// EventID is the event being responded to
	EventID string `json:"event_id"`

	// OptionID is the selected option
	OptionID string `json:"option_id"`

	// Timestamp is when the response was sent
	Timestamp time.Time `json:"timestamp"`
}

// Adapter delivers events over a specific surface (websocket, in-process
// channel) and feeds responses back.
type Adapter interface {
	// Name returns the adapter name
	Name() string

	// Send pushes an event to the surface
	Send(ctx context.Context, event *Event) error

	// Responses returns the stream of user answers
	Responses() <-chan *Response

	// Close closes the adapter
	Close() error
}

// Manager routes events to adapters and matches responses to pending
// confirm events. It satisfies fallback.Notifier.
type Manager struct {
	adapters []Adapter

	mu      sync.Mutex
	pending map[string]chan *Response
	done    chan struct{}
	once    sync.Once
}

// NewManager creates a manager and starts draining adapter responses.
func NewManager(adapters ...Adapter) *Manager {
	m := &Manager{
		adapters: adapters,
		pending:  make(map[string]chan *Response),
		done:     make(chan struct{}),
	}
	for _, a := range adapters {
		go m.drain(a)
	}
	return m
}

func (m *Manager) drain(a Adapter) {
	for {
		select {
		case resp, ok := <-a.Responses():
			if !ok {
				return
			}
			m.deliver(resp)
		case <-m.done:
			return
		}
	}
}

func (m *Manager) deliver(resp *Response) {
	if resp == nil {
		return
	}
	m.mu.Lock()
	ch, ok := m.pending[resp.EventID]
	if ok {
		delete(m.pending, resp.EventID)
	}
	m.mu.Unlock()
	if ok {
		ch <- resp
	}
}

func (m *Manager) send(ctx context.Context, event *Event) error {
	var lastErr error
	for _, a := range m.adapters {
		if err := a.Send(ctx, event); err != nil {
			lastErr = fmt.Errorf("%s: %w", a.Name(), err)
		}
	}
	return lastErr
}

// Notify shows a non-blocking informational notice. Delivery failures are
// intentionally dropped; a lost banner must never stall the coordinator.
func (m *Manager) Notify(ctx context.Context, message string) {
	_ = m.send(ctx, &Event{
		ID:        uuid.NewString(),
		Type:      EventNotice,
		Title:     "Model switched",
		Message:   message,
		Timestamp: time.Now(),
	})
}

// Confirm shows the substitution dialog and blocks until the user answers
// or ctx is cancelled. Cancellation reports as a decline with no error so
// navigating away behaves exactly like pressing decline.
func (m *Manager) Confirm(ctx context.Context, originalModel, fallbackModel, message string) (bool, error) {
	event := &Event{
		ID:      uuid.NewString(),
		Type:    EventConfirm,
		Title:   "Switch model?",
		Message: message,
		Options: []ResponseOption{
			{ID: OptionAccept, Label: "Use " + fallbackModel},
			{ID: OptionDecline, Label: "Keep " + originalModel},
		},
		Metadata: map[string]string{
			"original_model": originalModel,
			"fallback_model": fallbackModel,
		},
		Timestamp: time.Now(),
	}

	answer := make(chan *Response, 1)
	m.mu.Lock()
	m.pending[event.ID] = answer
	m.mu.Unlock()

	if err := m.send(ctx, event); err != nil {
		m.mu.Lock()
		delete(m.pending, event.ID)
		m.mu.Unlock()
		return false, errors.Wrap(err, errors.ErrCodeNetwork, "presenting confirmation dialog")
	}

	select {
	case resp := <-answer:
		return resp.OptionID == OptionAccept, nil
	case <-ctx.Done():
		m.mu.Lock()
		delete(m.pending, event.ID)
		m.mu.Unlock()
		return false, nil
	case <-m.done:
		return false, errors.New(errors.ErrCodeInternal, "notifier closed while awaiting answer")
	}
}

// Close closes all adapters and fails any in-flight confirmations.
func (m *Manager) Close() error {
	m.once.Do(func() { close(m.done) })
	var lastErr error
	for _, a := range m.adapters {
		if err := a.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// JSON helpers
func (e *Event) JSON() []byte {
	data, _ := json.Marshal(e)
	return data
}

func ParseResponse(data []byte) (*Response, error) {
	var r Response
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
