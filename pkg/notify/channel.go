package notify

import (
	"context"
	"sync"
)

// ChannelAdapter delivers events over in-process channels. The terminal UI
// consumes Events directly; tests use it to script user answers.
type ChannelAdapter struct {
	events    chan *Event
	responses chan *Response

	mu     sync.Mutex
	closed bool
}

// NewChannelAdapter creates an in-process adapter with the given buffer.
func NewChannelAdapter(buffer int) *ChannelAdapter {
	return &ChannelAdapter{
		events:    make(chan *Event, buffer),
		responses: make(chan *Response, buffer),
	}
}

func (a *ChannelAdapter) Name() string { return "channel" }

// Send queues the event for the consumer. A full buffer drops the event
// rather than blocking the coordinator.
func (a *ChannelAdapter) Send(ctx context.Context, event *Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	select {
	case a.events <- event:
	default:
	}
	return nil
}

// Events returns the stream the UI reads from.
func (a *ChannelAdapter) Events() <-chan *Event {
	return a.events
}

// Respond submits a user answer for a confirm event.
func (a *ChannelAdapter) Respond(resp *Response) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.responses <- resp
}

func (a *ChannelAdapter) Responses() <-chan *Response {
	return a.responses
}

func (a *ChannelAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	close(a.events)
	close(a.responses)
	return nil
}
