package ipc

import (
	"github.com/odvcencio/switchboard/pkg/notify"
	"github.com/odvcencio/switchboard/pkg/telemetry"
)

// EventBridge forwards coordinator telemetry (selection changes, fallback
// outcomes, sweep results) onto the websocket stream, so UI clients see
// them without their own hub or bus subscription.
type EventBridge struct {
	hub *telemetry.Hub
	ws  *notify.WebSocketAdapter

	unsubscribe func()
	done        chan struct{}
}

// NewEventBridge creates a bridge between the hub and the websocket adapter.
func NewEventBridge(hub *telemetry.Hub, ws *notify.WebSocketAdapter) *EventBridge {
	return &EventBridge{hub: hub, ws: ws}
}

// Start subscribes to the hub and begins forwarding. Events published while
// no client is connected are dropped, matching the hub's delivery contract.
func (b *EventBridge) Start() {
	events, unsubscribe := b.hub.Subscribe()
	b.unsubscribe = unsubscribe
	b.done = make(chan struct{})

	go func() {
		defer close(b.done)
		for event := range events {
			b.ws.Broadcast(event)
		}
	}()
}

// Stop unsubscribes from the hub and waits for the forwarder to drain.
func (b *EventBridge) Stop() {
	if b.unsubscribe == nil {
		return
	}
	b.unsubscribe()
	<-b.done
	b.unsubscribe = nil
}
