// Package fallback implements the negotiation that runs when a send fails
// because the bound model is unavailable. The negotiator is single-flight
// per selection state: the unavailability signal and the confirmation UI are
// both asynchronous and could otherwise fire twice for one logical failure,
// so a second signal arriving while a negotiation is live is dropped, not
// queued — a superseding signal implies the prior attempt already failed for
// the same send.
package fallback

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/odvcencio/switchboard/pkg/bus"
	"github.com/odvcencio/switchboard/pkg/logging"
	"github.com/odvcencio/switchboard/pkg/selection"
	"github.com/odvcencio/switchboard/pkg/telemetry"
)

// State is the negotiator's current phase.
type State int

const (
	StateIdle State = iota
	StateDetecting
	StateAutoSwitching
	StateAwaitingConfirmation
	StateResolving
)

// String returns the wire name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDetecting:
		return "detecting"
	case StateAutoSwitching:
		return "auto_switching"
	case StateAwaitingConfirmation:
		return "awaiting_confirmation"
	case StateResolving:
		return "resolving"
	}
	return "unknown"
}

// Outcome is how a negotiation cycle ended.
type Outcome string

const (
	OutcomePending  Outcome = "pending"
	OutcomeAuto     Outcome = "auto"
	OutcomeAccepted Outcome = "accepted"
	OutcomeDeclined Outcome = "declined"
	OutcomeDropped  Outcome = "dropped"
	OutcomeAborted  Outcome = "aborted"
)

// Signal is the model-unavailable notification from the send pipeline.
type Signal struct {
	OriginalModelID string `json:"original_model_id"`
	FallbackModelID string `json:"fallback_model_id"`
	Message         string `json:"message"`
}

// NegotiationContext is the transient record for one live negotiation.
// Exactly one may exist per negotiator at a time.
type NegotiationContext struct {
	ID              string  `json:"id"`
	OriginalModelID string  `json:"original_model_id"`
	FallbackModelID string  `json:"fallback_model_id"`
	PendingMessage  string  `json:"-"`
	AutoFallback    bool    `json:"auto_fallback"`
	Outcome         Outcome `json:"outcome"`

	// binding the selection held when the signal arrived; restored on
	// decline or abort.
	priorBinding selection.Binding
}

// PreferenceSource answers whether auto-fallback is enabled for the session.
type PreferenceSource interface {
	AutoFallbackPreference(ctx context.Context) (bool, error)
}

// Pipeline replays a message through the send path using whatever model is
// currently bound.
type Pipeline interface {
	ResendMessage(ctx context.Context, text string) error
}

// InputSurface receives the user's message back when a fallback is declined
// or aborted, so nothing the user typed is ever discarded.
type InputSurface interface {
	RestoreDraft(text string)
}

// Notifier presents the confirmation dialog and non-blocking notices.
type Notifier interface {
	// Confirm blocks until the user accepts or declines. There is no
	// timeout; navigating away (context cancellation) is the only other
	// exit and counts as a decline.
	Confirm(ctx context.Context, originalModel, fallbackModel, message string) (bool, error)

	// Notify shows a non-blocking informational notice.
	Notify(ctx context.Context, message string)
}

// Negotiator drives the fallback state machine:
// Idle -> Detecting -> (AutoSwitching | AwaitingConfirmation) -> Resolving -> Idle.
type Negotiator struct {
	mu     sync.Mutex
	state  State
	active *NegotiationContext

	sel      *selection.State
	prefs    PreferenceSource
	pipeline Pipeline
	input    InputSurface
	notifier Notifier

	hub    *telemetry.Hub
	msgBus bus.MessageBus
	logger *logging.Logger
}

// Option configures optional collaborators on a Negotiator.
type Option func(*Negotiator)

// WithHub attaches a telemetry hub.
func WithHub(h *telemetry.Hub) Option {
	return func(n *Negotiator) { n.hub = h }
}

// WithBus attaches a message bus for resolution notifications.
func WithBus(b bus.MessageBus) Option {
	return func(n *Negotiator) { n.msgBus = b }
}

// WithLogger attaches a structured logger.
func WithLogger(l *logging.Logger) Option {
	return func(n *Negotiator) { n.logger = l }
}

// New creates a fallback negotiator.
func New(sel *selection.State, prefs PreferenceSource, pipeline Pipeline, input InputSurface, notifier Notifier, opts ...Option) *Negotiator {
	n := &Negotiator{
		state:    StateIdle,
		sel:      sel,
		prefs:    prefs,
		pipeline: pipeline,
		input:    input,
		notifier: notifier,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// State returns the current phase.
func (n *Negotiator) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Active returns a copy of the live negotiation context, if any.
func (n *Negotiator) Active() (NegotiationContext, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.active == nil {
		return NegotiationContext{}, false
	}
	return *n.active, true
}

// HandleUnavailable runs one negotiation cycle for a model-unavailable
// signal. It blocks for the duration of the cycle (including the
// user-confirmation wait) and is meant to be called from the send path's
// failure handler. A signal arriving while another cycle is live returns
// OutcomeDropped with no side effects.
func (n *Negotiator) HandleUnavailable(ctx context.Context, sig Signal) (Outcome, error) {
	n.mu.Lock()
	if n.active != nil {
		n.mu.Unlock()
		n.recordResolution(ctx, nil, OutcomeDropped)
		_ = n.logger.Warn(logging.CategoryFallback, "signal_dropped", "negotiation already in flight", map[string]any{
			"original_model": sig.OriginalModelID,
			"fallback_model": sig.FallbackModelID,
		})
		return OutcomeDropped, nil
	}
	nc := &NegotiationContext{
		ID:              uuid.NewString(),
		OriginalModelID: sig.OriginalModelID,
		FallbackModelID: sig.FallbackModelID,
		PendingMessage:  sig.Message,
		Outcome:         OutcomePending,
		priorBinding:    n.sel.Current(),
	}
	n.active = nc
	n.state = StateDetecting
	n.mu.Unlock()

	ctx, span := telemetry.StartSpan(ctx, "fallback.negotiate")
	span.SetAttributes(
		telemetry.AttrOriginalModel.String(sig.OriginalModelID),
		telemetry.AttrFallbackModel.String(sig.FallbackModelID),
	)
	defer span.End()

	n.hub.Publish(telemetry.Event{
		Type: telemetry.EventFallbackDetected,
		Data: map[string]any{"original_model": sig.OriginalModelID, "fallback_model": sig.FallbackModelID},
	})

	auto, err := n.prefs.AutoFallbackPreference(ctx)
	if err != nil {
		// Preference lookup failure never blocks negotiation: degrade to
		// the confirmation branch rather than auto-switching on
		// uncertain state.
		auto = false
		telemetry.RecordError(ctx, err)
		_ = n.logger.Warn(logging.CategoryFallback, "preference_lookup_failed", "degrading to explicit confirmation", map[string]any{
			"error": err.Error(),
		})
	}
	nc.AutoFallback = auto

	accepted := false
	if auto {
		// The switch notice waits until the rebind succeeds.
		n.setState(StateAutoSwitching)
		accepted = true
	} else {
		n.setState(StateAwaitingConfirmation)
		ok, confirmErr := n.notifier.Confirm(ctx, sig.OriginalModelID, sig.FallbackModelID, sig.Message)
		if confirmErr != nil {
			// The user navigating away or the surface disappearing is
			// treated as a decline; the message must survive either way.
			ok = false
		}
		accepted = ok
	}

	n.setState(StateResolving)

	if !accepted {
		n.restorePrior(ctx, nc)
		n.input.RestoreDraft(nc.PendingMessage)
		outcome := OutcomeDeclined
		n.finish(nc, outcome)
		n.recordResolution(ctx, nc, outcome)
		span.SetAttributes(telemetry.AttrOutcome.String(string(outcome)))
		return outcome, nil
	}

	// Rebind the active preset to the fallback model.
	if bindErr := n.sel.Bind(ctx, nc.priorBinding.Slot, nc.FallbackModelID); bindErr != nil {
		// A rebind failure aborts the cycle exactly like a decline: the
		// guard is released and the original message surfaces unchanged.
		telemetry.RecordError(ctx, bindErr)
		n.restorePrior(ctx, nc)
		n.input.RestoreDraft(nc.PendingMessage)
		outcome := OutcomeAborted
		n.finish(nc, outcome)
		n.recordResolution(ctx, nc, outcome)
		span.SetAttributes(telemetry.AttrOutcome.String(string(outcome)))
		_ = n.logger.Error(logging.CategoryFallback, "rebind_failed", "aborting negotiation", map[string]any{
			"fallback_model": nc.FallbackModelID,
			"error":          bindErr.Error(),
		})
		return outcome, bindErr
	}

	outcome := OutcomeAccepted
	if nc.AutoFallback {
		outcome = OutcomeAuto
		n.notifier.Notify(ctx, "Switched to "+nc.FallbackModelID+" because "+nc.OriginalModelID+" is unavailable.")
	}

	// Clear the context and release the guard before the replay's network
	// result is known: a replay failure is a fresh top-level send failure
	// and may legitimately start a new Detecting cycle.
	message := nc.PendingMessage
	n.finish(nc, outcome)
	n.recordResolution(ctx, nc, outcome)
	span.SetAttributes(telemetry.AttrOutcome.String(string(outcome)))

	return outcome, n.pipeline.ResendMessage(ctx, message)
}

func (n *Negotiator) setState(s State) {
	n.mu.Lock()
	n.state = s
	n.mu.Unlock()
}

// restorePrior puts the selection back to its pre-negotiation binding. A
// no-op when nothing was rebound, which keeps declines side-effect free.
func (n *Negotiator) restorePrior(ctx context.Context, nc *NegotiationContext) {
	cur := n.sel.Current()
	if cur == nc.priorBinding {
		return
	}
	_ = n.sel.Bind(ctx, nc.priorBinding.Slot, nc.priorBinding.ModelID)
}

// finish clears the live context and returns the machine to Idle.
func (n *Negotiator) finish(nc *NegotiationContext, outcome Outcome) {
	n.mu.Lock()
	nc.Outcome = outcome
	n.active = nil
	n.state = StateIdle
	n.mu.Unlock()
}

func (n *Negotiator) recordResolution(ctx context.Context, nc *NegotiationContext, outcome Outcome) {
	telemetry.MetricFallbackOutcomes.WithLabelValues(string(outcome)).Inc()

	eventType := telemetry.EventFallbackDropped
	data := map[string]any{"outcome": string(outcome)}
	if nc != nil {
		data["original_model"] = nc.OriginalModelID
		data["fallback_model"] = nc.FallbackModelID
		switch outcome {
		case OutcomeAuto:
			eventType = telemetry.EventFallbackAuto
		case OutcomeAccepted:
			eventType = telemetry.EventFallbackConfirmed
		case OutcomeDeclined:
			eventType = telemetry.EventFallbackDeclined
		case OutcomeAborted:
			eventType = telemetry.EventFallbackAborted
		}
	}

	// Declines and aborts carry the draft so a listening composer can
	// restore it. The draft stays off the bus payload and out of the logs.
	eventData := data
	if nc != nil && (outcome == OutcomeDeclined || outcome == OutcomeAborted) {
		eventData = make(map[string]any, len(data)+1)
		for k, v := range data {
			eventData[k] = v
		}
		eventData["pending_message"] = nc.PendingMessage
	}
	n.hub.Publish(telemetry.Event{Type: eventType, Data: eventData})

	if n.msgBus != nil && nc != nil {
		payload, err := json.Marshal(struct {
			NegotiationContext
			Outcome Outcome `json:"outcome"`
		}{*nc, outcome})
		if err == nil {
			_ = n.msgBus.Publish(ctx, bus.SubjectFallbackResolved, payload)
		}
	}

	_ = n.logger.Info(logging.CategoryFallback, "negotiation_resolved", "fallback cycle finished", data)
}
