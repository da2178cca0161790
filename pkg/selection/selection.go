// Package selection tracks which preset slot is active and which model each
// slot is bound to. All mutations funnel through Bind so the binding
// invariant (every slot bound to a registry model at all times) holds no
// matter whether the user, the access policy, or the fallback negotiator is
// driving the change.
package selection

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/odvcencio/switchboard/pkg/bus"
	"github.com/odvcencio/switchboard/pkg/errors"
	"github.com/odvcencio/switchboard/pkg/logging"
	"github.com/odvcencio/switchboard/pkg/registry"
	"github.com/odvcencio/switchboard/pkg/telemetry"
)

// Slot is a preset slot. The UI exposes a fixed set of six; slot 6 is the
// always-available free model and the mandatory downgrade target.
type Slot int

const (
	Slot1 Slot = iota + 1
	Slot2
	Slot3
	Slot4
	Slot5
	Slot6

	// FreeSlot is the no-cost preset every unauthenticated or
	// out-of-credit session must end up on.
	FreeSlot = Slot6
)

// Valid reports whether the slot is inside the enumerated preset range.
func (s Slot) Valid() bool {
	return s >= Slot1 && s <= Slot6
}

// Binding is one slot's current model.
type Binding struct {
	Slot    Slot   `json:"slot"`
	ModelID string `json:"model_id"`
}

// State owns the preset bindings for one chat session. Safe for concurrent
// use; the registry snapshot it validates against is immutable.
type State struct {
	mu       sync.Mutex
	registry *registry.Registry
	bindings map[Slot]string
	active   Slot

	freeModelID string

	hub    *telemetry.Hub
	msgBus bus.MessageBus
	logger *logging.Logger
}

// Option configures optional collaborators on a State.
type Option func(*State)

// WithHub attaches a telemetry hub for selectionChanged events.
func WithHub(hub *telemetry.Hub) Option {
	return func(s *State) { s.hub = hub }
}

// WithBus attaches a message bus for selectionChanged notifications.
func WithBus(b bus.MessageBus) Option {
	return func(s *State) { s.msgBus = b }
}

// WithLogger attaches a structured logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *State) { s.logger = l }
}

// New creates a selection state with every slot bound. Slots without an
// entry in defaults, and slots whose default model is not in the registry,
// are bound to the free model. The free slot is always bound to the free
// model regardless of defaults.
func New(reg *registry.Registry, freeModelID string, defaults map[Slot]string, opts ...Option) (*State, error) {
	if !reg.Contains(freeModelID) {
		return nil, errors.New(errors.ErrCodeUnknownModel, "free model missing from registry").
			WithContext("model_id", freeModelID)
	}

	bindings := make(map[Slot]string, 6)
	for slot := Slot1; slot <= Slot6; slot++ {
		modelID, ok := defaults[slot]
		if !ok || !reg.Contains(modelID) {
			modelID = freeModelID
		}
		bindings[slot] = modelID
	}
	bindings[FreeSlot] = freeModelID

	s := &State{
		registry:    reg,
		bindings:    bindings,
		active:      FreeSlot,
		freeModelID: freeModelID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Bind rebinds a slot to a model and makes that slot active. Rebinding the
// already-active slot to the same model is a no-op but still notifies, since
// UI collaborators refresh dependent affordances on the event.
func (s *State) Bind(ctx context.Context, slot Slot, modelID string) error {
	if !slot.Valid() {
		return errors.New(errors.ErrCodeInvalidSlot, "preset slot outside enumerated range").
			WithContext("slot", int(slot))
	}
	if !s.registry.Contains(modelID) {
		return errors.New(errors.ErrCodeUnknownModel, "cannot bind unknown model").
			WithContext("model_id", modelID).
			WithUserMessage("That model isn't available right now.")
	}

	s.mu.Lock()
	s.bindings[slot] = modelID
	s.active = slot
	s.mu.Unlock()

	s.notifyChanged(ctx, slot, modelID)
	return nil
}

// BindFree binds the free slot to the free model and activates it.
// Idempotent: downgrading an already-free selection only renotifies.
func (s *State) BindFree(ctx context.Context) error {
	return s.Bind(ctx, FreeSlot, s.freeModelID)
}

// Current returns the active slot and its bound model.
func (s *State) Current() Binding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Binding{Slot: s.active, ModelID: s.bindings[s.active]}
}

// BindingFor returns the model bound to the given slot.
func (s *State) BindingFor(slot Slot) (Binding, error) {
	if !slot.Valid() {
		return Binding{}, errors.New(errors.ErrCodeInvalidSlot, "preset slot outside enumerated range").
			WithContext("slot", int(slot))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return Binding{Slot: slot, ModelID: s.bindings[slot]}, nil
}

// Bindings returns a copy of all slot bindings in slot order.
func (s *State) Bindings() []Binding {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Binding, 0, len(s.bindings))
	for slot := Slot1; slot <= Slot6; slot++ {
		out = append(out, Binding{Slot: slot, ModelID: s.bindings[slot]})
	}
	return out
}

// FreeModelID returns the model the free slot is pinned to.
func (s *State) FreeModelID() string {
	return s.freeModelID
}

func (s *State) notifyChanged(ctx context.Context, slot Slot, modelID string) {
	telemetry.MetricSelectionChanges.Inc()

	s.hub.Publish(telemetry.Event{
		Type: telemetry.EventSelectionChanged,
		Data: map[string]any{"slot": int(slot), "model_id": modelID},
	})

	if s.msgBus != nil {
		payload, err := json.Marshal(Binding{Slot: slot, ModelID: modelID})
		if err == nil {
			_ = s.msgBus.Publish(ctx, bus.SubjectSelectionChanged, payload)
		}
	}

	_ = s.logger.Info(logging.CategorySelection, "selection_changed", "preset rebound", map[string]any{
		"slot":     int(slot),
		"model_id": modelID,
	})
}
