// Package registry holds the read-only model catalog for a chat session.
// The catalog is fetched once at session start and never mutated afterwards;
// every capability and premium-gating question is answered from this snapshot.
package registry

import (
	"sort"

	"github.com/odvcencio/switchboard/pkg/errors"
)

// Capability identifies something a model can do. UI affordances (image and
// PDF upload buttons, reasoning toggles) are shown or hidden purely on these
// flags, independent of who is asking.
type Capability int

const (
	CapabilityImages Capability = iota
	CapabilityPDF
	CapabilityMultimodal
	CapabilityReasoning
	CapabilityFree
)

// String returns the wire/UI name of the capability.
func (c Capability) String() string {
	switch c {
	case CapabilityImages:
		return "images"
	case CapabilityPDF:
		return "pdf"
	case CapabilityMultimodal:
		return "multimodal"
	case CapabilityReasoning:
		return "reasoning"
	case CapabilityFree:
		return "free"
	}
	return "unknown"
}

// CostBand is an ordinal pricing label for a model.
type CostBand int

const (
	CostFree CostBand = iota
	CostLow
	CostStandard
	CostPremium
)

// String returns the wire name of the cost band.
func (b CostBand) String() string {
	switch b {
	case CostFree:
		return "free"
	case CostLow:
		return "low"
	case CostStandard:
		return "standard"
	case CostPremium:
		return "premium"
	}
	return "unknown"
}

// Model describes one entry in the catalog. Immutable once loaded.
type Model struct {
	ID          string
	DisplayName string

	SupportsImages bool
	SupportsPDF    bool
	Multimodal     bool
	Reasoning      bool
	Free           bool

	CostBand CostBand
}

// Has reports whether the model has the given capability. The switch is
// exhaustive over the Capability constants; there is no reachable
// "unknown capability" branch.
func (m Model) Has(c Capability) bool {
	switch c {
	case CapabilityImages:
		return m.SupportsImages
	case CapabilityPDF:
		return m.SupportsPDF
	case CapabilityMultimodal:
		return m.Multimodal
	case CapabilityReasoning:
		return m.Reasoning
	case CapabilityFree:
		return m.Free
	}
	return false
}

// Registry is an immutable snapshot of the model catalog, indexed by ID.
type Registry struct {
	models map[string]Model
	order  []string
}

// New builds a registry from a list of models. Later duplicates of the same
// ID replace earlier ones; the ID index stays unique.
func New(models []Model) *Registry {
	indexed := make(map[string]Model, len(models))
	for _, m := range models {
		indexed[m.ID] = m
	}
	order := make([]string, 0, len(indexed))
	for id := range indexed {
		order = append(order, id)
	}
	sort.Strings(order)
	return &Registry{models: indexed, order: order}
}

// Find returns the model with the given ID.
func (r *Registry) Find(id string) (Model, error) {
	if m, ok := r.models[id]; ok {
		return m, nil
	}
	return Model{}, errors.New(errors.ErrCodeUnknownModel, "model not in registry").
		WithContext("model_id", id)
}

// Contains reports whether the registry knows the given model ID.
func (r *Registry) Contains(id string) bool {
	_, ok := r.models[id]
	return ok
}

// Models returns the catalog in stable ID order.
func (r *Registry) Models() []Model {
	out := make([]Model, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.models[id])
	}
	return out
}

// Len returns the number of models in the snapshot.
func (r *Registry) Len() int {
	return len(r.models)
}
