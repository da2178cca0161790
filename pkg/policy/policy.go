// Package policy gates feature usage on session state. The balance-based
// table here is the single authoritative access policy; model capability
// flags only decide which UI affordances are visible and never grant access
// on their own.
package policy

import (
	"context"

	"github.com/odvcencio/switchboard/pkg/logging"
	"github.com/odvcencio/switchboard/pkg/registry"
	"github.com/odvcencio/switchboard/pkg/session"
	"github.com/odvcencio/switchboard/pkg/telemetry"
)

// Feature is a gated feature a collaborator asks about before use.
type Feature string

const (
	FeaturePremiumModel Feature = "premium_model"
	FeatureFileUpload   Feature = "file_upload"
	FeatureAdvanced     Feature = "advanced"
)

// Remedy is the corrective action suggested alongside a denial.
type Remedy int

const (
	RemedyNone Remedy = iota
	RemedyRedirectToLogin
	RemedyDowngradeToFreePreset
)

// String returns the wire name of the remedy.
func (r Remedy) String() string {
	switch r {
	case RemedyNone:
		return "none"
	case RemedyRedirectToLogin:
		return "redirect_to_login"
	case RemedyDowngradeToFreePreset:
		return "downgrade_to_free_preset"
	}
	return "unknown"
}

// Decision is the outcome of a policy evaluation.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Remedy  Remedy `json:"remedy"`
}

// Downgrader is the slice of selection state the evaluator needs for its one
// mutating side effect. Implementations must make repeat downgrades no-ops.
type Downgrader interface {
	BindFree(ctx context.Context) error
}

// Evaluator answers allow/deny questions for gated features and capability
// questions for UI affordances.
type Evaluator struct {
	registry  *registry.Registry
	selection Downgrader
	logger    *logging.Logger
	hub       *telemetry.Hub
}

// Option configures optional collaborators on an Evaluator.
type Option func(*Evaluator)

// WithLogger attaches a structured logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Evaluator) { e.logger = l }
}

// WithHub attaches a telemetry hub for denial events.
func WithHub(h *telemetry.Hub) Option {
	return func(e *Evaluator) { e.hub = h }
}

// NewEvaluator creates a policy evaluator. reg may be nil when the catalog
// failed to load; capability lookups then deny every affordance.
func NewEvaluator(reg *registry.Registry, sel Downgrader, opts ...Option) *Evaluator {
	e := &Evaluator{registry: reg, selection: sel}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate applies the access table to a feature request.
//
//	not authenticated        -> deny, RedirectToLogin
//	authenticated, balance<=0 -> deny, DowngradeToFreePreset
//	authenticated, balance>0  -> allow
//
// The DowngradeToFreePreset remedy on a premium-model request is the only
// evaluation with a side effect: the active preset is rebound to the free
// slot so the invariant "no premium binding without credit" is restored
// before the next send. The rebind is idempotent.
func (e *Evaluator) Evaluate(ctx context.Context, feature Feature, sess session.Session) Decision {
	if !sess.Authenticated {
		e.recordDenial(feature, RemedyRedirectToLogin)
		return Decision{Allowed: false, Remedy: RemedyRedirectToLogin}
	}
	if sess.CreditBalance <= 0 {
		if feature == FeaturePremiumModel && e.selection != nil {
			_ = e.selection.BindFree(ctx)
		}
		e.recordDenial(feature, RemedyDowngradeToFreePreset)
		return Decision{Allowed: false, Remedy: RemedyDowngradeToFreePreset}
	}
	return Decision{Allowed: true, Remedy: RemedyNone}
}

// HasCapability reports whether the model supports the capability. Purely a
// registry lookup, independent of the session: a model either supports a
// capability or it doesn't, regardless of who is asking. Unknown models and
// a missing catalog both read as "no capability".
func (e *Evaluator) HasCapability(modelID string, cap registry.Capability) bool {
	if e.registry == nil {
		return false
	}
	m, err := e.registry.Find(modelID)
	if err != nil {
		return false
	}
	return m.Has(cap)
}

func (e *Evaluator) recordDenial(feature Feature, remedy Remedy) {
	telemetry.MetricPolicyDenials.WithLabelValues(string(feature), remedy.String()).Inc()
	e.hub.Publish(telemetry.Event{
		Type: telemetry.EventPolicyDenied,
		Data: map[string]any{"feature": string(feature), "remedy": remedy.String()},
	})
	_ = e.logger.Info(logging.CategoryPolicy, "feature_denied", "access policy denied feature", map[string]any{
		"feature": string(feature),
		"remedy":  remedy.String(),
	})
}
