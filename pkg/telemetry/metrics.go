package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MetricFallbackOutcomes counts resolved fallback negotiations by outcome.
	MetricFallbackOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "switchboard",
		Name:      "fallback_outcomes_total",
		Help:      "Resolved fallback negotiations by outcome (auto, accepted, declined, dropped, aborted).",
	}, []string{"outcome"})

	// MetricPolicyDenials counts access-policy denials by feature and remedy.
	MetricPolicyDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "switchboard",
		Name:      "policy_denials_total",
		Help:      "Access policy denials by feature and remedy.",
	}, []string{"feature", "remedy"})

	// MetricSelectionChanges counts preset rebinds.
	MetricSelectionChanges = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "switchboard",
		Name:      "selection_changes_total",
		Help:      "Preset slot rebinds, including no-op rebinds that renotify the UI.",
	})

	// MetricReclaimSweeps counts reclamation sweep completions.
	MetricReclaimSweeps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "switchboard",
		Name:      "reclaim_sweeps_total",
		Help:      "Idle reclamation sweeps by result (cleaned, empty, failed, skipped).",
	}, []string{"result"})

	// MetricConversationsReclaimed counts conversations removed by sweeps.
	MetricConversationsReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "switchboard",
		Name:      "conversations_reclaimed_total",
		Help:      "Empty conversations deleted by the idle reclamation sweep.",
	})
)
