// Package reclaim deletes empty conversations after the UI has gone idle.
// The sweep is opportunistic: it runs at most once per Schedule call, waits
// for a low-priority window bounded by a ~2s ceiling, and never surfaces an
// error to the user — a failed sweep just logs and gives up.
package reclaim

import (
	"context"
	"encoding/json"
	"time"

	"github.com/odvcencio/switchboard/pkg/bus"
	"github.com/odvcencio/switchboard/pkg/logging"
	"github.com/odvcencio/switchboard/pkg/session"
	"github.com/odvcencio/switchboard/pkg/telemetry"
)

// DefaultDelay is the deferral ceiling for a scheduled sweep.
const DefaultDelay = 2 * time.Second

// CleanupResult is the conversation service's report for one sweep.
type CleanupResult struct {
	Success      bool `json:"success"`
	CleanedCount int  `json:"cleaned_count"`
}

// ConversationService is the external collaborator that owns conversation
// persistence. Cleanup must be idempotent on the server side.
type ConversationService interface {
	CleanupEmptyConversations(ctx context.Context) (CleanupResult, error)
	RefreshConversationList(ctx context.Context, force bool) error
}

// SweepRecorder persists an audit row per completed sweep. Optional.
type SweepRecorder interface {
	RecordSweep(sessionID string, cleaned int, sweptAt time.Time) error
}

// Scheduler runs single-shot reclamation sweeps.
type Scheduler struct {
	svc   ConversationService
	delay time.Duration

	// idle, when non-nil, is the UI shell's low-priority execution
	// signal. The sweep fires on the first signal or when the delay
	// ceiling expires, whichever comes first.
	idle <-chan struct{}

	recorder SweepRecorder
	hub      *telemetry.Hub
	msgBus   bus.MessageBus
	logger   *logging.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithDelay overrides the deferral ceiling.
func WithDelay(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.delay = d
		}
	}
}

// WithIdleSignal supplies the UI shell's idle signal channel.
func WithIdleSignal(idle <-chan struct{}) Option {
	return func(s *Scheduler) { s.idle = idle }
}

// WithRecorder attaches a sweep audit recorder.
func WithRecorder(r SweepRecorder) Option {
	return func(s *Scheduler) { s.recorder = r }
}

// WithHub attaches a telemetry hub.
func WithHub(h *telemetry.Hub) Option {
	return func(s *Scheduler) { s.hub = h }
}

// WithBus attaches a message bus for sweep notifications.
func WithBus(b bus.MessageBus) Option {
	return func(s *Scheduler) { s.msgBus = b }
}

// WithLogger attaches a structured logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// New creates a reclamation scheduler.
func New(svc ConversationService, opts ...Option) *Scheduler {
	s := &Scheduler{svc: svc, delay: DefaultDelay}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule queues exactly one sweep for the session. Unauthenticated
// sessions are a no-op: anonymous usage has no persisted conversation
// history to reclaim. The returned channel closes when the sweep (or the
// decision to skip it) has finished; callers that don't care may ignore it.
func (s *Scheduler) Schedule(ctx context.Context, sess session.Session) <-chan struct{} {
	done := make(chan struct{})

	if !sess.Authenticated {
		telemetry.MetricReclaimSweeps.WithLabelValues("skipped").Inc()
		s.hub.Publish(telemetry.Event{
			Type:      telemetry.EventReclaimSkipped,
			SessionID: sess.ID,
			Data:      map[string]any{"reason": "unauthenticated"},
		})
		close(done)
		return done
	}

	s.hub.Publish(telemetry.Event{Type: telemetry.EventReclaimScheduled, SessionID: sess.ID})

	go func() {
		defer close(done)
		if !s.waitForWindow(ctx) {
			telemetry.MetricReclaimSweeps.WithLabelValues("skipped").Inc()
			_ = s.logger.Debug(logging.CategoryReclaim, "sweep_skipped", "shutdown before sweep window", nil)
			return
		}
		s.sweep(ctx, sess)
	}()

	return done
}

// waitForWindow blocks until the idle signal fires or the delay ceiling
// expires. Returns false only when the context is cancelled first.
func (s *Scheduler) waitForWindow(ctx context.Context) bool {
	timer := time.NewTimer(s.delay)
	defer timer.Stop()

	if s.idle != nil {
		select {
		case <-s.idle:
			return true
		case <-timer.C:
			return true
		case <-ctx.Done():
			return false
		}
	}

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Scheduler) sweep(ctx context.Context, sess session.Session) {
	ctx, span := telemetry.StartSpan(ctx, "reclaim.sweep")
	span.SetAttributes(telemetry.AttrSessionID.String(sess.ID))
	defer span.End()

	result, err := s.svc.CleanupEmptyConversations(ctx)
	if err != nil {
		// Reclamation is best-effort: log and swallow.
		telemetry.MetricReclaimSweeps.WithLabelValues("failed").Inc()
		telemetry.RecordError(ctx, err)
		_ = s.logger.Error(logging.CategoryReclaim, "cleanup_failed", "sweep request failed", map[string]any{
			"error": err.Error(),
		})
		return
	}

	span.SetAttributes(telemetry.AttrCleanedCount.Int(result.CleanedCount))

	if s.recorder != nil {
		if recErr := s.recorder.RecordSweep(sess.ID, result.CleanedCount, time.Now()); recErr != nil {
			_ = s.logger.Warn(logging.CategoryReclaim, "audit_failed", "could not record sweep", map[string]any{
				"error": recErr.Error(),
			})
		}
	}

	if result.CleanedCount == 0 {
		// Nothing removed is the normal, silent outcome.
		telemetry.MetricReclaimSweeps.WithLabelValues("empty").Inc()
		return
	}

	telemetry.MetricReclaimSweeps.WithLabelValues("cleaned").Inc()
	telemetry.MetricConversationsReclaimed.Add(float64(result.CleanedCount))

	s.hub.Publish(telemetry.Event{
		Type:      telemetry.EventReclaimSwept,
		SessionID: sess.ID,
		Data:      map[string]any{"cleaned_count": result.CleanedCount},
	})
	if s.msgBus != nil {
		if payload, err := json.Marshal(result); err == nil {
			_ = s.msgBus.Publish(ctx, bus.SubjectReclaimSwept, payload)
		}
	}

	if err := s.svc.RefreshConversationList(ctx, true); err != nil {
		_ = s.logger.Warn(logging.CategoryReclaim, "refresh_failed", "list refresh after sweep failed", map[string]any{
			"error": err.Error(),
		})
	}

	_ = s.logger.Info(logging.CategoryReclaim, "swept", "reclaimed empty conversations", map[string]any{
		"cleaned_count": result.CleanedCount,
	})
}
