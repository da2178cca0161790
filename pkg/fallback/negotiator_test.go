package fallback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	swerrors "github.com/odvcencio/switchboard/pkg/errors"
	"github.com/odvcencio/switchboard/pkg/registry"
	"github.com/odvcencio/switchboard/pkg/selection"
	"github.com/odvcencio/switchboard/pkg/telemetry"
)

type stubPrefs struct {
	enabled bool
	err     error
	calls   int
}

func (s *stubPrefs) AutoFallbackPreference(ctx context.Context) (bool, error) {
	s.calls++
	return s.enabled, s.err
}

type stubPipeline struct {
	mu    sync.Mutex
	sent  []string
	err   error
	calls int
}

func (s *stubPipeline) ResendMessage(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.sent = append(s.sent, text)
	return s.err
}

type stubInput struct {
	mu     sync.Mutex
	drafts []string
}

func (s *stubInput) RestoreDraft(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drafts = append(s.drafts, text)
}

type stubNotifier struct {
	mu            sync.Mutex
	confirmResult bool
	confirmErr    error
	confirmCalls  int
	notifyCalls   int

	// When set, Confirm signals on started and blocks until release fires.
	started chan struct{}
	release chan bool
}

func (s *stubNotifier) Confirm(ctx context.Context, original, fallback, message string) (bool, error) {
	s.mu.Lock()
	s.confirmCalls++
	s.mu.Unlock()
	if s.started != nil {
		s.started <- struct{}{}
		return <-s.release, s.confirmErr
	}
	return s.confirmResult, s.confirmErr
}

func (s *stubNotifier) Notify(ctx context.Context, message string) {
	s.mu.Lock()
	s.notifyCalls++
	s.mu.Unlock()
}

func (s *stubNotifier) counts() (confirms, notifies int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.confirmCalls, s.notifyCalls
}

func testSelection(t *testing.T) *selection.State {
	t.Helper()
	reg := registry.New([]registry.Model{
		{ID: "gpt-x", CostBand: registry.CostPremium},
		{ID: "gpt-y", CostBand: registry.CostStandard},
		{ID: "mini-free", Free: true, CostBand: registry.CostFree},
	})
	s, err := selection.New(reg, "mini-free", map[selection.Slot]string{selection.Slot1: "gpt-x"})
	require.NoError(t, err)
	require.NoError(t, s.Bind(context.Background(), selection.Slot1, "gpt-x"))
	return s
}

func signal() Signal {
	return Signal{OriginalModelID: "gpt-x", FallbackModelID: "gpt-y", Message: "hello"}
}

func TestAutoFallbackSwitchesAndReplays(t *testing.T) {
	sel := testSelection(t)
	pipeline := &stubPipeline{}
	notifier := &stubNotifier{}
	n := New(sel, &stubPrefs{enabled: true}, pipeline, &stubInput{}, notifier)

	outcome, err := n.HandleUnavailable(context.Background(), signal())
	require.NoError(t, err)
	assert.Equal(t, OutcomeAuto, outcome)

	cur := sel.Current()
	assert.Equal(t, "gpt-y", cur.ModelID)
	assert.Equal(t, selection.Slot1, cur.Slot)

	assert.Equal(t, []string{"hello"}, pipeline.sent)

	confirms, notifies := notifier.counts()
	assert.Equal(t, 0, confirms, "auto fallback must not show the dialog")
	assert.Equal(t, 1, notifies, "auto fallback shows a non-blocking notice")

	assert.Equal(t, StateIdle, n.State())
	_, live := n.Active()
	assert.False(t, live)
}

func TestPreferenceLookupFailureDegradesToConfirmation(t *testing.T) {
	sel := testSelection(t)
	pipeline := &stubPipeline{}
	notifier := &stubNotifier{confirmResult: true}
	prefs := &stubPrefs{enabled: true, err: swerrors.New(swerrors.ErrCodeNetwork, "preference endpoint down")}
	n := New(sel, prefs, pipeline, &stubInput{}, notifier)

	outcome, err := n.HandleUnavailable(context.Background(), signal())
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, outcome, "confirmed accept, not auto")

	confirms, _ := notifier.counts()
	assert.Equal(t, 1, confirms, "uncertain preference state must ask the user")
	assert.Equal(t, "gpt-y", sel.Current().ModelID)
	assert.Equal(t, 1, pipeline.calls)
}

func TestDeclineRestoresBindingAndDraft(t *testing.T) {
	sel := testSelection(t)
	before := sel.Current()
	pipeline := &stubPipeline{}
	input := &stubInput{}
	n := New(sel, &stubPrefs{enabled: false}, pipeline, input, &stubNotifier{confirmResult: false})

	outcome, err := n.HandleUnavailable(context.Background(), signal())
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeclined, outcome)

	assert.Equal(t, before, sel.Current(), "declining must leave the pre-negotiation binding")
	assert.Equal(t, []string{"hello"}, input.drafts, "declined message returns to the input verbatim")
	assert.Equal(t, 0, pipeline.calls)
	assert.Equal(t, StateIdle, n.State())
}

func TestConfirmErrorCountsAsDecline(t *testing.T) {
	sel := testSelection(t)
	input := &stubInput{}
	n := New(sel, &stubPrefs{enabled: false}, &stubPipeline{}, input,
		&stubNotifier{confirmResult: true, confirmErr: errors.New("surface gone")})

	outcome, err := n.HandleUnavailable(context.Background(), signal())
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeclined, outcome)
	assert.Equal(t, []string{"hello"}, input.drafts)
	assert.Equal(t, "gpt-x", sel.Current().ModelID)
}

func TestSecondSignalDroppedWhileNegotiating(t *testing.T) {
	sel := testSelection(t)
	pipeline := &stubPipeline{}
	input := &stubInput{}
	notifier := &stubNotifier{
		started: make(chan struct{}, 1),
		release: make(chan bool),
	}
	n := New(sel, &stubPrefs{enabled: false}, pipeline, input, notifier)

	first := make(chan Outcome, 1)
	go func() {
		outcome, _ := n.HandleUnavailable(context.Background(), signal())
		first <- outcome
	}()

	// Wait until the first cycle is suspended in the confirmation dialog.
	select {
	case <-notifier.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first negotiation never reached confirmation")
	}
	assert.Equal(t, StateAwaitingConfirmation, n.State())

	// A second signal for the same logical failure is dropped outright.
	outcome, err := n.HandleUnavailable(context.Background(), Signal{
		OriginalModelID: "gpt-x", FallbackModelID: "gpt-y", Message: "hello again",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDropped, outcome)
	assert.Empty(t, input.drafts, "dropped signal must have no side effects")
	assert.Equal(t, 0, pipeline.calls)

	// Release the first negotiation; exactly one completes.
	notifier.release <- true
	select {
	case got := <-first:
		assert.Equal(t, OutcomeAccepted, got)
	case <-time.After(2 * time.Second):
		t.Fatal("first negotiation never resolved")
	}
	assert.Equal(t, []string{"hello"}, pipeline.sent)
	assert.Equal(t, "gpt-y", sel.Current().ModelID)
}

func TestUnknownFallbackModelAbortsLikeDecline(t *testing.T) {
	sel := testSelection(t)
	before := sel.Current()
	pipeline := &stubPipeline{}
	input := &stubInput{}
	n := New(sel, &stubPrefs{enabled: true}, pipeline, input, &stubNotifier{})

	outcome, err := n.HandleUnavailable(context.Background(), Signal{
		OriginalModelID: "gpt-x", FallbackModelID: "ghost-model", Message: "hello",
	})
	require.Error(t, err)
	assert.True(t, swerrors.IsCode(err, swerrors.ErrCodeUnknownModel))
	assert.Equal(t, OutcomeAborted, outcome)

	assert.Equal(t, before, sel.Current(), "failed rebind must not change the binding")
	assert.Equal(t, []string{"hello"}, input.drafts)
	assert.Equal(t, 0, pipeline.calls)

	// The guard is released; a new cycle can start immediately.
	assert.Equal(t, StateIdle, n.State())
	next, err := n.HandleUnavailable(context.Background(), signal())
	require.NoError(t, err)
	assert.Equal(t, OutcomeAuto, next)
}

func TestGuardReleasedBeforeReplayResult(t *testing.T) {
	sel := testSelection(t)
	pipeline := &stubPipeline{err: swerrors.New(swerrors.ErrCodeNetwork, "send failed").WithRetryable(true)}
	n := New(sel, &stubPrefs{enabled: true}, pipeline, &stubInput{}, &stubNotifier{})

	outcome, err := n.HandleUnavailable(context.Background(), signal())
	assert.Equal(t, OutcomeAuto, outcome, "replay failure does not change the negotiation outcome")
	require.Error(t, err, "replay failure surfaces as a fresh top-level send failure")

	// Context cleared and guard released even though the replay failed.
	assert.Equal(t, StateIdle, n.State())
	_, live := n.Active()
	assert.False(t, live)

	// The failed replay may trigger a brand-new Detecting cycle.
	pipeline.err = nil
	next, err := n.HandleUnavailable(context.Background(), signal())
	require.NoError(t, err)
	assert.Equal(t, OutcomeAuto, next)
}

func TestAutoSwitchNoticeWaitsForRebind(t *testing.T) {
	sel := testSelection(t)
	notifier := &stubNotifier{}
	n := New(sel, &stubPrefs{enabled: true}, &stubPipeline{}, &stubInput{}, notifier)

	outcome, err := n.HandleUnavailable(context.Background(), Signal{
		OriginalModelID: "gpt-x", FallbackModelID: "ghost-model", Message: "hello",
	})
	require.Error(t, err)
	assert.Equal(t, OutcomeAborted, outcome)

	_, notifies := notifier.counts()
	assert.Equal(t, 0, notifies, "no switch notice when the rebind fails")
}

func TestDeclinedEventCarriesDraft(t *testing.T) {
	hub := telemetry.NewHub()
	defer hub.Close()
	events, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	sel := testSelection(t)
	n := New(sel, &stubPrefs{enabled: false}, &stubPipeline{}, &stubInput{},
		&stubNotifier{confirmResult: false}, WithHub(hub))

	outcome, err := n.HandleUnavailable(context.Background(), signal())
	require.NoError(t, err)
	require.Equal(t, OutcomeDeclined, outcome)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type != telemetry.EventFallbackDeclined {
				continue
			}
			assert.Equal(t, "hello", ev.Data["pending_message"], "composer needs the draft to restore it")
			return
		case <-deadline:
			t.Fatal("declined event never published")
		}
	}
}

func TestSequentialNegotiations(t *testing.T) {
	sel := testSelection(t)
	pipeline := &stubPipeline{}
	n := New(sel, &stubPrefs{enabled: true}, pipeline, &stubInput{}, &stubNotifier{})

	for i := 0; i < 3; i++ {
		outcome, err := n.HandleUnavailable(context.Background(), signal())
		require.NoError(t, err)
		require.Equal(t, OutcomeAuto, outcome)
	}
	assert.Equal(t, 3, pipeline.calls)
}
