package selection

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/switchboard/pkg/errors"
	"github.com/odvcencio/switchboard/pkg/registry"
	"github.com/odvcencio/switchboard/pkg/telemetry"
)

func testRegistry() *registry.Registry {
	return registry.New([]registry.Model{
		{ID: "gpt-x", DisplayName: "GPT X", CostBand: registry.CostPremium},
		{ID: "gpt-y", DisplayName: "GPT Y", CostBand: registry.CostStandard},
		{ID: "mini-free", DisplayName: "Mini", Free: true, CostBand: registry.CostFree},
	})
}

func newState(t *testing.T, opts ...Option) *State {
	t.Helper()
	s, err := New(testRegistry(), "mini-free", map[Slot]string{Slot1: "gpt-x", Slot2: "gpt-y"}, opts...)
	require.NoError(t, err)
	return s
}

func TestNewBindsEverySlot(t *testing.T) {
	s := newState(t)

	bindings := s.Bindings()
	require.Len(t, bindings, 6)
	for _, b := range bindings {
		assert.NotEmpty(t, b.ModelID, "slot %d must be bound", b.Slot)
	}

	free, err := s.BindingFor(FreeSlot)
	require.NoError(t, err)
	assert.Equal(t, "mini-free", free.ModelID)
}

func TestNewUnknownDefaultFallsBackToFree(t *testing.T) {
	s, err := New(testRegistry(), "mini-free", map[Slot]string{Slot3: "ghost-model"})
	require.NoError(t, err)

	b, err := s.BindingFor(Slot3)
	require.NoError(t, err)
	assert.Equal(t, "mini-free", b.ModelID)
}

func TestNewRejectsUnknownFreeModel(t *testing.T) {
	_, err := New(testRegistry(), "ghost-free", nil)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeUnknownModel))
}

func TestBindActivatesSlot(t *testing.T) {
	s := newState(t)

	require.NoError(t, s.Bind(context.Background(), Slot1, "gpt-x"))
	cur := s.Current()
	assert.Equal(t, Slot1, cur.Slot)
	assert.Equal(t, "gpt-x", cur.ModelID)
}

func TestBindUnknownModelMutatesNothing(t *testing.T) {
	s := newState(t)
	require.NoError(t, s.Bind(context.Background(), Slot1, "gpt-x"))
	before := s.Bindings()
	activeBefore := s.Current()

	err := s.Bind(context.Background(), Slot2, "ghost-model")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeUnknownModel))

	assert.Equal(t, before, s.Bindings())
	assert.Equal(t, activeBefore, s.Current())
}

func TestBindInvalidSlot(t *testing.T) {
	s := newState(t)

	for _, slot := range []Slot{0, 7, -1} {
		err := s.Bind(context.Background(), slot, "gpt-x")
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidSlot), "slot %d", slot)
	}
}

func TestNoopRebindStillNotifies(t *testing.T) {
	hub := telemetry.NewHub()
	defer hub.Close()
	events, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	s := newState(t, WithHub(hub))

	require.NoError(t, s.Bind(context.Background(), Slot1, "gpt-x"))
	require.NoError(t, s.Bind(context.Background(), Slot1, "gpt-x")) // no-op rebind

	for i := 0; i < 2; i++ {
		select {
		case ev := <-events:
			assert.Equal(t, telemetry.EventSelectionChanged, ev.Type)
		case <-time.After(time.Second):
			t.Fatalf("expected selectionChanged event %d", i+1)
		}
	}
}

func TestBindFreeIdempotent(t *testing.T) {
	s := newState(t)

	require.NoError(t, s.BindFree(context.Background()))
	require.NoError(t, s.BindFree(context.Background()))

	cur := s.Current()
	assert.Equal(t, FreeSlot, cur.Slot)
	assert.Equal(t, "mini-free", cur.ModelID)
}
