package ipc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/switchboard/pkg/fallback"
	"github.com/odvcencio/switchboard/pkg/policy"
	"github.com/odvcencio/switchboard/pkg/registry"
	"github.com/odvcencio/switchboard/pkg/selection"
	"github.com/odvcencio/switchboard/pkg/session"
	"github.com/odvcencio/switchboard/pkg/storage"
)

func testCatalog(t *testing.T) *registry.Registry {
	t.Helper()
	return registry.New([]registry.Model{
		{ID: "atlas-ultra", DisplayName: "Atlas Ultra", CostBand: registry.CostPremium, Reasoning: true},
		{ID: "atlas-pro", DisplayName: "Atlas Pro", CostBand: registry.CostStandard, SupportsImages: true},
		{ID: "atlas-lite", DisplayName: "Atlas Lite", CostBand: registry.CostFree, Free: true},
	})
}

func testServer(t *testing.T, sess session.Session) (*Server, *selection.State, *storage.Store) {
	t.Helper()
	reg := testCatalog(t)
	sel, err := selection.New(reg, "atlas-lite", map[selection.Slot]string{
		selection.Slot1: "atlas-ultra",
		selection.Slot2: "atlas-pro",
	})
	require.NoError(t, err)
	pol := policy.NewEvaluator(reg, sel)
	store, err := storage.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	srv := NewServer(Config{Version: "test"}, reg, sel, pol, nil, store, nil,
		func() session.Session { return sess }, nil)
	return srv, sel, store
}

func doRequest(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv, _, _ := testServer(t, session.Session{ID: "s", Authenticated: true, CreditBalance: 1})
	rec := doRequest(t, srv, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"test"`)
}

func TestStatusReportsBindings(t *testing.T) {
	srv, _, _ := testServer(t, session.Session{ID: "sess-1", Authenticated: true, CreditBalance: 1})
	rec := doRequest(t, srv, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload statusPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "sess-1", payload.Session)
	assert.Len(t, payload.Bindings, 6, "every preset slot is always bound")
	assert.Equal(t, 6, payload.Bindings[5].Slot)
	assert.Equal(t, "atlas-lite", payload.Bindings[5].ModelID)
}

func TestListModels(t *testing.T) {
	srv, _, _ := testServer(t, session.Session{Authenticated: true, CreditBalance: 1})
	rec := doRequest(t, srv, http.MethodGet, "/api/models", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Data []modelPayload `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Data, 3)
	assert.Equal(t, "premium", payload.Data[0].CostBand)
	assert.Contains(t, payload.Data[0].Capabilities, "reasoning")
}

func TestBindSelectionAllowed(t *testing.T) {
	srv, sel, store := testServer(t, session.Session{ID: "s", Authenticated: true, CreditBalance: 5})
	rec := doRequest(t, srv, http.MethodPost, "/api/selection", bindRequest{Slot: 2, ModelID: "atlas-ultra"})
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "atlas-ultra", sel.Current().ModelID)

	bindings, err := store.PresetBindings()
	require.NoError(t, err)
	require.Len(t, bindings, 1)
	assert.Equal(t, 2, bindings[0].Slot)

	slot, ok, err := store.ActiveSlot()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, slot)
}

func TestBindSelectionDeniedUnauthenticated(t *testing.T) {
	srv, sel, _ := testServer(t, session.Anonymous())
	before := sel.Current()

	rec := doRequest(t, srv, http.MethodPost, "/api/selection", bindRequest{Slot: 1, ModelID: "atlas-ultra"})
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "redirect_to_login")
	assert.Equal(t, before, sel.Current(), "denied bind must not change selection")
}

func TestBindSelectionExhaustedBalanceDowngrades(t *testing.T) {
	srv, sel, _ := testServer(t, session.Session{ID: "s", Authenticated: true, CreditBalance: 0})

	rec := doRequest(t, srv, http.MethodPost, "/api/selection", bindRequest{Slot: 1, ModelID: "atlas-ultra"})
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "downgrade_to_free_preset")
	assert.Equal(t, selection.FreeSlot, sel.Current().Slot, "exhausted balance lands on the free preset")
}

func TestBindSelectionFreeModelSkipsPolicy(t *testing.T) {
	// Anonymous users can still pick the free model.
	srv, sel, _ := testServer(t, session.Anonymous())

	rec := doRequest(t, srv, http.MethodPost, "/api/selection", bindRequest{Slot: 6, ModelID: "atlas-lite"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "atlas-lite", sel.Current().ModelID)
}

func TestBindSelectionUnknownModel(t *testing.T) {
	srv, _, _ := testServer(t, session.Session{ID: "s", Authenticated: true, CreditBalance: 5})
	rec := doRequest(t, srv, http.MethodPost, "/api/selection", bindRequest{Slot: 1, ModelID: "ghost"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBindSelectionInvalidSlot(t *testing.T) {
	srv, _, _ := testServer(t, session.Session{ID: "s", Authenticated: true, CreditBalance: 5})
	rec := doRequest(t, srv, http.MethodPost, "/api/selection", bindRequest{Slot: 9, ModelID: "atlas-lite"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type autoPrefs struct{}

func (autoPrefs) AutoFallbackPreference(ctx context.Context) (bool, error) { return true, nil }

type nopPipeline struct{}

func (nopPipeline) ResendMessage(ctx context.Context, text string) error { return nil }

type nopInput struct{}

func (nopInput) RestoreDraft(text string) {}

type nopNotifier struct{}

func (nopNotifier) Confirm(ctx context.Context, o, f, m string) (bool, error) { return true, nil }
func (nopNotifier) Notify(ctx context.Context, message string)                {}

func TestFallbackSignalAccepted(t *testing.T) {
	srv, sel, _ := testServer(t, session.Session{ID: "s", Authenticated: true, CreditBalance: 5})
	neg := fallback.New(sel, autoPrefs{}, nopPipeline{}, nopInput{}, nopNotifier{})
	srv.neg = neg

	rec := doRequest(t, srv, http.MethodPost, "/api/fallback", fallback.Signal{
		OriginalModelID: "atlas-ultra",
		FallbackModelID: "atlas-pro",
		Message:         "try again",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	// The detached negotiation rebinds the active slot to the fallback.
	require.Eventually(t, func() bool {
		return sel.Current().ModelID == "atlas-pro"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFallbackSignalRejectsPartialBody(t *testing.T) {
	srv, sel, _ := testServer(t, session.Session{ID: "s", Authenticated: true, CreditBalance: 5})
	srv.neg = fallback.New(sel, autoPrefs{}, nopPipeline{}, nopInput{}, nopNotifier{})

	rec := doRequest(t, srv, http.MethodPost, "/api/fallback", fallback.Signal{FallbackModelID: "atlas-pro"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListSweeps(t *testing.T) {
	srv, _, store := testServer(t, session.Session{ID: "s", Authenticated: true, CreditBalance: 1})
	require.NoError(t, store.RecordSweep("s", 2, time.Now()))

	rec := doRequest(t, srv, http.MethodGet, "/api/sweeps", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Data []sweepPayload `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Data, 1)
	assert.Equal(t, 2, payload.Data[0].CleanedCount)
}
