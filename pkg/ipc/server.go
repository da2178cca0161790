// Package ipc hosts the local JSON/HTTP control surface: selection status
// and binds, the model catalog, sweep audits, Prometheus metrics, and the
// websocket event stream the UI listens on.
package ipc

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odvcencio/switchboard/pkg/errors"
	"github.com/odvcencio/switchboard/pkg/fallback"
	"github.com/odvcencio/switchboard/pkg/logging"
	"github.com/odvcencio/switchboard/pkg/notify"
	"github.com/odvcencio/switchboard/pkg/policy"
	"github.com/odvcencio/switchboard/pkg/registry"
	"github.com/odvcencio/switchboard/pkg/selection"
	"github.com/odvcencio/switchboard/pkg/session"
	"github.com/odvcencio/switchboard/pkg/storage"
)

// Config controls the IPC server behavior.
type Config struct {
	BindAddress string
	Version     string
}

// SessionSource yields the session the coordinator is currently acting for.
type SessionSource func() session.Session

// Server hosts the HTTP API for external UIs.
type Server struct {
	cfg        Config
	reg        *registry.Registry
	sel        *selection.State
	pol        *policy.Evaluator
	neg        *fallback.Negotiator
	store      *storage.Store
	ws         *notify.WebSocketAdapter
	sessions   SessionSource
	logger     *logging.Logger
	httpServer *http.Server
}

// NewServer constructs a server over the coordinator's components. Any of
// the collaborators may be nil; the corresponding endpoints then report
// unavailable.
func NewServer(cfg Config, reg *registry.Registry, sel *selection.State, pol *policy.Evaluator, neg *fallback.Negotiator, store *storage.Store, ws *notify.WebSocketAdapter, sessions SessionSource, logger *logging.Logger) *Server {
	if cfg.BindAddress == "" {
		cfg.BindAddress = "127.0.0.1:4490"
	}
	if sessions == nil {
		sessions = func() session.Session { return session.Anonymous() }
	}
	return &Server{
		cfg:      cfg,
		reg:      reg,
		sel:      sel,
		pol:      pol,
		neg:      neg,
		store:    store,
		ws:       ws,
		sessions: sessions,
		logger:   logger,
	}
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/models", s.handleListModels)
		r.Post("/selection", s.handleBindSelection)
		r.Post("/fallback", s.handleFallbackSignal)
		r.Get("/sweeps", s.handleListSweeps)
	})

	if s.ws != nil {
		r.Get("/ws", s.ws.HandleWebSocket)
	}

	return r
}

// Start begins serving and blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.BindAddress,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.cfg.Version,
	})
}

type bindingPayload struct {
	Slot    int    `json:"slot"`
	ModelID string `json:"model_id"`
}

type statusPayload struct {
	Session     string           `json:"session_id"`
	Active      bindingPayload   `json:"active"`
	Bindings    []bindingPayload `json:"bindings"`
	Negotiation string           `json:"negotiation_state"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.sel == nil {
		writeError(w, http.StatusServiceUnavailable, "selection state unavailable")
		return
	}

	current := s.sel.Current()
	payload := statusPayload{
		Session: s.sessions().ID,
		Active:  bindingPayload{Slot: int(current.Slot), ModelID: current.ModelID},
	}
	for _, b := range s.sel.Bindings() {
		payload.Bindings = append(payload.Bindings, bindingPayload{Slot: int(b.Slot), ModelID: b.ModelID})
	}
	if s.neg != nil {
		payload.Negotiation = s.neg.State().String()
	}
	writeJSON(w, http.StatusOK, payload)
}

type modelPayload struct {
	ID           string   `json:"id"`
	DisplayName  string   `json:"display_name"`
	CostBand     string   `json:"cost_band"`
	Capabilities []string `json:"capabilities"`
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	if s.reg == nil {
		writeError(w, http.StatusServiceUnavailable, "model catalog unavailable")
		return
	}

	models := s.reg.Models()
	payload := make([]modelPayload, 0, len(models))
	for _, m := range models {
		entry := modelPayload{
			ID:          m.ID,
			DisplayName: m.DisplayName,
			CostBand:    m.CostBand.String(),
		}
		for _, c := range []registry.Capability{
			registry.CapabilityImages,
			registry.CapabilityPDF,
			registry.CapabilityMultimodal,
			registry.CapabilityReasoning,
			registry.CapabilityFree,
		} {
			if m.Has(c) {
				entry.Capabilities = append(entry.Capabilities, c.String())
			}
		}
		payload = append(payload, entry)
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": payload})
}

type bindRequest struct {
	Slot    int    `json:"slot"`
	ModelID string `json:"model_id"`
}

func (s *Server) handleBindSelection(w http.ResponseWriter, r *http.Request) {
	if s.sel == nil || s.pol == nil {
		writeError(w, http.StatusServiceUnavailable, "selection unavailable")
		return
	}

	var req bindRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess := s.sessions()

	// Paid models pass through the access policy first; the free tier
	// never needs permission.
	if model, err := s.reg.Find(req.ModelID); err == nil && model.CostBand != registry.CostFree {
		decision := s.pol.Evaluate(r.Context(), policy.FeaturePremiumModel, sess)
		if !decision.Allowed {
			writeJSON(w, http.StatusForbidden, map[string]string{
				"error":  "selection denied",
				"remedy": decision.Remedy.String(),
			})
			return
		}
	}

	if err := s.sel.Bind(r.Context(), selection.Slot(req.Slot), req.ModelID); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.IsCode(err, errors.ErrCodeInvalidSlot):
			status = http.StatusBadRequest
		case errors.IsCode(err, errors.ErrCodeUnknownModel):
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}

	if s.store != nil {
		if err := s.store.SavePresetBinding(req.Slot, req.ModelID); err != nil {
			s.logWarn("persisting preset binding", err)
		}
		if err := s.store.SaveActiveSlot(req.Slot); err != nil {
			s.logWarn("persisting active slot", err)
		}
	}

	current := s.sel.Current()
	writeJSON(w, http.StatusOK, bindingPayload{Slot: int(current.Slot), ModelID: current.ModelID})
}

// handleFallbackSignal feeds a model-unavailable signal into the negotiator.
// Negotiation can block on the confirmation dialog, so it runs detached and
// the request returns immediately; progress is observable on /api/status and
// the websocket stream.
func (s *Server) handleFallbackSignal(w http.ResponseWriter, r *http.Request) {
	if s.neg == nil {
		writeError(w, http.StatusServiceUnavailable, "negotiator unavailable")
		return
	}

	var sig fallback.Signal
	if err := json.NewDecoder(r.Body).Decode(&sig); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if sig.OriginalModelID == "" || sig.FallbackModelID == "" {
		writeError(w, http.StatusBadRequest, "original and fallback model IDs are required")
		return
	}

	go func() {
		// Detached from the request context; the negotiation outlives
		// this HTTP exchange.
		_, _ = s.neg.HandleUnavailable(context.Background(), sig)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "negotiating"})
}

type sweepPayload struct {
	SessionID    string    `json:"session_id"`
	CleanedCount int       `json:"cleaned_count"`
	SweptAt      time.Time `json:"swept_at"`
}

func (s *Server) handleListSweeps(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}

	audits, err := s.store.ListSweeps(100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing sweeps")
		return
	}

	payload := make([]sweepPayload, 0, len(audits))
	for _, a := range audits {
		payload = append(payload, sweepPayload{
			SessionID:    a.SessionID,
			CleanedCount: a.CleanedCount,
			SweptAt:      a.SweptAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": payload})
}

func (s *Server) logWarn(msg string, err error) {
	s.logger.Warn(logging.CategorySelection, "persist_failed", msg, map[string]any{
		"error": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
