package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/odvcencio/switchboard/pkg/errors"
)

// Loader fetches the model catalog from the backend. The fetch happens once
// per session; there is no automatic retry. Callers that cannot load a
// catalog run without capability data and deny every gated feature.
type Loader struct {
	baseURL string
	client  *http.Client

	// RequestHook mutates outbound requests before they are sent.
	// The chat backend uses it to attach the CSRF header.
	RequestHook func(*http.Request)
}

// NewLoader creates a catalog loader for the given backend base URL.
func NewLoader(baseURL string) *Loader {
	return &Loader{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// catalogResponse mirrors the backend's /models payload.
type catalogResponse struct {
	Data []struct {
		ID           string `json:"id"`
		Name         string `json:"name"`
		CostBand     string `json:"cost_band"`
		Capabilities struct {
			Images     bool `json:"images"`
			PDF        bool `json:"pdf"`
			Multimodal bool `json:"multimodal"`
			Reasoning  bool `json:"reasoning"`
			Free       bool `json:"free"`
		} `json:"capabilities"`
	} `json:"data"`
}

// Load fetches the catalog and returns an immutable registry snapshot.
func (l *Loader) Load(ctx context.Context) (*Registry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+"/models", nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "building catalog request")
	}
	req.Header.Set("Accept", "application/json")
	if l.RequestHook != nil {
		l.RequestHook(req)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeNetwork, "fetching model catalog").
			WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.New(errors.ErrCodeNetwork, fmt.Sprintf("catalog fetch returned %d", resp.StatusCode)).
			WithRetryable(resp.StatusCode >= 500)
	}

	var payload catalogResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeNetwork, "decoding model catalog")
	}

	models := make([]Model, 0, len(payload.Data))
	for _, entry := range payload.Data {
		models = append(models, Model{
			ID:             entry.ID,
			DisplayName:    entry.Name,
			SupportsImages: entry.Capabilities.Images,
			SupportsPDF:    entry.Capabilities.PDF,
			Multimodal:     entry.Capabilities.Multimodal,
			Reasoning:      entry.Capabilities.Reasoning,
			Free:           entry.Capabilities.Free,
			CostBand:       parseCostBand(entry.CostBand),
		})
	}
	return New(models), nil
}

func parseCostBand(s string) CostBand {
	switch s {
	case "free":
		return CostFree
	case "low":
		return CostLow
	case "premium":
		return CostPremium
	default:
		return CostStandard
	}
}

// SetHTTPClient replaces the underlying HTTP client. Used by tests and by
// callers that need custom transport settings.
func (l *Loader) SetHTTPClient(client *http.Client) {
	if client != nil {
		l.client = client
	}
}
