package services

import (
	"context"
	"net/http"
)

// PreferenceClient talks to the preference service. It satisfies
// fallback.PreferenceSource.
type PreferenceClient struct {
	*Client
}

// NewPreferenceClient creates a preference-service client.
func NewPreferenceClient(baseURL string) *PreferenceClient {
	return &PreferenceClient{Client: NewClient(baseURL)}
}

// AutoFallbackPreference returns whether the user opted into silent model
// substitution. A transport failure propagates so the negotiator can
// degrade to the confirmation branch.
func (c *PreferenceClient) AutoFallbackPreference(ctx context.Context) (bool, error) {
	var payload struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/preferences/auto-fallback", nil, &payload); err != nil {
		return false, err
	}
	return payload.Enabled, nil
}

// PresetPreference is the user's stored preset binding, applied at startup.
type PresetPreference struct {
	Slot    int    `json:"slot"`
	ModelID string `json:"model_id"`
}

// PreferredPreset fetches the stored preset binding. A missing preference
// is not an error; ok is false when the backend has nothing stored.
func (c *PreferenceClient) PreferredPreset(ctx context.Context) (PresetPreference, bool, error) {
	var payload struct {
		Preset *PresetPreference `json:"preset"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/preferences/preset", nil, &payload); err != nil {
		return PresetPreference{}, false, err
	}
	if payload.Preset == nil {
		return PresetPreference{}, false, nil
	}
	return *payload.Preset, true, nil
}
