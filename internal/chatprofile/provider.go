// Package chatprofile implements chat.ProfileProvider against an external
// HTTP service that resolves per-user chart/profile data for the tarot and
// astro prompt modes.
package chatprofile

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/kt3v/etherialsoul-server/internal/chat"
)

// Config points at the external profile-provider service.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration // default 10s
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
}

// HTTPProvider is the chat.ProfileProvider implementation used when
// PROFILE_PROVIDER_BASE_URL is configured.
type HTTPProvider struct {
	cfg    Config
	client *http.Client
}

var _ chat.ProfileProvider = (*HTTPProvider)(nil)

// NewHTTPProvider builds an HTTPProvider from cfg.
func NewHTTPProvider(cfg Config) *HTTPProvider {
	cfg.applyDefaults()
	return &HTTPProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Resolve fetches the chart/profile payload for userID under the given
// mode. A 404 yields a nil profile and no error. Any other transport,
// status, or decode failure is returned to the caller, wrapped with context;
// the Orchestrator is responsible for absorbing it as ProfileFetchFailed
// (spec §7) rather than failing generation.
func (p *HTTPProvider) Resolve(ctx context.Context, userID string, mode chat.ChatMode) (chat.ProfileContext, error) {
	url := p.cfg.BaseURL + "/profiles/" + userID + "?mode=" + string(mode)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to construct profile request for %s", userID)
	}
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch profile for %s", userID)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read profile response for %s", userID)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Errorf("profile provider returned status %d for %s: %s", resp.StatusCode, userID, body)
	}

	var profileCtx chat.ProfileContext
	if err := json.Unmarshal(body, &profileCtx); err != nil {
		return nil, errors.Wrapf(err, "failed to decode profile response for %s", userID)
	}
	return profileCtx, nil
}
