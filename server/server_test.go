package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kt3v/etherialsoul-server/internal/chat"
	"github.com/kt3v/etherialsoul-server/internal/metrics"
	"github.com/kt3v/etherialsoul-server/internal/profile"
)

func TestHealthHandler(t *testing.T) {
	prof := &profile.Profile{Mode: "dev", LLMAPIKey: "test-key"}
	require.NoError(t, prof.Validate())

	store := chat.NewSessionStore()
	timers := chat.NewTimerService()
	pacer := chat.NewPacer(store, nil, nil)
	orch := chat.NewOrchestrator(context.Background(), store, timers, pacer, nil, nil, nil)
	orch.Connect("conn-1", nil)

	exporter := metrics.NewExporter()
	s := NewServer(context.Background(), prof, orch, exporter)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.AIEnabled)
	assert.Equal(t, 1, resp.ActiveUsers)
}

func TestMetricsHandlerRegistered(t *testing.T) {
	prof := &profile.Profile{Mode: "dev"}
	require.NoError(t, prof.Validate())

	store := chat.NewSessionStore()
	timers := chat.NewTimerService()
	pacer := chat.NewPacer(store, nil, nil)
	orch := chat.NewOrchestrator(context.Background(), store, timers, pacer, nil, nil, nil)

	exporter := metrics.NewExporter()
	s := NewServer(context.Background(), prof, orch, exporter)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "etherialsoul_chat")
}
