// Package server wires the HTTP surface: a health endpoint, Prometheus
// metrics, and the WebSocket upgrade route that hands connections to the
// chat Orchestrator.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/kt3v/etherialsoul-server/internal/chat"
	"github.com/kt3v/etherialsoul-server/internal/metrics"
	"github.com/kt3v/etherialsoul-server/internal/profile"
	"github.com/kt3v/etherialsoul-server/internal/transport"
	"github.com/kt3v/etherialsoul-server/internal/version"
)

// Server is the HTTP server exposing the relay's health, metrics, and
// WebSocket routes.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server
	profile    *profile.Profile
	orch       *chat.Orchestrator
}

// HealthResponse is the GET /health payload.
type HealthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	AIEnabled   bool      `json:"aiEnabled"`
	ActiveUsers int       `json:"activeUsers"`
	Version     string    `json:"version"`
}

const activeSessionsPollInterval = 5 * time.Second

// NewServer builds the Server and registers all routes.
func NewServer(ctx context.Context, prof *profile.Profile, orch *chat.Orchestrator, exporter *metrics.Exporter) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost},
	}))

	s := &Server{
		echo:    e,
		profile: prof,
		orch:    orch,
	}

	e.GET("/health", s.healthHandler)
	if exporter != nil {
		e.GET("/metrics", echo.WrapHandler(exporter.Handler()))
	}

	wsHandler := transport.NewHandler(orch, nil)
	e.GET("/ws", wsHandler.ServeWS)

	if exporter != nil {
		go s.pollActiveSessions(ctx, exporter)
	}

	return s
}

// pollActiveSessions periodically reports the live session count to the
// active_sessions gauge until ctx is cancelled.
func (s *Server) pollActiveSessions(ctx context.Context, exporter *metrics.Exporter) {
	ticker := time.NewTicker(activeSessionsPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			exporter.SetActiveSessions(s.orch.ActiveConnections())
		}
	}
}

func (s *Server) healthHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:      "ok",
		Timestamp:   time.Now(),
		AIEnabled:   s.profile.IsAIEnabled(),
		ActiveUsers: s.orch.ActiveConnections(),
		Version:     version.GetCurrentVersion(s.profile.Mode),
	})
}

// Start starts the HTTP server (blocking). Mirrors net/http.ErrServerClosed
// semantics so callers can distinguish a graceful shutdown from a real
// failure.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.echo,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
