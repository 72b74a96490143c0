package api

import (
	"net/http"

	"github.com/helix-sec/crucible/internal/aggregate"
	"github.com/helix-sec/crucible/internal/auth"
	"github.com/helix-sec/crucible/internal/chread"
	"github.com/helix-sec/crucible/internal/eventstore"
	"github.com/helix-sec/crucible/internal/lifecycle"
	"github.com/helix-sec/crucible/internal/report"
	"github.com/helix-sec/crucible/internal/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Dependencies holds shared state injected into all HTTP handlers.
type Dependencies struct {
	Events   eventstore.Store
	Engine   *aggregate.Engine
	Recorder *lifecycle.Recorder
	Reports  *report.Store
	Writer   storage.EventWriter
	Reader   *chread.Reader // nil if ClickHouse unavailable
	Auth     auth.Authenticator
	Logger   *zap.Logger
}

// NewRouter builds the HTTP mux with all routes wired up.
func NewRouter(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()

	// Ingest endpoints (producer API key required)
	mux.HandleFunc("POST /ingest/events", deps.authMiddleware(deps.handleIngestEvents))
	mux.HandleFunc("POST /ingest/lifecycle", deps.authMiddleware(deps.handleIngestLifecycle))

	// Query endpoints (no auth — dashboard auth added later)
	mux.HandleFunc("GET /api/events/recent", deps.handleRecentEvents)
	mux.HandleFunc("GET /api/sessions", deps.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{session_id}/status", deps.handleSessionStatus)
	mux.HandleFunc("GET /api/sessions/{session_id}/features", deps.handleSessionFeatures)
	mux.HandleFunc("GET /api/sessions/{session_id}/report", deps.handleSessionReport)
	mux.HandleFunc("GET /api/sessions/{session_id}/timeline", deps.handleSessionTimeline)
	mux.HandleFunc("GET /api/analytics", deps.handleAnalytics)

	// Health check
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.Handle("GET /metrics", promhttp.Handler())

	return corsMiddleware(requestLogging(mux, deps.Logger))
}
