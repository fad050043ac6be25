package metrics

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Health is the body of GET /healthz.
type Health struct {
	Status    string `json:"status"`
	Uptime    string `json:"uptime"`
	Connected int64  `json:"connected"`
	PoolFree  int    `json:"pool_free"`
	PoolInUse int    `json:"pool_in_use"`
	PoolSize  int    `json:"pool_capacity"`
	Sessions  int    `json:"game_sessions"`
}

// AdminSource supplies the live state served by the admin router.
type AdminSource interface {
	// Health returns the current health summary.
	Health() Health

	// Sessions returns a JSON-encodable snapshot of the game sessions.
	Sessions() any
}

// NewAdminRouter builds the admin HTTP handler:
//
//	GET /metrics   Prometheus exposition of gatherer
//	GET /healthz   Health as JSON
//	GET /sessions  game session snapshot as JSON
//
// Parameters:
//   - gatherer: Source of the exposed collectors; prometheus.DefaultGatherer when nil
//   - src: Live server state
//
// Returns:
//   - A chi router ready to be served
func NewAdminRouter(gatherer prometheus.Gatherer, src AdminSource) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, src.Health())
	})

	r.Get("/sessions", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, src.Sessions())
	})

	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
