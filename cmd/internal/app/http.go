package app

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// routes builds the top-level handler. /api/ carries its own CSRF and
// per-client limits; the WebSocket endpoints enforce origin checks themselves.
func (a *App) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", a.handleHealth)
	mux.HandleFunc("GET /readyz", a.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(a.reg, promhttp.HandlerOpts{Registry: a.reg}))

	mux.Handle("/graphql-ws", a.gateway)
	mux.Handle("/ws", a.gateway)

	mux.Handle("/api/", WithCORS(a.api, a.cfg, a.log))

	return WithRequestLogging(WithSecurityHeaders(mux), a.log, a.metrics)
}

type healthResponse struct {
	Status      string    `json:"status"`
	Time        time.Time `json:"time"`
	Connections int       `json:"connections"`
	Database    string    `json:"database"`
}

func (a *App) handleHealth(w http.ResponseWriter, _ *http.Request) {
	db := "disabled"
	if a.pool != nil {
		db = "enabled"
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		Time:        time.Now().UTC(),
		Connections: a.gateway.Connections(),
		Database:    db,
	})
}

func (a *App) handleReady(w http.ResponseWriter, r *http.Request) {
	if a.cfg.ReadinessRequireDB && a.pool == nil {
		http.Error(w, "db not configured", http.StatusServiceUnavailable)
		return
	}
	if a.pool != nil {
		if err := PingDB(r.Context(), a.pool, 2*time.Second); err != nil {
			a.log.Warn("readyz.db.not_ready", "err", err)
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
	}
	if a.draining.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready\n"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
