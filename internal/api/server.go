package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"glidetrack/pkg/version"
)

// NewServer creates and configures the HTTP server for the dashboard.
// metrics may be nil.
func NewServer(addr string, ctl *ControlHandler, settings *SettingsHandler, tracks *TrackHandler, stats *StatsHandler, hub *Hub, metrics http.Handler) *http.Server {
	mux := http.NewServeMux()

	// 1. Health
	mux.HandleFunc("GET /health", handleHealth)
	mux.HandleFunc("GET /api/version", handleVersion)

	// 2. Recording control
	mux.HandleFunc("GET /api/status", ctl.HandleStatus)
	mux.HandleFunc("POST /api/start", ctl.HandleStart)
	mux.HandleFunc("POST /api/stop", ctl.HandleStop)
	mux.HandleFunc("POST /api/message", ctl.HandleMessage)
	mux.HandleFunc("GET /api/track.igc", ctl.HandleIGC)

	// 3. Settings
	mux.HandleFunc("/api/settings", settings.HandleSettings)

	// 4. Archive
	mux.HandleFunc("GET /api/tracks", tracks.HandleList)
	mux.HandleFunc("GET /api/tracks/{token}", tracks.HandleGet)

	// 5. Diagnostics, push and logs
	mux.Handle("GET /api/stats", stats)
	mux.HandleFunc("GET /api/ws", hub.HandleWS)
	mux.HandleFunc("GET /api/log/latest", handleLatestLog)

	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	return &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		slog.Error("Failed to write health response", "error", err)
	}
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if _, err := fmt.Fprintf(w, `{"version": "%s"}`, version.Version); err != nil {
		slog.Error("Failed to write version response", "error", err)
	}
}

// writeJSON encodes v as the response body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
