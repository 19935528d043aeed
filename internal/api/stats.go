package api

import (
	"net/http"
	"runtime"
	"sync"
	"time"

	"glidetrack/pkg/tracker"
)

// StatsHandler reports outbound request counters and process diagnostics.
type StatsHandler struct {
	tracker *tracker.Tracker
	hub     *Hub
	started time.Time

	mu     sync.Mutex
	maxMem uint64
}

// NewStatsHandler creates a new StatsHandler.
func NewStatsHandler(t *tracker.Tracker, hub *Hub) *StatsHandler {
	return &StatsHandler{tracker: t, hub: hub, started: time.Now()}
}

// HostStatsDTO is the request counters for one remote host.
type HostStatsDTO struct {
	Requests   int64 `json:"requests"`
	Successes  int64 `json:"successes"`
	Failures   int64 `json:"failures"`
	BytesSent  int64 `json:"bytes_sent"`
	BytesRecvd int64 `json:"bytes_received"`
}

// Diagnostics describes the running process.
type Diagnostics struct {
	UptimeSec   int64  `json:"uptime_sec"`
	MemoryMB    uint64 `json:"memory_mb"`
	MemoryMaxMB uint64 `json:"memory_max_mb"`
	Goroutines  int    `json:"goroutines"`
	WSClients   int    `json:"ws_clients"`
}

type StatsResponse struct {
	Diagnostics Diagnostics             `json:"diagnostics"`
	Hosts       map[string]HostStatsDTO `json:"hosts"`
}

func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	h.mu.Lock()
	if ms.Sys > h.maxMem {
		h.maxMem = ms.Sys
	}
	maxMem := h.maxMem
	h.mu.Unlock()

	resp := StatsResponse{
		Diagnostics: Diagnostics{
			UptimeSec:   int64(time.Since(h.started).Seconds()),
			MemoryMB:    bToMb(ms.Sys),
			MemoryMaxMB: bToMb(maxMem),
			Goroutines:  runtime.NumGoroutine(),
			WSClients:   h.hub.Clients(),
		},
		Hosts: make(map[string]HostStatsDTO),
	}
	for host, s := range h.tracker.Snapshot() {
		resp.Hosts[host] = HostStatsDTO{
			Requests:   s.Requests,
			Successes:  s.Successes,
			Failures:   s.Failures,
			BytesSent:  s.BytesSent,
			BytesRecvd: s.BytesRecvd,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func bToMb(b uint64) uint64 {
	return b / 1024 / 1024
}
