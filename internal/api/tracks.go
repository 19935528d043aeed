package api

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"glidetrack/pkg/store"
)

// TrackHandler serves archived tracks.
type TrackHandler struct {
	archive store.TrackArchive
}

// NewTrackHandler creates a new TrackHandler.
func NewTrackHandler(a store.TrackArchive) *TrackHandler {
	return &TrackHandler{archive: a}
}

// TrackSummary is one archived track without its payload.
type TrackSummary struct {
	Token      string    `json:"token"`
	Origin     time.Time `json:"origin"`
	LastSample time.Time `json:"last_sample"`
	Entries    int       `json:"entries"`
	Fixes      int       `json:"fixes"`
	Sent       int       `json:"sent"`
	Attempts   int       `json:"attempts"`
	Successes  int       `json:"successes"`
	Errors     int       `json:"errors"`
	Timeouts   int       `json:"timeouts"`
	Aborts     int       `json:"aborts"`
	HardFailed bool      `json:"hard_failed"`
	ArchivedAt time.Time `json:"archived_at"`
}

// HandleList returns the most recent archived tracks. ?limit= caps the count.
func (h *TrackHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	tracks, err := h.archive.ListArchivedTracks(r.Context(), limit)
	if err != nil {
		slog.Error("Failed to list tracks", "error", err)
		http.Error(w, "Failed to list tracks", http.StatusInternalServerError)
		return
	}

	out := make([]TrackSummary, 0, len(tracks))
	for i := range tracks {
		t := &tracks[i]
		out = append(out, TrackSummary{
			Token: t.Token, Origin: t.Origin, LastSample: t.LastSample,
			Entries: t.Entries, Fixes: t.Fixes, Sent: t.Sent,
			Attempts: t.Attempts, Successes: t.Successes, Errors: t.Errors,
			Timeouts: t.Timeouts, Aborts: t.Aborts, HardFailed: t.HardFailed,
			ArchivedAt: t.ArchivedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleGet returns one archived track as IGC. The token may carry an .igc suffix.
func (h *TrackHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSuffix(r.PathValue("token"), ".igc")
	t, err := h.archive.GetArchivedTrack(r.Context(), token)
	if err != nil {
		slog.Error("Failed to load track", "token", token, "error", err)
		http.Error(w, "Failed to load track", http.StatusInternalServerError)
		return
	}
	if t == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.fai.igc")
	w.Header().Set("Content-Disposition", `attachment; filename="`+t.Token+`.igc"`)
	if _, err := io.WriteString(w, t.IGC); err != nil {
		slog.Error("Failed to write track", "error", err)
	}
}
