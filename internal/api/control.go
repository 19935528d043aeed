package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"glidetrack/pkg/core"
)

// Controller is the recording pipeline as seen by the dashboard.
type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	SendMessage(ctx context.Context, text string) error
	SetDebug(ctx context.Context, on bool) error
	Status(ctx context.Context) (core.Status, error)
	IGC(ctx context.Context) (string, bool, error)
}

// ControlHandler serves the start/stop/message commands and status.
type ControlHandler struct {
	ctl Controller
}

// NewControlHandler creates a new ControlHandler.
func NewControlHandler(ctl Controller) *ControlHandler {
	return &ControlHandler{ctl: ctl}
}

// MessageRequest is the body of POST /api/message.
type MessageRequest struct {
	Text string `json:"text"`
}

func (h *ControlHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.ctl.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *ControlHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.ctl.Start)
}

func (h *ControlHandler) HandleStop(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.ctl.Stop)
}

func (h *ControlHandler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 4096))
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	var req MessageRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	h.command(w, r, func(ctx context.Context) error {
		return h.ctl.SendMessage(ctx, req.Text)
	})
}

// HandleIGC returns the full encoding of the current track.
func (h *ControlHandler) HandleIGC(w http.ResponseWriter, r *http.Request) {
	data, ok, err := h.ctl.IGC(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.fai.igc")
	if _, err := io.WriteString(w, data); err != nil {
		slog.Error("Failed to write track", "error", err)
	}
}

// command runs f and answers with the resulting status.
func (h *ControlHandler) command(w http.ResponseWriter, r *http.Request, f func(context.Context) error) {
	if err := f(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	h.HandleStatus(w, r)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrEmptyMessage):
		status = http.StatusBadRequest
	case errors.Is(err, core.ErrNotRunning):
		status = http.StatusConflict
	case errors.Is(err, core.ErrClosed), errors.Is(err, context.Canceled):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		slog.Error("Command failed", "error", err)
	}
	http.Error(w, err.Error(), status)
}
