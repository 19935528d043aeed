package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"glidetrack/pkg/config"
)

// SettingsStore is the user settings the dashboard may read and change.
type SettingsStore interface {
	DeviceID(ctx context.Context) string
	RegisteredAt(ctx context.Context) (time.Time, bool)
	Profile(ctx context.Context) config.Profile
	SetProfile(ctx context.Context, p config.Profile) error
	QuickMessages(ctx context.Context) []string
	Debug(ctx context.Context) bool
	APIURL(ctx context.Context) string
	SetAPIURL(ctx context.Context, u string) error
}

// SettingsHandler handles settings API requests. The debug flag goes
// through the pipeline so it takes effect immediately.
type SettingsHandler struct {
	settings SettingsStore
	ctl      Controller
}

// NewSettingsHandler creates a new SettingsHandler.
func NewSettingsHandler(s SettingsStore, ctl Controller) *SettingsHandler {
	return &SettingsHandler{settings: s, ctl: ctl}
}

// SettingsResponse represents the settings API response.
type SettingsResponse struct {
	DeviceID      string         `json:"device_id"`
	RegisteredAt  *time.Time     `json:"registered_at,omitempty"`
	Profile       config.Profile `json:"profile"`
	Debug         bool           `json:"debug"`
	APIURL        string         `json:"api_url"`
	QuickMessages []string       `json:"quick_messages"`
}

// SettingsRequest represents an update. Missing fields are left unchanged.
type SettingsRequest struct {
	Profile *config.Profile `json:"profile,omitempty"`
	Debug   *bool           `json:"debug,omitempty"`
	APIURL  *string         `json:"api_url,omitempty"`
}

// HandleSettings dispatches GET and POST/PUT.
func (h *SettingsHandler) HandleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.HandleGetSettings(w, r)
	case http.MethodPut, http.MethodPost:
		h.HandleSetSettings(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *SettingsHandler) HandleGetSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := SettingsResponse{
		DeviceID:      h.settings.DeviceID(ctx),
		Profile:       h.settings.Profile(ctx),
		Debug:         h.settings.Debug(ctx),
		APIURL:        h.settings.APIURL(ctx),
		QuickMessages: h.settings.QuickMessages(ctx),
	}
	if t, ok := h.settings.RegisteredAt(ctx); ok {
		resp.RegisteredAt = &t
	}
	if resp.QuickMessages == nil {
		resp.QuickMessages = []string{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *SettingsHandler) HandleSetSettings(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 64*1024))
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	defer func() { _ = r.Body.Close() }()

	var req SettingsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if req.APIURL != nil {
		if u, err := url.Parse(*req.APIURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			http.Error(w, "api_url must be an http(s) URL", http.StatusBadRequest)
			return
		}
		if err := h.settings.SetAPIURL(ctx, *req.APIURL); err != nil {
			slog.Error("Failed to save api_url", "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	if req.Profile != nil {
		if err := h.settings.SetProfile(ctx, *req.Profile); err != nil {
			slog.Error("Failed to save profile", "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	if req.Debug != nil {
		if err := h.ctl.SetDebug(ctx, *req.Debug); err != nil {
			writeError(w, err)
			return
		}
	}

	h.HandleGetSettings(w, r)
}
