package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"glidetrack/pkg/config"
	"glidetrack/pkg/core"
	"glidetrack/pkg/store"
	"glidetrack/pkg/tracker"
)

type fakeController struct {
	running bool
	debug   bool
	msgs    []string
	igc     string
	err     error
}

func (f *fakeController) Start(context.Context) error {
	f.running = true
	return f.err
}

func (f *fakeController) Stop(context.Context) error {
	f.running = false
	return f.err
}

func (f *fakeController) SendMessage(_ context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return core.ErrEmptyMessage
	}
	if !f.running {
		return core.ErrNotRunning
	}
	f.msgs = append(f.msgs, text)
	return nil
}

func (f *fakeController) SetDebug(_ context.Context, on bool) error {
	f.debug = on
	return nil
}

func (f *fakeController) Status(context.Context) (core.Status, error) {
	return core.Status{Running: f.running, Mode: "DORMANT", Debug: f.debug}, nil
}

func (f *fakeController) IGC(context.Context) (string, bool, error) {
	return f.igc, f.igc != "", nil
}

type fakeSettings struct {
	profile config.Profile
	apiURL  string
	msgs    []string
}

func (f *fakeSettings) DeviceID(context.Context) string { return "Dtestdevice00001" }
func (f *fakeSettings) RegisteredAt(context.Context) (time.Time, bool) {
	return time.Time{}, false
}
func (f *fakeSettings) Profile(context.Context) config.Profile { return f.profile }
func (f *fakeSettings) SetProfile(_ context.Context, p config.Profile) error {
	f.profile = p
	return nil
}
func (f *fakeSettings) QuickMessages(context.Context) []string { return f.msgs }
func (f *fakeSettings) Debug(context.Context) bool             { return false }
func (f *fakeSettings) APIURL(context.Context) string          { return f.apiURL }
func (f *fakeSettings) SetAPIURL(_ context.Context, u string) error {
	f.apiURL = u
	return nil
}

type fakeArchive struct {
	tracks []store.ArchivedTrack
}

func (f *fakeArchive) ArchiveTrack(_ context.Context, t *store.ArchivedTrack) error {
	f.tracks = append(f.tracks, *t)
	return nil
}

func (f *fakeArchive) GetArchivedTrack(_ context.Context, token string) (*store.ArchivedTrack, error) {
	for i := range f.tracks {
		if f.tracks[i].Token == token {
			return &f.tracks[i], nil
		}
	}
	return nil, nil
}

func (f *fakeArchive) ListArchivedTracks(_ context.Context, limit int) ([]store.ArchivedTrack, error) {
	if limit > len(f.tracks) {
		limit = len(f.tracks)
	}
	return f.tracks[:limit], nil
}

type harness struct {
	ctl      *fakeController
	settings *fakeSettings
	archive  *fakeArchive
	hub      *Hub
	tr       *tracker.Tracker
	handler  http.Handler
}

func newHarness() *harness {
	h := &harness{
		ctl:      &fakeController{},
		settings: &fakeSettings{apiURL: "https://track.example.com/api"},
		archive:  &fakeArchive{},
		hub:      NewHub(),
		tr:       tracker.New(),
	}
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "# metrics\n")
	})
	srv := NewServer(":0",
		NewControlHandler(h.ctl),
		NewSettingsHandler(h.settings, h.ctl),
		NewTrackHandler(h.archive),
		NewStatsHandler(h.tr, h.hub),
		h.hub,
		metrics)
	h.handler = srv.Handler
	return h
}

func (h *harness) do(method, path, body string) *httptest.ResponseRecorder {
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness()
	rec := h.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = h.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, "# metrics\n", rec.Body.String())

	rec = h.do(http.MethodGet, "/api/version", "")
	assert.Contains(t, rec.Body.String(), `"version"`)
}

func TestStats(t *testing.T) {
	h := newHarness()
	h.tr.TrackRequest("track.example.com", 120)
	h.tr.TrackSuccess("track.example.com", 2)
	h.tr.TrackRequest("track.example.com", 40)
	h.tr.TrackFailure("track.example.com")

	rec := h.do(http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	host := resp.Hosts["track.example.com"]
	assert.Equal(t, int64(2), host.Requests)
	assert.Equal(t, int64(1), host.Successes)
	assert.Equal(t, int64(1), host.Failures)
	assert.Equal(t, int64(160), host.BytesSent)
	assert.Positive(t, resp.Diagnostics.Goroutines)
	assert.GreaterOrEqual(t, resp.Diagnostics.MemoryMaxMB, resp.Diagnostics.MemoryMB)
}

func TestControl(t *testing.T) {
	h := newHarness()

	rec := h.do(http.MethodPost, "/api/message", `{"text":"hello"}`)
	assert.Equal(t, http.StatusConflict, rec.Code, "message while stopped")

	rec = h.do(http.MethodPost, "/api/start", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st core.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.True(t, st.Running)

	rec = h.do(http.MethodPost, "/api/message", `{"text":"hello"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"hello"}, h.ctl.msgs)

	rec = h.do(http.MethodPost, "/api/message", `{"text":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPost, "/api/message", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodGet, "/api/start", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = h.do(http.MethodPost, "/api/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.False(t, st.Running)
}

func TestControl_Closed(t *testing.T) {
	h := newHarness()
	h.ctl.err = core.ErrClosed
	rec := h.do(http.MethodPost, "/api/start", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestTrackIGC(t *testing.T) {
	h := newHarness()
	rec := h.do(http.MethodGet, "/api/track.igc", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	h.ctl.igc = "AXGTtest\r\n"
	rec = h.do(http.MethodGet, "/api/track.igc", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "AXGTtest\r\n", rec.Body.String())
}

func TestSettings(t *testing.T) {
	h := newHarness()

	rec := h.do(http.MethodGet, "/api/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got SettingsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Dtestdevice00001", got.DeviceID)
	assert.Nil(t, got.RegisteredAt)
	assert.Equal(t, []string{}, got.QuickMessages)

	rec = h.do(http.MethodPost, "/api/settings",
		`{"profile":{"uname":"jo@example.com","name":"Jo Doe","cn":"JD"},"debug":true,"api_url":"http://localhost:8081"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Jo Doe", h.settings.profile.Name)
	assert.Equal(t, "http://localhost:8081", h.settings.apiURL)
	assert.True(t, h.ctl.debug, "debug goes through the pipeline")

	rec = h.do(http.MethodPost, "/api/settings", `{"api_url":"ftp://example.com"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "http://localhost:8081", h.settings.apiURL)

	rec = h.do(http.MethodDelete, "/api/settings", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestTracks(t *testing.T) {
	h := newHarness()
	origin := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	h.archive.tracks = []store.ArchivedTrack{
		{Token: "Tnewer", Origin: origin.Add(time.Hour), Fixes: 10, IGC: "newer"},
		{Token: "Tolder", Origin: origin, Fixes: 3, IGC: "older", HardFailed: true},
	}

	rec := h.do(http.MethodGet, "/api/tracks?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []TrackSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "Tnewer", list[0].Token)

	rec = h.do(http.MethodGet, "/api/tracks?limit=x", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodGet, "/api/tracks/Tolder.igc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "older", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "Tolder.igc")

	rec = h.do(http.MethodGet, "/api/tracks/Tmissing.igc", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHub(t *testing.T) {
	h := newHarness()
	srv := httptest.NewServer(h.handler)
	defer srv.Close()

	h.hub.Broadcast(core.Status{Mode: "STATIONARY"})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() core.Status {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var st core.Status
		require.NoError(t, json.NewDecoder(bytes.NewReader(data)).Decode(&st))
		return st
	}

	assert.Equal(t, "STATIONARY", read().Mode, "latest snapshot on connect")

	require.Eventually(t, func() bool { return h.hub.Clients() == 1 }, time.Second, 10*time.Millisecond)
	h.hub.Broadcast(core.Status{Mode: "MOVING", Running: true})
	st := read()
	assert.Equal(t, "MOVING", st.Mode)
	assert.True(t, st.Running)

	conn.Close()
	assert.Eventually(t, func() bool { return h.hub.Clients() == 0 }, time.Second, 10*time.Millisecond)
}
