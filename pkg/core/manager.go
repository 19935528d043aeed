// Package core runs the recording pipeline: sensor fixes flow through the
// validator, buffer, mode machine and resampler into the current track,
// whose transfer scheduler pushes it to the endpoint.
//
// All pipeline state is owned by a single event loop (Run). Public methods
// post work onto the loop and wait for it, so they are safe for concurrent use.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"glidetrack/pkg/config"
	"glidetrack/pkg/fix"
	"glidetrack/pkg/logging"
	"glidetrack/pkg/metrics"
	"glidetrack/pkg/motion"
	"glidetrack/pkg/resample"
	"glidetrack/pkg/sensor"
	"glidetrack/pkg/store"
	"glidetrack/pkg/track"
	"glidetrack/pkg/xfer"
)

var (
	// ErrNotRunning is returned by commands that need an active recording.
	ErrNotRunning = errors.New("not recording")
	// ErrClosed is returned once the event loop has exited.
	ErrClosed = errors.New("manager closed")
	// ErrEmptyMessage rejects a blank user message.
	ErrEmptyMessage = errors.New("empty message")
)

// Settings is the slice of user settings the pipeline reads.
type Settings interface {
	DeviceID(ctx context.Context) string
	Profile(ctx context.Context) config.Profile
	Debug(ctx context.Context) bool
	SetDebug(ctx context.Context, on bool) error
	RememberMessage(ctx context.Context, text string) error
}

// Params bundles the collaborators of a Manager.
type Params struct {
	Config   Config
	Sensor   sensor.Provider
	Settings Settings
	Uploader xfer.Uploader
	Archive  store.TrackArchive // optional
	Metrics  *metrics.Collector // optional
	Clock    xfer.Clock         // optional
	// OnChange receives a status snapshot after every state-affecting
	// event. It runs on the event loop and must not block.
	OnChange func(Status)
}

// session is one track with its transfer scheduler.
type session struct {
	track *track.Track
	sched *xfer.Scheduler
}

// Manager orchestrates the recording pipeline.
type Manager struct {
	cfg      Config
	provider sensor.Provider
	settings Settings
	uploader xfer.Uploader
	archive  store.TrackArchive
	metrics  *metrics.Collector
	clock    xfer.Clock
	onChange func(Status)

	events chan func()
	done   chan struct{}

	// Loop-owned state below.
	ctx       context.Context
	buf       *fix.Buffer
	validator *fix.Validator
	machine   *motion.Machine
	resampler *resample.Resampler

	cur  *session
	hist []*session

	watch       sensor.Watch
	watchCancel context.CancelFunc
	watchGen    int
	running     bool

	status     fix.Status
	statusTime time.Time
	lastFix    *fix.RawFix
	debug      bool
	sensorErr  *sensor.Error
	hardErr    error
}

// NewManager creates a stopped manager. Call Run to start its event loop.
func NewManager(p Params) *Manager {
	if p.Clock == nil {
		p.Clock = xfer.RealClock()
	}
	m := &Manager{
		cfg:      p.Config,
		provider: p.Sensor,
		settings: p.Settings,
		uploader: p.Uploader,
		archive:  p.Archive,
		metrics:  p.Metrics,
		clock:    p.Clock,
		onChange: p.OnChange,
		events:   make(chan func(), 64),
		done:     make(chan struct{}),
		ctx:      context.Background(),
	}
	m.buf = fix.NewBuffer(p.Config.BufferSize)
	m.validator = fix.NewValidator(p.Config.Validator, m.clock.Now)
	m.machine = motion.NewMachine(p.Config.Motion)
	m.resampler = resample.New(p.Config.Resample)
	return m
}

// Run processes events until ctx is cancelled. Tracks still in memory are
// archived on the way out.
func (m *Manager) Run(ctx context.Context) error {
	m.ctx = ctx
	defer close(m.done)

	m.debug = m.settings.Debug(ctx)
	m.validator.SetRaw(m.debug)

	slog.Info("Manager started", "buffer", m.buf.Cap(), "debug", m.debug)
	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			slog.Info("Manager stopped")
			return nil
		case f := <-m.events:
			f()
		}
	}
}

// post queues f on the event loop without waiting for it.
func (m *Manager) post(ctx context.Context, f func()) {
	select {
	case m.events <- f:
	case <-m.done:
	case <-ctx.Done():
	}
}

// call runs f on the event loop and returns its error.
func (m *Manager) call(ctx context.Context, f func() error) error {
	errc := make(chan error, 1)
	select {
	case m.events <- func() { errc <- f() }:
	case <-m.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-errc:
		return err
	case <-m.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start begins recording. A recent unsent track is resumed, otherwise a new
// one is opened.
func (m *Manager) Start(ctx context.Context) error { return m.call(ctx, m.start) }

// Stop ends recording and forces an immediate transfer of unsent data.
func (m *Manager) Stop(ctx context.Context) error { return m.call(ctx, m.stop) }

// IsRunning reports whether a recording session is active.
func (m *Manager) IsRunning(ctx context.Context) bool {
	var running bool
	_ = m.call(ctx, func() error { running = m.running; return nil })
	return running
}

// SendMessage appends a user message to the current track and brings the
// next transfer forward.
func (m *Manager) SendMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	return m.call(ctx, func() error { return m.sendMessage(text) })
}

// SetDebug switches raw logging and debug annotations and persists the flag.
func (m *Manager) SetDebug(ctx context.Context, on bool) error {
	return m.call(ctx, func() error {
		if err := m.settings.SetDebug(m.ctx, on); err != nil {
			return fmt.Errorf("failed to save debug flag: %w", err)
		}
		m.debug = on
		m.validator.SetRaw(on)
		if m.cur != nil {
			m.cur.track.SetDebugInfo(m.cfg.DebugInfo || on)
		}
		slog.Info("Debug mode changed", "debug", on)
		m.notify()
		return nil
	})
}

// IGC returns the full encoding of the most recent track. The second
// result is false when no sample has been recorded yet.
func (m *Manager) IGC(ctx context.Context) (data string, ok bool, err error) {
	err = m.call(ctx, func() error {
		s := m.latest()
		if s == nil {
			return nil
		}
		data, ok = s.track.IGC(0)
		return nil
	})
	return data, ok, err
}

// Status returns a snapshot of the pipeline.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	var st Status
	err := m.call(ctx, func() error { st = m.snapshot(); return nil })
	return st, err
}

// Drain waits until the latest track has no transfer planned or running.
func (m *Manager) Drain(ctx context.Context) error {
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		var busy bool
		if err := m.call(ctx, func() error {
			if s := m.latest(); s != nil {
				busy = s.sched.Busy()
			}
			return nil
		}); err != nil {
			return err
		}
		if !busy {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
}

func (m *Manager) start() error {
	if m.running {
		return nil
	}

	m.watchGen++
	gen := m.watchGen
	watchCtx, cancel := context.WithCancel(m.ctx)
	w, err := m.provider.Watch(watchCtx, m.cfg.Watch, sensor.Handler{
		OnFix: func(f fix.RawFix) {
			m.post(watchCtx, func() { m.onFix(gen, f) })
		},
		OnError: func(e *sensor.Error) {
			m.post(watchCtx, func() { m.onSensorError(gen, e) })
		},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("failed to start %s sensor: %w", m.provider.Name(), err)
	}
	m.watch = w
	m.watchCancel = cancel
	m.running = true
	m.sensorErr = nil
	m.hardErr = nil

	if last := m.resumable(); last != nil {
		m.cur = last
		slog.Info("Resuming track", "token", last.track.Token(), "entries", last.track.Len())
	} else {
		m.reset()
		m.cur = m.newSession()
		m.hist = append(m.hist, m.cur)
		slog.Info("New track", "token", m.cur.track.Token())
		m.sweep()
	}
	m.notify()
	return nil
}

// resumable returns the latest track if recording may continue on it.
func (m *Manager) resumable() *session {
	last := m.latest()
	if last == nil || last.sched.HardFailed() {
		return nil
	}
	t, ok := last.track.LastTime()
	if !ok {
		return last
	}
	if m.clock.Now().Sub(t) > m.cfg.RestartGap {
		return nil
	}
	return last
}

func (m *Manager) stop() error {
	if !m.running {
		return nil
	}
	m.stopWatch()
	if s := m.cur.sched; s.Busy() || s.Unsent() {
		s.Flush()
	}
	slog.Info("Recording stopped", "token", m.cur.track.Token())
	m.changed(m.cur)
	return nil
}

func (m *Manager) stopWatch() {
	m.running = false
	m.watchGen++
	if m.watchCancel != nil {
		m.watchCancel()
		m.watchCancel = nil
	}
	if m.watch != nil {
		m.watch.Stop()
		m.watch = nil
	}
}

func (m *Manager) reset() {
	m.buf.Reset()
	m.machine.Reset()
	m.resampler.Reset()
	m.lastFix = nil
	m.status = ""
}

func (m *Manager) newSession() *session {
	ctx := m.ctx
	p := m.settings.Profile(ctx)
	tr := track.New(track.Options{
		Pilot:          p.Name,
		CompetitionID:  p.CN,
		Glider:         p.Glider,
		Tail:           p.Tail,
		Hardware:       m.cfg.Hardware,
		Firmware:       m.cfg.Firmware,
		ExtendedFields: m.cfg.ExtendedFields || m.cfg.RawLogging,
		DebugInfo:      m.cfg.DebugInfo || m.debug,
		Now:            m.clock.Now,
	})
	s := &session{track: tr}
	s.sched = xfer.NewScheduler(xfer.Params{
		Config:   m.cfg.Transfer,
		Track:    tr,
		Clock:    m.clock,
		Dispatch: func(f func()) { m.post(ctx, f) },
		Uploader: m.uploader,
		DeviceID: func() string { return m.settings.DeviceID(ctx) },
		Context:  ctx,
		Hooks: xfer.Hooks{
			OnChange:    func() { m.changed(s) },
			OnHardError: func(err error) { m.onHardError(s, err) },
			OnResult:    func(r xfer.Result) { m.metrics.ObserveTransfer(string(r)) },
		},
	})
	return s
}

func (m *Manager) sendMessage(text string) error {
	if !m.running {
		return ErrNotRunning
	}
	m.cur.track.AddMsg(text, track.CodeMessage, time.Time{})
	m.metrics.ObserveMessage(track.CodeMessage)
	m.cur.sched.ScheduleMessage()
	if err := m.settings.RememberMessage(m.ctx, text); err != nil {
		slog.Warn("Failed to remember message", "error", err)
	}
	m.changed(m.cur)
	return nil
}

func (m *Manager) onFix(gen int, raw fix.RawFix) {
	if gen != m.watchGen || !m.running {
		return
	}
	m.statusTime = m.clock.Now()

	var prev *fix.RawFix
	if last, ok := m.buf.Last(); ok {
		prev = &last
	}
	m.status = m.validator.Check(&raw, prev)
	m.metrics.ObserveFix(string(m.status))
	if m.status != fix.StatusOK {
		logging.TraceDefault("Fix rejected", "status", m.status, "time", raw.Time, "hacc", raw.HAcc, "vacc", raw.VAcc, "gs", raw.Speed)
		m.notify()
		return
	}

	idx := m.buf.Push(raw)
	m.lastFix = &raw
	tr := m.machine.Update(m.buf, idx)
	if tr.Changed() {
		slog.Info("Mode changed", "from", tr.From, "to", tr.To, "idx", idx)
		m.metrics.ObserveMode(int(tr.To), tr.To.String())
	}

	if m.validator.Raw() {
		m.record(m.resampler.Raw(&raw))
	} else {
		warm, _ := m.machine.WarmIdx()
		for _, s := range m.resampler.Step(m.buf, tr, warm) {
			m.record(s)
		}
	}
	if tr.Changed() && m.cur.track.AddMsg(tr.To.String(), track.CodeDebug, tr.Time) {
		m.metrics.ObserveMessage(track.CodeDebug)
	}
	m.changed(m.cur)
}

func (m *Manager) record(s resample.Sample) {
	m.cur.track.AddFix(s.Time, track.Fix{
		Lat:   s.Lat,
		Lon:   s.Lon,
		Alt:   s.Alt,
		Speed: s.Speed,
		Track: s.Track,
		HAcc:  s.HAcc,
		VAcc:  s.VAcc,
	})
	m.metrics.ObserveSample()
	m.cur.sched.ScheduleNominal()
}

func (m *Manager) onSensorError(gen int, e *sensor.Error) {
	if gen != m.watchGen {
		return
	}
	if !e.Fatal() {
		slog.Warn("Sensor error", "code", e.Code, "message", e.Message)
		return
	}
	if m.sensorErr != nil {
		return
	}
	m.sensorErr = e
	slog.Error("Cannot record without position access", "error", e)
	if err := m.stop(); err != nil {
		slog.Warn("Stop after sensor error failed", "error", err)
	}
}

func (m *Manager) onHardError(s *session, err error) {
	m.hardErr = err
	slog.Error("Track rejected by endpoint", "token", s.track.Token(), "error", err)
	if s == m.cur && m.running {
		m.stopWatch()
	}
}

// changed notifies listeners and retires s once it is no longer needed.
func (m *Manager) changed(s *session) {
	m.notify()
	if s == nil || s == m.cur || s.sched.Busy() {
		return
	}
	m.retire(s)
}

// sweep retires idle history entries and enforces the history limit.
func (m *Manager) sweep() {
	for _, s := range append([]*session(nil), m.hist...) {
		if s != m.cur && !s.sched.Busy() {
			m.retire(s)
		}
	}
	limit := max(m.cfg.HistorySize, 1)
	for len(m.hist) > limit {
		s := m.hist[0]
		slog.Warn("Dropping unsent track from history", "token", s.track.Token(), "unsent", s.track.Len()-s.sched.Cursor())
		s.sched.Abort()
		m.retire(s)
	}
}

func (m *Manager) retire(s *session) {
	for i, h := range m.hist {
		if h == s {
			m.hist = append(m.hist[:i], m.hist[i+1:]...)
			m.archiveTrack(m.ctx, s)
			return
		}
	}
}

func (m *Manager) archiveTrack(ctx context.Context, s *session) {
	if m.archive == nil || s.track.Len() == 0 {
		return
	}
	data, _ := s.track.IGC(0)
	st := s.sched.Stats()
	origin, _ := s.track.Origin()
	last, _ := s.track.LastTime()
	rec := &store.ArchivedTrack{
		Token:      s.track.Token(),
		DeviceID:   m.settings.DeviceID(ctx),
		Origin:     origin,
		LastSample: last,
		Entries:    s.track.Len(),
		Fixes:      s.track.FixCount(),
		Sent:       s.sched.Cursor(),
		Attempts:   st.Attempts,
		Successes:  st.Successes,
		Errors:     st.Errors,
		Timeouts:   st.Timeouts,
		Waits:      st.Waits,
		Aborts:     st.Aborts,
		HardFailed: s.sched.HardFailed(),
		IGC:        data,
		ArchivedAt: m.clock.Now(),
	}
	if err := m.archive.ArchiveTrack(ctx, rec); err != nil {
		slog.Error("Failed to archive track", "token", rec.Token, "error", err)
		return
	}
	slog.Debug("Track archived", "token", rec.Token, "entries", rec.Entries, "sent", rec.Sent)
}

func (m *Manager) shutdown() {
	if m.running {
		m.stopWatch()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(m.ctx), 5*time.Second)
	defer cancel()
	for _, s := range m.hist {
		s.sched.Abort()
		m.archiveTrack(ctx, s)
	}
	m.hist = nil
}

func (m *Manager) latest() *session {
	if n := len(m.hist); n > 0 {
		return m.hist[n-1]
	}
	return nil
}

func (m *Manager) notify() {
	if m.metrics == nil && m.onChange == nil {
		return
	}
	st := m.snapshot()
	unsent := 0
	if st.Track != nil {
		unsent = st.Track.Entries - st.Track.Sent
	}
	m.metrics.SetBacklog(st.Running, unsent, st.History)
	if m.onChange != nil {
		m.onChange(st)
	}
}
