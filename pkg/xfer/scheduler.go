// Package xfer pushes the unsent part of a track to the remote endpoint
// with single-flight, timer-driven retries.
package xfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"glidetrack/pkg/logging"
	"glidetrack/pkg/track"
)

var (
	// ErrHardFailure marks a rejection that must not be retried.
	ErrHardFailure = errors.New("transfer rejected")
	// ErrTimeout is the cause of a request that ran out of time.
	ErrTimeout = errors.New("transfer timed out")
	// ErrAborted is the cause of a request cancelled by the caller.
	ErrAborted = errors.New("transfer aborted")
)

// HardError carries the endpoint's response for an unrecoverable rejection.
type HardError struct {
	Status int
	Text   string
}

func (e *HardError) Error() string {
	return fmt.Sprintf("transfer rejected: status %d: %s", e.Status, e.Text)
}

func (e *HardError) Unwrap() error { return ErrHardFailure }

// Config holds transfer timings.
type Config struct {
	Timeout         time.Duration
	NominalInterval time.Duration
	MessageInterval time.Duration
	RetryInterval   time.Duration
}

// DefaultConfig returns the stock timings.
func DefaultConfig() Config {
	return Config{
		Timeout:         30 * time.Second,
		NominalInterval: 120 * time.Second,
		MessageInterval: 10 * time.Second,
		RetryInterval:   30 * time.Second,
	}
}

// Reply is the endpoint's answer to one upload.
type Reply struct {
	Status     int
	StatusText string
	Body       string
}

// Uploader posts an encoded track chunk to path below the endpoint.
// Cancellation is reported through context.Cause of ctx.
type Uploader interface {
	Upload(ctx context.Context, path string, body []byte) (Reply, error)
}

// State is the scheduler's transfer state.
type State int

const (
	Idle State = iota
	Scheduled
	InFlight
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scheduled:
		return "scheduled"
	case InFlight:
		return "inflight"
	default:
		return "unknown"
	}
}

// Stats are the transfer counters of one track.
type Stats struct {
	Attempts  int
	Successes int
	Errors    int
	Timeouts  int
	Waits     int
	Aborts    int

	LastAttempt time.Time // time of the last sample in the last attempt
	LastSuccess time.Time // time of the last sample acknowledged
}

// Result names the outcome of one transfer attempt.
type Result string

const (
	ResultOK       Result = "ok"
	ResultError    Result = "error"
	ResultTimeout  Result = "timeout"
	ResultWait     Result = "wait"
	ResultAbort    Result = "abort"
	ResultRejected Result = "rejected"
)

// Hooks are invoked on the dispatch goroutine.
type Hooks struct {
	OnTransfer  func()
	OnHardError func(err error)
	OnChange    func()
	OnResult    func(Result)
}

// Scheduler owns the send state of one track. All methods must be called
// from the goroutine that runs the dispatch function; timer fires and
// upload completions are routed back through dispatch.
type Scheduler struct {
	cfg      Config
	track    *track.Track
	clock    Clock
	dispatch func(func())
	up       Uploader
	deviceID func() string
	hooks    Hooks
	ctx      context.Context

	timer   Timer
	timerID int
	due     time.Time
	hasDue  bool

	inFlight bool
	cancel   context.CancelCauseFunc
	upper    int

	cursor int
	hard   bool
	stats  Stats
}

// Params bundles the collaborators of a Scheduler.
type Params struct {
	Config   Config
	Track    *track.Track
	Clock    Clock
	Dispatch func(func())
	Uploader Uploader
	DeviceID func() string
	Hooks    Hooks
	// Context bounds every upload; cancelling it aborts the in-flight one.
	Context context.Context
}

// NewScheduler creates an idle scheduler for a track.
func NewScheduler(p Params) *Scheduler {
	if p.Clock == nil {
		p.Clock = RealClock()
	}
	if p.Dispatch == nil {
		p.Dispatch = func(f func()) { f() }
	}
	if p.DeviceID == nil {
		p.DeviceID = func() string { return "" }
	}
	if p.Context == nil {
		p.Context = context.Background()
	}
	return &Scheduler{
		cfg:      p.Config,
		track:    p.Track,
		clock:    p.Clock,
		dispatch: p.Dispatch,
		up:       p.Uploader,
		deviceID: p.DeviceID,
		hooks:    p.Hooks,
		ctx:      p.Context,
	}
}

func (s *Scheduler) Track() *track.Track { return s.track }
func (s *Scheduler) Config() Config      { return s.cfg }
func (s *Scheduler) Cursor() int         { return s.cursor }
func (s *Scheduler) Stats() Stats        { return s.stats }
func (s *Scheduler) HardFailed() bool    { return s.hard }

// State reports Idle, Scheduled or InFlight.
func (s *Scheduler) State() State {
	switch {
	case s.inFlight:
		return InFlight
	case s.timer != nil:
		return Scheduled
	default:
		return Idle
	}
}

// Due returns the next planned send time.
func (s *Scheduler) Due() (time.Time, bool) { return s.due, s.hasDue }

// Unsent reports whether the track has entries beyond the send cursor.
func (s *Scheduler) Unsent() bool { return s.cursor < s.track.Len() }

// Busy reports whether a send is planned or running.
func (s *Scheduler) Busy() bool { return s.inFlight || s.timer != nil || s.hasDue }

// ScheduleNominal plans a send at the nominal cadence.
func (s *Scheduler) ScheduleNominal() { s.Schedule(s.cfg.NominalInterval) }

// ScheduleMessage plans a send at the message cadence.
func (s *Scheduler) ScheduleMessage() { s.Schedule(s.cfg.MessageInterval) }

// Flush plans an immediate send.
func (s *Scheduler) Flush() { s.Schedule(0) }

// Schedule requests a send delay from now. A negative delay re-arms the
// previously planned due time, if any. Due times only ever move earlier.
// While a request is in flight the due time is recorded and picked up on
// completion.
func (s *Scheduler) Schedule(delay time.Duration) {
	if s.hard {
		return
	}
	now := s.clock.Now()
	var t time.Time
	switch {
	case delay >= 0:
		t = now.Add(delay)
	case s.hasDue:
		t = s.due
	default:
		return
	}

	if s.hasDue && !s.due.After(t) {
		if s.timer != nil {
			return
		}
		t = s.due
	} else {
		s.stopTimer()
		s.due = t
		s.hasDue = true
	}

	if s.inFlight {
		return
	}
	if s.timer == nil {
		s.arm(t, now)
	}
}

func (s *Scheduler) arm(t, now time.Time) {
	d := max(t.Sub(now), 0)
	s.due = now.Add(d)
	s.hasDue = true
	s.timerID++
	id := s.timerID
	s.timer = s.clock.AfterFunc(d, func() {
		s.dispatch(func() { s.fire(id) })
	})
	logging.TraceDefault("Transfer scheduled", "token", s.track.Token(), "in", d)
}

func (s *Scheduler) fire(id int) {
	if id != s.timerID || s.timer == nil {
		return // stopped or superseded
	}
	s.timer = nil
	s.hasDue = false
	s.due = time.Time{}
	s.attempt()
}

func (s *Scheduler) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerID++
}

func (s *Scheduler) debug(text string) {
	s.track.AddMsg(text, track.CodeDebug, s.clock.Now())
}

func (s *Scheduler) attempt() {
	if s.inFlight {
		slog.Warn("Transfer already in progress", "token", s.track.Token())
		return
	}

	s.debug(fmt.Sprintf("snd#%d(%d:%d)", s.stats.Attempts, s.cursor, s.track.Len()))
	s.stats.Attempts++

	devid := s.deviceID()
	if devid == "" {
		s.stats.Waits++
		s.result(ResultWait)
		slog.Debug("Transfer waiting for device id", "token", s.track.Token())
		s.Schedule(s.cfg.RetryInterval)
		s.changed()
		return
	}

	path := "/gt/" + s.track.Token()
	if s.cursor == 0 {
		path += "/" + devid
	}
	body, ok := s.track.IGC(s.cursor)
	if !ok {
		return
	}
	s.upper = s.track.Len()
	if last, ok := s.track.LastTime(); ok {
		s.stats.LastAttempt = last
	}

	base, cancel := context.WithCancelCause(s.ctx)
	ctx, stop := context.WithTimeoutCause(base, s.cfg.Timeout, ErrTimeout)
	s.cancel = cancel
	s.inFlight = true

	n := s.stats.Attempts - 1
	logging.Requests().Debug("Transfer", "n", n, "path", path, "from", s.cursor, "to", s.upper, "bytes", len(body))

	go func() {
		reply, err := s.up.Upload(ctx, path, []byte(body))
		if err != nil && ctx.Err() != nil {
			err = context.Cause(ctx)
		}
		stop()
		s.dispatch(func() { s.complete(n, reply, err) })
	}()
	s.changed()
}

func (s *Scheduler) complete(n int, reply Reply, err error) {
	s.inFlight = false
	if s.cancel != nil {
		s.cancel(nil)
		s.cancel = nil
	}
	defer s.changed()

	switch {
	case errors.Is(err, ErrAborted):
		s.debug("abort")
		s.stats.Aborts++
		s.result(ResultAbort)
		slog.Info("Transfer aborted", "token", s.track.Token())
		return

	case errors.Is(err, ErrTimeout):
		s.debug("timeout")
		s.stats.Timeouts++
		s.result(ResultTimeout)
		slog.Warn("Transfer timed out", "token", s.track.Token(), "n", n)
		s.Schedule(s.cfg.RetryInterval)
		return

	case err != nil:
		s.debug("err#0: " + err.Error())
		s.stats.Errors++
		s.result(ResultError)
		slog.Warn("Transfer failed", "token", s.track.Token(), "n", n, "error", err)
		s.Schedule(s.cfg.RetryInterval)
		return

	case reply.Status == http.StatusOK:
		s.debug(fmt.Sprintf("ok#%d(%d/%d)", n, s.cursor, s.track.Len()))
		s.stats.Successes++
		s.result(ResultOK)
		s.stats.LastSuccess = s.stats.LastAttempt
		s.cursor = s.upper
		s.Schedule(-1)
		if s.hooks.OnTransfer != nil {
			s.hooks.OnTransfer()
		}
		return
	}

	s.debug(fmt.Sprintf("err#%d: %s", reply.Status, reply.StatusText))
	s.stats.Errors++
	slog.Warn("Transfer rejected", "token", s.track.Token(), "status", reply.Status, "text", reply.StatusText, "body", reply.Body)

	if reply.Status == http.StatusBadRequest {
		s.result(ResultRejected)
		s.hard = true
		s.stopTimer()
		s.hasDue = false
		text := reply.Body
		if text == "" {
			text = reply.StatusText
		}
		herr := &HardError{Status: reply.Status, Text: text}
		slog.Error("Transfer gave up", "token", s.track.Token(), "error", herr)
		if s.hooks.OnHardError != nil {
			s.hooks.OnHardError(herr)
		}
		return
	}
	s.result(ResultError)
	s.Schedule(s.cfg.RetryInterval)
}

// Abort cancels the in-flight request and any planned send.
func (s *Scheduler) Abort() {
	s.stopTimer()
	s.hasDue = false
	s.due = time.Time{}
	if s.inFlight && s.cancel != nil {
		s.cancel(ErrAborted)
	}
}

func (s *Scheduler) result(r Result) {
	if s.hooks.OnResult != nil {
		s.hooks.OnResult(r)
	}
}

func (s *Scheduler) changed() {
	if s.hooks.OnChange != nil {
		s.hooks.OnChange()
	}
}
