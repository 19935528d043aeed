// Package sensor defines the position source contract shared by the serial
// receiver, the log replay and the networked feed.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"glidetrack/pkg/fix"
)

// Error codes reported through Handler.OnError.
const (
	CodePermissionDenied = 1
	CodeUnavailable      = 2
	CodeTimeout          = 3
)

// ErrPermissionDenied matches a fatal sensor error with errors.Is.
var ErrPermissionDenied = errors.New("position access denied")

// Error is a sensor failure. Only CodePermissionDenied is fatal.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("sensor error %d: %s", e.Code, e.Message)
}

func (e *Error) Is(target error) bool {
	return target == ErrPermissionDenied && e.Code == CodePermissionDenied
}

// Fatal reports whether the session cannot continue.
func (e *Error) Fatal() bool { return e.Code == CodePermissionDenied }

// Options are the watch request parameters.
type Options struct {
	HighAccuracy bool
	Timeout      time.Duration // report CodeTimeout when no fix arrives within
	MaxFixAge    time.Duration // drop fixes older than this on arrival
}

// Handler receives sensor events. Callbacks run on the provider's goroutine.
type Handler struct {
	OnFix   func(fix.RawFix)
	OnError func(*Error)
}

func (h Handler) fix(f fix.RawFix) {
	if h.OnFix != nil {
		h.OnFix(f)
	}
}

func (h Handler) err(code int, format string, args ...any) {
	if h.OnError != nil {
		h.OnError(&Error{Code: code, Message: fmt.Sprintf(format, args...)})
	}
}

// Watch is an active subscription.
type Watch interface {
	Stop()
}

// Provider starts position watches.
type Provider interface {
	Name() string
	Watch(ctx context.Context, opts Options, h Handler) (Watch, error)
}

// watch runs a provider loop until stopped.
type watch struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (w *watch) Stop() {
	w.cancel()
	<-w.done
}

// Go runs loop on its own goroutine and returns a Watch that cancels it.
func Go(ctx context.Context, loop func(ctx context.Context)) Watch {
	ctx, cancel := context.WithCancel(ctx)
	w := &watch{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(w.done)
		loop(ctx)
	}()
	return w
}

// Gate applies the watch options to a stream of fixes: it drops fixes older
// than MaxFixAge and reports a timeout when the stream goes quiet. It is
// safe for concurrent use.
type Gate struct {
	mu   sync.Mutex
	opts Options
	h    Handler
	now  func() time.Time
	last time.Time
}

// NewGate wraps h with the watch options.
func NewGate(opts Options, h Handler, now func() time.Time) *Gate {
	if now == nil {
		now = time.Now
	}
	return &Gate{opts: opts, h: h, now: now, last: now()}
}

// Fix forwards f unless it is too old.
func (g *Gate) Fix(f fix.RawFix) {
	g.mu.Lock()
	now := g.now()
	g.last = now
	g.mu.Unlock()
	if g.opts.MaxFixAge > 0 && now.Sub(f.Time) > g.opts.MaxFixAge {
		return
	}
	g.h.fix(f)
}

// Error forwards a sensor error.
func (g *Gate) Error(code int, format string, args ...any) {
	g.h.err(code, format, args...)
}

// Tick reports a timeout once per quiet period.
// Providers call it periodically, see TickEvery.
func (g *Gate) Tick() {
	if g.opts.Timeout <= 0 {
		return
	}
	g.mu.Lock()
	now := g.now()
	quiet := now.Sub(g.last) > g.opts.Timeout
	if quiet {
		g.last = now
	}
	g.mu.Unlock()
	if quiet {
		g.h.err(CodeTimeout, "no fix within %v", g.opts.Timeout)
	}
}

// TickEvery calls g.Tick at interval until ctx is done.
func (g *Gate) TickEvery(ctx context.Context, interval time.Duration) {
	if g.opts.Timeout <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			g.Tick()
		}
	}
}
