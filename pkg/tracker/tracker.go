package tracker

import (
	"sync"
	"sync/atomic"
)

// Tracker counts HTTP exchanges per remote host.
type Tracker struct {
	mu    sync.RWMutex
	stats map[string]*HostStats
}

// HostStats holds counters for one host.
// Fields are accessed atomically.
type HostStats struct {
	Requests   int64
	Successes  int64
	Failures   int64
	BytesSent  int64
	BytesRecvd int64
}

// New creates a new Tracker.
func New() *Tracker {
	return &Tracker{
		stats: make(map[string]*HostStats),
	}
}

// getStats returns the stats object for a host, creating it if needed.
func (t *Tracker) getStats(host string) *HostStats {
	t.mu.RLock()
	s, ok := t.stats[host]
	t.mu.RUnlock()
	if ok {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	// Double check
	if s, ok = t.stats[host]; ok {
		return s
	}
	s = &HostStats{}
	t.stats[host] = s
	return s
}

// TrackRequest records an outgoing request of n bytes.
func (t *Tracker) TrackRequest(host string, n int) {
	s := t.getStats(host)
	atomic.AddInt64(&s.Requests, 1)
	atomic.AddInt64(&s.BytesSent, int64(n))
}

// TrackSuccess records a 2xx response of n bytes.
func (t *Tracker) TrackSuccess(host string, n int) {
	s := t.getStats(host)
	atomic.AddInt64(&s.Successes, 1)
	atomic.AddInt64(&s.BytesRecvd, int64(n))
}

func (t *Tracker) TrackFailure(host string) {
	atomic.AddInt64(&t.getStats(host).Failures, 1)
}

// Snapshot returns a copy of the current stats.
func (t *Tracker) Snapshot() map[string]HostStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string]HostStats)
	for k, v := range t.stats {
		result[k] = HostStats{
			Requests:   atomic.LoadInt64(&v.Requests),
			Successes:  atomic.LoadInt64(&v.Successes),
			Failures:   atomic.LoadInt64(&v.Failures),
			BytesSent:  atomic.LoadInt64(&v.BytesSent),
			BytesRecvd: atomic.LoadInt64(&v.BytesRecvd),
		}
	}
	return result
}
