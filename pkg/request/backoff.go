package request

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

// HostBackoff tracks exponential backoff per remote host.
type HostBackoff struct {
	mu        sync.RWMutex
	hosts     map[string]*backoffState
	baseDelay time.Duration
	maxDelay  time.Duration
	now       func() time.Time
}

type backoffState struct {
	failureCount int
	nextAllowed  time.Time
}

// NewHostBackoff creates a new backoff manager.
func NewHostBackoff(baseDelay, maxDelay time.Duration) *HostBackoff {
	return &HostBackoff{
		hosts:     make(map[string]*backoffState),
		baseDelay: baseDelay,
		maxDelay:  maxDelay,
		now:       time.Now,
	}
}

// Delay returns how long a caller must still wait before contacting host.
func (b *HostBackoff) Delay(host string) time.Duration {
	b.mu.RLock()
	state, exists := b.hosts[host]
	b.mu.RUnlock()

	if !exists {
		return 0
	}
	if d := state.nextAllowed.Sub(b.now()); d > 0 {
		return d
	}
	return 0
}

// Wait blocks until host may be contacted again or ctx is done.
func (b *HostBackoff) Wait(ctx context.Context, host string) error {
	d := b.Delay(host)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RecordFailure increases the backoff delay for a host.
func (b *HostBackoff) RecordFailure(host string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, exists := b.hosts[host]
	if !exists {
		state = &backoffState{}
		b.hosts[host] = state
	}

	state.failureCount++
	delay := b.calculateDelay(state.failureCount)
	state.nextAllowed = b.now().Add(delay)
}

// RecordSuccess clears the backoff for a host.
func (b *HostBackoff) RecordSuccess(host string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.hosts, host)
}

// calculateDelay returns exponential delay with jitter.
func (b *HostBackoff) calculateDelay(failures int) time.Duration {
	// Exponential: baseDelay * 2^(failures-1)
	multiplier := math.Pow(2, float64(failures-1))
	delay := time.Duration(float64(b.baseDelay) * multiplier)

	if delay > b.maxDelay {
		delay = b.maxDelay
	}

	// Add 10% jitter
	jitter := time.Duration(rand.Float64() * 0.1 * float64(delay))
	return delay + jitter
}

// GetState returns current backoff state for a host.
func (b *HostBackoff) GetState(host string) (failureCount int, nextAllowed time.Time) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if state, exists := b.hosts[host]; exists {
		return state.failureCount, state.nextAllowed
	}
	return 0, time.Time{}
}
