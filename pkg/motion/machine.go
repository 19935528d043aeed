// Package motion infers whether the receiver is warming up, standing still
// or moving from the accepted fix history.
package motion

import (
	"math"
	"time"

	"glidetrack/pkg/fix"
)

// Mode is the inferred motion state.
type Mode int

const (
	Dormant Mode = iota
	Stationary
	Moving
)

func (m Mode) String() string {
	switch m {
	case Dormant:
		return "DORMANT"
	case Stationary:
		return "STATIONARY"
	case Moving:
		return "MOVING"
	default:
		return "UNKNOWN"
	}
}

// Config holds the mode thresholds.
type Config struct {
	WarmMinTime          time.Duration
	WarmMinCount         int
	WarmMaxTimeGap       time.Duration
	ColdMaxTimeGap       time.Duration
	MinMovingGroundSpeed float64 // [m/s]
	GSStationaryTime     time.Duration
	GSMovingTime         time.Duration
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		WarmMinTime:          10 * time.Second,
		WarmMinCount:         5,
		WarmMaxTimeGap:       8 * time.Second,
		ColdMaxTimeGap:       3 * time.Second,
		MinMovingGroundSpeed: 5,
		GSStationaryTime:     10 * time.Second,
		GSMovingTime:         60 * time.Second,
	}
}

// Transition describes the effect of one Update.
type Transition struct {
	From Mode
	To   Mode
	Idx  int
	Time time.Time
}

// Changed reports whether the mode switched.
func (t Transition) Changed() bool { return t.From != t.To }

// Machine is the mode state machine. It is driven one accepted fix at a
// time and never replays history on its own.
type Machine struct {
	cfg      Config
	mode     Mode
	modeIdx  int
	modeTime time.Time
	warmIdx  int // -1 when no warm-up window is open
}

// NewMachine returns a machine in Dormant mode.
func NewMachine(cfg Config) *Machine {
	m := &Machine{cfg: cfg}
	m.Reset()
	return m
}

// Reset returns to Dormant and forgets all bookkeeping.
func (m *Machine) Reset() {
	m.mode = Dormant
	m.modeIdx = -1
	m.modeTime = time.Time{}
	m.warmIdx = -1
}

func (m *Machine) Mode() Mode          { return m.mode }
func (m *Machine) ModeIdx() int        { return m.modeIdx }
func (m *Machine) ModeTime() time.Time { return m.modeTime }

// WarmIdx returns the start of the current warm-up window.
func (m *Machine) WarmIdx() (int, bool) {
	return m.warmIdx, m.warmIdx >= 0
}

// Update folds the fix at idx (the newest entry of buf) into the state.
func (m *Machine) Update(buf *fix.Buffer, idx int) Transition {
	from := m.mode
	cur, ok := buf.At(idx)
	if !ok {
		return Transition{From: from, To: from, Idx: idx}
	}

	switch m.mode {
	case Dormant:
		m.updateDormant(buf, idx, &cur)
	case Stationary, Moving:
		m.updateActive(buf, idx, &cur)
	}

	return Transition{From: from, To: m.mode, Idx: idx, Time: cur.Time}
}

func (m *Machine) updateDormant(buf *fix.Buffer, idx int, cur *fix.RawFix) {
	if m.warmIdx < 0 || !buf.Has(m.warmIdx) {
		m.warmIdx = idx
	}
	prev, ok := buf.At(idx - 1)
	if !ok {
		return
	}
	if cur.Time.Sub(prev.Time) > m.cfg.ColdMaxTimeGap {
		m.warmIdx = idx
		return
	}

	warm := buf.MustAt(m.warmIdx)
	if cur.Time.Sub(warm.Time) < m.cfg.WarmMinTime || idx-m.warmIdx+1 < m.cfg.WarmMinCount {
		return
	}

	var sum float64
	var n int
	for i := idx; i >= m.warmIdx; i-- {
		f := buf.MustAt(i)
		if cur.Time.Sub(f.Time) >= m.cfg.WarmMinTime {
			break
		}
		sum += speedOrZero(f.Speed)
		n++
	}
	m.enter(m.classify(sum/float64(n)), idx, cur.Time)
}

func (m *Machine) updateActive(buf *fix.Buffer, idx int, cur *fix.RawFix) {
	prev, ok := buf.At(idx - 1)
	if !ok || cur.Time.Sub(prev.Time) > m.cfg.WarmMaxTimeGap {
		m.enter(Dormant, idx, cur.Time)
		m.warmIdx = -1
		return
	}

	window := m.cfg.GSStationaryTime
	if m.mode == Moving {
		window = m.cfg.GSMovingTime
	}
	lo := max(m.modeIdx, buf.Oldest())

	var sum float64
	var n int
	i := idx
	for ; i >= lo; i-- {
		f := buf.MustAt(i)
		if cur.Time.Sub(f.Time) >= window {
			break
		}
		sum += speedOrZero(f.Speed)
		n++
	}
	// The window must be fully covered by fixes recorded in this mode.
	if i < lo || n == 0 {
		return
	}

	if next := m.classify(sum / float64(n)); next != m.mode {
		m.enter(next, idx, cur.Time)
	}
}

func (m *Machine) classify(avgSpeed float64) Mode {
	if avgSpeed > m.cfg.MinMovingGroundSpeed {
		return Moving
	}
	return Stationary
}

func (m *Machine) enter(mode Mode, idx int, t time.Time) {
	m.mode = mode
	m.modeIdx = idx
	m.modeTime = t
}

func speedOrZero(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return v
}
