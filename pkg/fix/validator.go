package fix

import (
	"math"
	"time"

	"glidetrack/pkg/geo"
)

// Status is the outcome of validating one fix.
type Status string

const (
	StatusOK    Status = "ok"
	StatusStale Status = "stale" // too old or back in time
	StatusPoor  Status = "poor"  // accuracy too low
	StatusNoAlt Status = "noalt" // no altitude yet
	StatusFast  Status = "fast"  // implausible ground speed
	StatusDGS   Status = "dgs"   // reported and derived ground speed disagree
)

// ValidatorConfig holds the acceptance thresholds.
type ValidatorConfig struct {
	StaleTime                   time.Duration
	MinAccuracy                 float64 // [m]
	MinAltAccuracy              float64 // [m]
	MaxSpeed                    float64 // [m/s]
	MaxSpeedDiscrepancy         float64 // [m/s]
	MaxSpeedDiscrepancyInterval time.Duration
}

// DefaultValidatorConfig returns the stock thresholds.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		StaleTime:                   2 * time.Second,
		MinAccuracy:                 30,
		MinAltAccuracy:              30,
		MaxSpeed:                    150,
		MaxSpeedDiscrepancy:         10,
		MaxSpeedDiscrepancyInterval: 2 * time.Second,
	}
}

// Validator decides whether a raw fix may enter the buffer.
type Validator struct {
	cfg ValidatorConfig
	now func() time.Time
	raw bool
}

// NewValidator creates a validator. now supplies wall time for the staleness check.
func NewValidator(cfg ValidatorConfig, now func() time.Time) *Validator {
	if now == nil {
		now = time.Now
	}
	return &Validator{cfg: cfg, now: now}
}

// SetRaw toggles raw-logging mode, in which every fix is accepted.
func (v *Validator) SetRaw(raw bool) { v.raw = raw }

// Raw reports whether raw-logging mode is active.
func (v *Validator) Raw() bool { return v.raw }

// Check validates f against the previously accepted fix. prev is nil for
// the first fix. Checks run in a fixed order and the first failure wins.
func (v *Validator) Check(f *RawFix, prev *RawFix) Status {
	if v.raw {
		return StatusOK
	}

	if v.now().Sub(f.Time) > v.cfg.StaleTime {
		return StatusStale
	}
	if prev != nil && f.Time.Before(prev.Time) {
		return StatusStale
	}

	// NaN accuracies compare false and pass
	if f.HAcc > v.cfg.MinAccuracy || f.VAcc > v.cfg.MinAltAccuracy {
		return StatusPoor
	}

	if !f.HasVAcc() && (f.Alt == 0 || math.IsNaN(f.Alt)) {
		return StatusNoAlt
	}

	if f.Speed > v.cfg.MaxSpeed {
		return StatusFast
	}

	if prev != nil {
		dt := f.Time.Sub(prev.Time)
		if dt < v.cfg.MaxSpeedDiscrepancyInterval {
			d := geo.Distance(geo.Point{Lat: f.Lat, Lon: f.Lon}, geo.Point{Lat: prev.Lat, Lon: prev.Lon})
			derived := d / dt.Seconds()
			if dt <= 0 {
				derived = math.Inf(1)
				if d == 0 {
					derived = 0
				}
			}
			if math.Abs(derived-f.Speed) > v.cfg.MaxSpeedDiscrepancy {
				return StatusDGS
			}
		}
	}

	return StatusOK
}
