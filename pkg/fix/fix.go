// Package fix holds raw position samples, the ring buffer that keeps recent
// accepted samples and the validator that gates what goes into it.
package fix

import (
	"math"
	"time"
)

// RawFix is one sample as delivered by a positioning sensor.
// Fields the sensor did not provide are NaN.
type RawFix struct {
	Time  time.Time
	Lat   float64
	Lon   float64
	Alt   float64 // geometric altitude [m]
	Speed float64 // ground speed [m/s]
	Track float64 // course over ground [deg true]
	HAcc  float64 // horizontal accuracy [m]
	VAcc  float64 // vertical accuracy [m]
}

// HasVAcc reports whether the sensor supplied a usable vertical accuracy.
func (f *RawFix) HasVAcc() bool {
	return !math.IsNaN(f.VAcc) && f.VAcc != 0
}
