// Package resample turns the irregular stream of accepted fixes into track
// samples spaced on a fixed whole-second grid.
package resample

import (
	"time"

	"glidetrack/pkg/fix"
	"glidetrack/pkg/geo"
	"glidetrack/pkg/motion"
)

// Config holds the resampling intervals.
type Config struct {
	FixInterval   time.Duration
	F2FMaxTimeGap time.Duration
	MoveBackTime  time.Duration
}

// DefaultConfig returns the stock intervals.
func DefaultConfig() Config {
	return Config{
		FixInterval:   4 * time.Second,
		F2FMaxTimeGap: 8 * time.Second,
		MoveBackTime:  15 * time.Second,
	}
}

// Sample is one point to append to a track.
type Sample struct {
	Time  time.Time
	Lat   float64
	Lon   float64
	Alt   float64
	Speed float64
	Track float64
	HAcc  float64
	VAcc  float64
}

// FromFix copies a raw fix verbatim.
func FromFix(f *fix.RawFix) Sample {
	return Sample{
		Time: f.Time, Lat: f.Lat, Lon: f.Lon, Alt: f.Alt,
		Speed: f.Speed, Track: f.Track, HAcc: f.HAcc, VAcc: f.VAcc,
	}
}

// Resampler remembers the time of the last emitted sample.
type Resampler struct {
	cfg     Config
	last    time.Time
	hasLast bool
}

// New creates a resampler.
func New(cfg Config) *Resampler {
	return &Resampler{cfg: cfg}
}

// Reset forgets the last emitted time.
func (r *Resampler) Reset() {
	r.last = time.Time{}
	r.hasLast = false
}

// Last returns the time of the last emitted sample.
func (r *Resampler) Last() (time.Time, bool) {
	return r.last, r.hasLast
}

// Step returns the samples due after the machine processed the fix at tr.Idx.
// warmIdx is the start of the warm-up window, or -1 if none.
func (r *Resampler) Step(buf *fix.Buffer, tr motion.Transition, warmIdx int) []Sample {
	switch tr.To {
	case motion.Stationary:
		return r.collect(buf, tr.Idx, tr.Idx)

	case motion.Moving:
		if !tr.Changed() {
			return r.collect(buf, tr.Idx, tr.Idx)
		}
		cur, ok := buf.At(tr.Idx)
		if !ok {
			return nil
		}
		lo := max(warmIdx, buf.Oldest())
		i := tr.Idx - 1
		for ; i >= lo; i-- {
			if cur.Time.Sub(buf.MustAt(i).Time) > r.cfg.MoveBackTime {
				break
			}
		}
		return r.collect(buf, i+1, tr.Idx)
	}
	return nil
}

// Raw passes a fix through unchanged.
func (r *Resampler) Raw(f *fix.RawFix) Sample {
	r.last = f.Time
	r.hasLast = true
	return FromFix(f)
}

func (r *Resampler) collect(buf *fix.Buffer, from, to int) []Sample {
	var out []Sample
	for i := from; i <= to; i++ {
		if s, ok := r.at(buf, i); ok {
			out = append(out, s)
		}
	}
	return out
}

// at interpolates between fixes idx-1 and idx at the whole second at or
// before fix idx.
func (r *Resampler) at(buf *fix.Buffer, idx int) (Sample, bool) {
	f1, ok := buf.At(idx)
	if !ok {
		return Sample{}, false
	}
	f0, ok := buf.At(idx - 1)
	if !ok {
		return Sample{}, false
	}

	t := f1.Time.Truncate(time.Second)
	if r.hasLast && r.last.Add(r.cfg.FixInterval).After(t) {
		return Sample{}, false
	}
	span := f1.Time.Sub(f0.Time)
	if span > r.cfg.F2FMaxTimeGap || t.Before(f0.Time) {
		return Sample{}, false
	}

	k := 1.0
	if span > 0 {
		k = float64(t.Sub(f0.Time)) / float64(span)
	}

	s := Sample{
		Time:  t,
		Lat:   geo.Lerp(f0.Lat, f1.Lat, k),
		Lon:   geo.Lerp(f0.Lon, f1.Lon, k),
		Alt:   geo.Lerp(f0.Alt, f1.Alt, k),
		Speed: geo.Lerp(f0.Speed, f1.Speed, k),
		Track: geo.LerpHeading(f0.Track, f1.Track, k),
		HAcc:  f1.HAcc,
		VAcc:  f1.VAcc,
	}
	r.last = t
	r.hasLast = true
	return s, true
}
