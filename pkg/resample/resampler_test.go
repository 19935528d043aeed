package resample

import (
	"math"
	"math/rand"
	"slices"
	"testing"
	"time"

	"glidetrack/pkg/fix"
	"glidetrack/pkg/motion"
)

var base = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func at(sec float64) time.Time {
	return base.Add(time.Duration(sec * float64(time.Second)))
}

func push(b *fix.Buffer, sec, lat, trk float64) int {
	return b.Push(fix.RawFix{
		Time: at(sec), Lat: lat, Lon: 8, Alt: 100 * lat, Speed: lat,
		Track: trk, HAcc: sec, VAcc: 2 * sec,
	})
}

func stay(mode motion.Mode, idx int) motion.Transition {
	return motion.Transition{From: mode, To: mode, Idx: idx}
}

func near(a, b float64) bool { return math.Abs(a-b) <= 1e-9 }

func times(out []Sample) []time.Time {
	var ts []time.Time
	for _, s := range out {
		ts = append(ts, s.Time)
	}
	return ts
}

func TestResampler_DormantEmitsNothing(t *testing.T) {
	r := New(DefaultConfig())
	b := fix.NewBuffer(16)
	push(b, 0.5, 1, 0)
	idx := push(b, 1.5, 2, 0)
	if out := r.Step(b, stay(motion.Dormant, idx), 0); len(out) != 0 {
		t.Errorf("Step() in DORMANT = %v, want nothing", out)
	}
}

func TestResampler_FirstFixSkipped(t *testing.T) {
	r := New(DefaultConfig())
	b := fix.NewBuffer(16)
	idx := push(b, 0, 1, 0)
	if out := r.Step(b, stay(motion.Stationary, idx), 0); len(out) != 0 {
		t.Errorf("Step() on the first fix = %v, want nothing", out)
	}
}

func TestResampler_Interpolates(t *testing.T) {
	r := New(DefaultConfig())
	b := fix.NewBuffer(16)
	push(b, 0.5, 1, 350)
	idx := push(b, 1.5, 3, 10)

	out := r.Step(b, stay(motion.Stationary, idx), 0)
	if len(out) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(out))
	}
	s := out[0]
	if !s.Time.Equal(at(1)) {
		t.Errorf("Time = %v, want %v", s.Time, at(1))
	}
	if !near(s.Lat, 2) || !near(s.Alt, 200) || !near(s.Speed, 2) {
		t.Errorf("lat/alt/speed = %v/%v/%v, want 2/200/2", s.Lat, s.Alt, s.Speed)
	}
	// Shortest arc from 350 to 10
	if !near(s.Track, 0) {
		t.Errorf("Track = %v, want 0", s.Track)
	}
	// Accuracies come from the later fix
	if s.HAcc != 1.5 || s.VAcc != 3 {
		t.Errorf("hacc/vacc = %v/%v, want 1.5/3", s.HAcc, s.VAcc)
	}
}

func TestResampler_RespectsFixInterval(t *testing.T) {
	r := New(DefaultConfig())
	b := fix.NewBuffer(64)
	push(b, 0.5, 1, 0)

	var got []time.Time
	for i := 1; i <= 20; i++ {
		idx := push(b, float64(i)+0.5, 1, 0)
		got = append(got, times(r.Step(b, stay(motion.Moving, idx), 0))...)
	}
	if want := []time.Time{at(1), at(5), at(9), at(13), at(17)}; !slices.Equal(got, want) {
		t.Errorf("sample times = %v, want %v", got, want)
	}
}

func TestResampler_SkipsLargeGap(t *testing.T) {
	r := New(DefaultConfig())
	b := fix.NewBuffer(16)
	push(b, 0, 1, 0)
	idx := push(b, 9, 1, 0)
	if out := r.Step(b, stay(motion.Moving, idx), 0); len(out) != 0 {
		t.Errorf("interpolated across a gap: %v", out)
	}
	if _, ok := r.Last(); ok {
		t.Error("Last() set without output")
	}
}

func TestResampler_MovingEntryBackfills(t *testing.T) {
	r := New(DefaultConfig())
	b := fix.NewBuffer(64)
	var idx int
	for i := 0; i <= 20; i++ {
		idx = push(b, float64(i)+0.5, float64(i), 0)
	}

	tr := motion.Transition{From: motion.Dormant, To: motion.Moving, Idx: idx}
	got := times(r.Step(b, tr, 0))
	if want := []time.Time{at(5), at(9), at(13), at(17)}; !slices.Equal(got, want) {
		t.Errorf("back-fill times = %v, want %v", got, want)
	}
}

func TestResampler_BackfillStopsAtWarmIdx(t *testing.T) {
	r := New(DefaultConfig())
	b := fix.NewBuffer(64)
	var idx int
	for i := 0; i <= 12; i++ {
		idx = push(b, float64(i)+0.5, float64(i), 0)
	}

	tr := motion.Transition{From: motion.Dormant, To: motion.Moving, Idx: idx}
	out := r.Step(b, tr, 8)
	if len(out) == 0 {
		t.Fatal("expected back-filled samples")
	}
	if !out[0].Time.Equal(at(8)) {
		t.Errorf("back-fill starts at %v, want the warm-up index at %v", out[0].Time, at(8))
	}
}

func TestResampler_RawPassThrough(t *testing.T) {
	r := New(DefaultConfig())
	f := fix.RawFix{Time: at(3.25), Lat: 1, Lon: 2, Alt: 3, Speed: 4, Track: 5, HAcc: 6, VAcc: 7}
	if s := r.Raw(&f); s != FromFix(&f) {
		t.Errorf("Raw() = %+v, want the fix unchanged", s)
	}
	if last, ok := r.Last(); !ok || !last.Equal(at(3.25)) {
		t.Errorf("Last() = %v, %v", last, ok)
	}
}

func TestResampler_OutputSpacingProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	cfg := DefaultConfig()
	r := New(cfg)
	b := fix.NewBuffer(300)

	sec := 0.0
	var prev *Sample
	for i := 0; i < 2000; i++ {
		sec += 0.2 + rng.Float64()*3
		if rng.Intn(50) == 0 {
			sec += 10
		}
		idx := push(b, sec, rng.Float64(), rng.Float64()*360)
		for _, s := range r.Step(b, stay(motion.Moving, idx), 0) {
			if s.Track < 0 || s.Track >= 360 || math.IsNaN(s.Lat) {
				t.Fatalf("bad sample %+v", s)
			}
			if prev != nil && s.Time.Sub(prev.Time) < cfg.FixInterval {
				t.Fatalf("samples %v and %v closer than %v", prev.Time, s.Time, cfg.FixInterval)
			}
			if gap := b.MustAt(idx).Time.Sub(b.MustAt(idx - 1).Time); gap > cfg.F2FMaxTimeGap {
				t.Fatalf("sample emitted across a %v gap", gap)
			}
			prev = &s
		}
	}
	if prev == nil {
		t.Fatal("no samples emitted")
	}
}
