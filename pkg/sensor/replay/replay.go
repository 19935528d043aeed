// Package replay plays back a recorded IGC flight as a live position source.
package replay

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strconv"
	"time"

	"glidetrack/pkg/config"
	"glidetrack/pkg/fix"
	"glidetrack/pkg/geo"
	"glidetrack/pkg/sensor"
)

// Accuracy reported for every replayed fix [m].
const Accuracy = 10

// Point is one B record. Offset is relative to the first record.
type Point struct {
	Offset time.Duration
	Lat    float64
	Lon    float64
	Alt    float64 // GNSS altitude [m]
}

// ParseIGC reads the valid B records of an IGC file. Times that go
// backwards are taken to have crossed midnight.
func ParseIGC(r io.Reader) ([]Point, error) {
	var (
		points []Point
		first  = -1
	)
	sc := bufio.NewScanner(r)
	for n := 1; sc.Scan(); n++ {
		line := sc.Text()
		if len(line) < 35 || line[0] != 'B' || line[24] != 'A' {
			continue
		}
		p, secs, err := parseB(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		if first < 0 {
			first = secs
		} else if secs < first {
			secs += 24 * 3600
		}
		p.Offset = time.Duration(secs-first) * time.Second
		points = append(points, p)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return points, nil
}

func parseB(line string) (Point, int, error) {
	var p Point
	hh, err1 := strconv.Atoi(line[1:3])
	mm, err2 := strconv.Atoi(line[3:5])
	ss, err3 := strconv.Atoi(line[5:7])
	if err1 != nil || err2 != nil || err3 != nil {
		return p, 0, fmt.Errorf("bad time %q", line[1:7])
	}

	lat, err := parseCoord(line[7:9], line[9:14])
	if err != nil {
		return p, 0, err
	}
	if line[14] == 'S' {
		lat = -lat
	}
	lon, err := parseCoord(line[15:18], line[18:23])
	if err != nil {
		return p, 0, err
	}
	if line[23] == 'W' {
		lon = -lon
	}

	alt, err := strconv.Atoi(line[30:35])
	if err != nil {
		return p, 0, fmt.Errorf("bad altitude %q", line[30:35])
	}

	p.Lat, p.Lon, p.Alt = lat, lon, float64(alt)
	return p, hh*3600 + mm*60 + ss, nil
}

// parseCoord converts degrees and thousandths of minutes.
func parseCoord(deg, mmm string) (float64, error) {
	d, err := strconv.Atoi(deg)
	if err != nil {
		return 0, fmt.Errorf("bad coordinate %q", deg+mmm)
	}
	m, err := strconv.Atoi(mmm)
	if err != nil {
		return 0, fmt.Errorf("bad coordinate %q", deg+mmm)
	}
	return float64(d) + float64(m)/60000, nil
}

// Provider replays points in real time scaled by rate.
type Provider struct {
	file   string
	points []Point
	rate   float64
	loop   bool
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) bool
}

// New creates a provider for the configured file. The file is read when the
// watch starts.
func New(cfg config.ReplayConfig) *Provider {
	p := NewPoints(nil, cfg.Rate, cfg.Loop)
	p.file = cfg.File
	return p
}

// NewPoints creates a provider over already parsed points.
func NewPoints(points []Point, rate float64, loop bool) *Provider {
	if rate <= 0 {
		rate = 1
	}
	return &Provider{points: points, rate: rate, loop: loop, now: time.Now, sleep: sleepCtx}
}

func (p *Provider) Name() string { return "replay" }

// Watch starts playback from the first point.
func (p *Provider) Watch(ctx context.Context, opts sensor.Options, h sensor.Handler) (sensor.Watch, error) {
	points := p.points
	if points == nil {
		var err error
		if points, err = p.load(); err != nil {
			return nil, err
		}
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("replay: no valid B records")
	}

	gate := sensor.NewGate(opts, h, p.now)
	return sensor.Go(ctx, func(ctx context.Context) {
		for {
			if !p.play(ctx, gate, points) {
				return
			}
			if !p.loop {
				slog.Info("Replay finished", "points", len(points))
				return
			}
		}
	}), nil
}

func (p *Provider) load() ([]Point, error) {
	f, err := os.Open(p.file)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	defer f.Close()
	points, err := ParseIGC(f)
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", p.file, err)
	}
	slog.Info("Replay loaded", "file", p.file, "points", len(points), "rate", p.rate)
	return points, nil
}

// play emits every point once. Speed and track are derived from the
// previous point over the scaled interval, matching the emitted timestamps.
func (p *Provider) play(ctx context.Context, gate *sensor.Gate, points []Point) bool {
	start := p.now()
	at := func(i int) time.Time {
		return start.Add(time.Duration(float64(points[i].Offset) / p.rate))
	}

	for i, pt := range points {
		ts := at(i)
		if !p.sleep(ctx, ts.Sub(p.now())) {
			return false
		}

		f := fix.RawFix{
			Time:  ts,
			Lat:   pt.Lat,
			Lon:   pt.Lon,
			Alt:   pt.Alt,
			Speed: 0,
			Track: math.NaN(),
			HAcc:  Accuracy,
			VAcc:  Accuracy,
		}
		if i > 0 {
			prev := points[i-1]
			a, b := geo.Point{Lat: prev.Lat, Lon: prev.Lon}, geo.Point{Lat: pt.Lat, Lon: pt.Lon}
			if dt := ts.Sub(at(i - 1)).Seconds(); dt > 0 {
				f.Speed = geo.Distance(a, b) / dt
			}
			if a != b {
				f.Track = geo.Bearing(a, b)
			}
		}
		gate.Fix(f)
	}
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
