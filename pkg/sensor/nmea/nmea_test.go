package nmea

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jacobsa/go-serial/serial"

	"glidetrack/pkg/config"
	"glidetrack/pkg/fix"
	"glidetrack/pkg/sensor"
)

// sentence adds the NMEA checksum to body.
func sentence(body string) string {
	var sum byte
	for i := 0; i < len(body); i++ {
		sum ^= body[i]
	}
	return fmt.Sprintf("$%s*%02X", body, sum)
}

var (
	gga = sentence("GPGGA,100000.50,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,")
	gsa = sentence("GPGSA,A,3,04,05,,09,12,,,24,,,,,2.5,1.3,2.1")
	rmc = sentence("GPRMC,100000.50,A,4807.038,N,01131.000,E,022.4,084.4,010624,,,A")
)

func near(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

func TestAssembler(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
		check func(t *testing.T, f fix.RawFix)
	}{
		{
			name:  "Full epoch",
			lines: []string{gga, gsa, rmc},
			check: func(t *testing.T, f fix.RawFix) {
				if want := time.Date(2024, 6, 1, 10, 0, 0, 500*int(time.Millisecond), time.UTC); !f.Time.Equal(want) {
					t.Errorf("Time = %v, want %v", f.Time, want)
				}
				if !near(f.Lat, 48.1173, 1e-4) || !near(f.Lon, 11.5167, 1e-4) {
					t.Errorf("position = %v,%v", f.Lat, f.Lon)
				}
				checks := []struct {
					name      string
					got, want float64
				}{
					{"alt", f.Alt, 592.3},
					{"speed", f.Speed, 22.4 * knotsToMS},
					{"track", f.Track, 84.4},
					{"hacc", f.HAcc, 6.5},
					{"vacc", f.VAcc, 10.5},
				}
				for _, c := range checks {
					if !near(c.got, c.want, 1e-9) {
						t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
					}
				}
			},
		},
		{
			name:  "RMC only",
			lines: []string{rmc},
			check: func(t *testing.T, f fix.RawFix) {
				if !math.IsNaN(f.Alt) || !math.IsNaN(f.HAcc) || f.VAcc != 0 {
					t.Errorf("alt/hacc/vacc = %v/%v/%v, want NaN/NaN/0", f.Alt, f.HAcc, f.VAcc)
				}
			},
		},
		{
			name:  "GGA without GSA",
			lines: []string{gga, rmc},
			check: func(t *testing.T, f fix.RawFix) {
				if !near(f.Alt, 592.3, 1e-9) || !near(f.HAcc, 4.5, 1e-9) {
					t.Errorf("alt/hacc = %v/%v, want 592.3/4.5", f.Alt, f.HAcc)
				}
				if f.VAcc != 0 {
					t.Errorf("VAcc = %v, want 0 without a 3D fix", f.VAcc)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAssembler(5)
			var got []fix.RawFix
			for _, l := range tt.lines {
				if f, ok := a.Feed(l); ok {
					got = append(got, f)
				}
			}
			if len(got) != 1 {
				t.Fatalf("expected 1 fix, got %d", len(got))
			}
			tt.check(t, got[0])
		})
	}
}

func TestAssembler_TwoDimensionalFixHasNoAltitude(t *testing.T) {
	a := NewAssembler(5)
	a.Feed(sentence("GPGSA,A,2,04,05,,09,12,,,24,,,,,2.5,1.3,2.1"))
	f, ok := a.Feed(rmc)
	if !ok {
		t.Fatal("expected a fix from a valid RMC")
	}
	if !math.IsNaN(f.Alt) || f.VAcc != 0 {
		t.Fatalf("expected unknown altitude and no vertical accuracy, got alt=%v vacc=%v", f.Alt, f.VAcc)
	}

	v := fix.NewValidator(fix.DefaultValidatorConfig(), func() time.Time { return f.Time })
	if got := v.Check(&f, nil); got != fix.StatusNoAlt {
		t.Errorf("Check() = %q, want %q", got, fix.StatusNoAlt)
	}
}

func TestAssembler_Rejects(t *testing.T) {
	a := NewAssembler(5)
	lines := []string{
		"",
		"garbage",
		sentence("GPRMC,100000.50,V,4807.038,N,01131.000,E,022.4,084.4,010624,,,N"),
		"$GPRMC,100000.50,A,4807.038,N,01131.000,E,022.4,084.4,010624,,,A*00",
		sentence("GPGGA,100000.50,,,,,0,00,,,M,,M,,"),
	}
	for _, l := range lines {
		if _, ok := a.Feed(l); ok {
			t.Errorf("Feed(%q) produced a fix", l)
		}
	}
}

type pipePort struct {
	*io.PipeReader
	io.Writer
}

func pipeOpener(r *io.PipeReader) Opener {
	return func(serial.OpenOptions) (io.ReadWriteCloser, error) {
		return pipePort{PipeReader: r, Writer: io.Discard}, nil
	}
}

func TestProvider_Watch(t *testing.T) {
	r, w := io.Pipe()
	p := New(config.NMEAConfig{Port: "/dev/test", Baud: 9600, UERE: 5}).WithOpener(pipeOpener(r))
	if p.Name() != "nmea" {
		t.Errorf("Name() = %q", p.Name())
	}

	fixes := make(chan fix.RawFix, 4)
	watch, err := p.Watch(context.Background(), sensor.Options{}, sensor.Handler{
		OnFix: func(f fix.RawFix) { fixes <- f },
	})
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	go func() {
		for _, l := range []string{gga, gsa, rmc} {
			fmt.Fprintf(w, "%s\r\n", l)
		}
	}()

	select {
	case f := <-fixes:
		if !near(f.Alt, 592.3, 1e-9) {
			t.Errorf("Alt = %v, want 592.3", f.Alt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no fix received")
	}

	watch.Stop()
}

func TestProvider_PermissionDenied(t *testing.T) {
	p := New(config.NMEAConfig{Port: "/dev/locked"}).WithOpener(func(serial.OpenOptions) (io.ReadWriteCloser, error) {
		return nil, fmt.Errorf("open /dev/locked: %w", fs.ErrPermission)
	})

	errs := make(chan *sensor.Error, 4)
	watch, err := p.Watch(context.Background(), sensor.Options{}, sensor.Handler{
		OnError: func(e *sensor.Error) { errs <- e },
	})
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer watch.Stop()

	select {
	case e := <-errs:
		if e.Code != sensor.CodePermissionDenied || !e.Fatal() {
			t.Errorf("error = %v, want fatal permission denied", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no error reported")
	}
}

func TestProvider_ReopensAfterFailure(t *testing.T) {
	r, w := io.Pipe()
	var opens atomic.Int32
	p := New(config.NMEAConfig{Port: "/dev/flaky", Reopen: config.Duration(10 * time.Millisecond)}).
		WithOpener(func(o serial.OpenOptions) (io.ReadWriteCloser, error) {
			if opens.Add(1) == 1 {
				return nil, fmt.Errorf("no such device")
			}
			return pipeOpener(r)(o)
		})

	errs := make(chan *sensor.Error, 4)
	fixes := make(chan fix.RawFix, 4)
	watch, err := p.Watch(context.Background(), sensor.Options{}, sensor.Handler{
		OnFix:   func(f fix.RawFix) { fixes <- f },
		OnError: func(e *sensor.Error) { errs <- e },
	})
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer watch.Stop()

	select {
	case e := <-errs:
		if e.Code != sensor.CodeUnavailable {
			t.Errorf("error code = %d, want %d", e.Code, sensor.CodeUnavailable)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no error reported")
	}

	go fmt.Fprintf(w, "%s\r\n", rmc)
	select {
	case <-fixes:
	case <-time.After(2 * time.Second):
		t.Fatal("no fix after reopen")
	}
	if n := opens.Load(); n != 2 {
		t.Errorf("port opened %d times, want 2", n)
	}
}
