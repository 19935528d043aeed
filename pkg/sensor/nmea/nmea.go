// Package nmea reads fixes from a serial GNSS receiver speaking NMEA 0183.
package nmea

import (
	"bufio"
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/adrianmo/go-nmea"
	"github.com/jacobsa/go-serial/serial"

	"glidetrack/pkg/config"
	"glidetrack/pkg/fix"
	"glidetrack/pkg/sensor"
)

const knotsToMS = 0.514444

// Field values from NMEA 0183.
const (
	qualityInvalid = "0" // GGA fix quality
	fixType3D      = "3" // GSA fix type
	statusActive   = "A" // RMC validity
)

// Opener opens the serial port.
type Opener func(serial.OpenOptions) (io.ReadWriteCloser, error)

// Provider streams fixes from a serial receiver.
type Provider struct {
	opts   serial.OpenOptions
	uere   float64
	reopen time.Duration
	open   Opener
	now    func() time.Time
}

// New creates a provider from the serial settings.
func New(cfg config.NMEAConfig) *Provider {
	reopen := cfg.Reopen.D()
	if reopen <= 0 {
		reopen = 5 * time.Second
	}
	return &Provider{
		opts: serial.OpenOptions{
			PortName:        cfg.Port,
			BaudRate:        cfg.Baud,
			DataBits:        cfg.DataBits,
			StopBits:        cfg.StopBits,
			MinimumReadSize: 1,
			ParityMode:      serial.PARITY_NONE,
		},
		uere:   float64(cfg.UERE),
		reopen: reopen,
		open:   serial.Open,
		now:    time.Now,
	}
}

// WithOpener replaces the serial port opener.
func (p *Provider) WithOpener(o Opener) *Provider {
	p.open = o
	return p
}

func (p *Provider) Name() string { return "nmea" }

// Watch opens the port on a background goroutine and keeps reopening it
// until stopped. Permission errors end the watch.
func (p *Provider) Watch(ctx context.Context, opts sensor.Options, h sensor.Handler) (sensor.Watch, error) {
	gate := sensor.NewGate(opts, h, p.now)
	return sensor.Go(ctx, func(ctx context.Context) {
		go gate.TickEvery(ctx, time.Second)
		for {
			err := p.session(ctx, gate)
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, fs.ErrPermission) {
				gate.Error(sensor.CodePermissionDenied, "open %s: %v", p.opts.PortName, err)
				return
			}
			if err != nil {
				gate.Error(sensor.CodeUnavailable, "%s: %v", p.opts.PortName, err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.reopen):
			}
		}
	}), nil
}

// session reads one port lifetime.
func (p *Provider) session(ctx context.Context, gate *sensor.Gate) error {
	port, err := p.open(p.opts)
	if err != nil {
		return err
	}
	slog.Info("NMEA port opened", "port", p.opts.PortName, "baud", p.opts.BaudRate)

	stop := context.AfterFunc(ctx, func() { port.Close() })
	defer func() {
		if stop() {
			port.Close()
		}
	}()

	a := NewAssembler(p.uere)
	scanner := bufio.NewScanner(port)
	for scanner.Scan() {
		if f, ok := a.Feed(scanner.Text()); ok {
			gate.Fix(f)
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	if ctx.Err() == nil {
		return io.ErrUnexpectedEOF
	}
	return nil
}

// Assembler combines GGA, GSA and RMC sentences into fixes. A fix is
// emitted on every valid RMC using the latest altitude and dilution seen.
type Assembler struct {
	uere   float64
	alt    float64
	hasAlt bool
	hdop   float64
	vdop   float64
	has3D  bool
}

// NewAssembler creates an assembler that scales DOP by uere to get accuracy in meters.
func NewAssembler(uere float64) *Assembler {
	return &Assembler{uere: uere, alt: math.NaN(), hdop: math.NaN(), vdop: math.NaN()}
}

// Feed parses one line and returns a fix when the line completes one.
func (a *Assembler) Feed(line string) (fix.RawFix, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return fix.RawFix{}, false
	}
	s, err := nmea.Parse(line)
	if err != nil {
		slog.Debug("NMEA parse failed", "line", line, "error", err)
		return fix.RawFix{}, false
	}

	switch s.DataType() {
	case nmea.TypeGGA:
		m := s.(nmea.GGA)
		a.hasAlt = m.FixQuality != qualityInvalid
		if a.hasAlt {
			a.alt = m.Altitude + m.Separation
			a.hdop = m.HDOP
		} else {
			a.alt = math.NaN()
		}
	case nmea.TypeGSA:
		m := s.(nmea.GSA)
		a.hdop = m.HDOP
		a.vdop = m.VDOP
		a.has3D = m.FixType == fixType3D
	case nmea.TypeRMC:
		m := s.(nmea.RMC)
		if m.Validity != statusActive || !m.Time.Valid || !m.Date.Valid {
			return fix.RawFix{}, false
		}
		return a.fix(m), true
	}
	return fix.RawFix{}, false
}

func (a *Assembler) fix(m nmea.RMC) fix.RawFix {
	t := time.Date(2000+m.Date.YY, time.Month(m.Date.MM), m.Date.DD,
		m.Time.Hour, m.Time.Minute, m.Time.Second, m.Time.Millisecond*int(time.Millisecond), time.UTC)

	f := fix.RawFix{
		Time:  t,
		Lat:   m.Latitude,
		Lon:   m.Longitude,
		Alt:   math.NaN(),
		Speed: m.Speed * knotsToMS,
		Track: m.Course,
		HAcc:  math.NaN(),
		VAcc:  0,
	}
	if a.hasAlt {
		f.Alt = a.alt
	}
	if !math.IsNaN(a.hdop) && a.hdop > 0 {
		f.HAcc = a.hdop * a.uere
	}
	if a.has3D && !math.IsNaN(a.vdop) && a.vdop > 0 {
		f.VAcc = a.vdop * a.uere
	}
	return f
}
