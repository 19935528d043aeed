package core

import (
	"time"

	"glidetrack/pkg/config"
	"glidetrack/pkg/fix"
	"glidetrack/pkg/motion"
	"glidetrack/pkg/resample"
	"glidetrack/pkg/sensor"
	"glidetrack/pkg/xfer"
)

// Config collects the immutable settings of every pipeline stage.
type Config struct {
	BufferSize  int
	RestartGap  time.Duration
	HistorySize int
	RawLogging  bool

	Validator fix.ValidatorConfig
	Motion    motion.Config
	Resample  resample.Config
	Transfer  xfer.Config
	Watch     sensor.Options

	ExtendedFields bool
	DebugInfo      bool
	Hardware       string
	Firmware       string
}

// DefaultConfig returns the stock pipeline settings.
func DefaultConfig() Config {
	return Config{
		BufferSize:     300,
		RestartGap:     15 * time.Minute,
		HistorySize:    16,
		Validator:      fix.DefaultValidatorConfig(),
		Motion:         motion.DefaultConfig(),
		Resample:       resample.DefaultConfig(),
		Transfer:       xfer.DefaultConfig(),
		Watch:          sensor.Options{HighAccuracy: true, Timeout: 10 * time.Second, MaxFixAge: time.Second},
		ExtendedFields: true,
		DebugInfo:      true,
	}
}

// ConfigFrom derives the pipeline settings from the application config.
func ConfigFrom(c *config.Config) Config {
	p := &c.Pipeline
	return Config{
		BufferSize:  p.BufferSize,
		RestartGap:  p.RestartGap.D(),
		HistorySize: c.Track.HistorySize,
		RawLogging:  p.RawLogging,
		Validator: fix.ValidatorConfig{
			StaleTime:                   p.StaleTime.D(),
			MinAccuracy:                 float64(p.MinAccuracy),
			MinAltAccuracy:              float64(p.MinAltAccuracy),
			MaxSpeed:                    float64(p.MaxSpeed),
			MaxSpeedDiscrepancy:         float64(p.MaxSpeedDiscrepancy),
			MaxSpeedDiscrepancyInterval: p.MaxSpeedDiscrepancyInterval.D(),
		},
		Motion: motion.Config{
			WarmMinTime:          p.WarmMinTime.D(),
			WarmMinCount:         p.WarmMinCount,
			WarmMaxTimeGap:       p.WarmMaxTimeGap.D(),
			ColdMaxTimeGap:       p.ColdMaxTimeGap.D(),
			MinMovingGroundSpeed: float64(p.MinMovingGroundSpeed),
			GSStationaryTime:     p.GSStationaryTime.D(),
			GSMovingTime:         p.GSMovingTime.D(),
		},
		Resample: resample.Config{
			FixInterval:   p.FixInterval.D(),
			F2FMaxTimeGap: p.F2FMaxTimeGap.D(),
			MoveBackTime:  p.MoveBackTime.D(),
		},
		Transfer: xfer.Config{
			Timeout:         c.Transfer.Timeout.D(),
			NominalInterval: c.Transfer.NominalInterval.D(),
			MessageInterval: c.Transfer.MessageInterval.D(),
			RetryInterval:   c.Transfer.RetryInterval.D(),
		},
		Watch: sensor.Options{
			HighAccuracy: c.Sensor.HighAccuracy,
			Timeout:      c.Sensor.Timeout.D(),
			MaxFixAge:    c.Sensor.MaxFixAge.D(),
		},
		ExtendedFields: c.Track.ExtendedFields,
		DebugInfo:      c.Track.DebugInfo,
		Hardware:       c.Track.Hardware,
		Firmware:       c.Track.Firmware,
	}
}
