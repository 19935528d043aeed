package core

import (
	"math"
	"time"

	"glidetrack/pkg/fix"
)

// Status is a point-in-time view of the pipeline for the dashboard.
type Status struct {
	Running    bool       `json:"running"`
	Mode       string     `json:"mode"`
	FixStatus  fix.Status `json:"fix_status,omitempty"`
	StatusTime *time.Time `json:"status_time,omitempty"`
	LastFix    *FixView   `json:"last_fix,omitempty"`
	Buffered   int        `json:"buffered"`
	Debug      bool       `json:"debug"`
	SensorErr  string     `json:"sensor_error,omitempty"`
	HardError  string     `json:"hard_error,omitempty"`
	Track      *TrackView `json:"track,omitempty"`
	History    int        `json:"history"`
}

// FixView is the last accepted fix. Values the sensor did not supply are omitted.
type FixView struct {
	Time  time.Time `json:"time"`
	Lat   float64   `json:"lat"`
	Lon   float64   `json:"lon"`
	Alt   *float64  `json:"alt,omitempty"`
	Speed *float64  `json:"speed,omitempty"`
	Track *float64  `json:"track,omitempty"`
	HAcc  *float64  `json:"hacc,omitempty"`
	VAcc  *float64  `json:"vacc,omitempty"`
}

func num(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// TrackView summarises the current track and its transfer state.
type TrackView struct {
	Token       string     `json:"token"`
	Entries     int        `json:"entries"`
	Fixes       int        `json:"fixes"`
	Sent        int        `json:"sent"`
	Origin      *time.Time `json:"origin,omitempty"`
	LastSample  *time.Time `json:"last_sample,omitempty"`
	State       string     `json:"xfer_state"`
	Due         *time.Time `json:"xfer_due,omitempty"`
	Attempts    int        `json:"attempts"`
	Successes   int        `json:"successes"`
	Errors      int        `json:"errors"`
	Timeouts    int        `json:"timeouts"`
	Waits       int        `json:"waits"`
	Aborts      int        `json:"aborts"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
	HardFailed  bool       `json:"hard_failed"`
}

func timePtr(t time.Time, ok bool) *time.Time {
	if !ok || t.IsZero() {
		return nil
	}
	return &t
}

func (m *Manager) snapshot() Status {
	st := Status{
		Running:    m.running,
		Mode:       m.machine.Mode().String(),
		FixStatus:  m.status,
		StatusTime: timePtr(m.statusTime, true),
		Buffered:   m.buf.Count(),
		Debug:      m.debug,
		History:    len(m.hist),
	}
	if f := m.lastFix; f != nil {
		st.LastFix = &FixView{
			Time: f.Time, Lat: f.Lat, Lon: f.Lon, Alt: num(f.Alt),
			Speed: num(f.Speed), Track: num(f.Track), HAcc: num(f.HAcc), VAcc: num(f.VAcc),
		}
	}
	if m.sensorErr != nil {
		st.SensorErr = m.sensorErr.Error()
	}
	if m.hardErr != nil {
		st.HardError = m.hardErr.Error()
	}
	if s := m.cur; s != nil {
		tr := s.track
		stats := s.sched.Stats()
		due, hasDue := s.sched.Due()
		st.Track = &TrackView{
			Token:       tr.Token(),
			Entries:     tr.Len(),
			Fixes:       tr.FixCount(),
			Sent:        s.sched.Cursor(),
			Origin:      timePtr(tr.Origin()),
			LastSample:  timePtr(tr.LastTime()),
			State:       s.sched.State().String(),
			Due:         timePtr(due, hasDue),
			Attempts:    stats.Attempts,
			Successes:   stats.Successes,
			Errors:      stats.Errors,
			Timeouts:    stats.Timeouts,
			Waits:       stats.Waits,
			Aborts:      stats.Aborts,
			LastSuccess: timePtr(stats.LastSuccess, true),
			HardFailed:  s.sched.HardFailed(),
		}
	}
	return st
}
