// Package track holds the append-only record of one recording session and
// its IGC text encoding.
package track

import (
	"strings"
	"time"
)

const (
	CodeMessage = "MSG"
	CodeDebug   = "DBG"
)

// Options configures a track. Profile fields are written to the IGC header.
type Options struct {
	Pilot         string
	CompetitionID string
	Glider        string
	Tail          string

	Hardware string
	Firmware string

	ExtendedFields bool
	DebugInfo      bool

	// Now supplies the default message time.
	Now func() time.Time
}

// Fix is one resampled position.
type Fix struct {
	Lat   float64
	Lon   float64
	Alt   float64 // [m]
	Speed float64 // [m/s]
	Track float64 // [deg]
	HAcc  float64 // [m]
	VAcc  float64 // [m]
}

// Message is an annotation with a three-letter code.
type Message struct {
	Code string
	Text string
}

// entry is one time slot; exactly one of fix and msg is set.
type entry struct {
	offset time.Duration
	fix    *Fix
	msg    *Message
}

// Track is the record of one session. Times are stored relative to the
// origin, the whole second at or before the first appended entry.
type Track struct {
	opts      Options
	token     string
	origin    time.Time
	hasOrigin bool
	entries   []entry
	fixCount  int
}

// New creates an empty track.
func New(opts Options) *Track {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Track{opts: opts}
}

// Token returns the unique track token, generating it on first use.
func (t *Track) Token() string {
	if t.token == "" {
		t.token = GenerateID("T", t.opts.Now())
	}
	return t.token
}

// SetDebugInfo toggles recording of DBG messages.
func (t *Track) SetDebugInfo(on bool) { t.opts.DebugInfo = on }

// Options returns the track options.
func (t *Track) Options() Options { return t.opts }

// Len returns the number of entries (fixes and messages).
func (t *Track) Len() int { return len(t.entries) }

// FixCount returns the number of fixes.
func (t *Track) FixCount() int { return t.fixCount }

// Origin returns the session origin, if any entry has been appended.
func (t *Track) Origin() (time.Time, bool) { return t.origin, t.hasOrigin }

// LastTime returns the absolute time of the last entry.
func (t *Track) LastTime() (time.Time, bool) {
	if len(t.entries) == 0 {
		return time.Time{}, false
	}
	return t.origin.Add(t.entries[len(t.entries)-1].offset), true
}

// TimeAt returns the absolute time of entry i.
func (t *Track) TimeAt(i int) (time.Time, bool) {
	if i < 0 || i >= len(t.entries) {
		return time.Time{}, false
	}
	return t.origin.Add(t.entries[i].offset), true
}

func (t *Track) offsetFor(at time.Time) time.Duration {
	if !t.hasOrigin {
		t.origin = at.UTC().Truncate(time.Second)
		t.hasOrigin = true
	}
	return at.Sub(t.origin)
}

// AddFix appends a fix at the given time.
func (t *Track) AddFix(at time.Time, f Fix) {
	t.entries = append(t.entries, entry{offset: t.offsetFor(at), fix: &f})
	t.fixCount++
}

// AddMsg appends a message. An empty code means MSG, longer codes are cut
// to three characters and shorter ones padded with '-'. A zero time means
// now. DBG messages are dropped unless debug info is on; the result
// reports whether the message was recorded.
func (t *Track) AddMsg(text, code string, at time.Time) bool {
	if code == CodeDebug && !t.opts.DebugInfo {
		return false
	}
	if code == "" {
		code = CodeMessage
	} else {
		code = string([]rune(code + "---")[:3])
	}
	if at.IsZero() {
		at = t.opts.Now()
	}
	text = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return ' '
		}
		return r
	}, text)
	t.entries = append(t.entries, entry{offset: t.offsetFor(at), msg: &Message{Code: code, Text: text}})
	return true
}
