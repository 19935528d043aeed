package track

import (
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	igcManufacturer = "AGTd523"
	igcExtensions   = "I043638TDS3941FXA4244VXA4547GSP4850TRT"
	igcSentinel     = 999
)

// IGC encodes entries from index `from` onward. From zero the full log
// including the header is produced; otherwise only the records. The second
// result is false when nothing has been appended yet.
//
// Encoding is deterministic, so IGC(0) over a prefix followed by IGC(n)
// reproduces IGC(0) over the whole track.
func (t *Track) IGC(from int) (string, bool) {
	if !t.hasOrigin {
		return "", false
	}
	var sb strings.Builder
	if from <= 0 {
		from = 0
		t.writeHeader(&sb)
	}
	for i := from; i < len(t.entries); i++ {
		t.writeEntry(&sb, &t.entries[i])
	}
	return sb.String(), true
}

func (t *Track) writeHeader(sb *strings.Builder) {
	sb.WriteString(igcManufacturer + "\n")
	sb.WriteString("HFDTE" + t.origin.Format("020106") + "\n")
	header := func(key, val string) {
		if val != "" {
			sb.WriteString(key + val + "\n")
		}
	}
	header("HFPLTPILOT:", t.opts.Pilot)
	header("HFCIDCOMPETITIONID:", t.opts.CompetitionID)
	header("HFGTYGLIDERTYPE:", t.opts.Glider)
	header("HFGIDGLIDERID:", t.opts.Tail)
	sb.WriteString("HFRHW:" + t.opts.Hardware + "\n")
	sb.WriteString("HFRFW:" + t.opts.Firmware + "\n")
	if t.opts.ExtendedFields {
		sb.WriteString(igcExtensions + "\n")
	}
}

func (t *Track) writeEntry(sb *strings.Builder, e *entry) {
	at := t.origin.Add(e.offset).UTC()
	ts := at.Format("150405")
	ms := at.Nanosecond() / int(time.Millisecond)

	if f := e.fix; f != nil {
		sb.WriteString("B" + ts)
		writeCoord(sb, f.Lat, 2, 'N', 'S')
		writeCoord(sb, f.Lon, 3, 'E', 'W')
		sb.WriteString("A00000")
		alt := roundOrZero(f.Alt)
		if alt < 0 {
			fmt.Fprintf(sb, "-%04d", (-alt)%10000)
		} else {
			fmt.Fprintf(sb, "%05d", alt)
		}
		if t.opts.ExtendedFields {
			fmt.Fprintf(sb, "%03d%03d%03d%03d%03d",
				ms, field3(f.HAcc), field3(f.VAcc), field3(f.Speed*3.6), field3(f.Track))
		}
		sb.WriteByte('\n')
	}

	if m := e.msg; m != nil {
		sb.WriteString("L" + m.Code + ts)
		if t.opts.ExtendedFields {
			fmt.Fprintf(sb, "%03d", ms)
		}
		sb.WriteString(":" + m.Text + "\n")
	}
}

// writeCoord writes degrees and thousandths of minutes plus hemisphere.
func writeCoord(sb *strings.Builder, v float64, degDigits int, pos, neg byte) {
	milli := int(math.Abs(math.Round(v * 60000)))
	fmt.Fprintf(sb, "%0*d%05d", degDigits, milli/60000, milli%60000)
	if v < 0 {
		sb.WriteByte(neg)
	} else {
		sb.WriteByte(pos)
	}
}

// field3 formats a non-negative value into three digits, 999 when unknown.
func field3(v float64) int {
	if math.IsNaN(v) || v < 0 {
		return igcSentinel
	}
	r := math.Round(v)
	if r > igcSentinel {
		return igcSentinel
	}
	return int(r)
}

func roundOrZero(v float64) int {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return int(math.Round(v))
}
