package api

import (
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"glidetrack/pkg/logging"
)

// maxAttrLen drops attribute values too long for the status line.
const maxAttrLen = 24

var attrRegex = regexp.MustCompile(`([a-zA-Z0-9_\-.]+)=(?:"([^"]*)"|([^ ]+))`)

// handleLatestLog returns the last server log line, shortened for the
// dashboard status line.
func handleLatestLog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"log": statusLine(logging.GlobalLogCapture.GetLastLine()),
	})
}

// statusLine turns a text handler record into "HH:MM:SS msg (k=v, ...)"
// with level and long values removed.
func statusLine(raw string) string {
	var (
		msg, clock string
		attrs      []string
	)
	for _, m := range attrRegex.FindAllStringSubmatch(raw, -1) {
		key, val := m[1], m[2]
		if val == "" {
			val = m[3]
		}
		val = strings.TrimSpace(val)

		switch key {
		case "time":
			if t, err := time.Parse(time.RFC3339, val); err == nil {
				clock = t.Format("15:04:05")
			}
		case "level":
		case "msg":
			msg = val
		default:
			if len(val) <= maxAttrLen {
				attrs = append(attrs, key+"="+val)
			}
		}
	}
	if msg == "" {
		return raw
	}

	out := msg
	if clock != "" {
		out = clock + " " + msg
	}
	if len(attrs) > 0 {
		sort.Strings(attrs)
		out = fmt.Sprintf("%s (%s)", out, strings.Join(attrs, ", "))
	}
	return out
}
