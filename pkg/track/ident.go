package track

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// IDLength is the length of generated device ids and track tokens,
// including the trailing check character.
const IDLength = 16

const (
	luhnAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-_"
	base36       = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// GenerateID returns prefix + base36 milliseconds + random base36 digits,
// cut to IDLength-1 characters and completed with a mod-64 Luhn check character.
func GenerateID(prefix string, now time.Time) string {
	var sb strings.Builder
	sb.WriteString(prefix)
	sb.WriteString(strconv.FormatInt(now.UnixMilli(), 36))
	for _, b := range uuid.New() {
		sb.WriteByte(base36[int(b)%len(base36)])
	}
	id := sb.String()
	if len(id) > IDLength-1 {
		id = id[:IDLength-1]
	}
	c, _ := LuhnCheck(id, 64)
	return id + string(c)
}

// ValidID reports whether id carries a correct mod-64 check character.
func ValidID(id string) bool {
	if len(id) < 2 {
		return false
	}
	c, ok := LuhnCheck(id[:len(id)-1], 64)
	return ok && c == id[len(id)-1]
}

// LuhnCheck computes the Luhn check character of s in the given base
// (10 or 64). Digits map to 0-9, A-Z, a-z, '-', '_' in that order.
func LuhnCheck(s string, base int) (byte, bool) {
	if base < 2 || base > len(luhnAlphabet) {
		return 0, false
	}
	sum := 0
	for i := 0; i < len(s); i++ {
		d := strings.IndexByte(luhnAlphabet, s[i])
		if d < 0 || d >= base {
			return 0, false
		}
		if i%2 == 1 {
			d *= 2
		}
		sum += d/(base*base) + (d/base)%base + d%base
	}
	return luhnAlphabet[(base-sum%base)%base], true
}
