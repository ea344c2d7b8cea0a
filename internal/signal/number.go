package signal

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

// FormatNumber renders n in the shortest form that round-trips, without an
// exponent for everyday magnitudes ("21.5", "100", "0.001").
func FormatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// ParseNumber parses a leading decimal number from s, ignoring surrounding
// whitespace and anything after the first space (typically a unit).
// "21.5 °C" yields 21.5. NaN, infinities and hex floats are rejected.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, ' '); i >= 0 {
		s = s[:i]
	}
	if s == "" || strings.ContainsAny(s, "xX") {
		return 0, false
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

// IsNonFinite reports whether s spells NaN or an infinity, including
// decimals too large for a float64.
func IsNonFinite(s string) bool {
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return false
	}
	return math.IsNaN(n) || math.IsInf(n, 0)
}

// ParseBool recognises the common textual spellings of a binary state.
func ParseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "true", "open", "1", "yes":
		return true, true
	case "off", "false", "closed", "0", "no":
		return false, true
	}
	return false, false
}
