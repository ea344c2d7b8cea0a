package openhab

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/nerrad567/gray-logic-live/internal/signal"
)

// unitFromState is the placeholder that takes the unit from the quantity
// state itself ("21.5 °C").
const unitFromState = "%unit%"

// directiveRE matches one Java-style format directive from the subset
// openHAB patterns use in practice.
var directiveRE = regexp.MustCompile(`^%([-+ 0#,]*)(\d*)(\.\d+)?([dfsexgX])$`)

// pattern is a parsed state-description pattern "<format-spec> <unit>".
type pattern struct {
	flags string
	width string
	prec  string
	verb  byte

	unit          string
	unitFromState bool
}

// parsePattern splits raw into a format directive and a unit. ok is false
// for missing or malformed patterns; callers then fall back to raw values.
func parsePattern(raw string) (p pattern, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return pattern{}, false
	}

	spec, unit, _ := strings.Cut(raw, " ")
	// "%.1f%%" carries an escaped percent sign without a space.
	if rest, found := strings.CutSuffix(spec, "%%"); found && rest != "" {
		spec = rest
		unit = strings.TrimSpace("%% " + strings.TrimSpace(unit))
	}
	m := directiveRE.FindStringSubmatch(spec)
	if m == nil {
		return pattern{}, false
	}
	p = pattern{
		flags: strings.ReplaceAll(m[1], ",", ""),
		width: m[2],
		prec:  m[3],
		verb:  m[4][0],
	}

	unit = strings.TrimSpace(unit)
	switch {
	case unit == unitFromState:
		p.unitFromState = true
	case strings.Contains(strings.ReplaceAll(unit, "%%", ""), "%"):
		// A lone % outside an escape means a second directive.
		return pattern{}, false
	default:
		p.unit = strings.ReplaceAll(unit, "%%", "%")
	}
	return p, true
}

// decimal reports whether formatted output reads back as the same number
// base.
func (p pattern) decimal() bool {
	return p.verb != 'x' && p.verb != 'X'
}

func (p pattern) goVerb(verb byte) string {
	return "%" + p.flags + p.width + p.prec + string(verb)
}

// formatNumber applies the pattern to a numeric value.
func (p pattern) formatNumber(n float64) string {
	switch p.verb {
	case 'd':
		return fmt.Sprintf("%"+p.flags+p.width+"d", int64(math.Round(n)))
	case 'x', 'X':
		return fmt.Sprintf("%"+p.flags+p.width+string(p.verb), int64(math.Round(n)))
	case 's':
		return fmt.Sprintf(p.goVerb('s'), signal.FormatNumber(n))
	default:
		return fmt.Sprintf(p.goVerb(p.verb), n)
	}
}

// formatString applies the pattern to a text value. Only %s applies; numeric
// directives leave the text unchanged.
func (p pattern) formatString(s string) string {
	if p.verb != 's' {
		return s
	}
	return fmt.Sprintf(p.goVerb('s'), s)
}

// splitQuantity separates a quantity state into its number and unit parts.
// "21.5678 °C" yields ("21.5678", "°C"); "55" yields ("55", "").
func splitQuantity(state string) (number, unit string) {
	number, unit, _ = strings.Cut(strings.TrimSpace(state), " ")
	return number, strings.TrimSpace(unit)
}
