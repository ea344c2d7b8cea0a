package openhab

import (
	"strings"

	"github.com/nerrad567/gray-logic-live/internal/adapter"
	"github.com/nerrad567/gray-logic-live/internal/signal"
)

// Sentinel states meaning "no valid value".
const (
	stateUndef = "UNDEF"
	stateNull  = "NULL"
)

func isSentinel(state string) bool {
	switch strings.TrimSpace(state) {
	case stateUndef, stateNull, "":
		return true
	}
	return false
}

// Normalize converts an item and one of its raw states into a Signal.
// It never fails: unparseable input degrades to a string signal or to an
// unavailable one.
func Normalize(prefix string, it Item, state string) signal.Signal {
	id := adapter.SignalID(prefix, it.Name)
	label := it.Label
	if label == "" {
		label = it.Name
	}
	base := it.baseType()
	typ := signalType(base, it)

	if isSentinel(state) {
		return signal.Unavailable(id, label, typ)
	}

	sig := signal.Signal{
		ID:        id,
		Label:     label,
		Available: true,
		Type:      typ,
	}

	switch typ {
	case signal.TypeEnum:
		sig.Value = signal.StringValue(state)
		sig.DisplayValue = state
		for _, opt := range it.options() {
			if opt.Value == state && opt.Label != "" {
				sig.DisplayValue = opt.Label
				break
			}
		}
		return sig

	case signal.TypeDateTime:
		sig.Value = signal.StringValue(state)
		sig.DisplayValue = state
		return sig

	case signal.TypeBoolean:
		return normalizeBinary(sig, base, state)

	case signal.TypeNumber:
		return normalizeNumber(sig, base, it.pattern(), state)
	}

	sig.Value = signal.StringValue(state)
	sig.DisplayValue = state
	if p, ok := parsePattern(it.pattern()); ok {
		sig.DisplayValue = p.formatString(state)
		sig.Unit = p.unit
	}
	return sig
}

// signalType maps an openHAB item type to a signal type. Items with state
// options are enums regardless of their underlying type, except binary
// items whose options only relabel ON/OFF.
func signalType(base string, it Item) signal.Type {
	switch base {
	case typeSwitch, typeContact:
		return signal.TypeBoolean
	case typeDateTime:
		return signal.TypeDateTime
	}
	if len(it.options()) > 0 {
		return signal.TypeEnum
	}
	switch base {
	case typeNumber, typeDimmer, typeRollershutter:
		return signal.TypeNumber
	default:
		return signal.TypeString
	}
}

func normalizeBinary(sig signal.Signal, base, state string) signal.Signal {
	var on bool
	switch strings.ToUpper(strings.TrimSpace(state)) {
	case "ON", "OPEN":
		on = true
	case "OFF", "CLOSED":
		on = false
	default:
		// Not a binary state after all (a Switch group with a custom
		// aggregate, for instance); keep the text.
		sig.Type = signal.TypeString
		sig.Value = signal.StringValue(state)
		sig.DisplayValue = state
		return sig
	}
	sig.Value = signal.BoolValue(on)
	sig.DisplayValue = state
	return sig
}

func normalizeNumber(sig signal.Signal, base, rawPattern, state string) signal.Signal {
	number, stateUnit := splitQuantity(state)
	n, ok := signal.ParseNumber(number)
	if !ok && signal.IsNonFinite(number) {
		return signal.Unavailable(sig.ID, sig.Label, signal.TypeNumber)
	}
	if !ok {
		sig.Type = signal.TypeString
		sig.Value = signal.StringValue(state)
		sig.DisplayValue = state
		return sig
	}

	p, hasPattern := parsePattern(rawPattern)
	switch {
	case base == typeDimmer || base == typeRollershutter:
		sig.Unit = "%"
	case !hasPattern:
		sig.Unit = ""
	case p.unitFromState:
		sig.Unit = stateUnit
	default:
		sig.Unit = p.unit
	}

	sig.DisplayValue = number
	sig.Value = signal.NumberValue(n)
	if hasPattern {
		sig.DisplayValue = p.formatNumber(n)
		if shown, ok := signal.ParseNumber(sig.DisplayValue); ok && p.decimal() {
			sig.Value = signal.NumberValue(shown)
		}
	}
	return sig
}
