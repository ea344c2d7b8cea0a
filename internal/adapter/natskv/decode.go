package natskv

import (
	"encoding/json"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/nerrad567/gray-logic-live/internal/adapter"
	"github.com/nerrad567/gray-logic-live/internal/signal"
)

// entryPayload is the JSON form of a bucket value.
type entryPayload struct {
	Value        json.RawMessage `json:"value"`
	DisplayValue *string         `json:"display_value"`
	Unit         string          `json:"unit"`
	Label        string          `json:"label"`
	Type         signal.Type     `json:"type"`
	Available    *bool           `json:"available"`
}

// decodeEntry converts one watcher entry into a signal.
func decodeEntry(prefix string, entry jetstream.KeyValueEntry) signal.Signal {
	key := entry.Key()
	id := adapter.SignalID(prefix, key)

	if entry.Operation() != jetstream.KeyValuePut {
		return signal.Unavailable(id, key, signal.TypeString)
	}
	return decodeValue(id, key, entry.Value())
}

func decodeValue(id, key string, data []byte) signal.Signal {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		var p entryPayload
		if err := json.Unmarshal(data, &p); err == nil {
			if sig, ok := fromPayload(id, key, p); ok {
				return sig
			}
		}
	}
	return coerce(id, key, trimmed)
}

func fromPayload(id, key string, p entryPayload) (signal.Signal, bool) {
	label := p.Label
	if label == "" {
		label = key
	}

	var v signal.Value
	if len(p.Value) > 0 {
		if err := json.Unmarshal(p.Value, &v); err != nil {
			return signal.Signal{}, false
		}
	}

	typ := p.Type
	if !typ.Valid() {
		typ = typeOf(v)
	}
	if v.IsNull() || (p.Available != nil && !*p.Available) {
		sig := signal.Unavailable(id, label, typ)
		sig.Unit = p.Unit
		return sig, true
	}

	display := v.String()
	if p.DisplayValue != nil {
		display = *p.DisplayValue
	}
	return signal.Signal{
		ID:           id,
		Value:        v,
		DisplayValue: display,
		Unit:         p.Unit,
		Label:        label,
		Available:    true,
		Type:         typ,
	}, true
}

func typeOf(v signal.Value) signal.Type {
	switch v.Kind() {
	case signal.KindNumber:
		return signal.TypeNumber
	case signal.KindBool:
		return signal.TypeBoolean
	default:
		return signal.TypeString
	}
}

// coerce interprets a plain-text value.
func coerce(id, key, raw string) signal.Signal {
	switch strings.ToUpper(raw) {
	case "", "NULL", "UNDEF":
		return signal.Unavailable(id, key, signal.TypeString)
	}

	sig := signal.Signal{ID: id, DisplayValue: raw, Label: key, Available: true}
	if n, ok := signal.ParseNumber(raw); ok {
		sig.Value = signal.NumberValue(n)
		sig.Type = signal.TypeNumber
		if _, unit, found := strings.Cut(raw, " "); found {
			sig.Unit = strings.TrimSpace(unit)
		}
		return sig
	}
	if b, ok := signal.ParseBool(raw); ok {
		sig.Value = signal.BoolValue(b)
		sig.Type = signal.TypeBoolean
		return sig
	}
	sig.Value = signal.StringValue(raw)
	sig.Type = signal.TypeString
	return sig
}
