package mqttstate

import (
	"encoding/json"
	"slices"
	"strings"

	"github.com/nerrad567/gray-logic-live/internal/adapter"
	"github.com/nerrad567/gray-logic-live/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-live/internal/signal"
)

// stateMessage is the bridge state payload.
// Topic: graylogic/state/{protocol}/{address}
type stateMessage struct {
	DeviceID  string         `json:"device_id"`
	Timestamp string         `json:"timestamp"`
	State     map[string]any `json:"state"`
	Protocol  string         `json:"protocol"`
	Address   string         `json:"address"`
}

// fieldUnits maps well-known state field names to display units.
var fieldUnits = map[string]string{
	"temperature": "°C",
	"setpoint":    "°C",
	"humidity":    "%",
	"level":       "%",
	"brightness":  "%",
	"position":    "%",
	"tilt":        "%",
	"battery":     "%",
	"power":       "W",
	"energy":      "kWh",
	"voltage":     "V",
	"current":     "A",
	"illuminance": "lx",
	"lux":         "lx",
	"co2":         "ppm",
	"pressure":    "hPa",
	"wind_speed":  "m/s",
}

// unavailableStates are string states bridges use for "no value".
var unavailableStates = map[string]bool{
	"":            true,
	"unavailable": true,
	"unknown":     true,
	"undef":       true,
	"null":        true,
}

// normalizeMessage converts one MQTT message into signals. Messages on
// topics outside the state layout still yield a single signal keyed by the
// topic path.
func normalizeMessage(prefix, topic string, payload []byte) []signal.Signal {
	if len(payload) == 0 {
		// Retained message cleared; no fields to report.
		return nil
	}

	var msg stateMessage
	if err := json.Unmarshal(payload, &msg); err == nil && msg.State != nil {
		device := msg.DeviceID
		if device == "" {
			device = deviceFromTopic(topic)
		}

		fields := make([]string, 0, len(msg.State))
		for f := range msg.State {
			fields = append(fields, f)
		}
		slices.Sort(fields)

		out := make([]signal.Signal, 0, len(fields))
		for _, f := range fields {
			id := adapter.SignalID(prefix, device+"."+f)
			out = append(out, fieldSignal(id, f, msg.State[f]))
		}
		return out
	}

	key := deviceFromTopic(topic)
	return []signal.Signal{rawSignal(adapter.SignalID(prefix, key), key, string(payload))}
}

// deviceFromTopic derives a stable key from a topic:
// graylogic/state/knx/1~2~3 yields "knx.1~2~3"; other topics use their
// path with "/" replaced by ".".
func deviceFromTopic(topic string) string {
	if protocol, address, ok := mqtt.ParseStateTopic(topic); ok {
		return protocol + "." + address
	}
	return strings.ReplaceAll(strings.Trim(topic, "/"), "/", ".")
}

// fieldSignal converts one decoded JSON state field.
func fieldSignal(id, field string, v any) signal.Signal {
	unit := fieldUnits[strings.ToLower(field)]

	switch x := v.(type) {
	case nil:
		return signal.Unavailable(id, field, signal.TypeString)
	case bool:
		return signal.Signal{
			ID: id, Value: signal.BoolValue(x), DisplayValue: boolDisplay(x),
			Label: field, Available: true, Type: signal.TypeBoolean,
		}
	case float64:
		return signal.Signal{
			ID: id, Value: signal.NumberValue(x), DisplayValue: signal.FormatNumber(x),
			Unit: unit, Label: field, Available: true, Type: signal.TypeNumber,
		}
	case string:
		if unavailableStates[strings.ToLower(strings.TrimSpace(x))] {
			return signal.Unavailable(id, field, signal.TypeString)
		}
		return signal.Signal{
			ID: id, Value: signal.StringValue(x), DisplayValue: x,
			Label: field, Available: true, Type: signal.TypeString,
		}
	default:
		// Nested objects and arrays are kept as their JSON text.
		data, err := json.Marshal(x)
		if err != nil {
			return signal.Unavailable(id, field, signal.TypeString)
		}
		return signal.Signal{
			ID: id, Value: signal.StringValue(string(data)), DisplayValue: string(data),
			Label: field, Available: true, Type: signal.TypeString,
		}
	}
}

// rawSignal coerces a plain-text payload.
func rawSignal(id, label, raw string) signal.Signal {
	raw = strings.TrimSpace(raw)
	if unavailableStates[strings.ToLower(raw)] {
		return signal.Unavailable(id, label, signal.TypeString)
	}
	if n, ok := signal.ParseNumber(raw); ok && !strings.Contains(raw, " ") {
		return signal.Signal{
			ID: id, Value: signal.NumberValue(n), DisplayValue: raw,
			Label: label, Available: true, Type: signal.TypeNumber,
		}
	}
	if b, ok := signal.ParseBool(raw); ok {
		return signal.Signal{
			ID: id, Value: signal.BoolValue(b), DisplayValue: raw,
			Label: label, Available: true, Type: signal.TypeBoolean,
		}
	}
	return signal.Signal{
		ID: id, Value: signal.StringValue(raw), DisplayValue: raw,
		Label: label, Available: true, Type: signal.TypeString,
	}
}

func boolDisplay(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}
