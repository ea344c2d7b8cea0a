package mqttstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-live/internal/signal"
)

func TestNormalizeStateMessage(t *testing.T) {
	payload := []byte(`{
		"device_id": "light-living",
		"timestamp": "2026-01-15T10:00:00Z",
		"protocol": "knx",
		"address": "1/2/3",
		"state": {"on": true, "level": 75, "mode": "scene", "fault": null}
	}`)

	got := normalizeMessage("knx", "graylogic/state/knx/1~2~3", payload)
	require.Len(t, got, 4)

	// Fields are emitted in sorted order.
	assert.Equal(t, "knx:light-living.fault", got[0].ID)
	assert.False(t, got[0].Available)

	assert.Equal(t, "knx:light-living.level", got[1].ID)
	n, ok := got[1].Value.AsNumber()
	require.True(t, ok)
	assert.Equal(t, 75.0, n)
	assert.Equal(t, "75", got[1].DisplayValue)
	assert.Equal(t, "%", got[1].Unit)
	assert.Equal(t, signal.TypeNumber, got[1].Type)

	assert.Equal(t, "knx:light-living.mode", got[2].ID)
	assert.Equal(t, signal.StringValue("scene"), got[2].Value)

	assert.Equal(t, "knx:light-living.on", got[3].ID)
	assert.Equal(t, signal.BoolValue(true), got[3].Value)
	assert.Equal(t, "ON", got[3].DisplayValue)
	assert.Equal(t, signal.TypeBoolean, got[3].Type)
}

func TestNormalizeDeviceFromTopic(t *testing.T) {
	got := normalizeMessage("mqtt", "graylogic/state/dali/ballast-4", []byte(`{"state":{"temperature":21.5}}`))
	require.Len(t, got, 1)
	assert.Equal(t, "mqtt:dali.ballast-4.temperature", got[0].ID)
	assert.Equal(t, "°C", got[0].Unit)
	assert.Equal(t, "21.5", got[0].DisplayValue)
}

func TestNormalizeRawPayloads(t *testing.T) {
	tests := []struct {
		name      string
		topic     string
		payload   string
		wantID    string
		wantValue signal.Value
		wantType  signal.Type
		available bool
	}{
		{"number", "sensors/garden/temp", "12.5", "mqtt:sensors.garden.temp", signal.NumberValue(12.5), signal.TypeNumber, true},
		{"bool", "sensors/door", "ON", "mqtt:sensors.door", signal.BoolValue(true), signal.TypeBoolean, true},
		{"string", "sensors/mode", "eco heat", "mqtt:sensors.mode", signal.StringValue("eco heat"), signal.TypeString, true},
		{"unavailable", "sensors/door", "unavailable", "mqtt:sensors.door", signal.NullValue(), signal.TypeString, false},
		{"state topic", "graylogic/state/knx/1~1~1", "0", "mqtt:knx.1~1~1", signal.NumberValue(0), signal.TypeNumber, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeMessage("mqtt", tt.topic, []byte(tt.payload))
			require.Len(t, got, 1)
			assert.Equal(t, tt.wantID, got[0].ID)
			assert.True(t, tt.wantValue.Equal(got[0].Value), "value %v", got[0].Value)
			assert.Equal(t, tt.wantType, got[0].Type)
			assert.Equal(t, tt.available, got[0].Available)
		})
	}
}

func TestNormalizeEmptyPayload(t *testing.T) {
	assert.Nil(t, normalizeMessage("mqtt", "graylogic/state/knx/1", nil))
}

func TestNormalizeNestedField(t *testing.T) {
	got := normalizeMessage("mqtt", "graylogic/state/knx/1", []byte(`{"state":{"rgb":[255,0,10]}}`))
	require.Len(t, got, 1)
	assert.Equal(t, signal.StringValue("[255,0,10]"), got[0].Value)
}
