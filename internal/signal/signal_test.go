package signal

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Value
// ============================================================================

func TestValueAccessors(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		kind Kind
		want any
	}{
		{"null", NullValue(), KindNull, nil},
		{"zero value is null", Value{}, KindNull, nil},
		{"string", StringValue("HEAT"), KindString, "HEAT"},
		{"number", NumberValue(21.5), KindNumber, 21.5},
		{"bool", BoolValue(true), KindBool, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, tt.v.Kind())
			assert.Equal(t, tt.want, tt.v.Any())
			assert.Equal(t, tt.kind == KindNull, tt.v.IsNull())
		})
	}

	s, ok := NumberValue(3).AsString()
	assert.False(t, ok)
	assert.Empty(t, s)

	n, ok := NumberValue(3).AsNumber()
	assert.True(t, ok)
	assert.Equal(t, 3.0, n)
}

func TestValueEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"nulls", NullValue(), NullValue(), true},
		{"same number", NumberValue(1), NumberValue(1), true},
		{"different number", NumberValue(1), NumberValue(2), false},
		{"NaN", NumberValue(math.NaN()), NumberValue(math.NaN()), true},
		{"number vs string", NumberValue(1), StringValue("1"), false},
		{"bool vs null", BoolValue(false), NullValue(), false},
		{"same string", StringValue("a"), StringValue("a"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Equal(tt.b))
		})
	}
}

func TestValueJSON(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		json string
	}{
		{"null", NullValue(), `null`},
		{"string", StringValue("ON"), `"ON"`},
		{"number", NumberValue(21.6), `21.6`},
		{"bool", BoolValue(false), `false`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.v)
			require.NoError(t, err)
			assert.JSONEq(t, tt.json, string(data))
		})
	}

	t.Run("infinite number encodes as null", func(t *testing.T) {
		data, err := json.Marshal(NumberValue(math.Inf(1)))
		require.NoError(t, err)
		assert.Equal(t, "null", string(data))
	})

	t.Run("object rejected", func(t *testing.T) {
		var v Value
		assert.Error(t, json.Unmarshal([]byte(`{"a":1}`), &v))
	})
}

// ============================================================================
// Signal
// ============================================================================

func TestSignalJSONShape(t *testing.T) {
	sig := Signal{
		ID:           "oh:LivingRoom_Temp",
		Value:        NumberValue(21.6),
		DisplayValue: "21.6",
		Unit:         "°C",
		Label:        "Living Room",
		Available:    true,
		Type:         TypeNumber,
	}

	data, err := json.Marshal(sig)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id": "oh:LivingRoom_Temp",
		"value": 21.6,
		"display_value": "21.6",
		"unit": "°C",
		"label": "Living Room",
		"available": true,
		"signal_type": "number"
	}`, string(data))

	var back Signal
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, sig.Equal(back))
}

func TestUnavailable(t *testing.T) {
	sig := Unavailable("oh:Door", "Front Door", TypeBoolean)

	assert.False(t, sig.Available)
	assert.True(t, sig.Value.IsNull())
	assert.Empty(t, sig.DisplayValue)
	assert.NoError(t, sig.Validate())
}

func TestSignalValidate(t *testing.T) {
	tests := []struct {
		name    string
		sig     Signal
		wantErr bool
	}{
		{
			name: "available number",
			sig:  Signal{ID: "x:a", Value: NumberValue(1), DisplayValue: "1", Available: true, Type: TypeNumber},
		},
		{
			name:    "missing id",
			sig:     Signal{Value: NumberValue(1), Available: true, Type: TypeNumber},
			wantErr: true,
		},
		{
			name:    "available with null value",
			sig:     Signal{ID: "x:a", Available: true, Type: TypeNumber},
			wantErr: true,
		},
		{
			name:    "unavailable with value",
			sig:     Signal{ID: "x:a", Value: BoolValue(true), Type: TypeBoolean},
			wantErr: true,
		},
		{
			name:    "unavailable with display",
			sig:     Signal{ID: "x:a", DisplayValue: "NULL", Type: TypeString},
			wantErr: true,
		},
		{
			name:    "unknown type",
			sig:     Signal{ID: "x:a", Value: StringValue("a"), Available: true, Type: "color"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sig.Validate()
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidSignal), "got %v", err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestSignalEqual(t *testing.T) {
	a := Signal{ID: "x:a", Value: NumberValue(1), DisplayValue: "1", Available: true, Type: TypeNumber}
	b := a
	assert.True(t, a.Equal(b))

	b.Unit = "W"
	assert.False(t, a.Equal(b))
}

// ============================================================================
// Number helpers
// ============================================================================

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"21.5", 21.5, true},
		{" 21.5 °C", 21.5, true},
		{"-3", -3, true},
		{"abc", 0, false},
		{"", 0, false},
		{"NaN", 0, false},
		{"Inf", 0, false},
		{"-Infinity", 0, false},
		{"1e999", 0, false},
		{"0x1p-2", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseNumber(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsNonFinite(t *testing.T) {
	for _, in := range []string{"NaN", "nan", "Inf", "-inf", "+Infinity", "1e999", " NaN "} {
		assert.True(t, IsNonFinite(in), in)
	}
	for _, in := range []string{"21.5", "0", "1e-999", "abc", "", "UNDEF"} {
		assert.False(t, IsNonFinite(in), in)
	}
}

func TestParseBool(t *testing.T) {
	for _, in := range []string{"ON", "open", "true", "1"} {
		got, ok := ParseBool(in)
		assert.True(t, ok, in)
		assert.True(t, got, in)
	}
	for _, in := range []string{"OFF", "CLOSED", "false", "0"} {
		got, ok := ParseBool(in)
		assert.True(t, ok, in)
		assert.False(t, got, in)
	}
	_, ok := ParseBool("maybe")
	assert.False(t, ok)
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "21.5", FormatNumber(21.5))
	assert.Equal(t, "100", FormatNumber(100))
	assert.Equal(t, "0.001", FormatNumber(0.001))
}
