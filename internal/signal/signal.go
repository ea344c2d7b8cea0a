package signal

import (
	"errors"
	"fmt"
)

// Type is the declared data type of a Signal, carried alongside the Value so
// consumers can render without inspecting the payload.
type Type string

const (
	TypeString   Type = "string"
	TypeNumber   Type = "number"
	TypeBoolean  Type = "boolean"
	TypeEnum     Type = "enum"
	TypeDateTime Type = "datetime"
)

// Valid reports whether t is one of the known signal types.
func (t Type) Valid() bool {
	switch t {
	case TypeString, TypeNumber, TypeBoolean, TypeEnum, TypeDateTime:
		return true
	}
	return false
}

// ErrInvalidSignal is returned by Validate for signals that break the
// availability rules.
var ErrInvalidSignal = errors.New("signal: invalid signal")

// Signal is one normalized point of live state.
//
// ID is namespaced by the producing adapter's prefix ("oh:Kitchen_Temp").
// Available is false exactly when Value is null, and an unavailable signal
// always has an empty DisplayValue.
type Signal struct {
	ID           string `json:"id"`
	Value        Value  `json:"value"`
	DisplayValue string `json:"display_value"`
	Unit         string `json:"unit"`
	Label        string `json:"label"`
	Available    bool   `json:"available"`
	Type         Type   `json:"signal_type"`
}

// Unavailable builds a signal that has no valid value.
func Unavailable(id, label string, t Type) Signal {
	return Signal{
		ID:        id,
		Value:     NullValue(),
		Label:     label,
		Available: false,
		Type:      t,
	}
}

// Equal reports whether every field of s and o is equal.
func (s Signal) Equal(o Signal) bool {
	return s.ID == o.ID &&
		s.Value.Equal(o.Value) &&
		s.DisplayValue == o.DisplayValue &&
		s.Unit == o.Unit &&
		s.Label == o.Label &&
		s.Available == o.Available &&
		s.Type == o.Type
}

// Validate checks the structural rules every Signal must satisfy.
func (s Signal) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidSignal)
	}
	if !s.Type.Valid() {
		return fmt.Errorf("%w: %s: unknown type %q", ErrInvalidSignal, s.ID, s.Type)
	}
	if s.Available == s.Value.IsNull() {
		return fmt.Errorf("%w: %s: available=%t with %s value", ErrInvalidSignal, s.ID, s.Available, s.Value.Kind())
	}
	if !s.Available && s.DisplayValue != "" {
		return fmt.Errorf("%w: %s: unavailable signal has display value %q", ErrInvalidSignal, s.ID, s.DisplayValue)
	}
	return nil
}
