package openhab

import "strings"

// Item is the subset of an openHAB REST item the adapter uses.
type Item struct {
	Name             string            `json:"name"`
	Label            string            `json:"label"`
	Type             string            `json:"type"`
	GroupType        string            `json:"groupType,omitempty"`
	State            string            `json:"state"`
	Tags             []string          `json:"tags,omitempty"`
	StateDescription *StateDescription `json:"stateDescription,omitempty"`
}

// StateDescription carries display hints for an item.
type StateDescription struct {
	Pattern  string        `json:"pattern,omitempty"`
	ReadOnly bool          `json:"readOnly,omitempty"`
	Options  []StateOption `json:"options,omitempty"`
}

// StateOption maps a raw state value to a display label.
type StateOption struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Item types the normalizer distinguishes.
const (
	typeNumber        = "Number"
	typeDimmer        = "Dimmer"
	typeRollershutter = "Rollershutter"
	typeSwitch        = "Switch"
	typeContact       = "Contact"
	typeDateTime      = "DateTime"
	typeString        = "String"
	typeGroup         = "Group"
)

// baseType returns the item type without its dimension suffix, resolving
// groups to their aggregate type. "Number:Temperature" yields "Number".
func (it Item) baseType() string {
	t := it.Type
	if t == typeGroup || strings.HasPrefix(t, typeGroup+":") {
		t = it.GroupType
		if t == "" {
			return typeString
		}
	}
	if i := strings.IndexByte(t, ':'); i >= 0 {
		t = t[:i]
	}
	return t
}

func (it Item) pattern() string {
	if it.StateDescription == nil {
		return ""
	}
	return it.StateDescription.Pattern
}

func (it Item) options() []StateOption {
	if it.StateDescription == nil {
		return nil
	}
	return it.StateDescription.Options
}

// event is the JSON envelope of an ItemStateChangedEvent.
type event struct {
	Topic   string `json:"topic"`
	Payload string `json:"payload"`
	Type    string `json:"type"`
}

type statePayload struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}
