package device

import (
	"time"

	"github.com/nerrad567/leviton-bridge/internal/leviton"
)

// State keys stored in the state JSON column.
const (
	StatePower      = "power"
	StateBrightness = "brightness"
	StateFanSpeed   = "fan_speed"
	StateOccupancy  = "occupancy"
	StateMotion     = "motion"
	StateConnected  = "connected"
)

// State holds the reported device state. Only reported fields are present.
type State map[string]any

// Device is the locally persisted record of a cloud device.
type Device struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Model    string `json:"model"`
	Category string `json:"category"`
	Room     string `json:"room,omitempty"`
	Version  string `json:"version,omitempty"`
	Serial   string `json:"serial,omitempty"`
	Status   string `json:"status,omitempty"`

	State          State      `json:"state"`
	StateUpdatedAt *time.Time `json:"state_updated_at,omitempty"`

	// LastSeenAt is the last refresh that listed this device.
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`

	// InCloud reports whether the current cloud directory lists this device.
	// Not persisted.
	InCloud bool `json:"in_cloud"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FromLeviton builds a record from a cloud device.
func FromLeviton(d leviton.Device) Device {
	room := d.RoomName
	if room == "" {
		room = d.Room
	}
	return Device{
		ID:       d.ID,
		Name:     d.Name,
		Model:    d.Model,
		Category: string(leviton.PrimaryCategory(d.Model)),
		Room:     room,
		Version:  d.Version,
		Serial:   d.Serial,
		Status:   d.Status,
		State:    StateOf(d),
		InCloud:  true,
	}
}

// StateOf extracts the state fields the cloud reported.
func StateOf(d leviton.Device) State {
	s := State{}
	if d.Power != "" {
		s[StatePower] = d.Power
	}
	if d.Brightness != nil {
		s[StateBrightness] = *d.Brightness
	}
	if d.FanSpeed != nil {
		s[StateFanSpeed] = *d.FanSpeed
	}
	if d.Occupancy != nil {
		s[StateOccupancy] = *d.Occupancy
	}
	if d.Motion != nil {
		s[StateMotion] = *d.Motion
	}
	if d.Connected != nil {
		s[StateConnected] = *d.Connected
	}
	return s
}

// sameMetadata reports whether the descriptive fields match.
func (d *Device) sameMetadata(o *Device) bool {
	return d.Name == o.Name && d.Model == o.Model && d.Category == o.Category &&
		d.Room == o.Room && d.Version == o.Version && d.Serial == o.Serial && d.Status == o.Status
}

// DeepCopy creates a complete independent copy of the Device.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d
	cpy.State = deepCopyMap(d.State)
	if d.StateUpdatedAt != nil {
		t := *d.StateUpdatedAt
		cpy.StateUpdatedAt = &t
	}
	if d.LastSeenAt != nil {
		t := *d.LastSeenAt
		cpy.LastSeenAt = &t
	}
	return &cpy
}

// deepCopyMap creates a deep copy of a map[string]any.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

// deepCopyValue recursively copies a value, handling nested maps and slices.
func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case State:
		return State(deepCopyMap(val))
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		return v
	}
}

// statesEqual compares two states by value. Numbers compare as float64 so a
// state read back from JSON equals the one it was written from.
func statesEqual(a, b State) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !valuesEqual(av, bv) {
			return false
		}
	}
	return true
}

func valuesEqual(a, b any) bool {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		return ok && af == bf
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
