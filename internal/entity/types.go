package entity

import "github.com/nerrad567/leviton-bridge/internal/leviton"

// Kind is the platform an entity is exposed as.
type Kind string

const (
	KindLight        Kind = "light"
	KindFan          Kind = "fan"
	KindSwitch       Kind = "switch"
	KindBinarySensor Kind = "binary_sensor"
	KindSensor       Kind = "sensor"
)

// Device classes.
const (
	ClassSwitch       = "switch"
	ClassOutlet       = "outlet"
	ClassMotion       = "motion"
	ClassConnectivity = "connectivity"
)

const (
	// Manufacturer is reported in every device info block.
	Manufacturer = "Leviton"

	// DefaultDeviceName replaces missing or empty device names.
	DefaultDeviceName = "Leviton Device"

	// UnknownModel replaces a missing model.
	UnknownModel = "Unknown Model"

	motionSuffix     = "_motion"
	motionName       = "Motion"
	controllerSuffix = "_controller"
	controllerName   = "Controller"
)

// DeviceInfo describes the physical device behind one or more entities.
type DeviceInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Manufacturer  string `json:"manufacturer"`
	Model         string `json:"model"`
	SWVersion     string `json:"sw_version,omitempty"`
	SerialNumber  string `json:"serial_number,omitempty"`
	SuggestedArea string `json:"suggested_area,omitempty"`
}

// State is the entity's current state. Only the fields meaningful for the
// entity kind are set.
type State struct {
	On bool `json:"on"`
	// Brightness is 0..255 for lights.
	Brightness *int `json:"brightness,omitempty"`
	// Percentage is 0..100 for fans.
	Percentage *int `json:"percentage,omitempty"`
	// Connected is reported by controllers.
	Connected *bool           `json:"connected,omitempty"`
	Buttons   []leviton.Button `json:"buttons,omitempty"`
}

// Entity is one controllable or observable facet of a device.
type Entity struct {
	UniqueID    string     `json:"unique_id"`
	DeviceID    string     `json:"device_id"`
	Kind        Kind       `json:"kind"`
	// Name is the entity's own name. Empty means the device name is used.
	Name        string     `json:"name,omitempty"`
	DeviceClass string     `json:"device_class,omitempty"`
	Device      DeviceInfo `json:"device"`
	Available   bool       `json:"available"`
	State       State      `json:"state"`
	// SpeedCount is the number of discrete fan speeds.
	SpeedCount int `json:"speed_count,omitempty"`
}

// DisplayName is the name shown to users: the device name, followed by the
// entity name when it has one.
func (e Entity) DisplayName() string {
	if e.Name == "" {
		return e.Device.Name
	}
	return e.Device.Name + " " + e.Name
}

// Controllable reports whether the entity accepts commands.
func (e Entity) Controllable() bool {
	switch e.Kind {
	case KindLight, KindFan, KindSwitch:
		return true
	default:
		return false
	}
}

// Action is a command verb.
type Action string

const (
	ActionOn            Action = "on"
	ActionOff           Action = "off"
	ActionSetBrightness Action = "set_brightness"
	ActionSetPercentage Action = "set_percentage"
)

// Command asks an entity to change state.
type Command struct {
	Action Action `json:"action"`
	// Brightness (0..255) for ActionSetBrightness, or optionally ActionOn on lights.
	Brightness *int `json:"brightness,omitempty"`
	// Percentage (0..100) for ActionSetPercentage, or optionally ActionOn on fans.
	Percentage *int `json:"percentage,omitempty"`
}
