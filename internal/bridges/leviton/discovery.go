package leviton

import (
	"fmt"

	"github.com/nerrad567/leviton-bridge/internal/entity"
	"github.com/nerrad567/leviton-bridge/internal/infrastructure/mqtt"
)

// Attribute names used in Home Assistant style set topics.
const (
	attrBrightness = "brightness"
	attrPercentage = "percentage"
)

// Home Assistant discovery payload values.
const (
	payloadOn  = "ON"
	payloadOff = "OFF"

	// brightnessScale matches the entity brightness range.
	brightnessScale = 255

	onTemplate        = "{{ 'ON' if value_json.state.on else 'OFF' }}"
	brightnessTmpl    = "{{ value_json.state.brightness | default(0) }}"
	percentageTmpl    = "{{ value_json.state.percentage | default(0) }}"
	connectedTmpl     = "{{ 'connected' if value_json.state.connected else 'disconnected' }}"
	buttonsAttributes = "{{ {'buttons': value_json.state.buttons | default([])} | tojson }}"
)

// DiscoveryConfig controls Home Assistant discovery publishing.
type DiscoveryConfig struct {
	Enabled bool
	// Prefix is the discovery root, "homeassistant" by default.
	Prefix string
	// NodeID groups this bridge's entities under one node.
	NodeID string
}

func (d DiscoveryConfig) prefix() string {
	if d.Prefix == "" {
		return "homeassistant"
	}
	return d.Prefix
}

func (d DiscoveryConfig) nodeID() string {
	if d.NodeID == "" {
		return mqtt.DefaultPrefix
	}
	return d.NodeID
}

// DiscoveryTopic returns the retained config topic for an entity.
//
// Example: homeassistant/light/leviton/1234/config
func (d DiscoveryConfig) DiscoveryTopic(e entity.Entity) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", d.prefix(), e.Kind, d.nodeID(), e.UniqueID)
}

// haDevice is the device block shared by every entity of one device.
type haDevice struct {
	Identifiers   []string `json:"identifiers"`
	Name          string   `json:"name"`
	Manufacturer  string   `json:"manufacturer"`
	Model         string   `json:"model"`
	SWVersion     string   `json:"sw_version,omitempty"`
	SerialNumber  string   `json:"serial_number,omitempty"`
	SuggestedArea string   `json:"suggested_area,omitempty"`
}

// DiscoveryPayload is a Home Assistant MQTT discovery config. Only the
// fields relevant to the entity's component are set.
type DiscoveryPayload struct {
	// Name is null for the device's main entity so HA uses the device name.
	Name              *string  `json:"name"`
	UniqueID          string   `json:"unique_id"`
	Device            haDevice `json:"device"`
	DeviceClass       string   `json:"device_class,omitempty"`
	AvailabilityTopic string   `json:"availability_topic"`
	StateTopic        string   `json:"state_topic"`
	ValueTemplate     string   `json:"value_template,omitempty"`
	CommandTopic      string   `json:"command_topic,omitempty"`
	PayloadOn         string   `json:"payload_on,omitempty"`
	PayloadOff        string   `json:"payload_off,omitempty"`

	// light
	StateValueTemplate      string `json:"state_value_template,omitempty"`
	BrightnessCommandTopic  string `json:"brightness_command_topic,omitempty"`
	BrightnessStateTopic    string `json:"brightness_state_topic,omitempty"`
	BrightnessValueTemplate string `json:"brightness_value_template,omitempty"`
	BrightnessScale         int    `json:"brightness_scale,omitempty"`

	// fan
	PercentageCommandTopic  string `json:"percentage_command_topic,omitempty"`
	PercentageStateTopic    string `json:"percentage_state_topic,omitempty"`
	PercentageValueTemplate string `json:"percentage_value_template,omitempty"`
	SpeedRangeMax           int    `json:"speed_range_max,omitempty"`

	// controller sensor
	Options                []string `json:"options,omitempty"`
	JSONAttributesTopic    string   `json:"json_attributes_topic,omitempty"`
	JSONAttributesTemplate string   `json:"json_attributes_template,omitempty"`
}

// NewDiscoveryPayload builds the discovery config for e.
func NewDiscoveryPayload(topics mqtt.Topics, d DiscoveryConfig, e entity.Entity) DiscoveryPayload {
	p := DiscoveryPayload{
		UniqueID: d.nodeID() + "_" + e.UniqueID,
		Device: haDevice{
			Identifiers:   []string{d.nodeID() + "_" + e.DeviceID},
			Name:          e.Device.Name,
			Manufacturer:  e.Device.Manufacturer,
			Model:         e.Device.Model,
			SWVersion:     e.Device.SWVersion,
			SerialNumber:  e.Device.SerialNumber,
			SuggestedArea: e.Device.SuggestedArea,
		},
		DeviceClass:       e.DeviceClass,
		AvailabilityTopic: topics.Availability(e.UniqueID),
		StateTopic:        topics.State(e.UniqueID),
	}
	if e.Name != "" {
		name := e.Name
		p.Name = &name
	}

	switch e.Kind {
	case entity.KindLight:
		p.CommandTopic = topics.Set(e.UniqueID, "")
		p.PayloadOn, p.PayloadOff = payloadOn, payloadOff
		p.StateValueTemplate = onTemplate
		p.BrightnessCommandTopic = topics.Set(e.UniqueID, attrBrightness)
		p.BrightnessStateTopic = topics.State(e.UniqueID)
		p.BrightnessValueTemplate = brightnessTmpl
		p.BrightnessScale = brightnessScale
	case entity.KindFan:
		p.CommandTopic = topics.Set(e.UniqueID, "")
		p.PayloadOn, p.PayloadOff = payloadOn, payloadOff
		p.StateValueTemplate = onTemplate
		p.PercentageCommandTopic = topics.Set(e.UniqueID, attrPercentage)
		p.PercentageStateTopic = topics.State(e.UniqueID)
		p.PercentageValueTemplate = percentageTmpl
		p.SpeedRangeMax = 100
	case entity.KindSwitch:
		p.CommandTopic = topics.Set(e.UniqueID, "")
		p.PayloadOn, p.PayloadOff = payloadOn, payloadOff
		p.ValueTemplate = onTemplate
	case entity.KindBinarySensor:
		p.PayloadOn, p.PayloadOff = payloadOn, payloadOff
		p.ValueTemplate = onTemplate
	case entity.KindSensor:
		// Home Assistant has no connectivity class for plain sensors.
		p.DeviceClass = "enum"
		p.Options = []string{"connected", "disconnected"}
		p.ValueTemplate = connectedTmpl
		p.JSONAttributesTopic = topics.State(e.UniqueID)
		p.JSONAttributesTemplate = buttonsAttributes
	}
	return p
}
