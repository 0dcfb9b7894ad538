package leviton

import (
	"encoding/json"
	"strings"
)

// Power values reported and accepted by the cloud.
const (
	PowerOn  = "ON"
	PowerOff = "OFF"
)

// StatusOffline is the device status the cloud reports for unreachable devices.
const StatusOffline = "offline"

// Device is one IotSwitch as returned by the directory API. State fields are
// nil when the cloud did not report them.
type Device struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Model    string `json:"model"`
	Version  string `json:"version,omitempty"`
	Serial   string `json:"serial,omitempty"`
	MAC      string `json:"mac,omitempty"`
	RoomName string `json:"roomName,omitempty"`
	Room     string `json:"room,omitempty"`
	Status   string `json:"status,omitempty"`

	Power      string `json:"power,omitempty"`
	Brightness *int   `json:"brightness,omitempty"`
	FanSpeed   *int   `json:"fanSpeed,omitempty"`
	Occupancy  *bool  `json:"occupancy,omitempty"`
	Motion     *bool  `json:"motion,omitempty"`
	Connected  *bool  `json:"connected,omitempty"`

	Buttons []Button `json:"iotButtons,omitempty"`
}

// Button is a scene/button controller key from the iotButtons include.
type Button struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	ButtonIndex *int   `json:"buttonIndex,omitempty"`
}

// UnmarshalJSON tolerates the cloud's loose typing: ids may be numbers,
// levels may be strings and flags may be numbers or strings.
func (d *Device) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID         Text            `json:"id"`
		Name       Text            `json:"name"`
		Model      Text            `json:"model"`
		Version    Text            `json:"version"`
		Serial     Text            `json:"serial"`
		MAC        Text            `json:"mac"`
		RoomName   Text            `json:"roomName"`
		Room       Text            `json:"room"`
		Status     Text            `json:"status"`
		Power      Text            `json:"power"`
		Brightness json.RawMessage `json:"brightness"`
		FanSpeed   json.RawMessage `json:"fanSpeed"`
		Occupancy  json.RawMessage `json:"occupancy"`
		Motion     json.RawMessage `json:"motion"`
		Connected  json.RawMessage `json:"connected"`
		Buttons    []Button        `json:"iotButtons"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	*d = Device{
		ID:         string(raw.ID),
		Name:       string(raw.Name),
		Model:      string(raw.Model),
		Version:    string(raw.Version),
		Serial:     string(raw.Serial),
		MAC:        string(raw.MAC),
		RoomName:   string(raw.RoomName),
		Room:       string(raw.Room),
		Status:     string(raw.Status),
		Power:      strings.ToUpper(string(raw.Power)),
		Brightness: parseInt(raw.Brightness),
		FanSpeed:   parseInt(raw.FanSpeed),
		Occupancy:  parseFlag(raw.Occupancy),
		Motion:     parseFlag(raw.Motion),
		Connected:  parseFlag(raw.Connected),
		Buttons:    raw.Buttons,
	}
	return nil
}

// UnmarshalJSON accepts numeric or string button ids and indexes.
func (b *Button) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID          Text            `json:"id"`
		Name        Text            `json:"name"`
		ButtonIndex json.RawMessage `json:"buttonIndex"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*b = Button{ID: string(raw.ID), Name: string(raw.Name), ButtonIndex: parseInt(raw.ButtonIndex)}
	return nil
}

// IsOn reports whether the device reports power ON.
func (d Device) IsOn() bool {
	return d.Power == PowerOn
}

// Level returns the reported brightness (0..100), or 0 when unknown.
func (d Device) Level() int {
	if d.Brightness == nil {
		return 0
	}
	return *d.Brightness
}

// Offline reports whether the cloud marks the device unreachable.
func (d Device) Offline() bool {
	return d.Status == StatusOffline
}

// Clone returns a deep copy.
func (d Device) Clone() Device {
	out := d
	out.Brightness = cloneInt(d.Brightness)
	out.FanSpeed = cloneInt(d.FanSpeed)
	out.Occupancy = cloneBool(d.Occupancy)
	out.Motion = cloneBool(d.Motion)
	out.Connected = cloneBool(d.Connected)
	if d.Buttons != nil {
		out.Buttons = make([]Button, len(d.Buttons))
		for i, b := range d.Buttons {
			b.ButtonIndex = cloneInt(b.ButtonIndex)
			out.Buttons[i] = b
		}
	}
	return out
}

// Apply returns a copy of d with every field present in u overwritten.
// d itself is not modified.
func (d Device) Apply(u StateUpdate) Device {
	out := d.Clone()
	if u.Power != nil {
		out.Power = strings.ToUpper(*u.Power)
	}
	if u.Brightness != nil {
		out.Brightness = cloneInt(u.Brightness)
	}
	if u.FanSpeed != nil {
		out.FanSpeed = cloneInt(u.FanSpeed)
	}
	if u.Occupancy != nil {
		out.Occupancy = cloneBool(u.Occupancy)
	}
	if u.Motion != nil {
		out.Motion = cloneBool(u.Motion)
	}
	if u.Connected != nil {
		out.Connected = cloneBool(u.Connected)
	}
	return out
}

// StateUpdate is a partial state change for one device, from a realtime
// notification or an optimistic command. Nil fields are unchanged.
type StateUpdate struct {
	ID         string  `json:"id"`
	Power      *string `json:"power,omitempty"`
	Brightness *int    `json:"brightness,omitempty"`
	FanSpeed   *int    `json:"fanSpeed,omitempty"`
	Occupancy  *bool   `json:"occupancy,omitempty"`
	Motion     *bool   `json:"motion,omitempty"`
	Connected  *bool   `json:"connected,omitempty"`
}

// Empty reports whether u changes nothing.
func (u StateUpdate) Empty() bool {
	return u.Power == nil && u.Brightness == nil && u.FanSpeed == nil &&
		u.Occupancy == nil && u.Motion == nil && u.Connected == nil
}

// updateFromData extracts the six state fields from notification data.
func updateFromData(id string, data map[string]json.RawMessage) StateUpdate {
	u := StateUpdate{ID: id}
	if raw, ok := data["power"]; ok {
		u.Power = parseString(raw)
	}
	if raw, ok := data["brightness"]; ok {
		u.Brightness = parseInt(raw)
	}
	if raw, ok := data["fanSpeed"]; ok {
		u.FanSpeed = parseInt(raw)
	}
	if raw, ok := data["occupancy"]; ok {
		u.Occupancy = parseFlag(raw)
	}
	if raw, ok := data["motion"]; ok {
		u.Motion = parseFlag(raw)
	}
	if raw, ok := data["connected"]; ok {
		u.Connected = parseFlag(raw)
	}
	return u
}

// Attributes is the body of a device update (PUT /IotSwitches/{id}).
type Attributes struct {
	Power      string `json:"power,omitempty"`
	Brightness *int   `json:"brightness,omitempty"`
}

// Update converts the attributes into the equivalent local state change.
func (a Attributes) Update(id string) StateUpdate {
	u := StateUpdate{ID: id, Brightness: cloneInt(a.Brightness)}
	if a.Power != "" {
		p := a.Power
		u.Power = &p
	}
	return u
}

// Empty reports whether there is nothing to send.
func (a Attributes) Empty() bool {
	return a.Power == "" && a.Brightness == nil
}

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }

// String returns a pointer to v.
func String(v string) *string { return &v }

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneBool(p *bool) *bool {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
