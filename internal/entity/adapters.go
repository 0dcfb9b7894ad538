package entity

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nerrad567/leviton-bridge/internal/coordinator"
	"github.com/nerrad567/leviton-bridge/internal/leviton"
)

// fanSpeeds are the brightness levels a fan controller accepts, slowest first.
var fanSpeeds = []int{25, 50, 75, 100}

// DisplayName cleans up a device name for display: the vendor app appends
// " None" to unnamed loads and prefixes the room name.
func DisplayName(d leviton.Device) string {
	name := d.Name
	if name == "" {
		name = DefaultDeviceName
	}
	name = strings.TrimSuffix(name, " None")

	room := d.RoomName
	if room == "" {
		room = d.Room
	}
	if room != "" {
		name = strings.TrimPrefix(name, room+" ")
	}

	if strings.TrimSpace(name) == "" {
		return DefaultDeviceName
	}
	return name
}

// Info builds the device info block for d.
func Info(d leviton.Device) DeviceInfo {
	model := d.Model
	if model == "" {
		model = UnknownModel
	}
	area := d.RoomName
	if area == "" {
		area = d.Room
	}
	return DeviceInfo{
		ID:            d.ID,
		Name:          DisplayName(d),
		Manufacturer:  Manufacturer,
		Model:         model,
		SWVersion:     d.Version,
		SerialNumber:  d.Serial,
		SuggestedArea: area,
	}
}

// Available reports whether entities of d should be shown as available.
func Available(d leviton.Device, present, lastUpdateSuccess bool) bool {
	return lastUpdateSuccess && present && !d.Offline()
}

// LightBrightness converts a device level (0..100) to 0..255.
func LightBrightness(level int) int {
	return level * 255 / 100
}

// DeviceLevel converts a brightness (0..255) to a device level, never below 1
// so a dim request does not switch the load off.
func DeviceLevel(brightness int) int {
	return max(1, brightness*100/255)
}

// FanPercentage returns the fan's percentage: 0 when off or at brightness 0,
// otherwise the percentage of the matching speed.
func FanPercentage(d leviton.Device) int {
	if !d.IsOn() || d.Level() == 0 {
		return 0
	}
	speed := PercentageToSpeed(d.Level())
	for i, s := range fanSpeeds {
		if s == speed {
			return (i + 1) * 100 / len(fanSpeeds)
		}
	}
	return 0
}

// PercentageToSpeed maps a percentage (1..100) to the first speed whose
// band contains it. Values above 100 select the fastest speed.
func PercentageToSpeed(pct int) int {
	n := len(fanSpeeds)
	for i := 1; i <= n; i++ {
		if pct <= i*100/n {
			return fanSpeeds[i-1]
		}
	}
	return fanSpeeds[n-1]
}

// Build produces the entity set for a snapshot, sorted by unique id.
func Build(snap *coordinator.Snapshot, lastUpdateSuccess bool) []Entity {
	var out []Entity
	for _, d := range snap.Devices() {
		out = append(out, ForDevice(d, true, lastUpdateSuccess)...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UniqueID < out[j].UniqueID })
	return out
}

// Find returns the entity with uniqueID in snap.
func Find(snap *coordinator.Snapshot, lastUpdateSuccess bool, uniqueID string) (Entity, bool) {
	d, ok := snap.Get(DeviceIDOf(uniqueID))
	if !ok {
		return Entity{}, false
	}
	for _, e := range ForDevice(d, true, lastUpdateSuccess) {
		if e.UniqueID == uniqueID {
			return e, true
		}
	}
	return Entity{}, false
}

// DeviceIDOf returns the device id behind a unique id.
func DeviceIDOf(uniqueID string) string {
	for _, suffix := range []string{motionSuffix, controllerSuffix} {
		if id, ok := strings.CutSuffix(uniqueID, suffix); ok {
			return id
		}
	}
	return uniqueID
}

// ForDevice returns every entity a device exposes. A model may expose
// several (D2MSD is a light with a motion sensor).
func ForDevice(d leviton.Device, present, lastUpdateSuccess bool) []Entity {
	base := Entity{
		UniqueID:  d.ID,
		DeviceID:  d.ID,
		Device:    Info(d),
		Available: Available(d, present, lastUpdateSuccess),
	}

	var out []Entity
	switch {
	case leviton.InCategory(d.Model, leviton.CategoryFan):
		out = append(out, fanEntity(base, d))
	case leviton.InCategory(d.Model, leviton.CategoryLight):
		out = append(out, lightEntity(base, d))
	}
	if leviton.IsOnOffOnly(d.Model) {
		out = append(out, switchEntity(base, d))
	}
	if leviton.InCategory(d.Model, leviton.CategoryMotion) {
		out = append(out, motionEntity(base, d))
	}
	if leviton.InCategory(d.Model, leviton.CategoryController) {
		out = append(out, controllerEntity(base, d))
	}
	return out
}

func lightEntity(e Entity, d leviton.Device) Entity {
	e.Kind = KindLight
	e.State = State{On: d.IsOn()}
	if d.Brightness != nil {
		e.State.Brightness = leviton.Int(LightBrightness(*d.Brightness))
	}
	return e
}

func fanEntity(e Entity, d leviton.Device) Entity {
	e.Kind = KindFan
	e.SpeedCount = len(fanSpeeds)
	e.State = State{On: d.IsOn(), Percentage: leviton.Int(FanPercentage(d))}
	return e
}

func switchEntity(e Entity, d leviton.Device) Entity {
	e.Kind = KindSwitch
	e.DeviceClass = ClassSwitch
	if leviton.InCategory(d.Model, leviton.CategoryOutlet) || leviton.InCategory(d.Model, leviton.CategoryGFCI) {
		e.DeviceClass = ClassOutlet
	}
	e.State = State{On: d.IsOn()}
	return e
}

func motionEntity(e Entity, d leviton.Device) Entity {
	e.UniqueID = d.ID + motionSuffix
	e.Kind = KindBinarySensor
	e.Name = motionName
	e.DeviceClass = ClassMotion
	e.State = State{On: d.Motion != nil && *d.Motion}
	return e
}

func controllerEntity(e Entity, d leviton.Device) Entity {
	e.Kind = KindSensor
	e.DeviceClass = ClassConnectivity
	// The switch entity of a D2SCS already owns the bare id.
	if leviton.IsOnOffOnly(d.Model) {
		e.UniqueID = d.ID + controllerSuffix
		e.Name = controllerName
	}
	connected := d.Connected == nil || *d.Connected
	e.State = State{On: connected, Connected: leviton.Bool(connected), Buttons: d.Clone().Buttons}
	return e
}

// Attributes translates cmd into the device update for e.
func Attributes(e Entity, cmd Command) (leviton.Attributes, error) {
	switch e.Kind {
	case KindLight:
		return lightAttributes(cmd)
	case KindFan:
		return fanAttributes(cmd)
	case KindSwitch:
		switch cmd.Action {
		case ActionOn:
			return leviton.Attributes{Power: leviton.PowerOn}, nil
		case ActionOff:
			return leviton.Attributes{Power: leviton.PowerOff}, nil
		}
	}
	return leviton.Attributes{}, fmt.Errorf("%w: %s on %s", ErrUnsupportedCommand, cmd.Action, e.Kind)
}

func lightAttributes(cmd Command) (leviton.Attributes, error) {
	switch cmd.Action {
	case ActionOff:
		return leviton.Attributes{Power: leviton.PowerOff}, nil
	case ActionOn:
		if cmd.Brightness == nil {
			return leviton.Attributes{Power: leviton.PowerOn}, nil
		}
		return lightLevel(*cmd.Brightness)
	case ActionSetBrightness:
		if cmd.Brightness == nil {
			return leviton.Attributes{}, fmt.Errorf("%w: brightness is required", ErrInvalidCommand)
		}
		if *cmd.Brightness == 0 {
			return leviton.Attributes{Power: leviton.PowerOff}, nil
		}
		return lightLevel(*cmd.Brightness)
	}
	return leviton.Attributes{}, fmt.Errorf("%w: %s on light", ErrUnsupportedCommand, cmd.Action)
}

func lightLevel(b int) (leviton.Attributes, error) {
	if b < 0 || b > 255 {
		return leviton.Attributes{}, fmt.Errorf("%w: brightness %d out of range 0-255", ErrInvalidCommand, b)
	}
	return leviton.Attributes{Power: leviton.PowerOn, Brightness: leviton.Int(DeviceLevel(b))}, nil
}

func fanAttributes(cmd Command) (leviton.Attributes, error) {
	switch cmd.Action {
	case ActionOff:
		return leviton.Attributes{Power: leviton.PowerOff}, nil
	case ActionOn:
		if cmd.Percentage == nil {
			return leviton.Attributes{Power: leviton.PowerOn}, nil
		}
		return fanSpeed(*cmd.Percentage)
	case ActionSetPercentage:
		if cmd.Percentage == nil {
			return leviton.Attributes{}, fmt.Errorf("%w: percentage is required", ErrInvalidCommand)
		}
		return fanSpeed(*cmd.Percentage)
	}
	return leviton.Attributes{}, fmt.Errorf("%w: %s on fan", ErrUnsupportedCommand, cmd.Action)
}

func fanSpeed(pct int) (leviton.Attributes, error) {
	if pct < 0 || pct > 100 {
		return leviton.Attributes{}, fmt.Errorf("%w: percentage %d out of range 0-100", ErrInvalidCommand, pct)
	}
	if pct == 0 {
		return leviton.Attributes{Power: leviton.PowerOff}, nil
	}
	return leviton.Attributes{Power: leviton.PowerOn, Brightness: leviton.Int(PercentageToSpeed(pct))}, nil
}
