package entity

import (
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/leviton-bridge/internal/coordinator"
	"github.com/nerrad567/leviton-bridge/internal/leviton"
)

func TestDisplayName(t *testing.T) {
	tests := []struct {
		name   string
		device leviton.Device
		want   string
	}{
		{"plain", leviton.Device{Name: "Porch Light"}, "Porch Light"},
		{"empty", leviton.Device{}, DefaultDeviceName},
		{"trailing none", leviton.Device{Name: "Lamp None"}, "Lamp"},
		{"room prefix", leviton.Device{Name: "Kitchen Island", RoomName: "Kitchen"}, "Island"},
		{"room field fallback", leviton.Device{Name: "Den Fan", Room: "Den"}, "Fan"},
		{"room prefix and none", leviton.Device{Name: "Hall None", RoomName: "Hall"}, "Hall"},
		{"name equals room prefix only", leviton.Device{Name: "Office ", RoomName: "Office"}, DefaultDeviceName},
		{"room not a prefix", leviton.Device{Name: "Island Kitchen", RoomName: "Kitchen"}, "Island Kitchen"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DisplayName(tt.device); got != tt.want {
				t.Errorf("DisplayName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInfo(t *testing.T) {
	info := Info(leviton.Device{ID: "1", Name: "Lamp", Version: "2.1", RoomName: "Den"})
	if info.Manufacturer != "Leviton" || info.Model != UnknownModel || info.SWVersion != "2.1" {
		t.Errorf("Info() = %+v", info)
	}
	if info.SuggestedArea != "Den" {
		t.Errorf("SuggestedArea = %q, want Den", info.SuggestedArea)
	}
}

func TestAvailable(t *testing.T) {
	online := leviton.Device{Status: "online"}
	offline := leviton.Device{Status: leviton.StatusOffline}

	if !Available(online, true, true) {
		t.Error("online device unavailable")
	}
	if Available(online, true, false) {
		t.Error("available after failed update")
	}
	if Available(online, false, true) {
		t.Error("available when absent")
	}
	if Available(offline, true, true) {
		t.Error("offline device available")
	}
}

func TestBrightnessConversion(t *testing.T) {
	levelTests := []struct{ level, want int }{{0, 0}, {1, 2}, {50, 127}, {100, 255}}
	for _, tt := range levelTests {
		if got := LightBrightness(tt.level); got != tt.want {
			t.Errorf("LightBrightness(%d) = %d, want %d", tt.level, got, tt.want)
		}
	}

	deviceTests := []struct{ b, want int }{{1, 1}, {2, 1}, {3, 1}, {128, 50}, {255, 100}}
	for _, tt := range deviceTests {
		if got := DeviceLevel(tt.b); got != tt.want {
			t.Errorf("DeviceLevel(%d) = %d, want %d", tt.b, got, tt.want)
		}
	}
}

func TestFanMath(t *testing.T) {
	speedTests := []struct{ pct, want int }{
		{1, 25}, {25, 25}, {26, 50}, {50, 50}, {51, 75}, {75, 75}, {76, 100}, {100, 100}, {150, 100},
	}
	for _, tt := range speedTests {
		if got := PercentageToSpeed(tt.pct); got != tt.want {
			t.Errorf("PercentageToSpeed(%d) = %d, want %d", tt.pct, got, tt.want)
		}
	}

	pctTests := []struct {
		name string
		d    leviton.Device
		want int
	}{
		{"off", leviton.Device{Power: leviton.PowerOff, Brightness: leviton.Int(75)}, 0},
		{"on at zero", leviton.Device{Power: leviton.PowerOn, Brightness: leviton.Int(0)}, 0},
		{"on unknown level", leviton.Device{Power: leviton.PowerOn}, 0},
		{"exact speed", leviton.Device{Power: leviton.PowerOn, Brightness: leviton.Int(75)}, 75},
		{"between speeds", leviton.Device{Power: leviton.PowerOn, Brightness: leviton.Int(30)}, 50},
		{"low", leviton.Device{Power: leviton.PowerOn, Brightness: leviton.Int(5)}, 25},
	}
	for _, tt := range pctTests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FanPercentage(tt.d); got != tt.want {
				t.Errorf("FanPercentage() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestForDevice(t *testing.T) {
	tests := []struct {
		model     string
		wantKinds []Kind
		wantIDs   []string
	}{
		{"D26HD", []Kind{KindLight}, []string{"1"}},
		{"D2MSD", []Kind{KindLight, KindBinarySensor}, []string{"1", "1_motion"}},
		{"D24SF", []Kind{KindFan}, []string{"1"}},
		{"D215S", []Kind{KindSwitch}, []string{"1"}},
		{"D2SCS", []Kind{KindSwitch, KindSensor}, []string{"1", "1_controller"}},
		{"DW4BC", []Kind{KindSensor}, []string{"1"}},
		{"NOPE1", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			got := ForDevice(leviton.Device{ID: "1", Name: "X", Model: tt.model}, true, true)
			if len(got) != len(tt.wantKinds) {
				t.Fatalf("ForDevice() returned %d entities, want %d", len(got), len(tt.wantKinds))
			}
			for i, e := range got {
				if e.Kind != tt.wantKinds[i] || e.UniqueID != tt.wantIDs[i] {
					t.Errorf("entity %d = %s/%s, want %s/%s", i, e.Kind, e.UniqueID, tt.wantKinds[i], tt.wantIDs[i])
				}
				if DeviceIDOf(e.UniqueID) != "1" {
					t.Errorf("DeviceIDOf(%q) = %q", e.UniqueID, DeviceIDOf(e.UniqueID))
				}
			}
		})
	}
}

func TestSwitchDeviceClass(t *testing.T) {
	for model, want := range map[string]string{"D215S": ClassSwitch, "DW15R": ClassOutlet, "D2GF1": ClassOutlet} {
		e := ForDevice(leviton.Device{ID: "1", Model: model}, true, true)[0]
		if e.DeviceClass != want {
			t.Errorf("%s DeviceClass = %q, want %q", model, e.DeviceClass, want)
		}
	}
}

func TestMotionEntity(t *testing.T) {
	d := leviton.Device{ID: "9", Name: "Hall", Model: "D2MSD", Power: leviton.PowerOn, Brightness: leviton.Int(100), Motion: leviton.Bool(true)}
	ents := ForDevice(d, true, true)

	light, motion := ents[0], ents[1]
	if !light.State.On || *light.State.Brightness != 255 {
		t.Errorf("light state = %+v", light.State)
	}
	if !motion.State.On || motion.Name != "Motion" || motion.DeviceClass != ClassMotion {
		t.Errorf("motion entity = %+v", motion)
	}
	if motion.DisplayName() != "Hall Motion" {
		t.Errorf("DisplayName() = %q, want %q", motion.DisplayName(), "Hall Motion")
	}
	if motion.Controllable() {
		t.Error("motion sensor should not be controllable")
	}
}

func TestBuild_SortedByUniqueID(t *testing.T) {
	snap := coordinator.NewSnapshot([]leviton.Device{
		{ID: "20", Model: "D215S"},
		{ID: "10", Model: "D2MSD"},
		{ID: "15", Model: "D24SF"},
	}, time.Now())

	ents := Build(snap, true)
	want := []string{"10", "10_motion", "15", "20"}
	if len(ents) != len(want) {
		t.Fatalf("Build() returned %d entities, want %d", len(ents), len(want))
	}
	for i, e := range ents {
		if e.UniqueID != want[i] {
			t.Errorf("ents[%d].UniqueID = %q, want %q", i, e.UniqueID, want[i])
		}
	}

	if _, ok := Find(snap, true, "10_motion"); !ok {
		t.Error("Find(10_motion) not found")
	}
	if _, ok := Find(snap, true, "99"); ok {
		t.Error("Find(99) found")
	}
}

func TestAttributes(t *testing.T) {
	light := Entity{Kind: KindLight}
	fan := Entity{Kind: KindFan}
	sw := Entity{Kind: KindSwitch}

	tests := []struct {
		name      string
		entity    Entity
		cmd       Command
		wantPower string
		wantLevel *int
		wantErr   error
	}{
		{"light on", light, Command{Action: ActionOn}, "ON", nil, nil},
		{"light on with brightness", light, Command{Action: ActionOn, Brightness: leviton.Int(128)}, "ON", leviton.Int(50), nil},
		{"light dim floor", light, Command{Action: ActionSetBrightness, Brightness: leviton.Int(1)}, "ON", leviton.Int(1), nil},
		{"light brightness zero turns off", light, Command{Action: ActionSetBrightness, Brightness: leviton.Int(0)}, "OFF", nil, nil},
		{"light on at brightness zero stays on", light, Command{Action: ActionOn, Brightness: leviton.Int(0)}, "ON", leviton.Int(1), nil},
		{"light brightness missing", light, Command{Action: ActionSetBrightness}, "", nil, ErrInvalidCommand},
		{"light brightness out of range", light, Command{Action: ActionSetBrightness, Brightness: leviton.Int(300)}, "", nil, ErrInvalidCommand},
		{"light off", light, Command{Action: ActionOff}, "OFF", nil, nil},
		{"light percentage", light, Command{Action: ActionSetPercentage, Percentage: leviton.Int(5)}, "", nil, ErrUnsupportedCommand},
		{"fan percentage", fan, Command{Action: ActionSetPercentage, Percentage: leviton.Int(60)}, "ON", leviton.Int(75), nil},
		{"fan percentage zero", fan, Command{Action: ActionSetPercentage, Percentage: leviton.Int(0)}, "OFF", nil, nil},
		{"fan on with percentage", fan, Command{Action: ActionOn, Percentage: leviton.Int(10)}, "ON", leviton.Int(25), nil},
		{"fan on", fan, Command{Action: ActionOn}, "ON", nil, nil},
		{"fan percentage out of range", fan, Command{Action: ActionSetPercentage, Percentage: leviton.Int(101)}, "", nil, ErrInvalidCommand},
		{"switch on", sw, Command{Action: ActionOn}, "ON", nil, nil},
		{"switch brightness", sw, Command{Action: ActionSetBrightness, Brightness: leviton.Int(3)}, "", nil, ErrUnsupportedCommand},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Attributes(tt.entity, tt.cmd)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Attributes() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Attributes() error = %v", err)
			}
			if got.Power != tt.wantPower {
				t.Errorf("Power = %q, want %q", got.Power, tt.wantPower)
			}
			switch {
			case tt.wantLevel == nil && got.Brightness != nil:
				t.Errorf("Brightness = %d, want nil", *got.Brightness)
			case tt.wantLevel != nil && (got.Brightness == nil || *got.Brightness != *tt.wantLevel):
				t.Errorf("Brightness = %v, want %d", got.Brightness, *tt.wantLevel)
			}
		})
	}
}
