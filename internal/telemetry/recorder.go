package telemetry

import (
	"time"

	"github.com/nerrad567/leviton-bridge/internal/coordinator"
	"github.com/nerrad567/leviton-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/leviton-bridge/internal/leviton"
)

// Writer queues device state samples. Satisfied by *influxdb.Client.
type Writer interface {
	WriteDeviceState(s influxdb.DeviceState)
}

// Recorder turns snapshot changes into device state samples.
type Recorder struct {
	writer Writer
}

// NewRecorder creates a recorder writing to w.
func NewRecorder(w Writer) *Recorder {
	return &Recorder{writer: w}
}

// OnSnapshot is a coordinator listener.
func (r *Recorder) OnSnapshot(snap *coordinator.Snapshot, change coordinator.Change) {
	if snap == nil {
		return
	}

	switch change.Source {
	case coordinator.SourceRefresh:
		if !change.Success {
			return
		}
		for _, d := range snap.Devices() {
			r.writer.WriteDeviceState(Sample(d, snap.TakenAt()))
		}
	case coordinator.SourceRealtime:
		for _, id := range change.DeviceIDs {
			if d, ok := snap.Get(id); ok {
				r.writer.WriteDeviceState(Sample(d, snap.TakenAt()))
			}
		}
	}
}

// Sample converts a device into an InfluxDB sample taken at t.
func Sample(d leviton.Device, t time.Time) influxdb.DeviceState {
	s := influxdb.DeviceState{
		DeviceID:   d.ID,
		Model:      d.Model,
		Category:   string(leviton.PrimaryCategory(d.Model)),
		Brightness: d.Brightness,
		FanSpeed:   d.FanSpeed,
		Motion:     d.Motion,
		Occupancy:  d.Occupancy,
		Connected:  d.Connected,
		Time:       t,
	}
	if d.Power != "" {
		s.On = leviton.Bool(d.IsOn())
	}
	return s
}
