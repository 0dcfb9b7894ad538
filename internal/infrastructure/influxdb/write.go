package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementDeviceState is the measurement holding Leviton device state samples.
const MeasurementDeviceState = "leviton_device"

// DeviceState is one sample of a device's reported state. Nil fields were
// not reported and are left out of the point.
type DeviceState struct {
	DeviceID string
	Model    string
	Category string

	On         *bool
	Brightness *int
	FanSpeed   *int
	Motion     *bool
	Occupancy  *bool
	Connected  *bool

	Time time.Time
}

// NewDeviceStatePoint converts a sample into a line-protocol point. It
// returns nil when the sample carries no fields.
func NewDeviceStatePoint(s DeviceState) *write.Point {
	fields := make(map[string]interface{}, 6)
	if s.On != nil {
		fields["on"] = *s.On
	}
	if s.Brightness != nil {
		fields["brightness"] = int64(*s.Brightness)
	}
	if s.FanSpeed != nil {
		fields["fan_speed"] = int64(*s.FanSpeed)
	}
	if s.Motion != nil {
		fields["motion"] = *s.Motion
	}
	if s.Occupancy != nil {
		fields["occupancy"] = *s.Occupancy
	}
	if s.Connected != nil {
		fields["connected"] = *s.Connected
	}
	if len(fields) == 0 {
		return nil
	}

	tags := map[string]string{"device_id": s.DeviceID}
	if s.Model != "" {
		tags["model"] = s.Model
	}
	if s.Category != "" {
		tags["category"] = s.Category
	}

	ts := s.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	return write.NewPoint(MeasurementDeviceState, tags, fields, ts)
}

// WriteDeviceState queues a device state sample. The write is non-blocking;
// failures surface through SetOnError.
func (c *Client) WriteDeviceState(s DeviceState) {
	if !c.IsConnected() {
		return
	}
	if p := NewDeviceStatePoint(s); p != nil {
		c.writeAPI.WritePoint(p)
	}
}
