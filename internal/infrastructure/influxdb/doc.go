// Package influxdb records Leviton device state history in InfluxDB.
//
// Every snapshot change becomes one "leviton_device" point per device,
// tagged with device_id, model and category. Fields are on, brightness,
// fan_speed, motion, occupancy and connected, written only when reported.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//
//	client.WriteDeviceState(influxdb.DeviceState{DeviceID: "1234", On: &on})
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are batched and
// non-blocking.
package influxdb
