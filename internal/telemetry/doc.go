// Package telemetry records Leviton device state samples to InfluxDB.
//
// A Recorder is a coordinator listener. Every successful refresh writes one
// sample per device, and realtime changes write a sample for each changed
// device. Optimistic state is never recorded: it has not been confirmed by
// the cloud yet.
//
// Samples are written to the "leviton_device" measurement, tagged with
// device_id, model and category.
package telemetry
