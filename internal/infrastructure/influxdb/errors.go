package influxdb

import "errors"

// Sentinel errors for InfluxDB operations. Check with errors.Is().
var (
	// ErrNotConnected indicates the client is closed or never connected.
	ErrNotConnected = errors.New("influxdb: not connected")

	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrWriteFailed wraps asynchronous write errors delivered via SetOnError.
	ErrWriteFailed = errors.New("influxdb: write failed")

	// ErrDisabled indicates InfluxDB integration is disabled in config.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
