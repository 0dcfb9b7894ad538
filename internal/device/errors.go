package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceInCloud is returned when deleting a device the cloud still
	// lists; it would be recreated on the next refresh.
	ErrDeviceInCloud = errors.New("device: still present in cloud directory")

	// ErrInvalidDevice is returned when a record lacks an id.
	ErrInvalidDevice = errors.New("device: invalid")
)
