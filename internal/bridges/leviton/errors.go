package leviton

import "errors"

// Domain errors for the MQTT bridge package.
var (
	// ErrInvalidPayload is returned when a command payload cannot be parsed.
	ErrInvalidPayload = errors.New("bridge: invalid command payload")

	// ErrUnknownTopic is returned for messages on topics the bridge does not handle.
	ErrUnknownTopic = errors.New("bridge: unknown topic")

	// ErrCommandQueueFull is returned when commands arrive faster than the
	// cloud accepts them.
	ErrCommandQueueFull = errors.New("bridge: command queue full")

	// ErrMissingDependency is returned by NewBridge when a required
	// collaborator is nil.
	ErrMissingDependency = errors.New("bridge: missing dependency")
)
