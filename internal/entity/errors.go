package entity

import "errors"

// Sentinel errors for entity operations. Check with errors.Is().
var (
	ErrEntityNotFound     = errors.New("entity: not found")
	ErrEntityUnavailable  = errors.New("entity: unavailable")
	ErrUnsupportedCommand = errors.New("entity: command not supported")
	ErrInvalidCommand     = errors.New("entity: invalid command")
	ErrCommandFailed      = errors.New("entity: command failed")
)
