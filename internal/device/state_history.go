package device

import (
	"context"
	"time"
)

// State history source values. They match the coordinator's change sources.
const (
	StateHistorySourceRefresh    = "refresh"
	StateHistorySourceRealtime   = "realtime"
	StateHistorySourceOptimistic = "optimistic"
)

// StateHistoryEntry represents a single device state change record.
//
// Each entry stores a full snapshot of the device state at the time the
// change was observed. This provides a local audit trail even when the
// time-series database is unavailable.
type StateHistoryEntry struct {
	ID        int64     `json:"id"`
	DeviceID  string    `json:"device_id"`
	State     State     `json:"state"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// StateHistoryRepository stores and retrieves device state change history.
//
// Implementations must be thread-safe and use UTC timestamps.
type StateHistoryRepository interface {
	// RecordStateChange records a device state change.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - deviceID: Unique device identifier
	//   - state: State snapshot to persist
	//   - source: Origin of the change (refresh, realtime, optimistic)
	//
	// Returns:
	//   - error: nil on success, otherwise the underlying persistence error
	RecordStateChange(ctx context.Context, deviceID string, state State, source string) error

	// GetHistory returns recent state change history for the device,
	// newest first. Implementations clamp limit.
	GetHistory(ctx context.Context, deviceID string, limit int) ([]StateHistoryEntry, error)
}
