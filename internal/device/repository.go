package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves a device by its unique identifier.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Device, error)

	// List retrieves all devices ordered by name.
	List(ctx context.Context) ([]Device, error)

	// Upsert inserts the device or updates its metadata, state and
	// last-seen time. CreatedAt is preserved for existing rows.
	Upsert(ctx context.Context, device *Device) error

	// UpdateState updates only the state fields of a device.
	UpdateState(ctx context.Context, id string, state State) error

	// Delete removes a device by ID.
	// Returns ErrDeviceNotFound if the device does not exist.
	Delete(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectColumns = `
	SELECT id, name, model, category, room, version, serial, status,
		state, state_updated_at, last_seen_at, created_at, updated_at
	FROM devices`

// GetByID retrieves a device by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+" WHERE id = ?", id)
	device, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return device, nil
}

// List retrieves all devices.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+" ORDER BY name, id")
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *device)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// Upsert inserts or updates a device.
func (r *SQLiteRepository) Upsert(ctx context.Context, device *Device) error {
	if device.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidDevice)
	}

	state := device.State
	if state == nil {
		state = State{}
	}
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}

	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO devices (
			id, name, model, category, room, version, serial, status,
			state, state_updated_at, last_seen_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			model = excluded.model,
			category = excluded.category,
			room = excluded.room,
			version = excluded.version,
			serial = excluded.serial,
			status = excluded.status,
			state = excluded.state,
			state_updated_at = excluded.state_updated_at,
			last_seen_at = excluded.last_seen_at,
			updated_at = excluded.updated_at`,
		device.ID, device.Name, device.Model, device.Category, device.Room,
		device.Version, device.Serial, device.Status,
		string(stateJSON), formatTimePtr(device.StateUpdatedAt), formatTimePtr(device.LastSeenAt),
		device.CreatedAt.Format(time.RFC3339), device.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting device: %w", err)
	}
	return nil
}

// UpdateState updates only the state fields of a device.
func (r *SQLiteRepository) UpdateState(ctx context.Context, id string, state State) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx,
		"UPDATE devices SET state = ?, state_updated_at = ?, updated_at = ? WHERE id = ?",
		string(stateJSON), now, now, id,
	)
	if err != nil {
		return fmt.Errorf("updating device state: %w", err)
	}
	return checkRowsAffected(result)
}

// Delete removes a device by ID. History rows cascade.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return checkRowsAffected(result)
}

func checkRowsAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(s scanner) (*Device, error) {
	var (
		d                        Device
		stateJSON                string
		stateUpdatedAt, lastSeen sql.NullString
		createdAt, updatedAt     string
	)
	err := s.Scan(
		&d.ID, &d.Name, &d.Model, &d.Category, &d.Room, &d.Version, &d.Serial, &d.Status,
		&stateJSON, &stateUpdatedAt, &lastSeen, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(stateJSON), &d.State); err != nil {
		return nil, fmt.Errorf("unmarshalling state: %w", err)
	}
	if d.State == nil {
		d.State = State{}
	}
	d.StateUpdatedAt = parseTimePtr(stateUpdatedAt)
	d.LastSeenAt = parseTimePtr(lastSeen)
	d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	d.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &d, nil
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}
