// Package audit records every command sent to the cloud in the
// command_audit table and lists them back for the API.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Command outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeFailed   = "failed"
	OutcomeRejected = "rejected"
)

// Command sources.
const (
	SourceAPI  = "api"
	SourceMQTT = "mqtt"
)

const (
	defaultLimit = 50
	maxLimit     = 200

	timeFormat = "2006-01-02T15:04:05.000Z"
)

// Entry is one audited command.
type Entry struct {
	ID         int64          `json:"id"`
	CommandID  string         `json:"command_id"`
	DeviceID   string         `json:"device_id"`
	EntityID   string         `json:"entity_id,omitempty"`
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Source     string         `json:"source"`
	Outcome    string         `json:"outcome"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Filter controls which entries to return.
type Filter struct {
	DeviceID string // optional
	Outcome  string // optional: success, failed, rejected
	Limit    int    // default 50, max 200
	Offset   int    // pagination offset
}

// ListResult contains the paginated audit results.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository defines the interface for command audit operations.
type Repository interface {
	Record(ctx context.Context, e *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores audit entries in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new audit repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Record inserts an entry. CommandID and CreatedAt are generated if empty,
// and the assigned row id is written back to e.ID.
func (r *SQLiteRepository) Record(ctx context.Context, e *Entry) error {
	if e.DeviceID == "" || e.Action == "" {
		return fmt.Errorf("audit entry requires device id and action")
	}
	if e.CommandID == "" {
		e.CommandID = "cmd-" + uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Outcome == "" {
		e.Outcome = OutcomeSuccess
	}

	params := e.Parameters
	if params == nil {
		params = map[string]any{}
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshalling audit parameters: %w", err)
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO command_audit (command_id, device_id, entity_id, action, parameters, source, outcome, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.CommandID, e.DeviceID, e.EntityID, e.Action, string(paramsJSON),
		e.Source, e.Outcome, e.Error,
		e.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	if id, err := result.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

// List returns entries matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.DeviceID != "" {
		conditions = append(conditions, "device_id = ?")
		args = append(args, filter.DeviceID)
	}
	if filter.Outcome != "" {
		conditions = append(conditions, "outcome = ?")
		args = append(args, filter.Outcome)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM command_audit %s", where) //nolint:gosec // WHERE built from parameterised conditions, not user input
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit entries: %w", err)
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		`SELECT id, command_id, device_id, entity_id, action, parameters, source, outcome, error, created_at
		 FROM command_audit %s ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var paramsJSON, createdAt string

		if err := rows.Scan(&e.ID, &e.CommandID, &e.DeviceID, &e.EntityID, &e.Action,
			&paramsJSON, &e.Source, &e.Outcome, &e.Error, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}

		if paramsJSON != "" && paramsJSON != "{}" {
			var params map[string]any
			if json.Unmarshal([]byte(paramsJSON), &params) == nil {
				e.Parameters = params
			}
		}

		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing audit timestamp %q: %w", createdAt, err)
		}
		e.CreatedAt = t

		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

// ListDevice returns the most recent entries for one device.
func (r *SQLiteRepository) ListDevice(ctx context.Context, deviceID string, limit int) ([]Entry, error) {
	res, err := r.List(ctx, Filter{DeviceID: deviceID, Limit: limit})
	if err != nil {
		return nil, err
	}
	return res.Entries, nil
}
