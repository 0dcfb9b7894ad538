package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/nerrad567/leviton-bridge/internal/audit"
)

// auditChanSize is the buffer size for the async audit log channel.
// Entries beyond this are dropped (best-effort) to avoid back-pressure on requests.
const auditChanSize = 256

// auditLog enqueues an audit entry for asynchronous write (best-effort).
// If the channel is full the entry is dropped and a warning is logged.
func (s *Server) auditLog(entry *audit.Entry) {
	if s.audit == nil {
		return
	}

	select {
	case s.auditCh <- entry:
	default:
		s.logger.Warn("audit log channel full, dropping entry",
			"command_id", entry.CommandID,
			"device_id", entry.DeviceID,
		)
	}
}

// drainAuditLog reads entries from the audit channel and writes them serially.
// It runs until the context is cancelled, then drains remaining entries.
func (s *Server) drainAuditLog(ctx context.Context) {
	for {
		select {
		case entry := <-s.auditCh:
			s.writeAudit(entry)
		case <-ctx.Done():
			for {
				select {
				case entry := <-s.auditCh:
					s.writeAudit(entry)
				default:
					return
				}
			}
		}
	}
}

func (s *Server) writeAudit(entry *audit.Entry) {
	if err := s.audit.Record(context.Background(), entry); err != nil {
		s.logger.Error("audit log write failed",
			"command_id", entry.CommandID,
			"action", entry.Action,
			"error", err,
		)
	}
}

// handleListDeviceAudit returns the newest commands sent to one device.
//
// Query parameters:
//   - limit: max results (default 50, max 200)
func (s *Server) handleListDeviceAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "audit logging not configured")
		return
	}

	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}

	entries, err := s.audit.ListDevice(r.Context(), dev.ID, limit)
	if err != nil {
		s.logger.Error("failed to list device audit", "device_id", dev.ID, "error", err)
		writeInternalError(w, "failed to list audit entries")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": dev.ID,
		"entries":   entries,
		"count":     len(entries),
	})
}

// handleListAudit returns paginated audit entries with optional filters.
//
// Query parameters:
//   - device_id: filter by device
//   - outcome: filter by outcome (success, failed, rejected)
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "audit logging not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		DeviceID: q.Get("device_id"),
		Outcome:  q.Get("outcome"),
	}

	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit entries", "error", err)
		writeInternalError(w, "failed to list audit entries")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
