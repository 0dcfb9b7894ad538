package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// handleGetDeviceHistory returns state history entries for a device, newest first.
//
// Query parameters:
//   - limit: max results (default 50, max 200)
func (s *Server) handleGetDeviceHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "state history not configured")
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

	entries, err := s.history.GetHistory(r.Context(), dev.ID, limit)
	if err != nil {
		s.logger.Error("failed to get state history", "device_id", dev.ID, "error", err)
		writeInternalError(w, "failed to get state history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": dev.ID,
		"history":   entries,
		"count":     len(entries),
	})
}

// parseLimit parses an optional limit parameter, clamped to maxHistoryLimit.
func parseLimit(value string) (int, error) {
	if value == "" {
		return defaultHistoryLimit, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid limit %q", value)
	}
	if n <= 0 {
		return 0, errors.New("limit must be positive")
	}
	return min(n, maxHistoryLimit), nil
}
