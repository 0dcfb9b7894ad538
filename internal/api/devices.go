package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nerrad567/leviton-bridge/internal/audit"
	"github.com/nerrad567/leviton-bridge/internal/device"
	"github.com/nerrad567/leviton-bridge/internal/entity"
	"github.com/nerrad567/leviton-bridge/internal/leviton"
)

// commandTimeout bounds one cloud update triggered through the API.
const commandTimeout = 10 * time.Second

// maxQueryParamLen caps ids taken from the URL.
const maxQueryParamLen = 128

// deviceResponse is a device record with the entities it exposes.
type deviceResponse struct {
	device.Device
	Entities []entity.Entity `json:"entities"`
}

// stateResponse is the body of GET /devices/{id}/state.
type stateResponse struct {
	DeviceID       string        `json:"device_id"`
	State          device.State  `json:"state"`
	StateUpdatedAt *time.Time    `json:"state_updated_at,omitempty"`
	Entities       []entityState `json:"entities"`
}

type entityState struct {
	UniqueID  string       `json:"unique_id"`
	Kind      entity.Kind  `json:"kind"`
	Available bool         `json:"available"`
	State     entity.State `json:"state"`
}

// stateCommandRequest is the body of PUT /devices/{id}/state.
//
//	{"entity_id": "1234", "action": "set_brightness", "brightness": 200}
//
// entity_id defaults to the device's main entity.
type stateCommandRequest struct {
	EntityID   string        `json:"entity_id,omitempty"`
	Action     entity.Action `json:"action"`
	Brightness *int          `json:"brightness,omitempty"`
	Percentage *int          `json:"percentage,omitempty"`
}

// stateCommandResponse reports a completed command.
type stateCommandResponse struct {
	CommandID  string             `json:"command_id"`
	EntityID   string             `json:"entity_id"`
	Status     string             `json:"status"`
	Attributes leviton.Attributes `json:"attributes"`
}

// handleListDevices returns all known devices.
//
// Query parameters:
//   - category: filter by category (light, fan, outlet, ...)
//   - in_cloud: "true" or "false" to filter by presence in the cloud directory
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.registry.ListDevices(r.Context())
	if err != nil {
		s.logger.Error("failed to list devices", "error", err)
		writeInternalError(w, "failed to list devices")
		return
	}

	q := r.URL.Query()
	category := q.Get("category")
	inCloud := q.Get("in_cloud")
	if inCloud != "" && inCloud != "true" && inCloud != "false" {
		writeBadRequest(w, "in_cloud must be true or false")
		return
	}

	filtered := make([]device.Device, 0, len(devices))
	for _, d := range devices {
		if category != "" && d.Category != category {
			continue
		}
		if inCloud != "" && d.InCloud != (inCloud == "true") {
			continue
		}
		filtered = append(filtered, d)
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": filtered, "count": len(filtered)})
}

// handleGetDevice returns a single device with its entities.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, deviceResponse{Device: *dev, Entities: s.entitiesOf(dev.ID)})
}

// handleDeleteDevice removes a device the cloud no longer lists.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := s.registry.DeleteDevice(r.Context(), id)
	switch {
	case errors.Is(err, device.ErrDeviceInCloud):
		writeConflict(w, "device is still listed by the cloud")
		return
	case errors.Is(err, device.ErrDeviceNotFound):
		writeNotFound(w, "device not found")
		return
	case err != nil:
		s.logger.Error("failed to delete device", "device_id", id, "error", err)
		writeInternalError(w, "failed to delete device")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleGetDeviceState returns the stored device state and the entity view.
func (s *Server) handleGetDeviceState(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}

	resp := stateResponse{
		DeviceID:       dev.ID,
		State:          dev.State,
		StateUpdatedAt: dev.StateUpdatedAt,
		Entities:       []entityState{},
	}
	for _, e := range s.entitiesOf(dev.ID) {
		resp.Entities = append(resp.Entities, entityState{
			UniqueID:  e.UniqueID,
			Kind:      e.Kind,
			Available: e.Available,
			State:     e.State,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleSetDeviceState sends a command to one of the device's entities.
// The call waits for the cloud to accept the update.
func (s *Server) handleSetDeviceState(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")
	if deviceID == "" || len(deviceID) > maxQueryParamLen {
		writeBadRequest(w, "invalid device ID")
		return
	}

	var req stateCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Action == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "action is required")
		return
	}

	uid := req.EntityID
	if uid == "" {
		uid = deviceID
	}
	if entity.DeviceIDOf(uid) != deviceID {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "entity does not belong to this device")
		return
	}

	cmd := entity.Command{Action: req.Action, Brightness: req.Brightness, Percentage: req.Percentage}
	commandID := "cmd-" + uuid.NewString()

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	attrs, err := s.entities.Execute(ctx, uid, cmd)
	s.auditCommand(r.Context(), commandID, uid, cmd, err)

	if err != nil {
		s.writeCommandError(w, err)
		return
	}

	s.logger.Info("command executed", "command_id", commandID, "entity_id", uid, "action", cmd.Action)
	writeJSON(w, http.StatusOK, stateCommandResponse{
		CommandID:  commandID,
		EntityID:   uid,
		Status:     "completed",
		Attributes: attrs,
	})
}

// writeCommandError maps executor errors to HTTP responses.
func (s *Server) writeCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, entity.ErrEntityNotFound):
		writeNotFound(w, "entity not found")
	case errors.Is(err, entity.ErrEntityUnavailable):
		writeConflict(w, "entity is unavailable")
	case errors.Is(err, entity.ErrUnsupportedCommand), errors.Is(err, entity.ErrInvalidCommand):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	default:
		s.logger.Warn("cloud command failed", "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeUpstreamError, "cloud rejected the update")
	}
}

// auditCommand queues an audit entry for an API command.
func (s *Server) auditCommand(ctx context.Context, commandID, uid string, cmd entity.Command, cmdErr error) {
	params := map[string]any{}
	if cmd.Brightness != nil {
		params["brightness"] = *cmd.Brightness
	}
	if cmd.Percentage != nil {
		params["percentage"] = *cmd.Percentage
	}
	if subject := subjectFrom(ctx); subject != "" {
		params["user"] = subject
	}

	entry := &audit.Entry{
		CommandID:  commandID,
		DeviceID:   entity.DeviceIDOf(uid),
		EntityID:   uid,
		Action:     string(cmd.Action),
		Parameters: params,
		Source:     audit.SourceAPI,
		Outcome:    audit.OutcomeSuccess,
	}
	if cmdErr != nil {
		entry.Error = cmdErr.Error()
		entry.Outcome = audit.OutcomeRejected
		if errors.Is(cmdErr, entity.ErrCommandFailed) {
			entry.Outcome = audit.OutcomeFailed
		}
	}
	s.auditLog(entry)
}

// lookupDevice loads the device named in the URL, writing the error
// response itself when it cannot.
func (s *Server) lookupDevice(w http.ResponseWriter, r *http.Request) (*device.Device, bool) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid device ID")
		return nil, false
	}

	dev, err := s.registry.GetDevice(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return nil, false
		}
		s.logger.Error("failed to get device", "device_id", id, "error", err)
		writeInternalError(w, "failed to get device")
		return nil, false
	}
	return dev, true
}

// entitiesOf returns the current entities of one device.
func (s *Server) entitiesOf(deviceID string) []entity.Entity {
	out := []entity.Entity{}
	for _, e := range s.entities.Entities() {
		if e.DeviceID == deviceID {
			out = append(out, e)
		}
	}
	return out
}
