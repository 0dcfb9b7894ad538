package api

import (
	"net/http"
	"time"

	"github.com/nerrad567/leviton-bridge/internal/coordinator"
	"github.com/nerrad567/leviton-bridge/internal/leviton"
)

// SystemStatus is the body of GET /system/status and the payload of the
// "system.status" WebSocket channel.
type SystemStatus struct {
	Version       string                 `json:"version"`
	Timestamp     string                 `json:"timestamp"`
	UptimeSeconds int64                  `json:"uptime_seconds"`
	Cloud         *coordinator.Status    `json:"cloud,omitempty"`
	Realtime      *leviton.RealtimeStats `json:"realtime,omitempty"`
	MQTT          *MQTTMetrics           `json:"mqtt,omitempty"`
	Devices       DeviceCounts           `json:"devices"`
	Entities      EntityCounts           `json:"entities"`
	WebSocket     WSMetrics              `json:"websocket"`
}

// DeviceCounts summarises the local device directory.
type DeviceCounts struct {
	Total   int `json:"total"`
	InCloud int `json:"in_cloud"`
}

// EntityCounts summarises the entity set.
type EntityCounts struct {
	Total     int `json:"total"`
	Available int `json:"available"`
}

// handleSystemStatus reports cloud, realtime, MQTT and directory status.
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.systemStatus(r)
	if err != nil {
		s.logger.Error("failed to build system status", "error", err)
		writeInternalError(w, "failed to build system status")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) systemStatus(r *http.Request) (SystemStatus, error) {
	st := SystemStatus{
		Version:       s.version,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		WebSocket:     WSMetrics{ConnectedClients: s.hub.ClientCount()},
	}

	if s.cloud != nil {
		cs := s.cloud.Status()
		st.Cloud = &cs
	}
	if s.realtime != nil {
		rs := s.realtime.Stats()
		st.Realtime = &rs
	}
	if s.mqtt != nil {
		st.MQTT = &MQTTMetrics{Connected: s.mqtt.IsConnected()}
	}

	devices, err := s.registry.ListDevices(r.Context())
	if err != nil {
		return st, err
	}
	st.Devices.Total = len(devices)
	for _, d := range devices {
		if d.InCloud {
			st.Devices.InCloud++
		}
	}

	for _, e := range s.entities.Entities() {
		st.Entities.Total++
		if e.Available {
			st.Entities.Available++
		}
	}

	return st, nil
}
