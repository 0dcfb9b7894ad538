package leviton

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/leviton-bridge/internal/entity"
)

// CommandMessage is received on {prefix}/command/{unique_id}.
//
//	{"id": "c-1", "action": "set_brightness", "brightness": 128}
type CommandMessage struct {
	// ID correlates the command with its acknowledgements. Generated when empty.
	ID        string    `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`

	Action     entity.Action `json:"action"`
	Brightness *int          `json:"brightness,omitempty"`
	Percentage *int          `json:"percentage,omitempty"`

	// Source indicates where the command originated. Defaults to "mqtt".
	Source string `json:"source,omitempty"`
}

// Command converts the message to an entity command.
func (m CommandMessage) Command() entity.Command {
	return entity.Command{Action: m.Action, Brightness: m.Brightness, Percentage: m.Percentage}
}

// ParseCommand decodes a JSON command payload.
func ParseCommand(payload []byte) (CommandMessage, error) {
	var m CommandMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return CommandMessage{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if m.Action == "" {
		return CommandMessage{}, fmt.Errorf("%w: action is required", ErrInvalidPayload)
	}
	return m.withDefaults(), nil
}

// ParseSetPayload decodes a Home Assistant style plain payload received on
// a .../set topic. attribute is "" for the main topic, or "brightness" or
// "percentage".
//
//	leviton/1234/set             ON | OFF
//	leviton/1234/brightness/set  0..255
//	leviton/1234/percentage/set  0..100
func ParseSetPayload(attribute string, payload []byte) (CommandMessage, error) {
	text := strings.TrimSpace(string(payload))

	var m CommandMessage
	switch attribute {
	case "":
		switch strings.ToUpper(text) {
		case "ON":
			m.Action = entity.ActionOn
		case "OFF":
			m.Action = entity.ActionOff
		default:
			return CommandMessage{}, fmt.Errorf("%w: expected ON or OFF, got %q", ErrInvalidPayload, text)
		}
	case attrBrightness, attrPercentage:
		n, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return CommandMessage{}, fmt.Errorf("%w: %s must be a number, got %q", ErrInvalidPayload, attribute, text)
		}
		v := int(n + 0.5)
		if attribute == attrBrightness {
			m.Action, m.Brightness = entity.ActionSetBrightness, &v
		} else {
			m.Action, m.Percentage = entity.ActionSetPercentage, &v
		}
	default:
		return CommandMessage{}, fmt.Errorf("%w: %q", ErrUnknownTopic, attribute)
	}
	return m.withDefaults(), nil
}

func (m CommandMessage) withDefaults() CommandMessage {
	if m.ID == "" {
		m.ID = "cmd-" + uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	if m.Source == "" {
		m.Source = "mqtt"
	}
	return m
}

// AckStatus represents the acknowledgement status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was validated and is being sent.
	AckAccepted AckStatus = "accepted"

	// AckCompleted indicates the cloud accepted the update.
	AckCompleted AckStatus = "completed"

	// AckFailed indicates the command was rejected or the cloud call failed.
	AckFailed AckStatus = "failed"
)

// Error codes for command failures.
const (
	ErrCodeInvalidPayload     = "INVALID_PAYLOAD"
	ErrCodeEntityNotFound     = "ENTITY_NOT_FOUND"
	ErrCodeEntityUnavailable  = "ENTITY_UNAVAILABLE"
	ErrCodeUnsupportedCommand = "UNSUPPORTED_COMMAND"
	ErrCodeInvalidCommand     = "INVALID_COMMAND"
	ErrCodeCloudError         = "CLOUD_ERROR"
)

// AckMessage is published on {prefix}/ack/{unique_id}.
type AckMessage struct {
	CommandID string        `json:"command_id"`
	Timestamp time.Time     `json:"timestamp"`
	EntityID  string        `json:"entity_id"`
	Action    entity.Action `json:"action,omitempty"`
	Status    AckStatus     `json:"status"`
	Error     *AckError     `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewAckMessage creates an acknowledgement for a command.
func NewAckMessage(cmd CommandMessage, entityID string, status AckStatus) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		EntityID:  entityID,
		Action:    cmd.Action,
		Status:    status,
	}
}

// NewAckError creates a failed acknowledgement with error details.
func NewAckError(cmd CommandMessage, entityID, code, message string) AckMessage {
	ack := NewAckMessage(cmd, entityID, AckFailed)
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// StateMessage is published retained on {prefix}/state/{unique_id}.
type StateMessage struct {
	EntityID    string       `json:"entity_id"`
	DeviceID    string       `json:"device_id"`
	Kind        entity.Kind  `json:"kind"`
	Name        string       `json:"name"`
	DeviceClass string       `json:"device_class,omitempty"`
	Available   bool         `json:"available"`
	State       entity.State `json:"state"`
	Timestamp   time.Time    `json:"timestamp"`
}

// NewStateMessage builds the state message for an entity.
func NewStateMessage(e entity.Entity) StateMessage {
	return StateMessage{
		EntityID:    e.UniqueID,
		DeviceID:    e.DeviceID,
		Kind:        e.Kind,
		Name:        e.DisplayName(),
		DeviceClass: e.DeviceClass,
		Available:   e.Available,
		State:       e.State,
		Timestamp:   time.Now().UTC(),
	}
}

// fingerprint is the part of a state message that change detection compares.
func (m StateMessage) fingerprint() string {
	b, err := json.Marshal(struct {
		Name      string       `json:"n"`
		Available bool         `json:"a"`
		State     entity.State `json:"s"`
	}{m.Name, m.Available, m.State})
	if err != nil {
		return ""
	}
	return string(b)
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is published retained on {prefix}/health.
type HealthMessage struct {
	Bridge          string            `json:"bridge"`
	Timestamp       time.Time         `json:"timestamp"`
	Status          HealthStatus      `json:"status"`
	Version         string            `json:"version"`
	UptimeSeconds   int64             `json:"uptime_seconds"`
	Cloud           *CloudStatus      `json:"cloud,omitempty"`
	Realtime        *RealtimeStatus   `json:"realtime,omitempty"`
	Statistics      *BridgeStatistics `json:"statistics,omitempty"`
	DevicesManaged  int               `json:"devices_managed"`
	EntitiesManaged int               `json:"entities_managed"`
	Reason          string            `json:"reason,omitempty"`
}

// CloudStatus reports the directory refresh state.
type CloudStatus struct {
	LastUpdateSuccess bool       `json:"last_update_success"`
	LastRefresh       *time.Time `json:"last_refresh,omitempty"`
	LastError         string     `json:"last_error,omitempty"`
}

// RealtimeStatus reports the realtime channel state.
type RealtimeStatus struct {
	Connected   bool       `json:"connected"`
	Connects    uint64     `json:"connects"`
	Messages    uint64     `json:"messages"`
	Updates     uint64     `json:"updates"`
	LastMessage *time.Time `json:"last_message,omitempty"`
}

// BridgeStatistics contains command and publish counters.
type BridgeStatistics struct {
	CommandsReceived uint64 `json:"commands_received"`
	CommandsFailed   uint64 `json:"commands_failed"`
	StatesPublished  uint64 `json:"states_published"`
}
