package mqtt

import (
	"fmt"
	"strings"
)

// DefaultPrefix is the topic root used when none is configured.
const DefaultPrefix = "leviton"

// Topics builds the bridge's MQTT topics. The zero value uses DefaultPrefix.
//
//	topics := mqtt.NewTopics("leviton")
//	topics.State("1234")   // "leviton/state/1234"
//	topics.Command("1234") // "leviton/command/1234"
type Topics struct {
	Prefix string
}

// NewTopics returns a topic builder rooted at prefix, trimming any
// trailing slash.
func NewTopics(prefix string) Topics {
	return Topics{Prefix: strings.TrimSuffix(prefix, "/")}
}

func (t Topics) root() string {
	if t.Prefix == "" {
		return DefaultPrefix
	}
	return t.Prefix
}

// =============================================================================
// Entity Topics
// =============================================================================

// State returns the retained JSON state topic for an entity.
//
// Example: leviton/state/1234
func (t Topics) State(uniqueID string) string {
	return fmt.Sprintf("%s/state/%s", t.root(), uniqueID)
}

// Command returns the JSON command topic for an entity.
//
// Example: leviton/command/1234
func (t Topics) Command(uniqueID string) string {
	return fmt.Sprintf("%s/command/%s", t.root(), uniqueID)
}

// Ack returns the command acknowledgement topic for an entity.
//
// Example: leviton/ack/1234
func (t Topics) Ack(uniqueID string) string {
	return fmt.Sprintf("%s/ack/%s", t.root(), uniqueID)
}

// Availability returns the retained online/offline topic for an entity.
//
// Example: leviton/availability/1234
func (t Topics) Availability(uniqueID string) string {
	return fmt.Sprintf("%s/availability/%s", t.root(), uniqueID)
}

// Set returns the Home Assistant style plain-payload command topic.
// attribute may be empty for the main on/off topic.
//
// Example: leviton/1234/set, leviton/1234/brightness/set
func (t Topics) Set(uniqueID, attribute string) string {
	if attribute == "" {
		return fmt.Sprintf("%s/%s/set", t.root(), uniqueID)
	}
	return fmt.Sprintf("%s/%s/%s/set", t.root(), uniqueID, attribute)
}

// =============================================================================
// Bridge Topics
// =============================================================================

// Status is the bridge availability topic, also used as the Last Will.
//
// Example: leviton/status
func (t Topics) Status() string {
	return t.root() + "/status"
}

// Health is the retained bridge health report topic.
//
// Example: leviton/health
func (t Topics) Health() string {
	return t.root() + "/health"
}

// =============================================================================
// Wildcard Patterns
// =============================================================================

// AllCommands matches every JSON command topic.
func (t Topics) AllCommands() string {
	return t.root() + "/command/+"
}

// AllSet returns the patterns matching every Home Assistant style
// command topic, with and without an attribute level.
func (t Topics) AllSet() []string {
	return []string{t.root() + "/+/set", t.root() + "/+/+/set"}
}

// ParseEntityTopic splits a command or set topic into the entity unique id
// and the attribute ("" for main topics). ok is false for topics that are
// not addressed to an entity.
func (t Topics) ParseEntityTopic(topic string) (uniqueID, attribute string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.root()+"/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")

	switch {
	case len(parts) == 2 && parts[0] == "command" && parts[1] != "":
		return parts[1], "", true
	case len(parts) == 2 && parts[1] == "set" && parts[0] != "":
		return parts[0], "", true
	case len(parts) == 3 && parts[2] == "set" && parts[0] != "" && parts[1] != "":
		return parts[0], parts[1], true
	}
	return "", "", false
}
