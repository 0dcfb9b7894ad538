// Package leviton exposes Leviton entities on MQTT.
//
// The bridge sits between the coordinator and an MQTT broker:
//
//	┌──────────────┐  snapshots  ┌──────────────┐   MQTT   ┌──────────────┐
//	│ Coordinator  │────────────►│    Bridge    │◄────────►│    Broker    │
//	│ + Executor   │◄────────────│  (this pkg)  │          │ (HA, Node-RED)│
//	└──────────────┘  commands   └──────────────┘          └──────────────┘
//
// # Topics
//
// With the default prefix "leviton":
//
//	leviton/state/{unique_id}          retained JSON StateMessage
//	leviton/availability/{unique_id}   retained online | offline
//	leviton/command/{unique_id}        JSON CommandMessage
//	leviton/{unique_id}/set            ON | OFF
//	leviton/{unique_id}/brightness/set 0..255
//	leviton/{unique_id}/percentage/set 0..100
//	leviton/ack/{unique_id}            AckMessage (accepted, then completed or failed)
//	leviton/health                     retained HealthMessage every 30s
//
// When discovery is enabled, each entity also gets a retained Home Assistant
// config on homeassistant/{component}/{node_id}/{unique_id}/config.
//
// State is only republished when it changes. Entities that leave the cloud
// directory are marked offline and their retained topics are cleared.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package leviton
