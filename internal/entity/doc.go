// Package entity maps Leviton devices to the entities users control:
// lights, fans, switches, motion sensors and scene controllers.
//
// Entities are derived on demand from a coordinator.Snapshot and are never
// stored. Brightness is exposed on the 0..255 scale and fan speed as a
// percentage; both are converted to the device's 0..100 level on command.
package entity
