// Package coordinator keeps the bridge's view of every Leviton device.
//
// The Coordinator combines three inputs into one stream of immutable
// snapshots:
//   - a full directory refresh on start and every poll interval (30s by
//     default), which is the backstop for missed push events
//   - realtime updates from the push socket, merged for known devices only
//   - optimistic updates applied when a command is sent
//
// Listeners registered with Subscribe receive each new Snapshot together
// with a Change describing its source.
package coordinator
