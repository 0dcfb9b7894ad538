package coordinator

import (
	"sort"
	"time"

	"github.com/nerrad567/leviton-bridge/internal/leviton"
)

// Snapshot is an immutable view of every device known to the coordinator.
// A new Snapshot is built for each change; existing ones are never
// modified, so readers may hold on to one without locking.
type Snapshot struct {
	devices map[string]leviton.Device
	ids     []string
	takenAt time.Time
}

// NewSnapshot builds a Snapshot from a device list. Devices without an id
// are skipped; for duplicate ids the last one wins.
func NewSnapshot(devices []leviton.Device, takenAt time.Time) *Snapshot {
	m := make(map[string]leviton.Device, len(devices))
	for _, d := range devices {
		if d.ID == "" {
			continue
		}
		m[d.ID] = d.Clone()
	}
	return newSnapshotFromMap(m, takenAt)
}

func newSnapshotFromMap(m map[string]leviton.Device, takenAt time.Time) *Snapshot {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return &Snapshot{devices: m, ids: ids, takenAt: takenAt}
}

// with returns a copy of s with device d replaced.
func (s *Snapshot) with(d leviton.Device, at time.Time) *Snapshot {
	m := make(map[string]leviton.Device, len(s.devices))
	for id, dev := range s.devices {
		m[id] = dev
	}
	m[d.ID] = d
	return &Snapshot{devices: m, ids: s.ids, takenAt: at}
}

// Get returns a copy of the device with id.
func (s *Snapshot) Get(id string) (leviton.Device, bool) {
	if s == nil {
		return leviton.Device{}, false
	}
	d, ok := s.devices[id]
	if !ok {
		return leviton.Device{}, false
	}
	return d.Clone(), true
}

// Has reports whether id is present.
func (s *Snapshot) Has(id string) bool {
	if s == nil {
		return false
	}
	_, ok := s.devices[id]
	return ok
}

// IDs returns the device ids in ascending order.
func (s *Snapshot) IDs() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.ids...)
}

// Devices returns copies of every device, ordered by id.
func (s *Snapshot) Devices() []leviton.Device {
	if s == nil {
		return nil
	}
	out := make([]leviton.Device, 0, len(s.ids))
	for _, id := range s.ids {
		out = append(out, s.devices[id].Clone())
	}
	return out
}

// Len returns the number of devices.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.devices)
}

// TakenAt is when the snapshot was produced.
func (s *Snapshot) TakenAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.takenAt
}

func sameIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
