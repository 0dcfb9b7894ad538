package device

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/leviton-bridge/internal/coordinator"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// SyncResult summarises one Sync call.
type SyncResult struct {
	Created      int
	Updated      int
	StateChanges []string
}

// Registry mirrors the cloud directory into SQLite and keeps an in-memory
// cache for fast lookups.
//
// The cache is populated on startup via RefreshCache() and kept in sync by
// Sync and DeleteDevice.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	history StateHistoryRepository
	logger  Logger

	cache   map[string]*Device // Cached devices by ID
	inCloud map[string]bool    // IDs in the latest snapshot
	cacheMu sync.RWMutex       // Protects cache and inCloud

	// syncMu serialises Sync so history rows follow snapshot order.
	syncMu sync.Mutex
}

// NewRegistry creates a new device registry.
// The repository is used for persistence; the registry adds caching.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:    repo,
		cache:   make(map[string]*Device),
		inCloud: make(map[string]bool),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetHistory enables recording state changes. May be nil.
func (r *Registry) SetHistory(h StateHistoryRepository) {
	r.history = h
}

// RefreshCache reloads all devices from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Device, len(devices))
	for i := range devices {
		d := devices[i]
		r.cache[d.ID] = d.DeepCopy()
	}

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// Sync writes a snapshot to the store. New devices are created, changed
// metadata or state is updated, and each state change is recorded in the
// history with source. A refresh also stamps last_seen_at on every device.
func (r *Registry) Sync(ctx context.Context, snap *coordinator.Snapshot, source coordinator.Source) (SyncResult, error) {
	r.syncMu.Lock()
	defer r.syncMu.Unlock()

	var result SyncResult
	now := time.Now().UTC()
	isRefresh := source == coordinator.SourceRefresh

	inCloud := make(map[string]bool, snap.Len())
	for _, ld := range snap.Devices() {
		inCloud[ld.ID] = true
		next := FromLeviton(ld)

		r.cacheMu.RLock()
		cached, exists := r.cache[ld.ID]
		r.cacheMu.RUnlock()

		stateChanged := !exists || !statesEqual(cached.State, next.State)
		metaChanged := !exists || !cached.sameMetadata(&next)
		if !stateChanged && !metaChanged && !isRefresh {
			continue
		}

		if exists {
			next.CreatedAt = cached.CreatedAt
			next.StateUpdatedAt = cached.StateUpdatedAt
			next.LastSeenAt = cached.LastSeenAt
		}
		if stateChanged {
			next.StateUpdatedAt = &now
		}
		if isRefresh {
			next.LastSeenAt = &now
		}

		if err := r.repo.Upsert(ctx, &next); err != nil {
			return result, fmt.Errorf("syncing device %s: %w", ld.ID, err)
		}

		r.cacheMu.Lock()
		r.cache[ld.ID] = next.DeepCopy()
		r.cacheMu.Unlock()

		switch {
		case !exists:
			result.Created++
			r.logger.Info("device discovered", "id", ld.ID, "model", ld.Model)
		case stateChanged || metaChanged:
			result.Updated++
		}

		if stateChanged {
			result.StateChanges = append(result.StateChanges, ld.ID)
			if r.history != nil {
				if err := r.history.RecordStateChange(ctx, ld.ID, next.State, string(source)); err != nil {
					r.logger.Warn("recording state history failed", "id", ld.ID, "error", err)
				}
			}
		}
	}

	// Only a refresh is authoritative about membership.
	if isRefresh {
		r.cacheMu.Lock()
		r.inCloud = inCloud
		r.cacheMu.Unlock()
	}

	return result, nil
}

// GetDevice retrieves a device by ID.
// Returns ErrDeviceNotFound if the device does not exist.
// The returned device is a deep copy; callers can safely modify it.
func (r *Registry) GetDevice(ctx context.Context, id string) (*Device, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	inCloud := r.inCloud[id]
	r.cacheMu.RUnlock()

	if ok {
		d := cached.DeepCopy()
		d.InCloud = inCloud
		return d, nil
	}

	device, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.cache[id] = device.DeepCopy()
	device.InCloud = r.inCloud[id]
	r.cacheMu.Unlock()

	return device, nil
}

// ListDevices retrieves all devices ordered by name.
// The returned devices are deep copies; callers can safely modify them.
func (r *Registry) ListDevices(ctx context.Context) ([]Device, error) {
	r.cacheMu.RLock()
	if len(r.cache) == 0 {
		r.cacheMu.RUnlock()
		return r.repo.List(ctx)
	}

	devices := make([]Device, 0, len(r.cache))
	for _, d := range r.cache {
		cpy := d.DeepCopy()
		cpy.InCloud = r.inCloud[d.ID]
		devices = append(devices, *cpy)
	}
	r.cacheMu.RUnlock()

	sort.Slice(devices, func(i, j int) bool {
		if devices[i].Name != devices[j].Name {
			return devices[i].Name < devices[j].Name
		}
		return devices[i].ID < devices[j].ID
	})
	return devices, nil
}

// DeleteDevice removes a device the cloud no longer lists.
// Returns ErrDeviceInCloud while the latest refresh still includes it.
func (r *Registry) DeleteDevice(ctx context.Context, id string) error {
	r.cacheMu.RLock()
	present := r.inCloud[id]
	r.cacheMu.RUnlock()
	if present {
		return fmt.Errorf("%w: %s", ErrDeviceInCloud, id)
	}

	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("device deleted", "id", id)
	return nil
}

// GetDeviceCount returns the number of cached devices.
func (r *Registry) GetDeviceCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}
