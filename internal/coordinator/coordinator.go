package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/leviton-bridge/internal/leviton"
)

// DefaultPollInterval is the fallback refresh period.
const DefaultPollInterval = 30 * time.Second

// refreshTimeout bounds one directory fetch.
const refreshTimeout = 30 * time.Second

// Source identifies what produced a snapshot change.
type Source string

const (
	SourceRefresh    Source = "refresh"
	SourceRealtime   Source = "realtime"
	SourceOptimistic Source = "optimistic"
)

// Change describes one snapshot transition handed to listeners.
type Change struct {
	Source Source
	// DeviceIDs lists the devices that changed. Empty for refreshes, which
	// may touch every device.
	DeviceIDs []string
	// Success mirrors LastUpdateSuccess after the change.
	Success bool
}

// Listener is called with the new snapshot after every change. Listeners
// run on the goroutine that made the change and must not block for long.
type Listener func(*Snapshot, Change)

// DeviceSource lists the devices of a residence. Satisfied by *leviton.Client.
type DeviceSource interface {
	ListDevices(ctx context.Context, residenceID string) ([]leviton.Device, error)
}

// Logger is the logging interface used by the coordinator.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ErrAlreadyStarted is returned by Start when the poll loop is running.
var ErrAlreadyStarted = errors.New("coordinator: already started")

// Options configures a Coordinator.
type Options struct {
	ResidenceID  string
	PollInterval time.Duration
	Logger       Logger
	// OnDevicesChanged is called with the sorted id list whenever a refresh
	// adds or removes devices, including the first refresh.
	OnDevicesChanged func(ids []string)
}

// Status is a point-in-time summary for health reporting.
type Status struct {
	Devices           int       `json:"devices"`
	LastUpdateSuccess bool      `json:"last_update_success"`
	LastError         string    `json:"last_error,omitempty"`
	LastRefresh       time.Time `json:"last_refresh,omitempty"`
}

// Coordinator owns the device directory. It refreshes from the cloud on a
// fixed interval, merges realtime and optimistic updates in between, and
// notifies listeners with immutable snapshots.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Listeners are invoked outside internal locks, one change at a time and
//     in the order the snapshots were swapped.
type Coordinator struct {
	source      DeviceSource
	residenceID string
	interval    time.Duration
	logger      Logger
	onChanged   func([]string)

	mu          sync.RWMutex
	snapshot    *Snapshot
	lastSuccess bool
	lastErr     error
	lastRefresh time.Time
	started     bool
	// announced is set once OnDevicesChanged has seen a directory.
	announced bool

	// refreshMu serialises fetches so a slow poll and a requested refresh
	// never race to swap the snapshot.
	refreshMu sync.Mutex

	listenersMu sync.RWMutex
	listeners   []Listener

	// pending holds changes in swap order until one goroutine delivers them.
	notifyMu  sync.Mutex
	pending   []pendingChange
	notifying bool

	refreshCh chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// New creates a Coordinator. It performs no I/O until Start or Refresh.
func New(source DeviceSource, opts Options) *Coordinator {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	var logger Logger = noopLogger{}
	if opts.Logger != nil {
		logger = opts.Logger
	}
	return &Coordinator{
		source:      source,
		residenceID: opts.ResidenceID,
		interval:    interval,
		logger:      logger,
		onChanged:   opts.OnDevicesChanged,
		snapshot:    NewSnapshot(nil, time.Time{}),
		refreshCh:   make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
}

// Subscribe registers a listener for snapshot changes.
func (c *Coordinator) Subscribe(fn Listener) {
	if fn == nil {
		return
	}
	c.listenersMu.Lock()
	c.listeners = append(c.listeners, fn)
	c.listenersMu.Unlock()
}

// Start performs the first refresh synchronously and then polls every
// interval until ctx is cancelled or Stop is called. A failed first refresh
// is returned and the loop is not started.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.mu.Unlock()

	if err := c.Refresh(ctx); err != nil {
		c.mu.Lock()
		c.started = false
		c.mu.Unlock()
		return fmt.Errorf("initial refresh: %w", err)
	}

	c.wg.Add(1)
	go c.pollLoop(ctx)

	c.logger.Info("coordinator started", "devices", c.Snapshot().Len(), "poll_interval", c.interval)
	return nil
}

// Stop ends the poll loop. Safe to call more than once.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
	})
	c.wg.Wait()
}

func (c *Coordinator) pollLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
		case <-c.refreshCh:
		}
		// Refresh logs and records its own failures.
		_ = c.Refresh(ctx)
	}
}

// RequestRefresh asks the poll loop to refresh soon. It never blocks and
// multiple requests before the loop wakes collapse into one.
func (c *Coordinator) RequestRefresh() {
	select {
	case c.refreshCh <- struct{}{}:
	default:
	}
}

// Refresh fetches every device and swaps the snapshot. On failure the
// previous snapshot is kept and LastUpdateSuccess becomes false.
func (c *Coordinator) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	fetchCtx, cancel := context.WithTimeout(ctx, refreshTimeout)
	devices, err := c.source.ListDevices(fetchCtx, c.residenceID)
	cancel()

	now := time.Now()

	c.mu.Lock()
	c.lastRefresh = now
	if err != nil {
		wasSuccess := c.lastSuccess
		c.lastSuccess = false
		c.lastErr = err
		c.queue(c.snapshot, Change{Source: SourceRefresh, Success: false})
		c.mu.Unlock()

		if wasSuccess {
			c.logger.Warn("device refresh failed", "error", err)
		} else {
			c.logger.Debug("device refresh still failing", "error", err)
		}
		c.flush()
		return err
	}

	prevIDs := c.snapshot.IDs()
	snap := NewSnapshot(devices, now)
	recovered := !c.lastSuccess && c.lastErr != nil
	firstDirectory := !c.announced
	c.announced = true
	c.snapshot = snap
	c.lastSuccess = true
	c.lastErr = nil
	c.queue(snap, Change{Source: SourceRefresh, Success: true})
	c.mu.Unlock()

	if recovered {
		c.logger.Info("device refresh recovered", "devices", snap.Len())
	}
	c.logger.Debug("devices refreshed", "devices", snap.Len())

	if ids := snap.IDs(); firstDirectory || !sameIDs(prevIDs, ids) {
		c.logger.Info("device directory changed", "devices", len(ids), "previous", len(prevIDs))
		if c.onChanged != nil {
			c.onChanged(ids)
		}
	}

	c.flush()
	return nil
}

// ApplyUpdate merges a realtime update into the snapshot. Updates for ids
// not in the current snapshot are dropped. Returns whether anything changed.
func (c *Coordinator) ApplyUpdate(u leviton.StateUpdate) bool {
	return c.apply(u, SourceRealtime)
}

// SetOptimistic applies a command's attributes locally before the cloud
// confirms them.
func (c *Coordinator) SetOptimistic(id string, attrs leviton.Attributes) bool {
	return c.apply(attrs.Update(id), SourceOptimistic)
}

func (c *Coordinator) apply(u leviton.StateUpdate, source Source) bool {
	if u.Empty() {
		return false
	}

	c.mu.Lock()
	current, ok := c.snapshot.devices[u.ID]
	if !ok {
		c.mu.Unlock()
		c.logger.Debug("update for unknown device dropped", "device_id", u.ID, "source", source)
		return false
	}
	snap := c.snapshot.with(current.Apply(u), time.Now())
	c.snapshot = snap
	c.queue(snap, Change{Source: source, DeviceIDs: []string{u.ID}, Success: c.lastSuccess})
	c.mu.Unlock()

	c.flush()
	return true
}

type pendingChange struct {
	snap   *Snapshot
	change Change
}

// queue records a change for delivery. Callers hold c.mu so the queue
// order matches the order snapshots were swapped.
func (c *Coordinator) queue(snap *Snapshot, change Change) {
	c.notifyMu.Lock()
	c.pending = append(c.pending, pendingChange{snap: snap, change: change})
	c.notifyMu.Unlock()
}

// flush delivers queued changes in order. If another goroutine is already
// delivering, it picks up the new changes and flush returns at once, so a
// listener that modifies the coordinator does not deadlock.
func (c *Coordinator) flush() {
	c.notifyMu.Lock()
	if c.notifying {
		c.notifyMu.Unlock()
		return
	}
	c.notifying = true

	for len(c.pending) > 0 {
		next := c.pending[0]
		c.pending[0] = pendingChange{}
		c.pending = c.pending[1:]
		c.notifyMu.Unlock()

		c.notify(next.snap, next.change)

		c.notifyMu.Lock()
	}
	c.notifying = false
	c.notifyMu.Unlock()
}

func (c *Coordinator) notify(snap *Snapshot, change Change) {
	c.listenersMu.RLock()
	listeners := append([]Listener(nil), c.listeners...)
	c.listenersMu.RUnlock()

	for _, fn := range listeners {
		fn(snap, change)
	}
}

// Snapshot returns the current snapshot. Never nil.
func (c *Coordinator) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// Device returns the current state of one device.
func (c *Coordinator) Device(id string) (leviton.Device, bool) {
	return c.Snapshot().Get(id)
}

// LastUpdateSuccess reports whether the most recent refresh succeeded.
func (c *Coordinator) LastUpdateSuccess() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSuccess
}

// LastError returns the error from the most recent failed refresh, or nil.
func (c *Coordinator) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// LastRefresh is when the most recent refresh finished.
func (c *Coordinator) LastRefresh() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastRefresh
}

// Status summarises the coordinator for health reporting.
func (c *Coordinator) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Status{
		Devices:           c.snapshot.Len(),
		LastUpdateSuccess: c.lastSuccess,
		LastRefresh:       c.lastRefresh,
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}
