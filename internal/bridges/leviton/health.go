package leviton

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/leviton-bridge/internal/coordinator"
	cloud "github.com/nerrad567/leviton-bridge/internal/leviton"
)

// DefaultHealthInterval is how often health is published when unset.
const DefaultHealthInterval = 30 * time.Second

// HealthPublisher is the interface for publishing health messages.
// This is typically implemented by an MQTT client.
type HealthPublisher interface {
	// Publish sends a message to a topic with the specified QoS and retention.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// IsConnected returns true if the publisher is connected.
	IsConnected() bool
}

// CloudStatusSource reports the directory refresh state.
// Satisfied by *coordinator.Coordinator.
type CloudStatusSource interface {
	Status() coordinator.Status
}

// RealtimeStatusSource reports the realtime channel state.
// Satisfied by *leviton.Realtime.
type RealtimeStatusSource interface {
	Stats() cloud.RealtimeStats
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	BridgeID string
	Version  string
	Topic    string
	QoS      byte

	// Interval is how often to publish health status.
	// Default: 30 seconds.
	Interval time.Duration

	Publisher HealthPublisher
	Cloud     CloudStatusSource
	// Realtime may be nil when the realtime channel is disabled.
	Realtime RealtimeStatusSource
}

// HealthReporter manages periodic health status reporting.
// It publishes health messages to MQTT at regular intervals.
type HealthReporter struct {
	cfg       HealthReporterConfig
	startTime time.Time

	counts   func() (entities int, stats BridgeStatistics)
	countsMu sync.RWMutex

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewHealthReporter creates a new health reporter.
//
// Parameters:
//   - cfg: Configuration for the health reporter
//
// Returns:
//   - *HealthReporter: Ready to start (call Start to begin reporting)
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultHealthInterval
	}
	return &HealthReporter{
		cfg:       cfg,
		startTime: time.Now(),
		done:      make(chan struct{}),
	}
}

// SetCounts installs the callback that reports entity count and statistics.
func (h *HealthReporter) SetCounts(fn func() (int, BridgeStatistics)) {
	h.countsMu.Lock()
	h.counts = fn
	h.countsMu.Unlock()
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// Start begins periodic health reporting. Call Stop to shut down.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop gracefully stops health reporting.
// Publishes a final "stopping" status before returning.
// Safe to call multiple times (uses sync.Once).
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // Best-effort during shutdown, nothing we can do if it fails
		h.publishStatus(HealthStopping, "bridge stopping")
	})
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "bridge starting")
}

// PublishNow publishes the current health status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

// determineStatus evaluates the current bridge status.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.cfg.Publisher == nil || !h.cfg.Publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	if h.cfg.Cloud != nil && !h.cfg.Cloud.Status().LastUpdateSuccess {
		return HealthDegraded, "cloud refresh failing"
	}
	if h.cfg.Realtime != nil && !h.cfg.Realtime.Stats().Connected {
		return HealthDegraded, "realtime disconnected, polling only"
	}
	return HealthHealthy, ""
}

// Message builds the health message for status without publishing it.
func (h *HealthReporter) Message(status HealthStatus, reason string) HealthMessage {
	msg := HealthMessage{
		Bridge:        h.cfg.BridgeID,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       h.cfg.Version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Reason:        reason,
	}

	if h.cfg.Cloud != nil {
		st := h.cfg.Cloud.Status()
		msg.DevicesManaged = st.Devices
		msg.Cloud = &CloudStatus{LastUpdateSuccess: st.LastUpdateSuccess, LastError: st.LastError}
		if !st.LastRefresh.IsZero() {
			t := st.LastRefresh.UTC()
			msg.Cloud.LastRefresh = &t
		}
	}

	if h.cfg.Realtime != nil {
		rs := h.cfg.Realtime.Stats()
		msg.Realtime = &RealtimeStatus{
			Connected: rs.Connected,
			Connects:  rs.Connects,
			Messages:  rs.Messages,
			Updates:   rs.Updates,
		}
		if !rs.LastMessage.IsZero() {
			t := rs.LastMessage.UTC()
			msg.Realtime.LastMessage = &t
		}
	}

	h.countsMu.RLock()
	counts := h.counts
	h.countsMu.RUnlock()
	if counts != nil {
		entities, stats := counts()
		msg.EntitiesManaged = entities
		msg.Statistics = &stats
	}

	return msg
}

// publishStatus publishes a health status message (QoS as configured, retained).
func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.cfg.Publisher == nil {
		return nil
	}

	payload, err := json.Marshal(h.Message(status, reason))
	if err != nil {
		return err
	}
	return h.cfg.Publisher.Publish(h.cfg.Topic, payload, h.cfg.QoS, true)
}

func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
