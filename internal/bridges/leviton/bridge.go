package leviton

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/leviton-bridge/internal/audit"
	"github.com/nerrad567/leviton-bridge/internal/coordinator"
	"github.com/nerrad567/leviton-bridge/internal/entity"
	"github.com/nerrad567/leviton-bridge/internal/infrastructure/mqtt"
	cloud "github.com/nerrad567/leviton-bridge/internal/leviton"
)

// DefaultCommandTimeout bounds one cloud update triggered by MQTT.
const DefaultCommandTimeout = 10 * time.Second

// commandQueueSize bounds commands waiting for the cloud.
const commandQueueSize = 32

// MQTTClient is the interface for MQTT operations.
// Satisfied by *mqtt.Client; tests use a recording mock.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// EntitySource returns the current entity set.
// Satisfied by *entity.Executor.
type EntitySource interface {
	Entities() []entity.Entity
}

// CommandExecutor runs entity commands against the cloud.
// Satisfied by *entity.Executor.
type CommandExecutor interface {
	Execute(ctx context.Context, uniqueID string, cmd entity.Command) (cloud.Attributes, error)
}

// Auditor records executed commands. Satisfied by *audit.SQLiteRepository.
type Auditor interface {
	Record(ctx context.Context, e *audit.Entry) error
}

// Logger is the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options holds configuration for creating a bridge.
type Options struct {
	Topics    mqtt.Topics
	QoS       byte
	Discovery DiscoveryConfig

	BridgeID       string
	Version        string
	HealthInterval time.Duration
	CommandTimeout time.Duration

	MQTT     MQTTClient
	Entities EntitySource
	Executor CommandExecutor

	// Cloud and Realtime feed the health report. Realtime may be nil.
	Cloud    CloudStatusSource
	Realtime RealtimeStatusSource

	// Auditor is optional.
	Auditor Auditor
	Logger  Logger
}

// published is what the bridge last sent for one entity.
type published struct {
	entity      entity.Entity
	fingerprint string
	available   bool
	discovered  bool
}

// Bridge exposes the entity set on MQTT. It publishes retained state and
// availability for every entity, publishes Home Assistant discovery configs,
// and turns command messages into cloud updates.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	opts   Options
	topics mqtt.Topics
	health *HealthReporter

	// Change detection cache, keyed by entity unique id.
	published map[string]*published
	publishMu sync.Mutex

	commandsReceived atomic.Uint64
	commandsFailed   atomic.Uint64
	statesPublished  atomic.Uint64

	// Commands run one at a time, in arrival order, off the MQTT client's
	// message goroutine.
	commands chan commandJob

	// Shutdown coordination
	done      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	ctx       context.Context    // Bridge-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx

	logger Logger
}

// NewBridge creates a new bridge instance and its command worker.
// Call Start() to begin operation and Stop() to release the worker.
func NewBridge(opts Options) (*Bridge, error) {
	if opts.MQTT == nil {
		return nil, fmt.Errorf("%w: MQTT client", ErrMissingDependency)
	}
	if opts.Entities == nil || opts.Executor == nil {
		return nil, fmt.Errorf("%w: entity source and executor", ErrMissingDependency)
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}
	if opts.BridgeID == "" {
		opts.BridgeID = mqtt.DefaultPrefix
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		opts:      opts,
		topics:    opts.Topics,
		published: make(map[string]*published),
		commands:  make(chan commandJob, commandQueueSize),
		done:      make(chan struct{}),
		ctx:       ctx,
		ctxCancel: ctxCancel,
		logger:    opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.BridgeID,
		Version:   opts.Version,
		Topic:     opts.Topics.Health(),
		QoS:       opts.QoS,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTT,
		Cloud:     opts.Cloud,
		Realtime:  opts.Realtime,
	})
	b.health.SetCounts(b.counts)
	b.health.SetLogger(opts.Logger)

	b.wg.Add(1)
	go b.commandLoop()

	return b, nil
}

// Start subscribes to the command topics, starts health reporting and
// publishes the current entity set.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logger.Warn("failed to publish starting status", "error", err)
	}

	patterns := append([]string{b.topics.AllCommands()}, b.topics.AllSet()...)
	for _, topic := range patterns {
		if err := b.opts.MQTT.Subscribe(topic, b.opts.QoS, b.HandleMessage); err != nil {
			return fmt.Errorf("subscribe to %s: %w", topic, err)
		}
		b.logger.Info("subscribed to commands", "topic", topic)
	}

	b.Sync()
	b.health.Start(ctx)

	b.logger.Info("bridge started", "bridge_id", b.opts.BridgeID, "entities", b.entityCount())
	return nil
}

// Stop gracefully shuts down the bridge.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)

		// Abort in-flight commands
		b.ctxCancel()

		// Publishes "stopping" status
		b.health.Stop()

		// Wait for the command worker
		b.wg.Wait()

		b.logger.Info("bridge stopped")
	})
}

// OnSnapshot is a coordinator listener that republishes changed entities.
func (b *Bridge) OnSnapshot(_ *coordinator.Snapshot, _ coordinator.Change) {
	b.Sync()
}

// Republish forgets everything published so far and sends the full entity
// set again. Call it after the MQTT connection is re-established.
func (b *Bridge) Republish() {
	b.publishMu.Lock()
	b.published = make(map[string]*published)
	b.publishMu.Unlock()

	b.Sync()
}

// Sync publishes discovery, availability and state for every entity whose
// published view is stale, and retracts entities that disappeared.
func (b *Bridge) Sync() {
	entities := b.opts.Entities.Entities()

	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	seen := make(map[string]bool, len(entities))
	for _, e := range entities {
		seen[e.UniqueID] = true

		prev, known := b.published[e.UniqueID]
		if !known {
			prev = &published{}
			b.published[e.UniqueID] = prev
		}
		prev.entity = e

		if b.opts.Discovery.Enabled && !prev.discovered {
			prev.discovered = b.publishDiscovery(e)
		}

		if !known || prev.available != e.Available {
			if b.publishAvailability(e.UniqueID, e.Available) {
				prev.available = e.Available
			}
		}

		msg := NewStateMessage(e)
		fp := msg.fingerprint()
		if fp == prev.fingerprint {
			continue // unchanged, skip
		}
		if b.publishJSON(b.topics.State(e.UniqueID), msg, true) {
			prev.fingerprint = fp
			b.statesPublished.Add(1)
		}
	}

	for uid, prev := range b.published {
		if seen[uid] {
			continue
		}
		b.retract(uid, prev)
		delete(b.published, uid)
	}
}

// retract removes a vanished entity: offline availability, and empty
// retained payloads so brokers and Home Assistant drop it.
func (b *Bridge) retract(uid string, prev *published) {
	b.publishAvailability(uid, false)
	b.publishRaw(b.topics.State(uid), nil, true)
	if prev.discovered {
		b.publishRaw(b.opts.Discovery.DiscoveryTopic(prev.entity), nil, true)
	}
	b.logger.Info("entity removed", "entity_id", uid)
}

func (b *Bridge) publishDiscovery(e entity.Entity) bool {
	payload := NewDiscoveryPayload(b.topics, b.opts.Discovery, e)
	return b.publishJSON(b.opts.Discovery.DiscoveryTopic(e), payload, true)
}

func (b *Bridge) publishAvailability(uid string, available bool) bool {
	payload := mqtt.PayloadOffline
	if available {
		payload = mqtt.PayloadOnline
	}
	return b.publishRaw(b.topics.Availability(uid), []byte(payload), true)
}

func (b *Bridge) publishJSON(topic string, v any, retained bool) bool {
	payload, err := json.Marshal(v)
	if err != nil {
		b.logger.Error("failed to marshal message", "topic", topic, "error", err)
		return false
	}
	return b.publishRaw(topic, payload, retained)
}

func (b *Bridge) publishRaw(topic string, payload []byte, retained bool) bool {
	if err := b.opts.MQTT.Publish(topic, payload, b.opts.QoS, retained); err != nil {
		b.logger.Warn("failed to publish", "topic", topic, "error", err)
		return false
	}
	return true
}

// HandleMessage routes a command or set topic message. It is registered
// with the MQTT client for every command pattern.
func (b *Bridge) HandleMessage(topic string, payload []byte) error {
	uid, attribute, ok := b.topics.ParseEntityTopic(topic)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}

	select {
	case <-b.done:
		return nil
	default:
	}

	var (
		msg CommandMessage
		err error
	)
	if topic == b.topics.Command(uid) {
		msg, err = ParseCommand(payload)
	} else {
		msg, err = ParseSetPayload(attribute, payload)
	}
	b.commandsReceived.Add(1)

	job := commandJob{uid: uid, msg: msg, err: err}
	if err != nil {
		b.commandsFailed.Add(1)
		job.msg = msg.withDefaults()
	}

	select {
	case b.commands <- job:
		return err
	case <-b.done:
		return nil
	default:
		if job.err == nil {
			b.commandsFailed.Add(1)
		}
		b.logger.Warn("command queue full, dropping command", "entity_id", uid, "command_id", job.msg.ID)
		return fmt.Errorf("%w: %s", ErrCommandQueueFull, uid)
	}
}

// commandJob is one parsed command message waiting for the worker.
type commandJob struct {
	uid string
	msg CommandMessage
	// err is set when the payload could not be parsed.
	err error
}

// commandLoop executes queued commands until Stop. Cloud calls can take
// seconds, so they never run on the MQTT client's delivery goroutine.
func (b *Bridge) commandLoop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.done:
			return
		case job := <-b.commands:
			if job.err != nil {
				b.publishAck(job.uid, NewAckError(job.msg, job.uid, ErrCodeInvalidPayload, job.err.Error()))
				continue
			}
			b.execute(job.uid, job.msg)
		}
	}
}

// execute runs one command, acknowledging and auditing it.
func (b *Bridge) execute(uid string, msg CommandMessage) {
	b.logger.Info("received command", "command_id", msg.ID, "entity_id", uid, "action", msg.Action)
	b.publishAck(uid, NewAckMessage(msg, uid, AckAccepted))

	ctx, cancel := context.WithTimeout(b.ctx, b.opts.CommandTimeout)
	defer cancel()

	_, err := b.opts.Executor.Execute(ctx, uid, msg.Command())

	outcome := audit.OutcomeSuccess
	if err != nil {
		b.commandsFailed.Add(1)
		code := errorCode(err)
		outcome = audit.OutcomeRejected
		if code == ErrCodeCloudError {
			outcome = audit.OutcomeFailed
		}
		b.publishAck(uid, NewAckError(msg, uid, code, err.Error()))
		b.logger.Warn("command failed", "command_id", msg.ID, "entity_id", uid, "code", code, "error", err)
	} else {
		b.publishAck(uid, NewAckMessage(msg, uid, AckCompleted))
	}

	b.record(ctx, uid, msg, outcome, err)
}

func (b *Bridge) publishAck(uid string, ack AckMessage) {
	b.publishJSON(b.topics.Ack(uid), ack, false)
}

func (b *Bridge) record(ctx context.Context, uid string, msg CommandMessage, outcome string, cmdErr error) {
	if b.opts.Auditor == nil {
		return
	}

	params := map[string]any{}
	if msg.Brightness != nil {
		params["brightness"] = *msg.Brightness
	}
	if msg.Percentage != nil {
		params["percentage"] = *msg.Percentage
	}
	entry := &audit.Entry{
		CommandID:  msg.ID,
		DeviceID:   entity.DeviceIDOf(uid),
		EntityID:   uid,
		Action:     string(msg.Action),
		Parameters: params,
		Source:     audit.SourceMQTT,
		Outcome:    outcome,
	}
	if cmdErr != nil {
		entry.Error = cmdErr.Error()
	}

	// The command context may already be spent by a slow cloud call.
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
	}
	if err := b.opts.Auditor.Record(ctx, entry); err != nil {
		b.logger.Warn("failed to record command audit", "command_id", msg.ID, "error", err)
	}
}

// errorCode maps executor errors to ack error codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, entity.ErrEntityNotFound):
		return ErrCodeEntityNotFound
	case errors.Is(err, entity.ErrEntityUnavailable):
		return ErrCodeEntityUnavailable
	case errors.Is(err, entity.ErrUnsupportedCommand):
		return ErrCodeUnsupportedCommand
	case errors.Is(err, entity.ErrInvalidCommand):
		return ErrCodeInvalidCommand
	default:
		return ErrCodeCloudError
	}
}

// Health returns the health message the reporter would publish now.
func (b *Bridge) Health() HealthMessage {
	status, reason := b.health.determineStatus()
	return b.health.Message(status, reason)
}

func (b *Bridge) entityCount() int {
	b.publishMu.Lock()
	defer b.publishMu.Unlock()
	return len(b.published)
}

func (b *Bridge) counts() (int, BridgeStatistics) {
	return b.entityCount(), BridgeStatistics{
		CommandsReceived: b.commandsReceived.Load(),
		CommandsFailed:   b.commandsFailed.Load(),
		StatesPublished:  b.statesPublished.Load(),
	}
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
