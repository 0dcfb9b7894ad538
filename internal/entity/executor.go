package entity

import (
	"context"
	"fmt"

	"github.com/nerrad567/leviton-bridge/internal/coordinator"
	"github.com/nerrad567/leviton-bridge/internal/leviton"
)

// AttributeSetter sends device updates to the cloud. Satisfied by
// *leviton.Client.
type AttributeSetter interface {
	SetAttributes(ctx context.Context, id string, attrs leviton.Attributes) error
}

// StateSource is the part of the coordinator commands need.
// Satisfied by *coordinator.Coordinator.
type StateSource interface {
	Snapshot() *coordinator.Snapshot
	LastUpdateSuccess() bool
	SetOptimistic(id string, attrs leviton.Attributes) bool
	RequestRefresh()
}

// Logger is the logging interface used by the executor.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Executor runs entity commands optimistically: the local state changes
// first, then the cloud is asked, then a refresh is requested whatever the
// outcome so the local view converges on the cloud's.
type Executor struct {
	cloud  AttributeSetter
	state  StateSource
	logger Logger
}

// NewExecutor creates an Executor. logger may be nil.
func NewExecutor(cloud AttributeSetter, state StateSource, logger Logger) *Executor {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Executor{cloud: cloud, state: state, logger: logger}
}

// Entities returns the current entity set.
func (x *Executor) Entities() []Entity {
	return Build(x.state.Snapshot(), x.state.LastUpdateSuccess())
}

// Entity returns one entity from the current snapshot.
func (x *Executor) Entity(uniqueID string) (Entity, bool) {
	return Find(x.state.Snapshot(), x.state.LastUpdateSuccess(), uniqueID)
}

// Execute applies cmd to the entity with uniqueID.
//
// Returns:
//   - leviton.Attributes: The update sent to the cloud
//   - error: ErrEntityNotFound, ErrEntityUnavailable, ErrUnsupportedCommand,
//     ErrInvalidCommand, or ErrCommandFailed wrapping the cloud error
func (x *Executor) Execute(ctx context.Context, uniqueID string, cmd Command) (leviton.Attributes, error) {
	e, ok := x.Entity(uniqueID)
	if !ok {
		return leviton.Attributes{}, fmt.Errorf("%w: %s", ErrEntityNotFound, uniqueID)
	}
	if !e.Controllable() {
		return leviton.Attributes{}, fmt.Errorf("%w: %s is a %s", ErrUnsupportedCommand, uniqueID, e.Kind)
	}
	if !e.Available {
		return leviton.Attributes{}, fmt.Errorf("%w: %s", ErrEntityUnavailable, uniqueID)
	}

	attrs, err := Attributes(e, cmd)
	if err != nil {
		return leviton.Attributes{}, err
	}

	x.state.SetOptimistic(e.DeviceID, attrs)
	err = x.cloud.SetAttributes(ctx, e.DeviceID, attrs)
	x.state.RequestRefresh()

	if err != nil {
		x.logger.Warn("device command failed", "entity_id", uniqueID, "action", cmd.Action, "error", err)
		return attrs, fmt.Errorf("%w: %w", ErrCommandFailed, err)
	}

	x.logger.Info("device command sent", "entity_id", uniqueID, "action", cmd.Action, "power", attrs.Power)
	return attrs, nil
}
