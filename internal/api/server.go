package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/leviton-bridge/internal/audit"
	"github.com/nerrad567/leviton-bridge/internal/coordinator"
	"github.com/nerrad567/leviton-bridge/internal/device"
	"github.com/nerrad567/leviton-bridge/internal/entity"
	"github.com/nerrad567/leviton-bridge/internal/infrastructure/config"
	"github.com/nerrad567/leviton-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/leviton-bridge/internal/leviton"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// EntityService lists entities and executes commands on them.
// Satisfied by *entity.Executor.
type EntityService interface {
	Entities() []entity.Entity
	Entity(uniqueID string) (entity.Entity, bool)
	Execute(ctx context.Context, uniqueID string, cmd entity.Command) (leviton.Attributes, error)
}

// AuditStore records and lists command audit entries.
// Satisfied by *audit.SQLiteRepository.
type AuditStore interface {
	Record(ctx context.Context, e *audit.Entry) error
	List(ctx context.Context, filter audit.Filter) (*audit.ListResult, error)
	ListDevice(ctx context.Context, deviceID string, limit int) ([]audit.Entry, error)
}

// CloudStatus reports the coordinator's refresh status.
type CloudStatus interface {
	Status() coordinator.Status
}

// RealtimeStatus reports realtime socket statistics.
type RealtimeStatus interface {
	Stats() leviton.RealtimeStats
}

// ConnectionStatus reports whether a client is connected.
type ConnectionStatus interface {
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
// Registry, Entities and Logger are required; the rest are optional.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger

	Registry *device.Registry
	History  device.StateHistoryRepository
	Audit    AuditStore
	Entities EntityService

	Cloud    CloudStatus
	Realtime RealtimeStatus
	MQTT     ConnectionStatus

	Version string
}

// Server is the local HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	secCfg   config.SecurityConfig
	logger   *logging.Logger
	registry *device.Registry
	history  device.StateHistoryRepository
	audit    AuditStore
	entities EntityService
	cloud    CloudStatus
	realtime RealtimeStatus
	mqtt     ConnectionStatus
	version  string

	startTime time.Time
	server    *http.Server
	hub       *Hub
	tickets   *ticketStore
	cancel    context.CancelFunc // cancels background goroutines on Close()

	// auditCh feeds drainAuditLog so requests never wait on SQLite.
	auditCh chan *audit.Entry
	auditWg sync.WaitGroup

	// lastStates holds the last broadcast state fingerprint per device.
	lastStates   map[string]string
	lastStatesMu sync.Mutex
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (logger, registry, entity service)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if deps.Registry == nil {
		return nil, errors.New("device registry is required")
	}
	if deps.Entities == nil {
		return nil, errors.New("entity service is required")
	}

	s := &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		secCfg:     deps.Security,
		logger:     deps.Logger,
		registry:   deps.Registry,
		history:    deps.History,
		audit:      deps.Audit,
		entities:   deps.Entities,
		cloud:      deps.Cloud,
		realtime:   deps.Realtime,
		mqtt:       deps.MQTT,
		version:    deps.Version,
		startTime:  time.Now(),
		tickets:    newTicketStore(),
		auditCh:    make(chan *audit.Entry, auditChanSize),
		lastStates: make(map[string]string),
	}
	s.hub = NewHub(s.wsCfg, s.logger)

	return s, nil
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It binds the listener synchronously so a port conflict is reported here,
// then serves in a background goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Parent context for background goroutines
//
// Returns:
//   - error: If the listener cannot be bound
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.cleanTicketsLoop(srvCtx)

	s.auditWg.Add(1)
	go func() {
		defer s.auditWg.Done()
		s.drainAuditLog(srvCtx)
	}()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}

	s.logger.Info("API server started", "address", ln.Addr().String(), "auth_enabled", s.secCfg.AuthEnabled)

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	err := s.server.Shutdown(ctx)

	// Stop the hub and ticket cleanup, then flush pending audit entries.
	if s.cancel != nil {
		s.cancel()
	}
	s.auditWg.Wait()

	if err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return errors.New("api server not started")
	}

	return nil
}
