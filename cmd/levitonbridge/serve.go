package main

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/leviton-bridge/internal/account"
	"github.com/nerrad567/leviton-bridge/internal/api"
	"github.com/nerrad567/leviton-bridge/internal/audit"
	levitonbridge "github.com/nerrad567/leviton-bridge/internal/bridges/leviton"
	"github.com/nerrad567/leviton-bridge/internal/coordinator"
	"github.com/nerrad567/leviton-bridge/internal/device"
	"github.com/nerrad567/leviton-bridge/internal/entity"
	"github.com/nerrad567/leviton-bridge/internal/infrastructure/config"
	"github.com/nerrad567/leviton-bridge/internal/infrastructure/database"
	"github.com/nerrad567/leviton-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/leviton-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/leviton-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/leviton-bridge/internal/leviton"
	"github.com/nerrad567/leviton-bridge/internal/telemetry"
	"github.com/nerrad567/leviton-bridge/migrations"
)

// serve runs the bridge until ctx is cancelled.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configPath: Path to config.yaml
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func serve(ctx context.Context, configPath string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting levitonbridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database ready", "path", cfg.Database.Path)

	// Authenticate with the cloud. A 2FA challenge cannot be answered here.
	client := newCloudClient(cfg, log.Component("leviton"))
	acct, err := account.Setup(ctx, client, account.NewSQLiteStore(db.DB), credentials(cfg), log)
	if err != nil {
		return fmt.Errorf("setting up Leviton account: %w", err)
	}
	log.Info("Leviton account ready", "email", acct.Email, "residence_id", acct.ResidenceID)

	// Device registry and history
	history := device.NewSQLiteStateHistoryRepository(db.DB)
	registry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	registry.SetLogger(log)
	registry.SetHistory(history)
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	log.Info("device registry initialised", "devices", registry.GetDeviceCount())

	auditRepo := audit.NewSQLiteRepository(db.DB)

	// Realtime updates feed the coordinator; the coordinator tells the
	// realtime channel which devices to subscribe to.
	var coord *coordinator.Coordinator
	realtime := leviton.NewRealtime(client.Session, func(u leviton.StateUpdate) {
		coord.ApplyUpdate(u)
	}, leviton.RealtimeOptions{
		URL:            cfg.Leviton.SocketURL,
		Heartbeat:      cfg.GetHeartbeat(),
		InitialBackoff: time.Duration(cfg.Leviton.Reconnect.InitialDelay) * time.Second,
		MaxBackoff:     time.Duration(cfg.Leviton.Reconnect.MaxDelay) * time.Second,
		Logger:         log.Component("realtime"),
	})
	coord = coordinator.New(client, coordinator.Options{
		ResidenceID:      acct.ResidenceID,
		PollInterval:     cfg.GetPollInterval(),
		Logger:           log.Component("coordinator"),
		OnDevicesChanged: realtime.SetDevices,
	})
	executor := entity.NewExecutor(client, coord, log.Component("entity"))

	// The registry listener is registered first so the API sees stored
	// state that matches the snapshot it is told about.
	coord.Subscribe(func(snap *coordinator.Snapshot, change coordinator.Change) {
		if !change.Success {
			return
		}
		if _, syncErr := registry.Sync(ctx, snap, change.Source); syncErr != nil {
			log.Error("device registry sync failed", "source", change.Source, "error", syncErr)
		}
	})

	pruner := device.NewPruner(history, cfg.GetHistoryRetention(), 0, log)
	if cfg.History.RetentionDays > 0 {
		pruner.Start(ctx)
		defer pruner.Stop()
	}

	// Connect to MQTT broker
	topics := mqtt.NewTopics(cfg.Bridge.TopicPrefix)
	mqttClient, err := mqtt.Connect(cfg.MQTT, topics)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	bridge, err := levitonbridge.NewBridge(levitonbridge.Options{
		Topics: topics,
		QoS:    byte(cfg.MQTT.QoS), //nolint:gosec // validated 0-2 by config
		Discovery: levitonbridge.DiscoveryConfig{
			Enabled: cfg.Bridge.Discovery.Enabled,
			Prefix:  cfg.Bridge.Discovery.Prefix,
			NodeID:  cfg.Bridge.Discovery.NodeID,
		},
		BridgeID:       cfg.Bridge.TopicPrefix,
		Version:        version,
		HealthInterval: time.Duration(cfg.Bridge.HealthInterval) * time.Second,
		MQTT:           mqttClient,
		Entities:       executor,
		Executor:       executor,
		Cloud:          coord,
		Realtime:       realtime,
		Auditor:        auditRepo,
		Logger:         log.Component("bridge"),
	})
	if err != nil {
		return fmt.Errorf("creating MQTT bridge: %w", err)
	}
	defer bridge.Stop()
	coord.Subscribe(bridge.OnSnapshot)

	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected, republishing entities")
		bridge.Republish()
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		coord.Subscribe(telemetry.NewRecorder(influxClient).OnSnapshot)
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Local API (optional)
	if cfg.API.Enabled {
		apiServer, apiErr := api.New(api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Security: cfg.Security,
			Logger:   log.Component("api"),
			Registry: registry,
			History:  history,
			Audit:    auditRepo,
			Entities: executor,
			Cloud:    coord,
			Realtime: realtime,
			MQTT:     mqttClient,
			Version:  version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		coord.Subscribe(apiServer.OnSnapshot)
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API server disabled")
	}

	// First refresh, then the realtime channel for the devices it found.
	if startErr := coord.Start(ctx); startErr != nil {
		return fmt.Errorf("starting coordinator: %w", startErr)
	}
	defer coord.Stop()

	if startErr := realtime.Start(ctx, coord.Snapshot().IDs()); startErr != nil {
		return fmt.Errorf("starting realtime: %w", startErr)
	}
	defer realtime.Stop()

	if startErr := bridge.Start(ctx); startErr != nil {
		return fmt.Errorf("starting MQTT bridge: %w", startErr)
	}

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: bridge, realtime, coordinator,
	// API, InfluxDB, MQTT, pruner, database.

	log.Info("levitonbridge stopped")
	return nil
}

// openDatabase opens and migrates the SQLite database.
func openDatabase(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// newCloudClient builds the My Leviton REST client from config.
func newCloudClient(cfg *config.Config, log *logging.Logger) *leviton.Client {
	return leviton.NewClient(leviton.Options{
		BaseURL: cfg.Leviton.BaseURL,
		Timeout: cfg.GetRequestTimeout(),
		Logger:  log,
	})
}

func credentials(cfg *config.Config) account.Credentials {
	return account.Credentials{
		Email:    cfg.Leviton.Email,
		Password: cfg.Leviton.Password,
		Code:     cfg.Leviton.Code,
	}
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
