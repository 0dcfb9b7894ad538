package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Leviton bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Leviton   LevitonConfig   `yaml:"leviton"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Database  DatabaseConfig  `yaml:"database"`
	History   HistoryConfig   `yaml:"history"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// LevitonConfig contains the My Leviton cloud account and connection settings.
type LevitonConfig struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	// Code is an optional two-factor code used only for the first login.
	Code string `yaml:"code"`

	BaseURL   string `yaml:"base_url"`
	SocketURL string `yaml:"socket_url"`

	// PollInterval is the fallback refresh period in seconds.
	PollInterval   int                    `yaml:"poll_interval"`
	RequestTimeout int                    `yaml:"request_timeout"`
	Heartbeat      int                    `yaml:"heartbeat"`
	Reconnect      LevitonReconnectConfig `yaml:"reconnect"`
}

// LevitonReconnectConfig controls the realtime channel backoff (seconds).
type LevitonReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// String renders the account settings with secrets redacted.
func (l LevitonConfig) String() string {
	return fmt.Sprintf("LevitonConfig{Email:%s Password:%s Code:%s BaseURL:%s SocketURL:%s}",
		l.Email, redact(l.Password), redact(l.Code), l.BaseURL, l.SocketURL)
}

// BridgeConfig contains MQTT bridge settings.
type BridgeConfig struct {
	TopicPrefix    string          `yaml:"topic_prefix"`
	HealthInterval int             `yaml:"health_interval"`
	Discovery      DiscoveryConfig `yaml:"discovery"`
}

// DiscoveryConfig controls Home Assistant MQTT discovery publishing.
type DiscoveryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Prefix  string `yaml:"prefix"`
	NodeID  string `yaml:"node_id"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// HistoryConfig controls state history retention.
type HistoryConfig struct {
	RetentionDays int `yaml:"retention_days"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains local WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains local API security settings.
type SecurityConfig struct {
	AuthEnabled bool        `yaml:"auth_enabled"`
	JWT         JWTConfig   `yaml:"jwt"`
	Admin       AdminConfig `yaml:"admin"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret string `yaml:"secret"`
	// AccessTokenTTL is in minutes.
	AccessTokenTTL int `yaml:"access_token_ttl"`
}

// AdminConfig is the single local API operator account.
type AdminConfig struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. A .env file in the working directory, if present
//  4. Environment variables (override file values)
//
// Environment variables follow the pattern: LEVITON_SECTION_KEY
// For example: LEVITON_EMAIL, LEVITON_DATABASE_PATH
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Leviton: LevitonConfig{
			BaseURL:        "https://my.leviton.com/api",
			SocketURL:      "wss://socket.cloud.leviton.com/",
			PollInterval:   30,
			RequestTimeout: 15,
			Heartbeat:      30,
			Reconnect: LevitonReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Bridge: BridgeConfig{
			TopicPrefix:    "leviton",
			HealthInterval: 30,
			Discovery: DiscoveryConfig{
				Enabled: true,
				Prefix:  "homeassistant",
				NodeID:  "leviton",
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/leviton.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		History: HistoryConfig{
			RetentionDays: 30,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "leviton-bridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			AuthEnabled: true,
			JWT: JWTConfig{
				AccessTokenTTL: 60,
			},
			Admin: AdminConfig{
				Username: "admin",
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: LEVITON_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Cloud account
	if v := os.Getenv("LEVITON_EMAIL"); v != "" {
		cfg.Leviton.Email = v
	}
	if v := os.Getenv("LEVITON_PASSWORD"); v != "" {
		cfg.Leviton.Password = v
	}
	if v := os.Getenv("LEVITON_2FA_CODE"); v != "" {
		cfg.Leviton.Code = v
	}
	if v := os.Getenv("LEVITON_POLL_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Leviton.PollInterval = n
		}
	}

	// Database
	if v := os.Getenv("LEVITON_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("LEVITON_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("LEVITON_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("LEVITON_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("LEVITON_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("LEVITON_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security
	if v := os.Getenv("LEVITON_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
	if v := os.Getenv("LEVITON_ADMIN_PASSWORD_HASH"); v != "" {
		cfg.Security.Admin.PasswordHash = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Leviton.Email == "" {
		errs = append(errs, "leviton.email is required (set LEVITON_EMAIL environment variable)")
	}
	if c.Leviton.BaseURL == "" {
		errs = append(errs, "leviton.base_url is required")
	}
	if c.Leviton.SocketURL == "" {
		errs = append(errs, "leviton.socket_url is required")
	}
	if c.Leviton.PollInterval < 5 {
		errs = append(errs, "leviton.poll_interval must be at least 5 seconds")
	}
	if c.Leviton.Reconnect.InitialDelay < 1 || c.Leviton.Reconnect.MaxDelay < c.Leviton.Reconnect.InitialDelay {
		errs = append(errs, "leviton.reconnect delays must satisfy 1 <= initial_delay <= max_delay")
	}

	if c.Bridge.TopicPrefix == "" {
		errs = append(errs, "bridge.topic_prefix is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}

		// Device commands switch mains loads, so the API is never left
		// open with a guessable token secret.
		const minJWTSecretLength = 32
		if c.Security.AuthEnabled {
			if c.Security.JWT.Secret == "" {
				errs = append(errs, "security.jwt.secret is required (set LEVITON_JWT_SECRET environment variable)")
			} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
				errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
			}
		}
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetPollInterval returns the fallback refresh interval as a Duration.
func (c *Config) GetPollInterval() time.Duration {
	return time.Duration(c.Leviton.PollInterval) * time.Second
}

// GetRequestTimeout returns the cloud HTTP request timeout as a Duration.
func (c *Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.Leviton.RequestTimeout) * time.Second
}

// GetHeartbeat returns the realtime ping interval as a Duration.
func (c *Config) GetHeartbeat() time.Duration {
	return time.Duration(c.Leviton.Heartbeat) * time.Second
}

// GetHistoryRetention returns how long state history is kept.
func (c *Config) GetHistoryRetention() time.Duration {
	return time.Duration(c.History.RetentionDays) * 24 * time.Hour
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}
