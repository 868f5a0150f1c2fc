package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for PlaySEM Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Instance  InstanceConfig  `yaml:"instance"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
	Timeline  TimelineConfig  `yaml:"timeline"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Devices   DevicesConfig   `yaml:"devices"`
	Groups    []GroupSeed     `yaml:"groups"`
	Security  SecurityConfig  `yaml:"security"`
}

// InstanceConfig identifies this core instance.
type InstanceConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
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

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
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

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TimelineConfig contains timeline scheduler settings.
type TimelineConfig struct {
	// TickInterval is the scheduler cadence in milliseconds.
	TickInterval int `yaml:"tick_interval_ms"`

	// IngressCapacity bounds the queue between ingest and the timeline.
	IngressCapacity int `yaml:"ingress_capacity"`

	// CatchUpOnSeek releases effects passed over by a seek instead of
	// dropping them. Individual effects may still opt in with catchUp.
	CatchUpOnSeek bool `yaml:"catch_up_on_seek"`
}

// DispatchConfig contains worker pool settings.
type DispatchConfig struct {
	Workers        int           `yaml:"workers"`
	QueueSize      int           `yaml:"queue_size"`
	AttemptTimeout int           `yaml:"attempt_timeout_ms"`
	MaxRetries     int           `yaml:"max_retries"`
	Backoff        BackoffConfig `yaml:"backoff"`
}

// BackoffConfig describes an exponential backoff curve. Intervals are milliseconds.
type BackoffConfig struct {
	Initial    int     `yaml:"initial_ms"`
	Max        int     `yaml:"max_ms"`
	Multiplier float64 `yaml:"multiplier"`
	Jitter     float64 `yaml:"jitter"`
}

// DevicesConfig contains device registry settings and seed devices.
type DevicesConfig struct {
	Reconnect ReconnectConfig `yaml:"reconnect"`

	// HistoryRetention is how many hours of connection state history are
	// kept. Zero keeps everything.
	HistoryRetention int `yaml:"history_retention_hours"`

	Seed []DeviceSeed `yaml:"seed"`
}

// ReconnectConfig bounds the device reconnect state machine.
type ReconnectConfig struct {
	// Budget is the number of reconnect attempts before a device is left in Error.
	Budget  int           `yaml:"budget"`
	Backoff BackoffConfig `yaml:"backoff"`
}

// DeviceSeed declares a device registered at startup.
type DeviceSeed struct {
	ID           string            `yaml:"id"`
	Name         string            `yaml:"name"`
	Capabilities []string          `yaml:"capabilities"`
	Transport    string            `yaml:"transport"`
	Address      map[string]string `yaml:"address"`
}

// GroupSeed declares a device group created at startup.
type GroupSeed struct {
	ID      string   `yaml:"id"`
	Name    string   `yaml:"name"`
	Members []string `yaml:"members"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains bearer token settings for the HTTP API.
// When Enabled is false the API is open.
type JWTConfig struct {
	Enabled bool   `yaml:"enabled"`
	Secret  string `yaml:"secret"`
}

// minJWTSecretLength guards against trivially forgeable tokens.
const minJWTSecretLength = 32

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults), skipped when path is empty
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: PLAYSEM_SECTION_KEY
// For example: PLAYSEM_DATABASE_PATH, PLAYSEM_API_PORT
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration without reading a file.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Instance: InstanceConfig{
			ID:   "playsem-001",
			Name: "PlaySEM",
		},
		Database: DatabaseConfig{
			Path:        "./data/playsem.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "playsem-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Timeline: TimelineConfig{
			TickInterval:    10,
			IngressCapacity: 100,
		},
		Dispatch: DispatchConfig{
			Workers:        4,
			QueueSize:      256,
			AttemptTimeout: 500,
			MaxRetries:     3,
			Backoff: BackoffConfig{
				Initial:    50,
				Max:        1000,
				Multiplier: 2,
				Jitter:     0.2,
			},
		},
		Devices: DevicesConfig{
			Reconnect: ReconnectConfig{
				Budget: 5,
				Backoff: BackoffConfig{
					Initial:    200,
					Max:        5000,
					Multiplier: 2,
					Jitter:     0.2,
				},
			},
			HistoryRetention: 168,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PLAYSEM_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("PLAYSEM_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("PLAYSEM_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("PLAYSEM_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("PLAYSEM_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("PLAYSEM_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	if v := os.Getenv("PLAYSEM_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("PLAYSEM_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("PLAYSEM_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []string

	if c.Instance.ID == "" {
		errs = append(errs, "instance.id is required")
	}
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Timeline.TickInterval < 1 {
		errs = append(errs, "timeline.tick_interval_ms must be at least 1")
	}
	if c.Timeline.IngressCapacity < 1 {
		errs = append(errs, "timeline.ingress_capacity must be at least 1")
	}

	if c.Dispatch.Workers < 1 {
		errs = append(errs, "dispatch.workers must be at least 1")
	}
	if c.Dispatch.QueueSize < 1 {
		errs = append(errs, "dispatch.queue_size must be at least 1")
	}
	if c.Dispatch.AttemptTimeout < 1 {
		errs = append(errs, "dispatch.attempt_timeout_ms must be at least 1")
	}
	if c.Dispatch.MaxRetries < 0 {
		errs = append(errs, "dispatch.max_retries must not be negative")
	}
	errs = append(errs, c.Dispatch.Backoff.validate("dispatch.backoff")...)

	if c.Devices.Reconnect.Budget < 0 {
		errs = append(errs, "devices.reconnect.budget must not be negative")
	}
	if c.Devices.HistoryRetention < 0 {
		errs = append(errs, "devices.history_retention_hours must not be negative")
	}
	errs = append(errs, c.Devices.Reconnect.Backoff.validate("devices.reconnect.backoff")...)

	seen := make(map[string]bool, len(c.Devices.Seed))
	for i, d := range c.Devices.Seed {
		if d.ID == "" {
			errs = append(errs, fmt.Sprintf("devices.seed[%d].id is required", i))
			continue
		}
		if seen[d.ID] {
			errs = append(errs, fmt.Sprintf("devices.seed[%d].id %q is duplicated", i, d.ID))
		}
		seen[d.ID] = true
		if d.Transport == "" {
			errs = append(errs, fmt.Sprintf("devices.seed[%d].transport is required", i))
		}
	}
	for i, g := range c.Groups {
		if g.ID == "" {
			errs = append(errs, fmt.Sprintf("groups[%d].id is required", i))
		}
	}

	if c.Security.JWT.Enabled {
		if c.Security.JWT.Secret == "" {
			errs = append(errs, "security.jwt.secret is required when jwt is enabled (set PLAYSEM_JWT_SECRET)")
		} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
			errs = append(errs, "security.jwt.secret must be at least 32 characters")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (b BackoffConfig) validate(prefix string) []string {
	var errs []string
	if b.Initial < 1 {
		errs = append(errs, prefix+".initial_ms must be at least 1")
	}
	if b.Max < b.Initial {
		errs = append(errs, prefix+".max_ms must not be less than initial_ms")
	}
	if b.Multiplier < 1 {
		errs = append(errs, prefix+".multiplier must be at least 1")
	}
	if b.Jitter < 0 || b.Jitter > 1 {
		errs = append(errs, prefix+".jitter must be between 0 and 1")
	}
	return errs
}

// InitialInterval returns the first backoff interval.
func (b BackoffConfig) InitialInterval() time.Duration {
	return time.Duration(b.Initial) * time.Millisecond
}

// MaxInterval returns the backoff ceiling.
func (b BackoffConfig) MaxInterval() time.Duration {
	return time.Duration(b.Max) * time.Millisecond
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

// GetTickInterval returns the scheduler cadence.
func (c *Config) GetTickInterval() time.Duration {
	return time.Duration(c.Timeline.TickInterval) * time.Millisecond
}

// GetHistoryRetention returns how long device state history is kept.
func (c *Config) GetHistoryRetention() time.Duration {
	return time.Duration(c.Devices.HistoryRetention) * time.Hour
}

// GetAttemptTimeout returns the per-attempt device send timeout.
func (c *Config) GetAttemptTimeout() time.Duration {
	return time.Duration(c.Dispatch.AttemptTimeout) * time.Millisecond
}
