package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Poll interval bounds, in seconds.
const (
	MinPollInterval = 1
	MaxPollInterval = 60
)

// Config is the root configuration structure for the RX1 bridge.
// It is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device    DeviceConfig     `yaml:"device"`
	Bridge    BridgeConfig     `yaml:"bridge"`
	Feedbacks []FeedbackConfig `yaml:"feedbacks"`
	Database  DatabaseConfig   `yaml:"database"`
	MQTT      MQTTConfig       `yaml:"mqtt"`
	API       APIConfig        `yaml:"api"`
	WebSocket WebSocketConfig  `yaml:"websocket"`
	InfluxDB  InfluxDBConfig   `yaml:"influxdb"`
	Logging   LoggingConfig    `yaml:"logging"`
}

// DeviceConfig describes the receiver being polled.
type DeviceConfig struct {
	// Host is the receiver's IP address or hostname. An empty host is not a
	// load error: the engine reports a bad-config status instead of polling.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Polling enables the periodic refresh. When false the snapshot is only
	// refreshed at startup and on demand.
	Polling bool `yaml:"polling"`

	// PollInterval is the refresh period in seconds (1-60).
	PollInterval int `yaml:"poll_interval"`

	// ServerID is the receiver's server identifier used in statistics and
	// assignment paths.
	ServerID string `yaml:"server_id"`

	// Timeout is the HTTP transport timeout in seconds.
	Timeout int `yaml:"timeout"`

	Layout LayoutConfig `yaml:"layout"`
}

// LayoutConfig fixes how many hardware slots get observable fields,
// independent of what the device actually reports.
type LayoutConfig struct {
	SDIPorts     int `yaml:"sdi_ports"`
	PCIeSlots    int `yaml:"pcie_slots"`
	AudioStreams int `yaml:"audio_streams"`
}

// BridgeConfig contains MQTT bridge identity settings.
type BridgeConfig struct {
	ID             string `yaml:"id"`
	HealthInterval int    `yaml:"health_interval"`
}

// FeedbackConfig declares a condition that is watched from startup.
type FeedbackConfig struct {
	ID      string         `yaml:"id"`
	Kind    string         `yaml:"kind"`
	Options map[string]any `yaml:"options"`
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

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
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

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The loading order is:
//  1. Default values
//  2. YAML file values
//  3. Environment variables (RX1BRIDGE_SECTION_KEY)
//
// The result is validated before it is returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config populated with defaults only.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Port:         80,
			Polling:      true,
			PollInterval: 5,
			ServerID:     "Receiver1",
			Timeout:      10,
			Layout: LayoutConfig{
				SDIPorts:     5,
				PCIeSlots:    4,
				AudioStreams: 8,
			},
		},
		Bridge: BridgeConfig{
			ID:             "rx1",
			HealthInterval: 30,
		},
		Database: DatabaseConfig{
			Path:        "./data/rx1bridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "rx1bridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 60,
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
	}
}

// applyEnvOverrides applies RX1BRIDGE_* environment variable overrides.
func applyEnvOverrides(cfg *Config) {
	// Device
	if v := os.Getenv("RX1BRIDGE_DEVICE_HOST"); v != "" {
		cfg.Device.Host = v
	}
	if v := os.Getenv("RX1BRIDGE_DEVICE_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Device.Port = n
		}
	}
	if v := os.Getenv("RX1BRIDGE_DEVICE_POLLING"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Device.Polling = b
		}
	}
	if v := os.Getenv("RX1BRIDGE_DEVICE_POLL_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Device.PollInterval = n
		}
	}

	// Database
	if v := os.Getenv("RX1BRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("RX1BRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("RX1BRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("RX1BRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("RX1BRIDGE_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("RX1BRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	// Device
	if c.Device.Port < 1 || c.Device.Port > 65535 {
		errs = append(errs, "device.port must be between 1 and 65535")
	}
	if c.Device.PollInterval < MinPollInterval || c.Device.PollInterval > MaxPollInterval {
		errs = append(errs, fmt.Sprintf("device.poll_interval must be between %d and %d", MinPollInterval, MaxPollInterval))
	}
	if c.Device.ServerID == "" {
		errs = append(errs, "device.server_id is required")
	}
	if c.Device.Timeout < 1 {
		errs = append(errs, "device.timeout must be at least 1 second")
	}
	if c.Device.Layout.SDIPorts < 0 || c.Device.Layout.PCIeSlots < 0 || c.Device.Layout.AudioStreams < 0 {
		errs = append(errs, "device.layout counts must not be negative")
	}

	// Bridge
	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}
	if strings.ContainsAny(c.Bridge.ID, "/+#") {
		errs = append(errs, "bridge.id must not contain MQTT topic characters (/, +, #)")
	}

	// Feedback watches
	seen := make(map[string]bool, len(c.Feedbacks))
	for i, fb := range c.Feedbacks {
		if fb.ID == "" {
			errs = append(errs, fmt.Sprintf("feedbacks[%d].id is required", i))
		} else if seen[fb.ID] {
			errs = append(errs, fmt.Sprintf("feedbacks[%d].id %q is duplicated", i, fb.ID))
		}
		seen[fb.ID] = true
		if fb.Kind == "" {
			errs = append(errs, fmt.Sprintf("feedbacks[%d].kind is required", i))
		}
	}

	// Database
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// InfluxDB
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// PollIntervalDuration returns the device poll interval as a Duration.
func (d DeviceConfig) PollIntervalDuration() time.Duration {
	return time.Duration(d.PollInterval) * time.Second
}

// TimeoutDuration returns the device HTTP timeout as a Duration.
func (d DeviceConfig) TimeoutDuration() time.Duration {
	return time.Duration(d.Timeout) * time.Second
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

// HealthIntervalDuration returns the bridge health interval as a Duration.
func (b BridgeConfig) HealthIntervalDuration() time.Duration {
	return time.Duration(b.HealthInterval) * time.Second
}
