package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ConnectorType identifies which transport backend should be used.
type ConnectorType string

const (
	ConnectorTCP    ConnectorType = "tcp"
	ConnectorSerial ConnectorType = "serial"
	ConnectorMQTT   ConnectorType = "mqtt"

	DefaultTCPPort    = 4403
	DefaultSerialBaud = 115200
	DefaultMQTTPort   = 1883

	DefaultStorePath = "meshmon.db"
)

// LoggingConfig defines runtime logging behavior.
type LoggingConfig struct {
	Level     string `json:"level"`
	LogToFile bool   `json:"log_to_file"`
}

// ConnectionConfig contains connector-specific connection parameters.
type ConnectionConfig struct {
	Connector  ConnectorType `json:"connector"`
	Host       string        `json:"host"`
	Port       int           `json:"port"`
	SerialPort string        `json:"serial_port"`
	SerialBaud int           `json:"serial_baud"`
	MQTT       MQTTConfig    `json:"mqtt"`
}

// MQTTConfig holds broker connection parameters for the MQTT connector.
type MQTTConfig struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	TLS       bool   `json:"tls"`
	RootTopic string `json:"root_topic"`
}

// StoreConfig controls the durable SQLite store.
type StoreConfig struct {
	Enabled       bool   `json:"enabled"`
	Path          string `json:"path"`
	QueueCapacity int    `json:"queue_capacity"`
}

// StatusConfig points at the device HTTP report endpoint. Host defaults
// to the connection host for the tcp connector.
type StatusConfig struct {
	Enabled      bool   `json:"enabled"`
	Host         string `json:"host"`
	Port         int    `json:"port"`
	TTLSeconds   int    `json:"ttl_seconds"`
	GraceSeconds int    `json:"grace_seconds"`
}

// NodeSampleEveryObservation as node_sample_seconds disables the node
// sampling timer and records a history row on every node observation.
const NodeSampleEveryObservation = -1

// MonitorConfig tunes the in-memory views and sampler cadence.
type MonitorConfig struct {
	LiveBufferCapacity  int `json:"live_buffer_capacity"`
	ObservedTTLHours    int `json:"observed_ttl_hours"`
	NodeSampleSeconds   int `json:"node_sample_seconds"`
	StatusSampleSeconds int `json:"status_sample_seconds"`
	StatsWindowHours    int `json:"stats_window_hours"`
}

// AppConfig is the root persisted application configuration.
type AppConfig struct {
	Connection ConnectionConfig `json:"connection"`
	Store      StoreConfig      `json:"store"`
	Status     StatusConfig     `json:"status"`
	Monitor    MonitorConfig    `json:"monitor"`
	Logging    LoggingConfig    `json:"logging"`
}

func Default() AppConfig {
	return AppConfig{
		Connection: ConnectionConfig{
			Connector:  ConnectorTCP,
			Host:       "",
			Port:       DefaultTCPPort,
			SerialPort: "",
			SerialBaud: DefaultSerialBaud,
			MQTT: MQTTConfig{
				Port:      DefaultMQTTPort,
				RootTopic: "msh",
			},
		},
		Store: StoreConfig{
			Enabled: true,
			Path:    DefaultStorePath,
		},
		Status: StatusConfig{
			Enabled:      false,
			TTLSeconds:   5,
			GraceSeconds: 60,
		},
		Monitor: MonitorConfig{
			LiveBufferCapacity:  200,
			ObservedTTLHours:    24,
			NodeSampleSeconds:   60,
			StatusSampleSeconds: 60,
			StatsWindowHours:    24,
		},
		Logging: LoggingConfig{
			Level:     "info",
			LogToFile: false,
		},
	}
}

func Load(path string) (AppConfig, error) {
	cfg := Default()
	cleanPath := filepath.Clean(path)
	// #nosec G304 -- path is resolved by app runtime and points to user config dir.
	raw, err := os.ReadFile(cleanPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}

		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(raw, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("decode config json: %w", err)
	}

	cfg.FillMissingDefaults()

	return cfg, nil
}

func (c *AppConfig) FillMissingDefaults() {
	if c.Connection.Connector == "" {
		c.Connection.Connector = ConnectorTCP
	}
	if c.Connection.Port <= 0 {
		c.Connection.Port = DefaultTCPPort
	}
	if c.Connection.SerialBaud <= 0 {
		c.Connection.SerialBaud = DefaultSerialBaud
	}
	if c.Connection.MQTT.Port <= 0 {
		c.Connection.MQTT.Port = DefaultMQTTPort
	}
	if c.Connection.MQTT.RootTopic == "" {
		c.Connection.MQTT.RootTopic = "msh"
	}
	if c.Store.Path == "" {
		c.Store.Path = DefaultStorePath
	}
	if c.Status.Host == "" {
		c.Status.Host = c.Connection.Host
	}
	if c.Status.TTLSeconds <= 0 {
		c.Status.TTLSeconds = 5
	}
	if c.Status.GraceSeconds <= 0 {
		c.Status.GraceSeconds = 60
	}
	if c.Monitor.LiveBufferCapacity <= 0 {
		c.Monitor.LiveBufferCapacity = 200
	}
	if c.Monitor.ObservedTTLHours <= 0 {
		c.Monitor.ObservedTTLHours = 24
	}
	if c.Monitor.NodeSampleSeconds == 0 {
		c.Monitor.NodeSampleSeconds = 60
	}
	if c.Monitor.StatusSampleSeconds <= 0 {
		c.Monitor.StatusSampleSeconds = 60
	}
	if c.Monitor.StatsWindowHours <= 0 {
		c.Monitor.StatsWindowHours = 24
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c AppConfig) Validate() error {
	switch c.Connection.Connector {
	case ConnectorTCP:
		if strings.TrimSpace(c.Connection.Host) == "" {
			return errors.New("tcp host is required")
		}
	case ConnectorSerial:
		if strings.TrimSpace(c.Connection.SerialPort) == "" {
			return errors.New("serial port is required")
		}
		if c.Connection.SerialBaud <= 0 {
			return errors.New("serial baud must be positive")
		}
	case ConnectorMQTT:
		if strings.TrimSpace(c.Connection.MQTT.Host) == "" {
			return errors.New("mqtt host is required")
		}
	default:
		return fmt.Errorf("unknown connector: %s", c.Connection.Connector)
	}

	if c.Status.Enabled && strings.TrimSpace(c.Status.Host) == "" {
		return errors.New("status host is required when status polling is enabled")
	}

	if c.Monitor.NodeSampleSeconds < NodeSampleEveryObservation {
		return fmt.Errorf("node sample seconds must be positive, or %d to sample on every observation", NodeSampleEveryObservation)
	}

	return nil
}

func Save(path string, cfg AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}

	return nil
}
