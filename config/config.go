package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Supported broker transports
const (
	TransportMQTT = "mqtt"
	TransportNATS = "nats"
)

type Config struct {
	Broker        BrokerConfig         `json:"broker" yaml:"broker"`
	Subscriptions []SubscriptionConfig `json:"subscriptions" yaml:"subscriptions"`
	Delivery      DeliveryConfig       `json:"delivery" yaml:"delivery"`
	Logging       LogConfig            `json:"logging" yaml:"logging"`
	Metrics       MetricsConfig        `json:"metrics" yaml:"metrics"`
}

type BrokerConfig struct {
	Transport      string    `json:"transport" yaml:"transport"` // mqtt or nats
	Host           string    `json:"host" yaml:"host"`
	Port           int       `json:"port" yaml:"port"`
	ClientID       string    `json:"clientId" yaml:"clientId"`
	Username       string    `json:"username" yaml:"username"`
	Password       string    `json:"password" yaml:"password"`
	KeepAlive      int       `json:"keepAlive" yaml:"keepAlive"`           // seconds
	ConnectTimeout string    `json:"connectTimeout" yaml:"connectTimeout"` // Duration string
	TLS            TLSConfig `json:"tls" yaml:"tls"`
}

type TLSConfig struct {
	Enable   bool   `json:"enable" yaml:"enable"`
	CertFile string `json:"certFile" yaml:"certFile"`
	KeyFile  string `json:"keyFile" yaml:"keyFile"`
	CAFile   string `json:"caFile" yaml:"caFile"`
}

type SubscriptionConfig struct {
	Topic string `json:"topic" yaml:"topic"`
	QoS   byte   `json:"qos" yaml:"qos"`
}

type DeliveryConfig struct {
	QueueSize     int    `json:"queueSize" yaml:"queueSize"`
	ExitPayload   string `json:"exitPayload" yaml:"exitPayload"`
	PayloadFormat string `json:"payloadFormat" yaml:"payloadFormat"` // raw, text or json
}

type LogConfig struct {
	Level      string `json:"level" yaml:"level"`           // debug, info, warn, error
	OutputPath string `json:"outputPath" yaml:"outputPath"` // file path, "stdout" or "stderr"
	Encoding   string `json:"encoding" yaml:"encoding"`     // json or console
	MaxSize    int    `json:"maxSize" yaml:"maxSize"`       // megabytes, file output only
	MaxAge     int    `json:"maxAge" yaml:"maxAge"`         // days
	MaxBackups int    `json:"maxBackups" yaml:"maxBackups"`
	Compress   bool   `json:"compress" yaml:"compress"`
}

type MetricsConfig struct {
	Enabled        bool   `json:"enabled" yaml:"enabled"`
	Address        string `json:"address" yaml:"address"`
	Path           string `json:"path" yaml:"path"`
	UpdateInterval string `json:"updateInterval" yaml:"updateInterval"` // Duration string
}

// Overrides carries command line values that take precedence over the file.
// Zero values leave the configuration untouched.
type Overrides struct {
	Transport   string
	Host        string
	Port        int
	ClientID    string
	Topic       string
	QoS         int // -1 = use config
	KeepAlive   int
	LogLevel    string
	MetricsAddr string
}

// Default returns the configuration used when no file is given. It matches
// the classic demo subscriber: mqtt_subscriber on localhost:1883 listening to
// mqtt/test.
func Default() *Config {
	cfg := &Config{
		Broker: BrokerConfig{
			Transport: TransportMQTT,
			Host:      "localhost",
			Port:      1883,
			ClientID:  "mqtt_subscriber",
			KeepAlive: 60,
		},
		Subscriptions: []SubscriptionConfig{
			{Topic: "mqtt/test", QoS: 0},
		},
	}
	setDefaults(cfg)
	return cfg
}

// Load reads and parses the configuration file. Files ending in .yaml or
// .yml are parsed as YAML, everything else as JSON.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	setDefaults(&config)

	if err := Validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults(config *Config) {
	// Broker
	if config.Broker.Transport == "" {
		config.Broker.Transport = TransportMQTT
	}
	if config.Broker.Host == "" {
		config.Broker.Host = "localhost"
	}
	if config.Broker.Port == 0 {
		if config.Broker.Transport == TransportNATS {
			config.Broker.Port = 4222
		} else {
			config.Broker.Port = 1883
		}
	}
	if config.Broker.ClientID == "" {
		config.Broker.ClientID = GenerateClientID()
	}
	if config.Broker.KeepAlive <= 0 {
		config.Broker.KeepAlive = 60
	}
	if config.Broker.ConnectTimeout == "" {
		config.Broker.ConnectTimeout = "10s"
	}

	// Delivery
	if config.Delivery.QueueSize <= 0 {
		config.Delivery.QueueSize = 1000
	}
	if config.Delivery.ExitPayload == "" {
		config.Delivery.ExitPayload = "exit"
	}
	if config.Delivery.PayloadFormat == "" {
		config.Delivery.PayloadFormat = "text"
	}

	// Logging
	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.OutputPath == "" {
		config.Logging.OutputPath = "stdout"
	}
	if config.Logging.Encoding == "" {
		config.Logging.Encoding = "console"
	}
	if config.Logging.MaxSize <= 0 {
		config.Logging.MaxSize = 100
	}

	// Metrics
	if config.Metrics.Address == "" {
		config.Metrics.Address = ":2112"
	}
	if config.Metrics.Path == "" {
		config.Metrics.Path = "/metrics"
	}
	if config.Metrics.UpdateInterval == "" {
		config.Metrics.UpdateInterval = "15s"
	}
}

// GenerateClientID returns a random client id short enough for MQTT 3.1
// brokers, which cap identifiers at 23 bytes.
func GenerateClientID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "mqttsub-" + id[:8]
}

// Validate performs validation of all configuration values
func Validate(cfg *Config) error {
	switch cfg.Broker.Transport {
	case TransportMQTT, TransportNATS:
	default:
		return fmt.Errorf("invalid broker transport: %s", cfg.Broker.Transport)
	}
	if cfg.Broker.Host == "" {
		return fmt.Errorf("broker host is required")
	}
	if cfg.Broker.Port < 1 || cfg.Broker.Port > 65535 {
		return fmt.Errorf("invalid broker port: %d", cfg.Broker.Port)
	}
	if _, err := time.ParseDuration(cfg.Broker.ConnectTimeout); err != nil {
		return fmt.Errorf("invalid connect timeout: %w", err)
	}

	if cfg.Broker.TLS.Enable {
		if cfg.Broker.TLS.CertFile == "" {
			return fmt.Errorf("tls cert file is required when tls is enabled")
		}
		if cfg.Broker.TLS.KeyFile == "" {
			return fmt.Errorf("tls key file is required when tls is enabled")
		}
		if cfg.Broker.TLS.CAFile == "" {
			return fmt.Errorf("tls ca file is required when tls is enabled")
		}
	}

	if len(cfg.Subscriptions) == 0 {
		return fmt.Errorf("at least one subscription is required")
	}
	for i, sub := range cfg.Subscriptions {
		if sub.Topic == "" {
			return fmt.Errorf("subscription %d: topic is required", i)
		}
		if sub.QoS > 2 {
			return fmt.Errorf("subscription %d: invalid qos %d", i, sub.QoS)
		}
	}

	if cfg.Delivery.QueueSize < 1 {
		return fmt.Errorf("queue size must be greater than 0")
	}
	switch cfg.Delivery.PayloadFormat {
	case "raw", "text", "json":
	default:
		return fmt.Errorf("invalid payload format: %s", cfg.Delivery.PayloadFormat)
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", cfg.Logging.Level)
	}
	switch cfg.Logging.Encoding {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log encoding: %s", cfg.Logging.Encoding)
	}

	if cfg.Metrics.Enabled {
		if _, err := time.ParseDuration(cfg.Metrics.UpdateInterval); err != nil {
			return fmt.Errorf("invalid metrics update interval: %w", err)
		}
	}

	return nil
}

// ApplyOverrides applies command line flag overrides to the configuration.
// A topic override replaces the configured subscriptions with a single one.
// A QoS of -1 keeps the configured levels; any other value outside 0-2 is
// rejected and leaves the configuration untouched.
func (c *Config) ApplyOverrides(o Overrides) error {
	if o.QoS < -1 || o.QoS > 2 {
		return fmt.Errorf("invalid qos override %d: must be 0, 1 or 2", o.QoS)
	}

	if o.Transport != "" {
		c.Broker.Transport = o.Transport
	}
	if o.Host != "" {
		c.Broker.Host = o.Host
	}
	if o.Port > 0 {
		c.Broker.Port = o.Port
	}
	if o.ClientID != "" {
		c.Broker.ClientID = o.ClientID
	}
	if o.KeepAlive > 0 {
		c.Broker.KeepAlive = o.KeepAlive
	}
	if o.Topic != "" {
		qos := byte(0)
		if len(c.Subscriptions) > 0 {
			qos = c.Subscriptions[0].QoS
		}
		c.Subscriptions = []SubscriptionConfig{{Topic: o.Topic, QoS: qos}}
	}
	if o.QoS >= 0 {
		for i := range c.Subscriptions {
			c.Subscriptions[i].QoS = byte(o.QoS)
		}
	}
	if o.LogLevel != "" {
		c.Logging.Level = o.LogLevel
	}
	if o.MetricsAddr != "" {
		c.Metrics.Enabled = true
		c.Metrics.Address = o.MetricsAddr
	}
	return nil
}

// KeepAliveDuration returns the keepalive interval as a duration
func (b BrokerConfig) KeepAliveDuration() time.Duration {
	return time.Duration(b.KeepAlive) * time.Second
}

// ConnectTimeoutDuration returns the parsed connect timeout, falling back to
// ten seconds when the value is unset or malformed.
func (b BrokerConfig) ConnectTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(b.ConnectTimeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}
