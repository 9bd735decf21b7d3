package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, TransportMQTT, cfg.Broker.Transport)
	assert.Equal(t, "localhost", cfg.Broker.Host)
	assert.Equal(t, 1883, cfg.Broker.Port)
	assert.Equal(t, "mqtt_subscriber", cfg.Broker.ClientID)
	assert.Equal(t, 60, cfg.Broker.KeepAlive)
	require.Len(t, cfg.Subscriptions, 1)
	assert.Equal(t, "mqtt/test", cfg.Subscriptions[0].Topic)
	assert.Equal(t, "exit", cfg.Delivery.ExitPayload)
	assert.NoError(t, Validate(cfg))
}

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name     string
		file     string
		content  string
		wantErr  bool
		validate func(*testing.T, *Config)
	}{
		{
			name: "Valid JSON config",
			file: "config.json",
			content: mustJSON(t, map[string]interface{}{
				"broker": map[string]interface{}{
					"host":      "broker.local",
					"port":      8883,
					"clientId":  "sub1",
					"keepAlive": 30,
				},
				"subscriptions": []map[string]interface{}{
					{"topic": "sensors/#", "qos": 1},
				},
			}),
			validate: func(t *testing.T, c *Config) {
				assert.Equal(t, "broker.local", c.Broker.Host)
				assert.Equal(t, 8883, c.Broker.Port)
				assert.Equal(t, "sub1", c.Broker.ClientID)
				assert.Equal(t, 30, c.Broker.KeepAlive)
				assert.Equal(t, byte(1), c.Subscriptions[0].QoS)
				assert.Equal(t, 1000, c.Delivery.QueueSize)
				assert.Equal(t, "text", c.Delivery.PayloadFormat)
			},
		},
		{
			name: "Valid YAML config",
			file: "config.yaml",
			content: `
broker:
  transport: nats
  host: nats.local
subscriptions:
  - topic: mqtt/test
delivery:
  payloadFormat: json
logging:
  level: debug
  encoding: json
`,
			validate: func(t *testing.T, c *Config) {
				assert.Equal(t, TransportNATS, c.Broker.Transport)
				assert.Equal(t, 4222, c.Broker.Port)
				assert.Equal(t, "json", c.Delivery.PayloadFormat)
				assert.Equal(t, "debug", c.Logging.Level)
				assert.True(t, strings.HasPrefix(c.Broker.ClientID, "mqttsub-"))
			},
		},
		{
			name:    "Missing subscriptions",
			file:    "nosubs.json",
			content: `{"broker": {"host": "localhost"}}`,
			wantErr: true,
		},
		{
			name:    "Invalid qos",
			file:    "qos.json",
			content: `{"subscriptions": [{"topic": "a/b", "qos": 3}]}`,
			wantErr: true,
		},
		{
			name:    "Invalid transport",
			file:    "transport.json",
			content: `{"broker": {"transport": "amqp"}, "subscriptions": [{"topic": "a"}]}`,
			wantErr: true,
		},
		{
			name:    "Malformed JSON",
			file:    "broken.json",
			content: `{"broker": `,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(tmpDir, tt.file)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))

			cfg, err := Load(path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.validate != nil {
				tt.validate(t, cfg)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"Defaults", func(c *Config) {}, false},
		{"Port out of range", func(c *Config) { c.Broker.Port = 70000 }, true},
		{"Empty host", func(c *Config) { c.Broker.Host = "" }, true},
		{"Bad connect timeout", func(c *Config) { c.Broker.ConnectTimeout = "soon" }, true},
		{"TLS without files", func(c *Config) { c.Broker.TLS.Enable = true }, true},
		{"Empty topic", func(c *Config) { c.Subscriptions[0].Topic = "" }, true},
		{"Bad payload format", func(c *Config) { c.Delivery.PayloadFormat = "xml" }, true},
		{"Bad log level", func(c *Config) { c.Logging.Level = "trace" }, true},
		{"Bad log encoding", func(c *Config) { c.Logging.Encoding = "logfmt" }, true},
		{"Bad metrics interval", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.UpdateInterval = "often"
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyOverrides(t *testing.T) {
	tests := []struct {
		name      string
		overrides Overrides
		validate  func(*testing.T, *Config)
	}{
		{
			name: "Override all values",
			overrides: Overrides{
				Transport:   TransportNATS,
				Host:        "remote",
				Port:        4222,
				ClientID:    "sub2",
				Topic:       "home/+/temp",
				QoS:         2,
				KeepAlive:   15,
				LogLevel:    "debug",
				MetricsAddr: ":9100",
			},
			validate: func(t *testing.T, c *Config) {
				assert.Equal(t, TransportNATS, c.Broker.Transport)
				assert.Equal(t, "remote", c.Broker.Host)
				assert.Equal(t, 4222, c.Broker.Port)
				assert.Equal(t, "sub2", c.Broker.ClientID)
				assert.Equal(t, 15, c.Broker.KeepAlive)
				require.Len(t, c.Subscriptions, 1)
				assert.Equal(t, "home/+/temp", c.Subscriptions[0].Topic)
				assert.Equal(t, byte(2), c.Subscriptions[0].QoS)
				assert.Equal(t, "debug", c.Logging.Level)
				assert.True(t, c.Metrics.Enabled)
				assert.Equal(t, ":9100", c.Metrics.Address)
			},
		},
		{
			name:      "No overrides",
			overrides: Overrides{QoS: -1},
			validate: func(t *testing.T, c *Config) {
				assert.Equal(t, Default(), c)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			require.NoError(t, cfg.ApplyOverrides(tt.overrides))
			tt.validate(t, cfg)
		})
	}
}

func TestApplyOverridesInvalidQoS(t *testing.T) {
	for _, qos := range []int{3, 5, -2} {
		t.Run(fmt.Sprintf("QoS %d", qos), func(t *testing.T) {
			cfg := Default()
			err := cfg.ApplyOverrides(Overrides{Host: "remote", QoS: qos})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid qos override")
			assert.Equal(t, Default(), cfg, "a rejected override changes nothing")
		})
	}
}

func TestGenerateClientID(t *testing.T) {
	a := GenerateClientID()
	b := GenerateClientID()

	assert.NotEqual(t, a, b)
	assert.LessOrEqual(t, len(a), 23)
	assert.True(t, strings.HasPrefix(a, "mqttsub-"))
}

func mustJSON(t *testing.T, v interface{}) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}
