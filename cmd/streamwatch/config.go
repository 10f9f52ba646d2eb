package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/elementalcollision/graphmemory-stream/stream"
	"github.com/elementalcollision/graphmemory-stream/transform"
)

// Config is the watcher configuration, loaded from a YAML/JSON file with
// GMSTREAM_-prefixed environment overrides (GMSTREAM_CONNECTION_URL, ...).
type Config struct {
	Connection ConnectionSection  `mapstructure:"connection"`
	Metrics    MetricsSection     `mapstructure:"metrics"`
	Channels   []SubscriptionSpec `mapstructure:"subscriptions"`
}

type ConnectionSection struct {
	URL                  string        `mapstructure:"url"`
	Subprotocols         []string      `mapstructure:"subprotocols"`
	MaxReconnectAttempts int           `mapstructure:"maxReconnectAttempts"`
	ReconnectInterval    time.Duration `mapstructure:"reconnectInterval"`
	HeartbeatInterval    time.Duration `mapstructure:"heartbeatInterval"`
	ConnectTimeout       time.Duration `mapstructure:"connectTimeout"`
}

type MetricsSection struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// SubscriptionSpec is one watched channel. Transformations use the
// declarative pipeline form:
//
//	transformations:
//	  - {type: filter, field: status, value: active}
//	  - {type: aggregate, field: x, operation: avg}
type SubscriptionSpec struct {
	Channel           string           `mapstructure:"channel"`
	DataType          string           `mapstructure:"dataType"`
	BufferSize        int              `mapstructure:"bufferSize"`
	AggregationWindow time.Duration    `mapstructure:"aggregationWindow"`
	UpdateFrequency   time.Duration    `mapstructure:"updateFrequency"`
	Transformations   []map[string]any `mapstructure:"transformations"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("connection.url", "ws://localhost:8080/stream")
	v.SetDefault("connection.maxReconnectAttempts", 5)
	v.SetDefault("connection.reconnectInterval", "3s")
	v.SetDefault("connection.heartbeatInterval", "30s")
	v.SetDefault("connection.connectTimeout", "10s")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9090")
}

// loadConfig reads the config file (optional) and environment overrides.
func loadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("GMSTREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// connectionConfig converts the config section into the client's form.
func (c *Config) connectionConfig() stream.ConnectionConfig {
	return stream.ConnectionConfig{
		URL:                  c.Connection.URL,
		Subprotocols:         c.Connection.Subprotocols,
		MaxReconnectAttempts: c.Connection.MaxReconnectAttempts,
		ReconnectInterval:    c.Connection.ReconnectInterval,
		HeartbeatInterval:    c.Connection.HeartbeatInterval,
		ConnectTimeout:       c.Connection.ConnectTimeout,
	}
}

// subscriptionConfig converts one spec, decoding its declarative pipeline.
func (s SubscriptionSpec) subscriptionConfig() (stream.SubscriptionConfig, error) {
	var pipeline transform.Pipeline
	if len(s.Transformations) > 0 {
		raw, err := json.Marshal(s.Transformations)
		if err != nil {
			return stream.SubscriptionConfig{}, fmt.Errorf("encode transformations for %s: %w", s.Channel, err)
		}
		if err := json.Unmarshal(raw, &pipeline); err != nil {
			return stream.SubscriptionConfig{}, fmt.Errorf("decode transformations for %s: %w", s.Channel, err)
		}
	}

	return stream.SubscriptionConfig{
		Channel:           s.Channel,
		DataType:          stream.DataType(s.DataType),
		Transformations:   pipeline,
		BufferSize:        s.BufferSize,
		AggregationWindow: s.AggregationWindow,
		UpdateFrequency:   s.UpdateFrequency,
	}, nil
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	if err := c.connectionConfig().Validate(); err != nil {
		return err
	}
	if len(c.Channels) == 0 {
		return fmt.Errorf("no subscriptions configured")
	}
	for _, spec := range c.Channels {
		sub, err := spec.subscriptionConfig()
		if err != nil {
			return err
		}
		if err := sub.Validate(); err != nil {
			return err
		}
	}
	return nil
}
