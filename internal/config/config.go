// Package config provides configuration loading for the rule VM.
// Configuration sources (in priority order): env vars > config file > defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Heartbeats holds the per-opcode expected maximum gap between successive
// generated-data records, used by the duration sub-protocol to decide how
// many preceding records to fetch and how far apart matching records may be.
type Heartbeats struct {
	Occupancy    time.Duration `yaml:"occupancy"`
	OccupancyFor time.Duration `yaml:"occupancy_for"`
	SwitchState  time.Duration `yaml:"switch_state"`
}

// QueueConfig bounds the ready-queue and future-queue.
type QueueConfig struct {
	ReadyCapacity  int           `yaml:"ready_capacity"`
	FutureCapacity int           `yaml:"future_capacity"`
	FireSlack      time.Duration `yaml:"fire_slack"`
}

// StoreConfig selects and configures the document store backend.
type StoreConfig struct {
	// Driver is "postgres", "mysql", or "memory".
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// SMTPConfig configures the SEND_EMAIL action's transport.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// Config holds all rule VM configuration.
type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	Queues             QueueConfig   `yaml:"queues"`
	Heartbeats         Heartbeats    `yaml:"heartbeats"`
	Store              StoreConfig   `yaml:"store"`
	SMTP               SMTPConfig    `yaml:"smtp"`
	SnapshotPath       string        `yaml:"snapshot_path"`
	SnapshotEvery      time.Duration `yaml:"snapshot_every"`
	ObservabilityEvery time.Duration `yaml:"observability_every"`

	// MetricsAddr serves the Prometheus /metrics endpoint.
	MetricsAddr string `yaml:"metrics_addr"`

	// OTLPEndpoint, if non-empty, enables OTel trace export.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// Default returns configuration with the spec's defaults.
func Default() Config {
	return Config{
		LogLevel: "info",
		Queues: QueueConfig{
			ReadyCapacity:  10,
			FutureCapacity: 10,
			FireSlack:      2 * time.Second,
		},
		Heartbeats: Heartbeats{
			Occupancy:    60 * time.Second,
			OccupancyFor: 120 * time.Second,
			SwitchState:  300 * time.Second,
		},
		Store: StoreConfig{
			Driver: "memory",
		},
		SnapshotPath:       "future_task_list.cbor",
		SnapshotEvery:      5 * time.Second,
		ObservabilityEvery: 1 * time.Second,
		MetricsAddr:        ":9090",
	}
}

// Load reads configuration from a YAML file, then overlays environment
// variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv("RULEVM_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("RULEVM_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("RULEVM_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("RULEVM_SNAPSHOT_PATH"); v != "" {
		cfg.SnapshotPath = v
	}
	if v := os.Getenv("RULEVM_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("RULEVM_OTLP_ENDPOINT"); v != "" {
		cfg.OTLPEndpoint = v
	}
	if v := os.Getenv("RULEVM_SMTP_HOST"); v != "" {
		cfg.SMTP.Host = v
	}
	if v := os.Getenv("RULEVM_SMTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SMTP.Port = n
		}
	}
	if v := os.Getenv("RULEVM_SMTP_USERNAME"); v != "" {
		cfg.SMTP.Username = v
	}
	if v := os.Getenv("RULEVM_SMTP_PASSWORD"); v != "" {
		cfg.SMTP.Password = v
	}
	if v := os.Getenv("RULEVM_SMTP_FROM"); v != "" {
		cfg.SMTP.From = v
	}
	if v := os.Getenv("RULEVM_READY_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queues.ReadyCapacity = n
		}
	}
	if v := os.Getenv("RULEVM_FUTURE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queues.FutureCapacity = n
		}
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() Config {
	cfg, _ := Load("")
	return cfg
}

// Save writes configuration to a YAML file.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0640)
}

// HasSMTP returns true if an SMTP transport is configured.
func (c Config) HasSMTP() bool {
	return c.SMTP.Host != ""
}
