package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const maxShards = 4096

// EngineConfig holds the dedup table and reaper parameters.
type EngineConfig struct {
	SweepInterval   string `yaml:"sweep_interval"`
	Retention       string `yaml:"retention"`
	ReportThreshold int    `yaml:"report_threshold"`
	Shards          int    `yaml:"shards"`
}

// CaptureConfig holds the live capture handle options.
type CaptureConfig struct {
	SnapshotLen int32  `yaml:"snapshot_len"`
	Promiscuous bool   `yaml:"promiscuous"`
	ReadTimeout string `yaml:"read_timeout"`
	BPFFilter   string `yaml:"bpf_filter"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// APIConfig enables the HTTP query API and the gRPC health service.
type APIConfig struct {
	Enabled        bool   `yaml:"enabled"`
	ListenAddr     string `yaml:"listen_addr"`
	GRPCListenAddr string `yaml:"grpc_listen_addr"`
}

// NATSConfig enables publishing of duplicate reports to NATS.
type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// ClickHouseConfig enables storing duplicate reports in ClickHouse.
type ClickHouseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Engine     EngineConfig     `yaml:"engine"`
	Capture    CaptureConfig    `yaml:"capture"`
	Log        LogConfig        `yaml:"log"`
	API        APIConfig        `yaml:"api"`
	NATS       NATSConfig       `yaml:"nats"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			SweepInterval:   "10s",
			Retention:       "30s",
			ReportThreshold: 2,
			Shards:          16,
		},
		Capture: CaptureConfig{
			SnapshotLen: 1600,
			Promiscuous: false,
			ReadTimeout: "500ms",
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
		API: APIConfig{
			ListenAddr:     ":9470",
			GRPCListenAddr: ":9471",
		},
		NATS: NATSConfig{
			URL:     "nats://127.0.0.1:4222",
			Subject: "dupharvest.duplicates",
		},
		ClickHouse: ClickHouseConfig{
			Host:     "127.0.0.1",
			Port:     9000,
			Database: "default",
			Username: "default",
		},
	}
}

// LoadConfig reads the configuration from a YAML file on top of the defaults.
// An empty path yields the defaults.
func LoadConfig(filePath string) (*Config, error) {
	cfg := Default()
	if filePath == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that every duration parses and every bound is sane.
func (c *Config) Validate() error {
	if _, err := c.Engine.SweepIntervalDuration(); err != nil {
		return err
	}
	if _, err := c.Engine.RetentionDuration(); err != nil {
		return err
	}
	if _, err := c.Capture.ReadTimeoutDuration(); err != nil {
		return err
	}
	if c.Engine.ReportThreshold < 1 {
		return fmt.Errorf("engine.report_threshold must be at least 1, got %d", c.Engine.ReportThreshold)
	}
	if c.Engine.Shards < 1 || c.Engine.Shards > maxShards {
		return fmt.Errorf("engine.shards must be within 1..%d, got %d", maxShards, c.Engine.Shards)
	}
	if c.Capture.SnapshotLen <= 0 {
		return errors.New("capture.snapshot_len must be positive")
	}
	if c.NATS.Enabled && c.NATS.Subject == "" {
		return errors.New("nats.subject must not be empty when nats is enabled")
	}
	return nil
}

// RetentionExceedsInterval reports whether every record gets at least one
// reporting opportunity before it can be evicted.
func (e EngineConfig) RetentionExceedsInterval() bool {
	interval, err1 := e.SweepIntervalDuration()
	retention, err2 := e.RetentionDuration()
	return err1 == nil && err2 == nil && retention > interval
}

// SweepIntervalDuration parses the reaper cadence.
func (e EngineConfig) SweepIntervalDuration() (time.Duration, error) {
	return positiveDuration("engine.sweep_interval", e.SweepInterval)
}

// RetentionDuration parses the maximum record age.
func (e EngineConfig) RetentionDuration() (time.Duration, error) {
	return positiveDuration("engine.retention", e.Retention)
}

// ReadTimeoutDuration parses the capture read timeout.
func (c CaptureConfig) ReadTimeoutDuration() (time.Duration, error) {
	return positiveDuration("capture.read_timeout", c.ReadTimeout)
}

func positiveDuration(name, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration", name)
	}
	return d, nil
}
