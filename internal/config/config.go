// Package config loads verifier configuration from a YAML file and
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/TeamMavericKX/firmlockv01/pkg/store"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "60s" or "5m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	dur, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(dur)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds the verifier daemon configuration.
type Config struct {
	// ListenAddr is the HTTP listen address.
	ListenAddr string `yaml:"listen_addr"`

	// DBPath is the SQLite database location.
	DBPath string `yaml:"db_path"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// Simulate runs against the in-memory device instead of hardware.
	Simulate bool `yaml:"simulate"`

	// SerialPort is the device link (ignored when Simulate is set).
	SerialPort string `yaml:"serial_port"`

	// BaudRate for the serial link.
	BaudRate int `yaml:"baud_rate"`

	// FreshnessWindow bounds accepted evidence age.
	FreshnessWindow Duration `yaml:"freshness_window"`

	// QuarantineThreshold is the failed-attestation count that
	// escalates to quarantine.
	QuarantineThreshold int `yaml:"quarantine_threshold"`

	// QuarantineWindow bounds how far back failures count.
	QuarantineWindow Duration `yaml:"quarantine_window"`

	// NonceSweepInterval is how often expired nonces are purged.
	NonceSweepInterval Duration `yaml:"nonce_sweep_interval"`

	// SyslogSocket enables RFC 5424 audit forwarding when non-empty.
	SyslogSocket string `yaml:"syslog_socket"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		ListenAddr:          ":8440",
		DBPath:              store.DefaultPath(),
		LogLevel:            "info",
		Simulate:            true,
		SerialPort:          "/dev/ttyACM0",
		BaudRate:            115200,
		FreshnessWindow:     Duration(60 * time.Second),
		QuarantineThreshold: 3,
		QuarantineWindow:    Duration(5 * time.Minute),
		NonceSweepInterval:  Duration(time.Minute),
	}
}

// Load reads the YAML file at path (when it exists) over the defaults,
// then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	cfg.loadFromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromEnv applies FIRMLOCK_* environment overrides.
func (c *Config) loadFromEnv() {
	if v := os.Getenv("FIRMLOCK_LISTEN"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("FIRMLOCK_DB"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("FIRMLOCK_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("FIRMLOCK_SIMULATE"); v != "" {
		c.Simulate = v == "1" || v == "true"
	}
	if v := os.Getenv("FIRMLOCK_SERIAL_PORT"); v != "" {
		c.SerialPort = v
	}
	if v := os.Getenv("FIRMLOCK_BAUD_RATE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.BaudRate = n
		}
	}
	if v := os.Getenv("FIRMLOCK_FRESHNESS_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.FreshnessWindow = Duration(d)
		}
	}
	if v := os.Getenv("FIRMLOCK_SYSLOG_SOCKET"); v != "" {
		c.SyslogSocket = v
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.DBPath == "" {
		return fmt.Errorf("database path is required")
	}
	if !c.Simulate && c.SerialPort == "" {
		return fmt.Errorf("serial port is required without simulation")
	}
	if c.FreshnessWindow <= 0 {
		return fmt.Errorf("freshness window must be positive")
	}
	return nil
}
