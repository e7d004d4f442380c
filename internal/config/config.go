package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the daemon's startup configuration. Fields omitted from the
// JSON file retain their defaults, so partial configs are safe.
type Config struct {
	// Server params
	ListenAddr   *string `json:"listen_addr,omitempty"`
	DatabasePath *string `json:"database_path,omitempty"`
	Units        *string `json:"units,omitempty"`

	// Radio params
	SerialPort *string `json:"serial_port,omitempty"`
	BaudRate   *int    `json:"baud_rate,omitempty"`

	// Stream params
	GPSStalenessBound *string `json:"gps_staleness_bound,omitempty"` // duration string like "30s"

	// Client policy defaults
	ReconnectDelay  *string `json:"reconnect_delay,omitempty"`  // duration string like "5s"
	CollectInterval *string `json:"collect_interval,omitempty"` // duration string like "15s"

	// Telemetry ingestion toggle
	TelemetryEnabled *bool `json:"telemetry_enabled,omitempty"`
}

// Helper functions to create pointers
func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }
func ptrBool(v bool) *bool       { return &v }

// Empty returns a Config with all fields unset; the Get* methods supply
// the defaults.
func Empty() *Config {
	return &Config{}
}

// Load reads a Config from a JSON file. The path must end in .json and
// the file is capped at 1MB.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	if c.BaudRate != nil && *c.BaudRate <= 0 {
		return fmt.Errorf("baud_rate must be positive, got %d", *c.BaudRate)
	}

	for name, field := range map[string]*string{
		"gps_staleness_bound": c.GPSStalenessBound,
		"reconnect_delay":     c.ReconnectDelay,
		"collect_interval":    c.CollectInterval,
	} {
		if field != nil && *field != "" {
			if _, err := time.ParseDuration(*field); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *field, err)
			}
		}
	}

	return nil
}

// GetListenAddr returns the listen address or the default.
func (c *Config) GetListenAddr() string {
	if c.ListenAddr == nil || *c.ListenAddr == "" {
		return ":8080"
	}
	return *c.ListenAddr
}

// GetDatabasePath returns the database path or the default.
func (c *Config) GetDatabasePath() string {
	if c.DatabasePath == nil || *c.DatabasePath == "" {
		return "meshmap.db"
	}
	return *c.DatabasePath
}

// GetUnits returns the display units or the default.
func (c *Config) GetUnits() string {
	if c.Units == nil || *c.Units == "" {
		return "dBm"
	}
	return *c.Units
}

// GetSerialPort returns the radio serial port or the default.
func (c *Config) GetSerialPort() string {
	if c.SerialPort == nil || *c.SerialPort == "" {
		return "/dev/ttyUSB0"
	}
	return *c.SerialPort
}

// GetBaudRate returns the serial baud rate or the default.
func (c *Config) GetBaudRate() int {
	if c.BaudRate == nil {
		return 115200
	}
	return *c.BaudRate
}

// GetGPSStalenessBound parses and returns the staleness bound.
func (c *Config) GetGPSStalenessBound() time.Duration {
	if c.GPSStalenessBound == nil || *c.GPSStalenessBound == "" {
		return 30 * time.Second
	}
	d, err := time.ParseDuration(*c.GPSStalenessBound)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetReconnectDelay parses and returns the reconnect delay.
func (c *Config) GetReconnectDelay() time.Duration {
	if c.ReconnectDelay == nil || *c.ReconnectDelay == "" {
		return 5 * time.Second
	}
	d, err := time.ParseDuration(*c.ReconnectDelay)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// GetCollectInterval parses and returns the continuous collect interval.
func (c *Config) GetCollectInterval() time.Duration {
	if c.CollectInterval == nil || *c.CollectInterval == "" {
		return 15 * time.Second
	}
	d, err := time.ParseDuration(*c.CollectInterval)
	if err != nil {
		return 15 * time.Second
	}
	return d
}

// GetTelemetryEnabled returns whether passive telemetry ingestion runs.
func (c *Config) GetTelemetryEnabled() bool {
	if c.TelemetryEnabled == nil {
		return true
	}
	return *c.TelemetryEnabled
}
