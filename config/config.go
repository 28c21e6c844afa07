package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Defaults for the optional knobs. The monitoring email has no default; a
// config file without it is rejected.
const (
	DefaultCheckIntervalSeconds = 30
	DefaultFallbackScanLimit    = 50
	DefaultDedupMemoryCeiling   = 10000
	DefaultSubscriberBuffer     = 100
	DefaultHeartbeatSeconds     = 30
	DefaultAPITimeoutSeconds    = 30
	DefaultAPIRetryCap          = 5
	DefaultDatabasePath         = "mailroom.db"
)

// Bounds on the poll cadence, enforced both here and at the supervisor.
const (
	MinCheckIntervalSeconds = 10
	MaxCheckIntervalSeconds = 3600
)

// Config holds every option the ingestion core recognizes.
type Config struct {
	MonitoringEmail          string `json:"monitoring_email"`
	ServiceAccountKeyPath    string `json:"service_account_key_path,omitempty"`
	ImpersonationPrincipal   string `json:"impersonation_principal,omitempty"`
	CheckIntervalSeconds     int    `json:"check_interval_seconds"`
	FallbackScanLimit        int    `json:"fallback_scan_limit"`
	DedupMemoryCeiling       int    `json:"dedup_memory_ceiling"`
	SubscriberBufferCapacity int    `json:"subscriber_buffer_capacity"`
	HeartbeatSeconds         int    `json:"heartbeat_seconds"`
	APITimeoutSeconds        int    `json:"api_timeout_seconds"`
	APIRetryCap              int    `json:"api_retry_cap"`
	DatabasePath             string `json:"database_path"`
	LogPath                  string `json:"log_path,omitempty"`
}

// Default returns a Config with every optional field at its default value.
func Default() Config {
	return Config{
		CheckIntervalSeconds:     DefaultCheckIntervalSeconds,
		FallbackScanLimit:        DefaultFallbackScanLimit,
		DedupMemoryCeiling:       DefaultDedupMemoryCeiling,
		SubscriberBufferCapacity: DefaultSubscriberBuffer,
		HeartbeatSeconds:         DefaultHeartbeatSeconds,
		APITimeoutSeconds:        DefaultAPITimeoutSeconds,
		APIRetryCap:              DefaultAPIRetryCap,
		DatabasePath:             DefaultDatabasePath,
	}
}

// Load reads a JSON config file, fills in defaults for absent fields, and
// validates the result. Absent fields keep their defaults because the file is
// decoded over a Config primed by Default; an explicit zero stays zero, so
// "api_retry_cap": 0 means no retries and "heartbeat_seconds": 0 disables
// heartbeats.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save writes the config back out as indented JSON.
func Save(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks required fields and numeric bounds.
func (c Config) Validate() error {
	if c.MonitoringEmail == "" {
		return fmt.Errorf("monitoring_email is required")
	}
	if c.CheckIntervalSeconds < MinCheckIntervalSeconds || c.CheckIntervalSeconds > MaxCheckIntervalSeconds {
		return fmt.Errorf("check_interval_seconds must be between %d and %d, got %d",
			MinCheckIntervalSeconds, MaxCheckIntervalSeconds, c.CheckIntervalSeconds)
	}
	if c.FallbackScanLimit < 1 {
		return fmt.Errorf("fallback_scan_limit must be positive, got %d", c.FallbackScanLimit)
	}
	if c.DedupMemoryCeiling < 2 {
		return fmt.Errorf("dedup_memory_ceiling must be at least 2, got %d", c.DedupMemoryCeiling)
	}
	if c.SubscriberBufferCapacity < 1 {
		return fmt.Errorf("subscriber_buffer_capacity must be positive, got %d", c.SubscriberBufferCapacity)
	}
	if c.APITimeoutSeconds < 1 {
		return fmt.Errorf("api_timeout_seconds must be positive, got %d", c.APITimeoutSeconds)
	}
	if c.APIRetryCap < 0 {
		return fmt.Errorf("api_retry_cap must not be negative, got %d", c.APIRetryCap)
	}
	if c.HeartbeatSeconds < 0 {
		return fmt.Errorf("heartbeat_seconds must not be negative, got %d", c.HeartbeatSeconds)
	}
	return nil
}

// CheckInterval returns the poll cadence as a duration.
func (c Config) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSeconds) * time.Second
}

// Heartbeat returns the subscriber heartbeat cadence as a duration.
func (c Config) Heartbeat() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

// APITimeout returns the per-call Gmail API timeout as a duration.
func (c Config) APITimeout() time.Duration {
	return time.Duration(c.APITimeoutSeconds) * time.Second
}
