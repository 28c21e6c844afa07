package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mailroom.json")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{"monitoring_email": "confirmations@banco.cl"}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MonitoringEmail != "confirmations@banco.cl" {
		t.Errorf("MonitoringEmail = %q", cfg.MonitoringEmail)
	}
	if cfg.CheckIntervalSeconds != DefaultCheckIntervalSeconds {
		t.Errorf("CheckIntervalSeconds = %d, want %d", cfg.CheckIntervalSeconds, DefaultCheckIntervalSeconds)
	}
	if cfg.FallbackScanLimit != DefaultFallbackScanLimit {
		t.Errorf("FallbackScanLimit = %d, want %d", cfg.FallbackScanLimit, DefaultFallbackScanLimit)
	}
	if cfg.DedupMemoryCeiling != DefaultDedupMemoryCeiling {
		t.Errorf("DedupMemoryCeiling = %d, want %d", cfg.DedupMemoryCeiling, DefaultDedupMemoryCeiling)
	}
	if cfg.DatabasePath != DefaultDatabasePath {
		t.Errorf("DatabasePath = %q, want %q", cfg.DatabasePath, DefaultDatabasePath)
	}
}

func TestLoadKeepsExplicitZeros(t *testing.T) {
	path := writeConfig(t, `{
		"monitoring_email": "confirmations@banco.cl",
		"api_retry_cap": 0,
		"heartbeat_seconds": 0
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIRetryCap != 0 {
		t.Errorf("APIRetryCap = %d, want 0 (no retries)", cfg.APIRetryCap)
	}
	if cfg.HeartbeatSeconds != 0 {
		t.Errorf("HeartbeatSeconds = %d, want 0 (heartbeats disabled)", cfg.HeartbeatSeconds)
	}
}

func TestLoadMissingEmail(t *testing.T) {
	path := writeConfig(t, `{"check_interval_seconds": 60}`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing monitoring_email")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidateIntervalBounds(t *testing.T) {
	tests := []struct {
		interval int
		wantErr  bool
	}{
		{9, true},
		{10, false},
		{30, false},
		{3600, false},
		{3601, true},
	}
	for _, tt := range tests {
		cfg := Default()
		cfg.MonitoringEmail = "ops@banco.cl"
		cfg.CheckIntervalSeconds = tt.interval
		err := cfg.Validate()
		if (err != nil) != tt.wantErr {
			t.Errorf("Validate with interval %d: err = %v, wantErr %v", tt.interval, err, tt.wantErr)
		}
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mailroom.json")
	cfg := Default()
	cfg.MonitoringEmail = "confirmations@banco.cl"
	cfg.ServiceAccountKeyPath = "/etc/mailroom/key.json"

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded != cfg {
		t.Errorf("round trip mismatch: got %+v, want %+v", loaded, cfg)
	}
}
