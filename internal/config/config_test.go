package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ListenAddr != ":8440" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if !cfg.Simulate {
		t.Error("Simulate should default to true")
	}
	if cfg.FreshnessWindow.Std() != 60*time.Second {
		t.Errorf("FreshnessWindow = %s", cfg.FreshnessWindow.Std())
	}
	if cfg.BaudRate != 115200 {
		t.Errorf("BaudRate = %d", cfg.BaudRate)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "firmlock.yaml")
	yaml := `
listen_addr: ":9000"
simulate: false
serial_port: /dev/ttyUSB3
freshness_window: 30s
quarantine_threshold: 5
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ListenAddr != ":9000" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.Simulate {
		t.Error("Simulate should be false")
	}
	if cfg.SerialPort != "/dev/ttyUSB3" {
		t.Errorf("SerialPort = %q", cfg.SerialPort)
	}
	if cfg.FreshnessWindow.Std() != 30*time.Second {
		t.Errorf("FreshnessWindow = %s", cfg.FreshnessWindow.Std())
	}
	if cfg.QuarantineThreshold != 5 {
		t.Errorf("QuarantineThreshold = %d", cfg.QuarantineThreshold)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ListenAddr != ":8440" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FIRMLOCK_LISTEN", ":7777")
	t.Setenv("FIRMLOCK_SIMULATE", "false")
	t.Setenv("FIRMLOCK_SERIAL_PORT", "/dev/ttyACM9")
	t.Setenv("FIRMLOCK_FRESHNESS_WINDOW", "90s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ListenAddr != ":7777" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.Simulate {
		t.Error("Simulate should be false")
	}
	if cfg.SerialPort != "/dev/ttyACM9" {
		t.Errorf("SerialPort = %q", cfg.SerialPort)
	}
	if cfg.FreshnessWindow.Std() != 90*time.Second {
		t.Errorf("FreshnessWindow = %s", cfg.FreshnessWindow.Std())
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Simulate = false
	cfg.SerialPort = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing serial port")
	}

	cfg = Default()
	cfg.ListenAddr = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing listen address")
	}
}
