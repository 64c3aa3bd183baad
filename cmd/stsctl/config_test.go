package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stsctl.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Port != "/dev/ttyUSB0" {
		t.Errorf("port: got %q, want /dev/ttyUSB0", cfg.Port)
	}
	if cfg.BaudRate != 1000000 {
		t.Errorf("baud rate: got %d, want 1000000", cfg.BaudRate)
	}
	if cfg.timeout() != 100*time.Millisecond {
		t.Errorf("timeout: got %v, want 100ms", cfg.timeout())
	}
	if cfg.Scan.From != 0 || cfg.Scan.To != 253 {
		t.Errorf("scan range: got %d to %d, want 0 to 253", cfg.Scan.From, cfg.Scan.To)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
port: /dev/ttyACM1
baud_rate: 115200
timeout_ms: 250
scan:
  from: 1
  to: 30
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Port != "/dev/ttyACM1" {
		t.Errorf("port: got %q, want /dev/ttyACM1", cfg.Port)
	}
	if cfg.BaudRate != 115200 {
		t.Errorf("baud rate: got %d, want 115200", cfg.BaudRate)
	}
	if cfg.timeout() != 250*time.Millisecond {
		t.Errorf("timeout: got %v, want 250ms", cfg.timeout())
	}
	if cfg.Scan.From != 1 || cfg.Scan.To != 30 {
		t.Errorf("scan range: got %d to %d, want 1 to 30", cfg.Scan.From, cfg.Scan.To)
	}
	// Unset fields keep their defaults.
	if cfg.minCommandGap() != time.Millisecond {
		t.Errorf("command gap: got %v, want 1ms", cfg.minCommandGap())
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"bad yaml", "port: [unclosed"},
		{"empty port", `port: ""`},
		{"negative timeout", "timeout_ms: -5"},
		{"inverted scan range", "scan:\n  from: 50\n  to: 10"},
		{"scan beyond max id", "scan:\n  to: 300"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.content)
			if _, err := LoadConfig(path); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected an error")
	}
}
