package cliconfig

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestApplyServerFileConfig(t *testing.T) {
	tests := []struct {
		name       string
		fileConfig ServerFileConfig
		changed    map[string]bool
		initial    ServerConfig
		expected   ServerConfig
		wantErr    bool
	}{
		{
			name: "applies all valid config values",
			fileConfig: ServerFileConfig{
				Host:             "10.0.0.5",
				Port:             9000,
				HeartbeatTimeout: "500ms",
				WatchdogTick:     "100ms",
				StatusPeriod:     "250ms",
				Backend:          "fms",
				TeamID:           5987,
				AllianceStation:  "B2",
				DSAddress:        "10.59.87.5",
				DSPort:           1121,
				DSListenPort:     1160,
				LogLevel:         "debug",
				LogFile:          "/var/log/dscontrold.log",
			},
			changed: map[string]bool{},
			initial: ServerConfig{},
			expected: ServerConfig{
				Host:             "10.0.0.5",
				Port:             9000,
				HeartbeatTimeout: 500 * time.Millisecond,
				WatchdogTick:     100 * time.Millisecond,
				StatusPeriod:     250 * time.Millisecond,
				Backend:          "fms",
				TeamID:           5987,
				AllianceStation:  "B2",
				DSAddress:        "10.59.87.5",
				DSPort:           1121,
				DSListenPort:     1160,
				LogLevel:         "debug",
				LogFile:          "/var/log/dscontrold.log",
			},
		},
		{
			name: "respects changed flags",
			fileConfig: ServerFileConfig{
				Port:    9000,
				Backend: "fms",
			},
			changed: map[string]bool{"port": true},
			initial: ServerConfig{Port: 8750},
			expected: ServerConfig{
				Port:    8750, // unchanged because flag was set
				Backend: "fms",
			},
		},
		{
			name:       "rejects malformed duration",
			fileConfig: ServerFileConfig{HeartbeatTimeout: "fast"},
			changed:    map[string]bool{},
			wantErr:    true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.initial
			err := ApplyServerFileConfig(&cfg, tt.fileConfig, tt.changed)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ApplyServerFileConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(cfg, tt.expected) {
				t.Errorf("config = %+v\nwant %+v", cfg, tt.expected)
			}
		})
	}
}

func TestApplyClientFileConfig(t *testing.T) {
	cfg := ClientConfig{ServerAddress: "127.0.0.1", ServerPort: 8750}
	fc := ClientFileConfig{
		ServerAddress:   "192.168.1.20",
		ServerPort:      9100,
		ClientID:        "bench-1",
		HeartbeatPeriod: "50ms",
		StatusTimeout:   "600ms",
		HelloAttempts:   8,
		LogLevel:        "warn",
	}
	changed := map[string]bool{"server": true}

	if err := ApplyClientFileConfig(&cfg, fc, changed); err != nil {
		t.Fatalf("ApplyClientFileConfig() error: %v", err)
	}
	if cfg.ServerAddress != "127.0.0.1" {
		t.Errorf("ServerAddress = %q, flag should have won", cfg.ServerAddress)
	}
	if cfg.ServerPort != 9100 || cfg.ClientID != "bench-1" || cfg.HelloAttempts != 8 {
		t.Errorf("config = %+v", cfg)
	}
	if cfg.HeartbeatPeriod != 50*time.Millisecond || cfg.StatusTimeout != 600*time.Millisecond {
		t.Errorf("durations = %v / %v", cfg.HeartbeatPeriod, cfg.StatusTimeout)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestLoadServerFileConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.toml")
	content := `host = "0.0.0.0"
port = 8750
heartbeat_timeout = "250ms"
watchdog_tick = "50ms"
backend = "simulation"
log_level = "info"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	fc, err := LoadServerFileConfig(path)
	if err != nil {
		t.Fatalf("LoadServerFileConfig() error: %v", err)
	}
	if fc.Host != "0.0.0.0" || fc.Port != 8750 || fc.HeartbeatTimeout != "250ms" {
		t.Errorf("loaded = %+v", fc)
	}

	if _, err := LoadServerFileConfig(filepath.Join(dir, "missing.toml")); err == nil {
		t.Error("loading a missing file did not fail")
	}

	bad := filepath.Join(dir, "bad.toml")
	if err := os.WriteFile(bad, []byte("port = ["), 0o644); err != nil {
		t.Fatalf("write bad config: %v", err)
	}
	if _, err := LoadServerFileConfig(bad); err == nil {
		t.Error("loading malformed TOML did not fail")
	}
}

func TestSeedClientConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dscontrol", "client.toml")

	cfg := DefaultClientConfig()
	cfg.ClientID = "bench-abc12345"
	if err := SeedClientConfig(path, cfg); err != nil {
		t.Fatalf("SeedClientConfig() error: %v", err)
	}

	// The written file round-trips through the loader.
	fc, err := LoadClientFileConfig(path)
	if err != nil {
		t.Fatalf("LoadClientFileConfig() error: %v", err)
	}
	if fc.ClientID != "bench-abc12345" {
		t.Errorf("ClientID = %q", fc.ClientID)
	}
	if fc.ServerPort != cfg.ServerPort || fc.HeartbeatPeriod != cfg.HeartbeatPeriod.String() {
		t.Errorf("seeded file = %+v", fc)
	}

	// Seeding never clobbers an existing file.
	cfg.ClientID = "bench-other"
	if err := SeedClientConfig(path, cfg); err != nil {
		t.Fatalf("second SeedClientConfig() error: %v", err)
	}
	fc, err = LoadClientFileConfig(path)
	if err != nil {
		t.Fatalf("reload error: %v", err)
	}
	if fc.ClientID != "bench-abc12345" {
		t.Errorf("ClientID after reseed = %q, want original", fc.ClientID)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read seeded file: %v", err)
	}
	if !strings.Contains(string(data), "# dscontrol client configuration") {
		t.Error("seeded file lost its header comment")
	}
}
