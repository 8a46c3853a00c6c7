package cliconfig

import (
	"fmt"
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// ServerFileConfig mirrors ServerConfig but uses strings for durations to
// make TOML friendly.
type ServerFileConfig struct {
	Host             string `toml:"host"`
	Port             int    `toml:"port"`
	HeartbeatTimeout string `toml:"heartbeat_timeout"`
	WatchdogTick     string `toml:"watchdog_tick"`
	StatusPeriod     string `toml:"status_period"`
	Backend          string `toml:"backend"`
	TeamID           int    `toml:"team_id"`
	AllianceStation  string `toml:"alliance_station"`
	DSAddress        string `toml:"ds_address"`
	DSPort           int    `toml:"ds_port"`
	DSListenPort     int    `toml:"ds_listen_port"`
	LogLevel         string `toml:"log_level"`
	LogFile          string `toml:"log_file"`
}

// ClientFileConfig mirrors ClientConfig for the TOML file.
type ClientFileConfig struct {
	ServerAddress   string `toml:"server_address"`
	ServerPort      int    `toml:"server_port"`
	ClientID        string `toml:"client_id"`
	HeartbeatPeriod string `toml:"heartbeat_period"`
	StatusTimeout   string `toml:"status_timeout"`
	HelloAttempts   int    `toml:"hello_attempts"`
	LogLevel        string `toml:"log_level"`
	LogFile         string `toml:"log_file"`
}

// LoadServerFileConfig reads and parses a TOML config file from path.
func LoadServerFileConfig(path string) (ServerFileConfig, error) {
	var fc ServerFileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// LoadClientFileConfig reads and parses a TOML config file from path.
func LoadClientFileConfig(path string) (ClientFileConfig, error) {
	var fc ClientFileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultServerConfigPath returns ~/.dscontrol/server.toml when the home
// directory is accessible, empty otherwise.
func DefaultServerConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".dscontrol", "server.toml")
	}
	return ""
}

// DefaultClientConfigPath returns ~/.dscontrol/client.toml when the home
// directory is accessible, empty otherwise.
func DefaultClientConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".dscontrol", "client.toml")
	}
	return ""
}

// ApplyServerFileConfig applies configuration from a file to the
// ServerConfig. It respects flags that have been explicitly set.
func ApplyServerFileConfig(cfg *ServerConfig, fc ServerFileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("host", fc.Host, &cfg.Host)
	s.setInt("port", fc.Port, &cfg.Port)
	if err := s.setDuration("heartbeat-timeout", fc.HeartbeatTimeout, &cfg.HeartbeatTimeout); err != nil {
		return err
	}
	if err := s.setDuration("watchdog-tick", fc.WatchdogTick, &cfg.WatchdogTick); err != nil {
		return err
	}
	if err := s.setDuration("status-period", fc.StatusPeriod, &cfg.StatusPeriod); err != nil {
		return err
	}
	s.setString("backend", fc.Backend, &cfg.Backend)
	s.setInt("team", fc.TeamID, &cfg.TeamID)
	s.setString("station", fc.AllianceStation, &cfg.AllianceStation)
	s.setString("ds-address", fc.DSAddress, &cfg.DSAddress)
	s.setInt("ds-port", fc.DSPort, &cfg.DSPort)
	s.setInt("ds-listen-port", fc.DSListenPort, &cfg.DSListenPort)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setString("log-file", fc.LogFile, &cfg.LogFile)
	return nil
}

// ApplyClientFileConfig applies configuration from a file to the
// ClientConfig. It respects flags that have been explicitly set.
func ApplyClientFileConfig(cfg *ClientConfig, fc ClientFileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("server", fc.ServerAddress, &cfg.ServerAddress)
	s.setInt("port", fc.ServerPort, &cfg.ServerPort)
	s.setString("client-id", fc.ClientID, &cfg.ClientID)
	if err := s.setDuration("heartbeat-period", fc.HeartbeatPeriod, &cfg.HeartbeatPeriod); err != nil {
		return err
	}
	if err := s.setDuration("status-timeout", fc.StatusTimeout, &cfg.StatusTimeout); err != nil {
		return err
	}
	s.setInt("hello-attempts", fc.HelloAttempts, &cfg.HelloAttempts)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setString("log-file", fc.LogFile, &cfg.LogFile)
	return nil
}

// SeedClientConfig writes a commented starter config to path unless one
// already exists, so the client id generated on first run survives
// restarts. An empty path is a no-op.
func SeedClientConfig(path string, cfg ClientConfig) error {
	if path == "" || FileExists(path) {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	content := fmt.Sprintf(`# dscontrol client configuration.
# Values here are overridden by DSCONTROL_* environment variables and flags.

server_address = %q
server_port = %d

# Stable identity announced to the host. Generated on first run.
client_id = %q

heartbeat_period = %q
status_timeout = %q
log_level = %q
`, cfg.ServerAddress, cfg.ServerPort, cfg.ClientID,
		cfg.HeartbeatPeriod.String(), cfg.StatusTimeout.String(), cfg.LogLevel)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
