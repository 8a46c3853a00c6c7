// Package cliconfig holds the flag/file/env configuration surface shared
// by the dscontrold and dscontrol binaries. Precedence, lowest to
// highest: built-in defaults, TOML config file, DSCONTROL_* environment
// variables, command line flags.
package cliconfig

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/AdarWa/DSControl/internal/backend"
	"github.com/AdarWa/DSControl/pkg/protocol"
)

// BackendSimulation and BackendFMS name the supported actuation backends.
const (
	BackendSimulation = "simulation"
	BackendFMS        = "fms"
)

// ServerConfig holds CLI configuration for the actuation host daemon.
type ServerConfig struct {
	Host string
	Port int

	HeartbeatTimeout time.Duration
	WatchdogTick     time.Duration
	StatusPeriod     time.Duration

	Backend         string
	TeamID          int
	AllianceStation string
	DSAddress       string
	DSPort          int
	DSListenPort    int

	LogLevel string
	LogFile  string
}

// DefaultServerConfig returns a ServerConfig with default values.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:             protocol.DefaultPort,
		HeartbeatTimeout: protocol.DefaultHeartbeatTimeout,
		WatchdogTick:     protocol.DefaultWatchdogTick,
		StatusPeriod:     protocol.DefaultStatusPeriod,
		Backend:          BackendSimulation,
		AllianceStation:  "R1",
		DSAddress:        "127.0.0.1",
		DSPort:           backend.DriverStationPort,
		DSListenPort:     backend.DriverStationListenPort,
		LogLevel:         "info",
	}
}

// Validate checks the configuration for errors.
func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.HeartbeatTimeout <= 0 {
		return fmt.Errorf("heartbeat timeout must be positive")
	}
	if c.WatchdogTick <= 0 {
		return fmt.Errorf("watchdog tick must be positive")
	}
	if 2*c.WatchdogTick > c.HeartbeatTimeout {
		return fmt.Errorf("watchdog tick %v must be at most half the heartbeat timeout %v",
			c.WatchdogTick, c.HeartbeatTimeout)
	}
	if c.StatusPeriod <= 0 {
		return fmt.Errorf("status period must be positive")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log level: %w", err)
	}

	switch c.Backend {
	case BackendSimulation:
	case BackendFMS:
		if c.TeamID <= 0 {
			return fmt.Errorf("team is required for the fms backend")
		}
		if c.DSAddress == "" {
			return fmt.Errorf("ds-address is required for the fms backend")
		}
		if _, err := backend.ParseAllianceStation(c.AllianceStation); err != nil {
			return err
		}
		if c.DSPort < 1 || c.DSPort > 65535 {
			return fmt.Errorf("ds-port %d out of range", c.DSPort)
		}
		if c.DSListenPort < 1 || c.DSListenPort > 65535 {
			return fmt.Errorf("ds-listen-port %d out of range", c.DSListenPort)
		}
	default:
		return fmt.Errorf("unknown backend %q (want %s or %s)", c.Backend, BackendSimulation, BackendFMS)
	}
	return nil
}

// ClientConfig holds CLI configuration for the operator terminal.
type ClientConfig struct {
	ServerAddress string
	ServerPort    int

	ClientID string

	HeartbeatPeriod time.Duration
	StatusTimeout   time.Duration
	HelloAttempts   int

	LogLevel string
	LogFile  string
}

// DefaultClientConfig returns a ClientConfig with default values. The
// client id is left empty; Validate derives a stable one on first use.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ServerAddress:   "127.0.0.1",
		ServerPort:      protocol.DefaultPort,
		HeartbeatPeriod: protocol.DefaultHeartbeatPeriod,
		StatusTimeout:   3 * protocol.DefaultStatusPeriod,
		HelloAttempts:   5,
		LogLevel:        "info",
	}
}

// GenerateClientID derives a terminal identity from the hostname plus a
// short random suffix, so two terminals on one machine stay distinct.
func GenerateClientID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "terminal"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

// Validate checks the configuration for errors and fills derived defaults.
func (c *ClientConfig) Validate() error {
	if c.ServerAddress == "" {
		return fmt.Errorf("server address is required")
	}
	if c.ServerPort < 1 || c.ServerPort > 65535 {
		return fmt.Errorf("server port %d out of range", c.ServerPort)
	}
	if c.HeartbeatPeriod <= 0 {
		return fmt.Errorf("heartbeat period must be positive")
	}
	if c.StatusTimeout <= 0 {
		return fmt.Errorf("status timeout must be positive")
	}
	if c.HelloAttempts < 1 {
		return fmt.Errorf("hello attempts must be at least 1")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	if c.ClientID == "" {
		c.ClientID = GenerateClientID()
	}
	return nil
}

// configSetter helps apply configuration values while respecting flag
// precedence. It only applies values if the corresponding flag hasn't
// been explicitly set.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration from string if valid and flag
// not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setIntFromString parses a string to int and sets the destination if
// valid. Used for environment variables that come as strings.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}
