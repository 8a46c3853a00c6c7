package cliconfig

import "os"

// ApplyServerEnvConfig applies configuration from environment variables
// (DSCONTROL_*). It respects flags that have been explicitly set.
// Returns an error if any variable has an invalid format.
func ApplyServerEnvConfig(cfg *ServerConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("host", os.Getenv("DSCONTROL_HOST"), &cfg.Host)
	if err := s.setIntFromString("port", os.Getenv("DSCONTROL_PORT"), &cfg.Port); err != nil {
		return err
	}
	if err := s.setDuration("heartbeat-timeout", os.Getenv("DSCONTROL_HEARTBEAT_TIMEOUT"), &cfg.HeartbeatTimeout); err != nil {
		return err
	}
	if err := s.setDuration("watchdog-tick", os.Getenv("DSCONTROL_WATCHDOG_TICK"), &cfg.WatchdogTick); err != nil {
		return err
	}
	if err := s.setDuration("status-period", os.Getenv("DSCONTROL_STATUS_PERIOD"), &cfg.StatusPeriod); err != nil {
		return err
	}
	s.setString("backend", os.Getenv("DSCONTROL_BACKEND"), &cfg.Backend)
	if err := s.setIntFromString("team", os.Getenv("DSCONTROL_TEAM_ID"), &cfg.TeamID); err != nil {
		return err
	}
	s.setString("station", os.Getenv("DSCONTROL_ALLIANCE_STATION"), &cfg.AllianceStation)
	s.setString("ds-address", os.Getenv("DSCONTROL_DS_ADDRESS"), &cfg.DSAddress)
	if err := s.setIntFromString("ds-port", os.Getenv("DSCONTROL_DS_PORT"), &cfg.DSPort); err != nil {
		return err
	}
	if err := s.setIntFromString("ds-listen-port", os.Getenv("DSCONTROL_DS_LISTEN_PORT"), &cfg.DSListenPort); err != nil {
		return err
	}
	s.setString("log-level", os.Getenv("DSCONTROL_LOG_LEVEL"), &cfg.LogLevel)
	s.setString("log-file", os.Getenv("DSCONTROL_LOG_FILE"), &cfg.LogFile)
	return nil
}

// ApplyClientEnvConfig applies configuration from environment variables
// (DSCONTROL_*). It respects flags that have been explicitly set.
func ApplyClientEnvConfig(cfg *ClientConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("server", os.Getenv("DSCONTROL_SERVER_ADDRESS"), &cfg.ServerAddress)
	if err := s.setIntFromString("port", os.Getenv("DSCONTROL_SERVER_PORT"), &cfg.ServerPort); err != nil {
		return err
	}
	s.setString("client-id", os.Getenv("DSCONTROL_CLIENT_ID"), &cfg.ClientID)
	if err := s.setDuration("heartbeat-period", os.Getenv("DSCONTROL_HEARTBEAT_PERIOD"), &cfg.HeartbeatPeriod); err != nil {
		return err
	}
	if err := s.setDuration("status-timeout", os.Getenv("DSCONTROL_STATUS_TIMEOUT"), &cfg.StatusTimeout); err != nil {
		return err
	}
	if err := s.setIntFromString("hello-attempts", os.Getenv("DSCONTROL_HELLO_ATTEMPTS"), &cfg.HelloAttempts); err != nil {
		return err
	}
	s.setString("log-level", os.Getenv("DSCONTROL_LOG_LEVEL"), &cfg.LogLevel)
	s.setString("log-file", os.Getenv("DSCONTROL_LOG_FILE"), &cfg.LogFile)
	return nil
}
