package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/AdarWa/DSControl/internal/backend"
	"github.com/AdarWa/DSControl/internal/cliconfig"
	"github.com/AdarWa/DSControl/internal/server"
)

const helpDescription = `
Run the actuation host: the single owner of the device safety state.

Highlights:
  - Arbitrates enable/disable/estop commands from operator terminals.
  - Watchdog forces Disable when every terminal's heartbeats stop.
  - Broadcasts the device status to all live terminals.
  - Configure via file, environment (DSCONTROL_*), or flags.
`

var exampleUsage = strings.TrimSpace(`
  dscontrold
  dscontrold --port 8750 --heartbeat-timeout 250ms --watchdog-tick 50ms
  dscontrold --backend fms --team 1690 --ds-address 10.16.90.5
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	cfg := cliconfig.DefaultServerConfig()
	var cfgPath string

	bootLog, _ := cliconfig.Logger("info", "")

	root := &cobra.Command{
		Use:     "dscontrold",
		Short:   "Actuation host daemon: arbitrates operator commands and enforces the heartbeat watchdog",
		Long:    strings.TrimSpace(helpDescription),
		Example: exampleUsage,
		Version: fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Determine config path
			cfgFile := cfgPath
			if cfgFile == "" {
				cfgFile = cliconfig.DefaultServerConfigPath()
			}

			// Build set of changed flags
			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

			if cfgFile != "" && cliconfig.FileExists(cfgFile) {
				fc, err := cliconfig.LoadServerFileConfig(cfgFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				if err := cliconfig.ApplyServerFileConfig(&cfg, fc, changed); err != nil {
					return err
				}
			}

			// Environment overrides file config but is overridden by flags
			// (checked via changed map).
			if err := cliconfig.ApplyServerEnvConfig(&cfg, changed); err != nil {
				return err
			}

			if err := cfg.Validate(); err != nil {
				return err
			}

			log, err := cliconfig.Logger(cfg.LogLevel, cfg.LogFile)
			if err != nil {
				return err
			}
			log.Info().Interface("config", cfg).Msg("configuration")

			var b backend.ActuationBackend
			switch cfg.Backend {
			case cliconfig.BackendFMS:
				station, err := backend.ParseAllianceStation(cfg.AllianceStation)
				if err != nil {
					return err
				}
				fms, err := backend.NewFMS(backend.FMSConfig{
					TeamID:     cfg.TeamID,
					Station:    station,
					DSAddress:  cfg.DSAddress,
					DSPort:     cfg.DSPort,
					ListenPort: cfg.DSListenPort,
				}, log)
				if err != nil {
					return fmt.Errorf("fms backend: %w", err)
				}
				b = fms
			default:
				b = backend.NewSimulation(log)
			}
			defer b.Close()

			srvCfg := server.DefaultConfig()
			srvCfg.Host = cfg.Host
			srvCfg.Port = cfg.Port
			srvCfg.HeartbeatTimeout = cfg.HeartbeatTimeout
			srvCfg.WatchdogTick = cfg.WatchdogTick
			srvCfg.StatusPeriod = cfg.StatusPeriod

			srv, err := server.New(srvCfg, b, server.WithLogger(log))
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			// Hot reload: re-resolve the file against the same flag
			// precedence, then retune the running server. Flags that were
			// set on the command line keep winning.
			if cfgFile != "" {
				reload := func() {
					next := cliconfig.DefaultServerConfig()
					fc, err := cliconfig.LoadServerFileConfig(cfgFile)
					if err != nil {
						log.Warn().Err(err).Msg("config reload failed")
						return
					}
					if err := cliconfig.ApplyServerFileConfig(&next, fc, changed); err != nil {
						log.Warn().Err(err).Msg("config reload failed")
						return
					}
					if err := cliconfig.ApplyServerEnvConfig(&next, changed); err != nil {
						log.Warn().Err(err).Msg("config reload failed")
						return
					}
					if err := next.Validate(); err != nil {
						log.Warn().Err(err).Msg("config reload rejected")
						return
					}
					if err := srv.UpdateTiming(server.Timing{
						HeartbeatTimeout: next.HeartbeatTimeout,
						WatchdogTick:     next.WatchdogTick,
						StatusPeriod:     next.StatusPeriod,
					}); err != nil {
						log.Warn().Err(err).Msg("config reload rejected")
						return
					}
					if err := cliconfig.SetLevel(next.LogLevel); err != nil {
						log.Warn().Err(err).Msg("config reload: bad log level")
					}
				}
				go server.NewConfigWatcher(cfgFile, log, reload).Run(ctx)
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				select {
				case <-sigCh:
					log.Info().Msg("received signal, stopping...")
					cancel()
				case <-ctx.Done():
				}
			}()

			return srv.Run(ctx)
		},
	}

	// Flags
	root.Flags().StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.dscontrol/server.toml)")
	root.Flags().StringVar(&cfg.Host, "host", cfg.Host, "local address to bind (default: all interfaces)")
	root.Flags().IntVar(&cfg.Port, "port", cfg.Port, "UDP port to listen on")

	root.Flags().DurationVar(&cfg.HeartbeatTimeout, "heartbeat-timeout", cfg.HeartbeatTimeout, "silence window after which a terminal session expires")
	root.Flags().DurationVar(&cfg.WatchdogTick, "watchdog-tick", cfg.WatchdogTick, "watchdog sweep interval (at most half the heartbeat timeout)")
	root.Flags().DurationVar(&cfg.StatusPeriod, "status-period", cfg.StatusPeriod, "status broadcast interval")

	root.Flags().StringVar(&cfg.Backend, "backend", cfg.Backend, "actuation backend: simulation or fms")
	root.Flags().IntVar(&cfg.TeamID, "team", cfg.TeamID, "FRC team number (fms backend)")
	root.Flags().StringVar(&cfg.AllianceStation, "station", cfg.AllianceStation, "alliance station R1-R3/B1-B3 (fms backend)")
	root.Flags().StringVar(&cfg.DSAddress, "ds-address", cfg.DSAddress, "driver station address (fms backend)")
	root.Flags().IntVar(&cfg.DSPort, "ds-port", cfg.DSPort, "driver station control port (fms backend)")
	root.Flags().IntVar(&cfg.DSListenPort, "ds-listen-port", cfg.DSListenPort, "local port for driver station status packets (fms backend)")

	root.Flags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: trace, debug, info, warn, error")
	root.Flags().StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "also append JSON logs to this file")

	if err := root.Execute(); err != nil {
		bootLog.Error().Err(err).Msg("dscontrold")
		os.Exit(1)
	}
}
