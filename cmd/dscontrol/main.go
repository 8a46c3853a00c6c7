package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/AdarWa/DSControl/internal/client"
	"github.com/AdarWa/DSControl/internal/cliconfig"
	"github.com/AdarWa/DSControl/pkg/protocol"
)

const helpDescription = `
Operator terminal for a dscontrold actuation host.

Interactive mode reads commands from stdin:
  enable, disable, estop   send the command to the host
  status                   print the last received device status
  quit                     exit (the host disables the device once every
                           terminal is gone)

One-shot mode (--command) sends a single command and exits 0 only when the
host acknowledged it as applied.
`

var exampleUsage = strings.TrimSpace(`
  dscontrol --server 10.0.0.17
  dscontrol --server 10.0.0.17 --command estop
  DSCONTROL_SERVER_ADDRESS=10.0.0.17 dscontrol
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	cfg := cliconfig.DefaultClientConfig()
	var cfgPath, command string

	bootLog, _ := cliconfig.Logger("info", "")

	root := &cobra.Command{
		Use:     "dscontrol",
		Short:   "Operator terminal: hold a session with the actuation host and issue device commands",
		Long:    strings.TrimSpace(helpDescription),
		Example: exampleUsage,
		Version: fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Determine config path
			cfgFile := cfgPath
			if cfgFile == "" {
				cfgFile = cliconfig.DefaultClientConfigPath()
			}

			// Build set of changed flags
			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

			if cfgFile != "" && cliconfig.FileExists(cfgFile) {
				fc, err := cliconfig.LoadClientFileConfig(cfgFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				if err := cliconfig.ApplyClientFileConfig(&cfg, fc, changed); err != nil {
					return err
				}
			}

			// Environment overrides file config but is overridden by flags
			// (checked via changed map).
			if err := cliconfig.ApplyClientEnvConfig(&cfg, changed); err != nil {
				return err
			}

			// Validate derives the client id when none was configured.
			if err := cfg.Validate(); err != nil {
				return err
			}

			log, err := cliconfig.Logger(cfg.LogLevel, cfg.LogFile)
			if err != nil {
				return err
			}

			// First run: persist the settings, generated client id
			// included, so the terminal keeps its identity.
			if cfgFile != "" && !cliconfig.FileExists(cfgFile) {
				if err := cliconfig.SeedClientConfig(cfgFile, cfg); err != nil {
					log.Warn().Err(err).Str("path", cfgFile).Msg("could not write settings file")
				}
			}

			ccfg := client.Config{
				ServerAddress:   net.JoinHostPort(cfg.ServerAddress, strconv.Itoa(cfg.ServerPort)),
				ClientID:        cfg.ClientID,
				HeartbeatPeriod: cfg.HeartbeatPeriod,
				StatusTimeout:   cfg.StatusTimeout,
				HelloAttempts:   cfg.HelloAttempts,
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				select {
				case <-sigCh:
					cancel()
				case <-ctx.Done():
				}
			}()

			if command != "" {
				action, err := protocol.ParseAction(command)
				if err != nil {
					return fmt.Errorf("unknown command %q (want enable, disable or estop)", command)
				}
				out, err := client.ExecuteOnce(ctx, ccfg, action, client.WithLogger(log))
				if err != nil {
					return err
				}
				if !out.Success {
					return fmt.Errorf("%s: %s", action, out.Message)
				}
				fmt.Printf("%s acknowledged by host\n", action)
				return nil
			}

			return runShell(ctx, cancel, ccfg, log)
		},
	}

	// Flags
	root.Flags().StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.dscontrol/client.toml)")
	root.Flags().StringVar(&cfg.ServerAddress, "server", cfg.ServerAddress, "actuation host address")
	root.Flags().IntVar(&cfg.ServerPort, "port", cfg.ServerPort, "actuation host UDP port")
	root.Flags().StringVar(&cfg.ClientID, "client-id", cfg.ClientID, "terminal identity (default: derived from hostname)")

	root.Flags().DurationVar(&cfg.HeartbeatPeriod, "heartbeat-period", cfg.HeartbeatPeriod, "gap between heartbeats")
	root.Flags().DurationVar(&cfg.StatusTimeout, "status-timeout", cfg.StatusTimeout, "silence window after which the link counts as lost")
	root.Flags().IntVar(&cfg.HelloAttempts, "hello-attempts", cfg.HelloAttempts, "unanswered hellos before giving up")

	root.Flags().StringVar(&command, "command", "", "one-shot mode: send enable, disable or estop and exit")

	root.Flags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: trace, debug, info, warn, error")
	root.Flags().StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "also append JSON logs to this file")

	if err := root.Execute(); err != nil {
		bootLog.Error().Err(err).Msg("dscontrol")
		os.Exit(1)
	}
}

// runShell drives the interactive loop until quit, EOF, cancellation or a
// client failure.
func runShell(ctx context.Context, cancel context.CancelFunc, ccfg client.Config, log zerolog.Logger) error {
	// Broadcasts arrive at 10 Hz; only meaningful changes reach the
	// operator.
	var prev *protocol.Status
	onStatus := func(st protocol.Status) {
		if !statusChanged(prev, st) {
			return
		}
		prev = st.Clone()
		fmt.Println(formatStatus(st))
	}
	onConn := func(s client.ConnState) { fmt.Printf("link: %s\n", s) }
	onErr := func(reason string) { fmt.Printf("host error: %s\n", reason) }

	c, err := client.New(ccfg,
		client.WithLogger(log),
		client.WithStatusHandler(onStatus),
		client.WithConnStateHandler(onConn),
		client.WithErrorHandler(onErr),
	)
	if err != nil {
		return err
	}

	runCh := make(chan error, 1)
	go func() { runCh <- c.Run(ctx) }()

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- strings.TrimSpace(sc.Text())
		}
		close(lines)
	}()

	fmt.Printf("dscontrol terminal %s (commands: enable, disable, estop, status, quit)\n", ccfg.ClientID)
	for {
		select {
		case err := <-runCh:
			return err
		case line, ok := <-lines:
			if !ok {
				cancel()
				return <-runCh
			}
			switch line {
			case "":
			case "status":
				if st, ok := c.LatestStatus(); ok {
					fmt.Println(formatStatus(st))
				} else {
					fmt.Println("no status received yet")
				}
			case "quit", "exit":
				cancel()
				return <-runCh
			case "enable", "disable", "estop":
				action, _ := protocol.ParseAction(line)
				if err := c.SendCommand(action); err != nil {
					fmt.Printf("send failed: %v\n", err)
				}
			default:
				fmt.Println("commands: enable, disable, estop, status, quit")
			}
		}
	}
}

func formatStatus(st protocol.Status) string {
	line := fmt.Sprintf("state=%s clients=%d", st.State, len(st.ActiveClientIDs))
	if rec := st.LastCommand; rec != nil {
		verdict := "ok"
		if !rec.Success {
			verdict = rec.Message
		}
		line += fmt.Sprintf(" last=%s by %s (%s)", rec.Action, rec.IssuerID, verdict)
	}
	return line
}

// statusChanged reports whether st differs from prev in state or in the
// last command outcome.
func statusChanged(prev *protocol.Status, st protocol.Status) bool {
	if prev == nil || prev.State != st.State {
		return true
	}
	a, b := prev.LastCommand, st.LastCommand
	switch {
	case a == nil && b == nil:
		return false
	case a == nil || b == nil:
		return true
	default:
		return *a != *b
	}
}
