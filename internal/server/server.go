// Package server implements the actuation host: a UDP dispatch loop, a
// fail-safe watchdog and a periodic status broadcaster sharing one session
// table and one command arbiter behind a single mutex.
package server

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/AdarWa/DSControl/internal/arbiter"
	"github.com/AdarWa/DSControl/internal/backend"
	"github.com/AdarWa/DSControl/internal/session"
	"github.com/AdarWa/DSControl/pkg/protocol"
)

const (
	// readPollInterval bounds how long a socket read may block, so the
	// dispatch loop notices shutdown even with no traffic arriving.
	readPollInterval = 500 * time.Millisecond

	defaultNoClientLogEvery = 5 * time.Second
)

// Timing is the hot-reloadable subset of Config.
type Timing struct {
	// HeartbeatTimeout is how long a session may go silent before the
	// watchdog evicts it.
	HeartbeatTimeout time.Duration
	// WatchdogTick is the sweep period. It must not exceed half of
	// HeartbeatTimeout, so a stale session is caught within one timeout
	// plus one tick.
	WatchdogTick time.Duration
	// StatusPeriod is the interval between status broadcasts.
	StatusPeriod time.Duration
}

// Validate checks the timing invariants.
func (t Timing) Validate() error {
	if t.HeartbeatTimeout <= 0 {
		return fmt.Errorf("heartbeat timeout must be positive, got %v", t.HeartbeatTimeout)
	}
	if t.WatchdogTick <= 0 {
		return fmt.Errorf("watchdog tick must be positive, got %v", t.WatchdogTick)
	}
	if 2*t.WatchdogTick > t.HeartbeatTimeout {
		return fmt.Errorf("watchdog tick %v must be at most half the heartbeat timeout %v",
			t.WatchdogTick, t.HeartbeatTimeout)
	}
	if t.StatusPeriod <= 0 {
		return fmt.Errorf("status period must be positive, got %v", t.StatusPeriod)
	}
	return nil
}

// Config holds the runtime settings of the actuation host.
type Config struct {
	// Host is the local address to bind. Empty binds all interfaces.
	Host string
	// Port is the UDP port to listen on. Zero picks an ephemeral port.
	Port int

	HeartbeatTimeout time.Duration
	WatchdogTick     time.Duration
	StatusPeriod     time.Duration

	// NoClientLogEvery throttles the skipped-broadcast debug line emitted
	// while no terminal is connected. Zero selects the default of 5s.
	NoClientLogEvery time.Duration
}

// DefaultConfig returns the stock timing profile on the default port.
func DefaultConfig() Config {
	return Config{
		Port:             protocol.DefaultPort,
		HeartbeatTimeout: protocol.DefaultHeartbeatTimeout,
		WatchdogTick:     protocol.DefaultWatchdogTick,
		StatusPeriod:     protocol.DefaultStatusPeriod,
		NoClientLogEvery: defaultNoClientLogEvery,
	}
}

func (c Config) timing() Timing {
	return Timing{
		HeartbeatTimeout: c.HeartbeatTimeout,
		WatchdogTick:     c.WatchdogTick,
		StatusPeriod:     c.StatusPeriod,
	}
}

// Validate checks the config before the server starts.
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	return c.timing().Validate()
}

// Server is the actuation host. One mutex serializes the dispatch,
// watchdog and broadcast paths over the shared session table and arbiter,
// so commands apply strictly in arrival order.
type Server struct {
	cfg Config
	log zerolog.Logger
	clk clock.Clock

	mu             sync.Mutex
	table          *session.Table
	arb            *arbiter.Arbiter
	conn           *net.UDPConn
	watchdogTicker *clock.Ticker
	statusTicker   *clock.Ticker
	noClientLogAt  time.Time
	fatal          error

	wg sync.WaitGroup
}

// Option configures optional behavior of the server.
type Option func(*Server)

// WithLogger routes server logging through log.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithClock substitutes the wall clock, mainly for tests.
func WithClock(clk clock.Clock) Option {
	return func(s *Server) { s.clk = clk }
}

// New builds a server driving the given actuation backend. The backend's
// lifetime belongs to the caller; the server never closes it.
func New(cfg Config, b backend.ActuationBackend, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}
	if cfg.NoClientLogEvery <= 0 {
		cfg.NoClientLogEvery = defaultNoClientLogEvery
	}
	s := &Server{
		cfg:   cfg,
		log:   zerolog.Nop(),
		clk:   clock.New(),
		table: session.NewTable(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("component", "server").Logger()
	s.arb = arbiter.New(b, s.log, s.clk)
	return s, nil
}

// Run binds the UDP socket and serves until ctx is cancelled or the socket
// fails. All goroutines are released before it returns. A clean shutdown
// returns nil; a dead socket returns the read error.
func (s *Server) Run(ctx context.Context) error {
	laddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port)))
	if err != nil {
		return fmt.Errorf("resolve bind address: %w", err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return fmt.Errorf("bind udp %s: %w", laddr, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.conn = conn
	s.watchdogTicker = s.clk.Ticker(s.cfg.WatchdogTick)
	s.statusTicker = s.clk.Ticker(s.cfg.StatusPeriod)
	s.mu.Unlock()

	s.log.Info().Str("addr", conn.LocalAddr().String()).
		Dur("heartbeat_timeout", s.cfg.HeartbeatTimeout).
		Dur("watchdog_tick", s.cfg.WatchdogTick).
		Dur("status_period", s.cfg.StatusPeriod).
		Msg("listening")

	s.wg.Add(2)
	go s.dispatchLoop(ctx, cancel)
	go s.schedulerLoop(ctx)

	<-ctx.Done()
	conn.Close()
	s.wg.Wait()
	s.watchdogTicker.Stop()
	s.statusTicker.Stop()
	s.log.Info().Msg("server stopped")

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatal
}

// Addr reports the bound listen address, or nil before Run has bound one.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// UpdateTiming applies a reloaded timing profile without a restart. The
// tickers are reset in place, so new periods take effect from now.
func (s *Server) UpdateTiming(t Timing) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("timing update: %w", err)
	}

	s.mu.Lock()
	changed := t != s.cfg.timing()
	s.cfg.HeartbeatTimeout = t.HeartbeatTimeout
	s.cfg.WatchdogTick = t.WatchdogTick
	s.cfg.StatusPeriod = t.StatusPeriod
	wt, st := s.watchdogTicker, s.statusTicker
	s.mu.Unlock()

	if !changed {
		return nil
	}
	if wt != nil {
		wt.Reset(t.WatchdogTick)
	}
	if st != nil {
		st.Reset(t.StatusPeriod)
	}
	s.log.Info().
		Dur("heartbeat_timeout", t.HeartbeatTimeout).
		Dur("watchdog_tick", t.WatchdogTick).
		Dur("status_period", t.StatusPeriod).
		Msg("timing updated")
	return nil
}

func (s *Server) setFatal(err error) {
	s.mu.Lock()
	if s.fatal == nil {
		s.fatal = err
	}
	s.mu.Unlock()
}

// send writes one datagram, logging instead of failing: delivery is
// best-effort and the next broadcast supersedes a lost frame.
func (s *Server) send(data []byte, addr *net.UDPAddr) {
	if _, err := s.conn.WriteToUDP(data, addr); err != nil {
		s.log.Warn().Err(err).Str("to", addr.String()).Msg("datagram send failed")
	}
}
