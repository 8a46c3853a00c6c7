// Package client implements the operator terminal core: it registers with
// the actuation host, keeps the session alive with heartbeats, tracks the
// broadcast status feed and notices when the feed goes quiet.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/AdarWa/DSControl/pkg/protocol"
)

const readPollInterval = 500 * time.Millisecond

// Hello retries back off between these bounds.
const (
	helloRetryBase = 250 * time.Millisecond
	helloRetryMax  = 2 * time.Second
)

// ConnState is the terminal's view of its link to the host.
type ConnState int

const (
	// Disconnected means the client gave up or has not started.
	Disconnected ConnState = iota
	// Connecting means hellos are going out but no status came back yet.
	Connecting
	// Connected means the status feed is flowing.
	Connected
)

var connStateNames = map[ConnState]string{
	Disconnected: "disconnected",
	Connecting:   "connecting",
	Connected:    "connected",
}

func (s ConnState) String() string {
	if n, ok := connStateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("ConnState(%d)", int(s))
}

// Config holds the terminal's runtime settings.
type Config struct {
	// ServerAddress is the host's UDP endpoint as host:port.
	ServerAddress string
	// ClientID is the identity announced in every frame.
	ClientID string

	// HeartbeatPeriod is the gap between heartbeats while connected.
	HeartbeatPeriod time.Duration
	// StatusTimeout is how long the status feed may go quiet before the
	// link counts as lost. Three broadcast periods is the usual choice.
	StatusTimeout time.Duration
	// HelloAttempts bounds how many hellos go unanswered before the
	// client gives up.
	HelloAttempts int
}

// DefaultConfig returns the stock terminal settings. ServerAddress and
// ClientID must still be filled in.
func DefaultConfig() Config {
	return Config{
		HeartbeatPeriod: protocol.DefaultHeartbeatPeriod,
		StatusTimeout:   3 * protocol.DefaultStatusPeriod,
		HelloAttempts:   5,
	}
}

// Validate checks the config before the client starts.
func (c Config) Validate() error {
	if c.ServerAddress == "" {
		return errors.New("server address is required")
	}
	if c.ClientID == "" {
		return errors.New("client id is required")
	}
	if c.HeartbeatPeriod <= 0 {
		return errors.New("heartbeat period must be positive")
	}
	if c.StatusTimeout <= 0 {
		return errors.New("status timeout must be positive")
	}
	if c.HelloAttempts < 1 {
		return errors.New("hello attempts must be at least 1")
	}
	return nil
}

// Client is a single terminal session. Callbacks run synchronously on the
// client's own goroutine; keep them quick.
type Client struct {
	cfg Config
	log zerolog.Logger
	clk clock.Clock

	statusFn func(protocol.Status)
	connFn   func(ConnState)
	errFn    func(reason string)

	mu         sync.Mutex
	conn       *net.UDPConn
	state      ConnState
	latest     *protocol.Status
	lastStatus time.Time

	wg sync.WaitGroup
}

// Option configures optional behavior of the client.
type Option func(*Client)

// WithLogger routes client logging through log.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithClock substitutes the wall clock, mainly for tests.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) { c.clk = clk }
}

// WithStatusHandler registers fn to receive every status frame.
func WithStatusHandler(fn func(protocol.Status)) Option {
	return func(c *Client) { c.statusFn = fn }
}

// WithConnStateHandler registers fn to observe link state changes.
func WithConnStateHandler(fn func(ConnState)) Option {
	return func(c *Client) { c.connFn = fn }
}

// WithErrorHandler registers fn to receive ERROR frames from the host.
func WithErrorHandler(fn func(reason string)) Option {
	return func(c *Client) { c.errFn = fn }
}

// New builds a client for the given config.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("client config: %w", err)
	}
	c := &Client{
		cfg:   cfg,
		log:   zerolog.Nop(),
		clk:   clock.New(),
		state: Disconnected,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("component", "client").Str("client", cfg.ClientID).Logger()
	return c, nil
}

// Run connects the socket and drives the session until ctx is cancelled
// or every hello attempt goes unanswered. Cancellation returns nil.
func (c *Client) Run(ctx context.Context) error {
	raddr, err := net.ResolveUDPAddr("udp", c.cfg.ServerAddress)
	if err != nil {
		return fmt.Errorf("resolve server address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return fmt.Errorf("dial udp %s: %w", raddr, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	frames := make(chan protocol.Message, 16)
	c.wg.Add(1)
	go c.readLoop(ctx, frames)

	err = c.loop(ctx, frames)
	cancel()
	conn.Close()
	c.wg.Wait()
	c.setState(Disconnected)
	return err
}

// State reports the current link state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LatestStatus returns a copy of the most recent status frame, if any
// arrived yet.
func (c *Client) LatestStatus() (protocol.Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latest == nil {
		return protocol.Status{}, false
	}
	return *c.latest.Clone(), true
}

// SendCommand issues one device command under this client's identity. The
// outcome arrives in the next status frame.
func (c *Client) SendCommand(action protocol.Action) error {
	data, err := protocol.Encode(&protocol.Command{ClientID: c.cfg.ClientID, Action: action})
	if err != nil {
		return err
	}
	return c.write(data)
}

func (c *Client) sendHello() error {
	data, err := protocol.Encode(&protocol.Hello{ClientID: c.cfg.ClientID})
	if err != nil {
		return err
	}
	return c.write(data)
}

func (c *Client) sendHeartbeat(seq uint64) error {
	data, err := protocol.Encode(&protocol.Heartbeat{ClientID: c.cfg.ClientID, Sequence: seq})
	if err != nil {
		return err
	}
	return c.write(data)
}

func (c *Client) write(data []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("client not running")
	}
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("send datagram: %w", err)
	}
	return nil
}

// loop is the session state machine: hellos with backoff until the first
// status arrives, then heartbeats on a fixed cadence, falling back to
// hellos when the feed goes quiet.
func (c *Client) loop(ctx context.Context, frames <-chan protocol.Message) error {
	back := newBackoff(helloRetryBase, helloRetryMax)
	attempts := 0

	c.setState(Connecting)
	if err := c.sendHello(); err != nil {
		c.log.Warn().Err(err).Msg("hello send failed")
	}
	attempts++

	helloTimer := c.clk.Timer(back.Next())
	defer helloTimer.Stop()
	heartbeat := c.clk.Ticker(c.cfg.HeartbeatPeriod)
	defer heartbeat.Stop()

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return nil

		case <-helloTimer.C:
			if c.State() == Connected {
				continue
			}
			if attempts >= c.cfg.HelloAttempts {
				c.log.Error().Int("attempts", attempts).Msg("no answer from host, giving up")
				return ErrServerUnreachable
			}
			if err := c.sendHello(); err != nil {
				c.log.Warn().Err(err).Msg("hello send failed")
			}
			attempts++
			helloTimer.Reset(back.Next())

		case <-heartbeat.C:
			if c.State() != Connected {
				continue
			}
			now := c.clk.Now()
			c.mu.Lock()
			quiet := now.Sub(c.lastStatus)
			c.mu.Unlock()
			if quiet > c.cfg.StatusTimeout {
				c.log.Warn().Dur("quiet", quiet).Msg("connection lost, no status from host")
				c.setState(Connecting)
				back.Reset()
				attempts = 0
				helloTimer.Reset(0)
				continue
			}
			seq++
			if err := c.sendHeartbeat(seq); err != nil {
				c.log.Warn().Err(err).Uint64("sequence", seq).Msg("heartbeat send failed")
			}

		case msg, ok := <-frames:
			if !ok {
				return nil
			}
			switch m := msg.(type) {
			case *protocol.Status:
				c.onStatus(m)
				if attempts != 0 {
					back.Reset()
					attempts = 0
				}
			case *protocol.Error:
				// An error frame proves the host is reachable, but only
				// a status frame feeds the staleness clock.
				c.log.Warn().Str("reason", m.Reason).Msg("host reported error")
				c.markConnected()
				if attempts != 0 {
					back.Reset()
					attempts = 0
				}
				if c.errFn != nil {
					c.errFn(m.Reason)
				}
			default:
				c.log.Debug().Str("type", string(msg.Kind())).Msg("ignoring unexpected frame")
			}
		}
	}
}

func (c *Client) onStatus(st *protocol.Status) {
	c.mu.Lock()
	c.latest = st.Clone()
	c.lastStatus = c.clk.Now()
	wasConnected := c.state == Connected
	c.state = Connected
	c.mu.Unlock()

	if !wasConnected {
		c.log.Info().Str("state", st.State.String()).Msg("connected to host")
		if c.connFn != nil {
			c.connFn(Connected)
		}
	}
	if c.statusFn != nil {
		c.statusFn(*st.Clone())
	}
}

// markConnected completes the connection for host frames that carry no
// status payload. Only status frames feed the staleness clock; answered
// heartbeats alone cannot keep the link alive.
func (c *Client) markConnected() {
	c.mu.Lock()
	wasConnected := c.state == Connected
	c.state = Connected
	c.mu.Unlock()
	if !wasConnected {
		c.log.Info().Msg("connected to host")
		if c.connFn != nil {
			c.connFn(Connected)
		}
	}
}

func (c *Client) setState(s ConnState) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed && c.connFn != nil {
		c.connFn(s)
	}
}

// readLoop decodes incoming datagrams onto the frames channel. Transient
// read errors (the host being down surfaces as refused sends on a
// connected UDP socket) are logged and retried, never fatal.
func (c *Client) readLoop(ctx context.Context, frames chan<- protocol.Message) {
	defer c.wg.Done()
	defer close(frames)
	buf := make([]byte, protocol.MaxDatagramSize)
	for {
		if ctx.Err() != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(readPollInterval))
		n, err := c.conn.Read(buf)
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			c.log.Debug().Err(err).Msg("socket read failed, retrying")
			continue
		}
		msg, err := protocol.Decode(buf[:n])
		if err != nil {
			c.log.Warn().Err(err).Msg("dropping undecodable datagram")
			continue
		}
		select {
		case frames <- msg:
		case <-ctx.Done():
			return
		}
	}
}
