// Package client implements the relaychat client engine.  It keeps one
// connection to a server, mirrors the identity, channel and mute state
// the server pushes, and splits outgoing chat into /m commands that fit
// the server's message limit.
package client

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"relaychat/config"
	"relaychat/internal/console"
	ncerr "relaychat/internal/errors"
	"relaychat/internal/metrics"
	"relaychat/internal/protocol"
	"relaychat/internal/retry"
	"relaychat/internal/session"
	"relaychat/internal/transport"
)

// Options tunes a Client.  Zero values select the defaults.
type Options struct {
	// Service is the port used when an endpoint does not name one.
	Service string
	// MaxMessageSize is the largest payload per /m (default 4096).
	MaxMessageSize int
	// ReadTimeout bounds each wait of the listen loop (default 1s).
	ReadTimeout time.Duration
	// ConnectTimeout bounds each connect attempt (default 5s).
	ConnectTimeout time.Duration
	// Backoff paces connect retries; nil means a single attempt.
	Backoff *retry.Backoff
}

func (o *Options) applyDefaults() {
	if o.Service == "" {
		o.Service = protocol.DefaultPort
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = protocol.MaxMessageSize
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = time.Second
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = transport.DefaultConnectTimeout
	}
}

// Client is the client engine.  Its methods are safe for concurrent use.
type Client struct {
	opts    Options
	sink    console.Sink
	log     *zerolog.Logger
	metrics *metrics.Collector

	mu   sync.Mutex
	self *session.Session

	connected atomic.Bool
	listening atomic.Bool
	wg        sync.WaitGroup
}

// New creates a disconnected client that reports to sink.
func New(opts Options, sink console.Sink, logger *zerolog.Logger) *Client {
	opts.applyDefaults()
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "client").Logger()
	return &Client{
		opts:    opts,
		sink:    sink,
		log:     &l,
		metrics: metrics.New(),
		self:    session.New(nil, session.RoleLocal, ""),
	}
}

// Metrics returns the client's collector.
func (c *Client) Metrics() *metrics.Collector { return c.metrics }

// Start connects to endpoint ("host[:port]" or "unix:/path"), announces
// itself with /whoami, and starts listening for pushes.
func (c *Client) Start(ctx context.Context, endpoint string) error {
	if c.connected.Load() {
		c.sink.Log("Already connected, /quit first to switch servers")
		return ncerr.ErrAlreadyConnected
	}
	ep, err := config.ParseEndpoint(endpoint, c.opts.Service)
	if err != nil {
		c.sink.Log("Invalid address " + endpoint + ": " + err.Error())
		return err
	}
	target := ep.String()
	c.sink.Log("Attempting to connect to " + target)

	conn, err := c.dial(ctx, ep)
	if err != nil {
		c.metrics.RecordError(err.Error())
		c.log.Warn().Err(err).Str("addr", target).Msg("connect failed")
		c.sink.Log("Error connecting to " + target + ": " + describe(err))
		return err
	}

	self := session.New(conn, session.RoleLocal, "")
	c.mu.Lock()
	c.self = self
	c.mu.Unlock()

	if err := self.Write(protocol.CmdWhoami); err != nil {
		conn.Close() //nolint:errcheck
		c.sink.Log("Error connecting to " + target + ": " + describe(err))
		return err
	}
	c.connected.Store(true)
	c.listening.Store(true)
	c.wg.Add(1)
	go c.listen(self)

	c.log.Info().Str("session", self.ID()).Str("addr", target).Msg("connected")
	c.sink.Log("Client connected on " + target)
	return nil
}

// dial opens a connection, retrying refused and timed-out attempts.
func (c *Client) dial(ctx context.Context, ep config.Endpoint) (*transport.Conn, error) {
	bo := &retry.Backoff{MaxAttempts: 1}
	if c.opts.Backoff != nil {
		copied := *c.opts.Backoff
		bo = &copied
	}
	bo.ShouldRetry = ncerr.IsRetryable

	var conn *transport.Conn
	err := bo.Do(ctx, func(attempt int) error {
		tc, err := transport.Open(ep.Family)
		if err != nil {
			return retry.Permanent(err)
		}
		tc.SetMetrics(c.metrics)
		tc.SetConnectTimeout(c.opts.ConnectTimeout)
		tc.SetBlocking(false)
		err = tc.Connect(ctx, ep.Address, ep.Service)
		tc.SetBlocking(true)
		if err != nil {
			tc.Close() //nolint:errcheck
			c.log.Debug().Err(err).Int("attempt", attempt).Msg("connect attempt failed")
			return err
		}
		conn = tc
		return nil
	})
	return conn, err
}

// describe turns a connect failure into the reason shown to the user.
func describe(err error) string {
	switch {
	case ncerr.Is(err, ncerr.ErrNameResolution):
		return "could not resolve host"
	case ncerr.Is(err, ncerr.ErrConnRefused):
		return "connection refused"
	case ncerr.Is(err, ncerr.ErrTimeout):
		return "connection timed out"
	}
	return err.Error()
}

// ── Listen loop ──────────────────────────────────────────────────────

func (c *Client) listen(self *session.Session) {
	defer c.wg.Done()
	frame := protocol.MaxFrame(c.opts.MaxMessageSize)
	conn := self.Transport()

	for c.listening.Load() {
		line, err := conn.ReadTimeout(frame, c.opts.ReadTimeout)
		switch {
		case err == nil:
			c.handlePush(self, line)
			continue
		case ncerr.Is(err, ncerr.ErrTimeout):
			continue
		case ncerr.Is(err, ncerr.ErrFrameTooLarge):
			c.log.Warn().Err(err).Msg("dropped oversized line")
			continue
		}

		if !c.listening.CompareAndSwap(true, false) {
			return
		}
		self.Close() //nolint:errcheck
		c.connected.Store(false)
		if err != io.EOF {
			c.log.Warn().Err(err).Msg("read failed")
		}
		c.sink.Log("Server disconnected!")
		c.sink.Log("Closing client...")
		c.sink.PrepareClose("Press any key to exit...")
		return
	}
}

// handlePush applies one server line to the mirrored state.
func (c *Client) handlePush(self *session.Session, line string) {
	p := protocol.ParsePush(line)
	switch p.Kind {
	case protocol.KindYouAre:
		self.SetNickname(p.Nickname)
		c.sink.UpdatePrompt(console.Prompt(self))
	case protocol.KindJoined:
		self.Enter(p.Channel, p.Admin)
		c.sink.UpdatePrompt(console.Prompt(self))
		role := protocol.RoleUser
		if p.Admin {
			role = protocol.RoleAdmin
		}
		c.sink.Log("Joined channel " + p.Channel + " as " + role + " successfully!")
	case protocol.KindKicked:
		self.Leave()
		c.sink.UpdatePrompt(console.Prompt(self))
		c.sink.Log("You have been kicked from your current channel!")
	case protocol.KindMuted:
		self.SetMuted(true)
		c.sink.Log("You have been muted!")
	case protocol.KindUnmuted:
		self.SetMuted(false)
		c.sink.Log("You have been unmuted!")
	case protocol.KindMsg:
		c.metrics.MessageRelayed()
		c.sink.Print(p.From + ": " + p.Text)
	case protocol.KindText:
		c.sink.Print(p.Text)
	default:
		c.log.Debug().Str("line", line).Msg("ignored unknown push")
	}
}

// ── Sending ──────────────────────────────────────────────────────────

// Send writes one raw protocol line.
func (c *Client) Send(line string) error {
	if !c.connected.Load() {
		return ncerr.ErrNotConnected
	}
	return c.Self().Write(line)
}

// MessageServer sends text as chat, split into as many /m commands as the
// message limit requires.
func (c *Client) MessageServer(text string) error {
	for _, chunk := range protocol.Chunk(text, c.opts.MaxMessageSize) {
		if err := c.Send(protocol.Message(chunk)); err != nil {
			return err
		}
	}
	return nil
}

// Stop ends the listen loop and closes the connection.
func (c *Client) Stop() error {
	c.listening.Store(false)
	c.wg.Wait()
	c.connected.Store(false)
	return c.Self().Close()
}

// ── State ────────────────────────────────────────────────────────────

// Self returns the session describing this client.
func (c *Client) Self() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

func (c *Client) IsConnected() bool { return c.connected.Load() }

func (c *Client) HasChannel() bool { return c.Self().Channel() != "" }

func (c *Client) IsMuted() bool { return c.Self().IsMuted() }
