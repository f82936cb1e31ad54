// Package server implements the relaychat server engine: it admits
// connections into a registry of sessions, waits for any of them to
// become readable, and executes one command line per ready session.
//
// All registry state sits behind a single mutex.  Command handlers
// compute the lines they owe to sessions while holding it and write them
// after it is released, so a slow peer never blocks the registry.
package server

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	ncerr "relaychat/internal/errors"
	"relaychat/internal/metrics"
	"relaychat/internal/protocol"
	"relaychat/internal/retry"
	"relaychat/internal/session"
	"relaychat/internal/transport"
)

// Options tunes a Server.  Zero values select the defaults.
type Options struct {
	// MaxMessageSize is the largest /m payload (default 4096).
	MaxMessageSize int
	// PollTimeout bounds each readiness wait (default 500ms).
	PollTimeout time.Duration
	// ReadTimeout bounds the read of one ready session (default 250ms).
	ReadTimeout time.Duration
	// Backlog is passed to Listen (default 16).
	Backlog int
	// Breaker configures the accept-loop circuit breaker.
	Breaker *retry.CircuitBreakerConfig
}

func (o *Options) applyDefaults() {
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = protocol.MaxMessageSize
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = 500 * time.Millisecond
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 250 * time.Millisecond
	}
	if o.Backlog <= 0 {
		o.Backlog = 16
	}
}

// Server is the chat engine.  Create it with New, then Start or Run it.
type Server struct {
	opts    Options
	log     *zerolog.Logger
	metrics *metrics.Collector
	breaker *retry.CircuitBreaker

	mu       sync.Mutex
	reg      *registry
	listener *transport.Conn
	done     chan struct{}

	accepting atomic.Bool
	listening atomic.Bool
	wg        sync.WaitGroup
	stopMu    sync.Mutex
}

// New creates a stopped server.
func New(opts Options, logger *zerolog.Logger) *Server {
	opts.applyDefaults()
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "server").Logger()

	s := &Server{
		opts:    opts,
		log:     &l,
		metrics: metrics.New(),
		reg:     newRegistry(),
	}
	bcfg := retry.DefaultCircuitBreakerConfig()
	if opts.Breaker != nil {
		c := *opts.Breaker
		bcfg = &c
	}
	bcfg.OnStateChange = func(from, to retry.State) {
		s.log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("accept breaker state changed")
	}
	s.breaker = retry.NewCircuitBreaker(bcfg)
	return s
}

// Metrics returns the server's collector.
func (s *Server) Metrics() *metrics.Collector { return s.metrics }

// Start binds, listens, and launches the accept and listen loops.
func (s *Server) Start(family transport.Family, address, service string) error {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()
	if s.accepting.Load() || s.listening.Load() {
		return ncerr.Wrap("listen", address, ncerr.ErrAlreadyConnected)
	}

	ln, err := transport.Open(family)
	if err != nil {
		return err
	}
	ln.SetMetrics(s.metrics)
	if err := ln.Bind(address, service); err != nil {
		return err
	}
	if err := ln.Listen(s.opts.Backlog); err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = ln
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.accepting.Store(true)
	s.listening.Store(true)
	s.wg.Add(2)
	go s.acceptLoop(ln)
	go s.listenLoop()

	s.log.Info().Str("addr", ln.Addr()).Str("family", family.String()).Int("backlog", ln.Backlog()).Msg("server listening")
	return nil
}

// Run starts the server and stops it when ctx is cancelled.
func (s *Server) Run(ctx context.Context, family transport.Family, address, service string) error {
	if err := s.Start(family, address, service); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Stop()
}

// Addr returns the listening address, or "" when stopped.
func (s *Server) Addr() string {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return ""
	}
	return ln.Addr()
}

// Stop ends both loops, closes every connection, and empties the
// registries.  Calling it on a stopped server is a no-op.
func (s *Server) Stop() error {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()

	if !s.accepting.Load() && !s.listening.Load() {
		return nil
	}
	s.accepting.Store(false)
	s.listening.Store(false)

	s.mu.Lock()
	ln, done := s.listener, s.done
	s.mu.Unlock()
	close(done)
	err := ln.Close()
	s.wg.Wait()

	s.mu.Lock()
	all := s.reg.reset()
	s.listener = nil
	s.mu.Unlock()

	for _, sess := range all {
		sess.Close() //nolint:errcheck
	}
	s.log.Info().Int("sessions", len(all)).Msg("server stopped")
	return err
}

// ── Read-only views ──────────────────────────────────────────────────

// Users returns every registered session, ordered by nickname.
func (s *Server) Users() []session.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.reg.sessions()
	out := make([]session.Snapshot, len(all))
	for i, sess := range all {
		out[i] = sess.Snapshot()
	}
	return out
}

// Channels returns every live channel, ordered by name.
func (s *Server) Channels() []ChannelInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChannelInfo, 0, len(s.reg.channels))
	for _, ch := range s.reg.channels {
		out = append(out, ch.info())
	}
	sortChannels(out)
	return out
}

// ── Accept loop ──────────────────────────────────────────────────────

func (s *Server) acceptLoop(ln *transport.Conn) {
	defer s.wg.Done()

	for s.accepting.Load() {
		var conn *transport.Conn
		err := s.breaker.Execute(func() error {
			c, err := ln.Accept()
			if err != nil {
				return err
			}
			conn = c
			return nil
		})
		if err != nil {
			if !s.accepting.Load() {
				return
			}
			wait := time.Duration(0)
			if ncerr.Is(err, ncerr.ErrCircuitOpen) {
				wait = s.breaker.RetryAfter()
			} else {
				s.metrics.RecordError(err.Error())
				s.log.Warn().Err(err).Msg("accept failed")
			}
			if wait > 0 && !s.sleep(wait) {
				return
			}
			continue
		}
		s.admit(conn)
	}
}

// admit registers a freshly accepted connection under a generated name.
func (s *Server) admit(conn *transport.Conn) {
	s.mu.Lock()
	if !s.accepting.Load() {
		s.mu.Unlock()
		conn.Close() //nolint:errcheck
		return
	}
	sess := session.New(conn, session.RoleRemote, s.reg.nextNickname())
	s.reg.add(sess)
	s.mu.Unlock()

	s.log.Info().
		Str("session", sess.ID()).
		Str("nick", sess.Nickname()).
		Str("addr", conn.PeerAddr()).
		Msg("client connected")
}

// sleep waits for d or until Stop, reporting false on Stop.
func (s *Server) sleep(d time.Duration) bool {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	select {
	case <-done:
		return false
	case <-time.After(d):
		return true
	}
}

// ── Listen loop ──────────────────────────────────────────────────────

func (s *Server) listenLoop() {
	defer s.wg.Done()
	frame := protocol.MaxFrame(s.opts.MaxMessageSize)

	for s.listening.Load() {
		s.mu.Lock()
		ready := s.reg.sessions()
		s.mu.Unlock()

		n, err := transport.Select(&ready, nil, nil, s.opts.PollTimeout)
		if err != nil {
			s.log.Error().Err(err).Msg("select failed")
			s.metrics.RecordError(err.Error())
			if ncerr.Is(err, ncerr.ErrUnsupported) || !s.sleep(s.opts.PollTimeout) {
				return
			}
			continue
		}
		if n == 0 {
			continue
		}

		for _, sess := range ready {
			if !s.listening.Load() {
				return
			}
			s.serve(sess, frame)
		}
	}
}

// serve performs one bounded read on a ready session.
func (s *Server) serve(sess *session.Session, frame int) {
	line, err := sess.Transport().ReadTimeout(frame, s.opts.ReadTimeout)
	switch {
	case err == nil:
		s.handleMessage(sess, line)
	case ncerr.Is(err, ncerr.ErrTimeout):
		// Partial line; the rest arrives on a later pass.
	case ncerr.Is(err, ncerr.ErrFrameTooLarge):
		s.deliver(s.reject(sess, "message too long (limit %d bytes)", frame-1))
	case err == io.EOF:
		s.drop(sess, "client disconnected", nil)
	default:
		s.drop(sess, "read failed", err)
	}
}

// drop unregisters sess, closes its connection, and hands its channel to
// an heir when it was the admin.
func (s *Server) drop(sess *session.Session, reason string, cause error) {
	s.mu.Lock()
	out, ok := s.reg.remove(sess)
	s.mu.Unlock()
	sess.Close() //nolint:errcheck
	if !ok {
		return
	}

	ev := s.log.Info()
	if cause != nil {
		ev = s.log.Warn().Err(cause)
		s.metrics.RecordError(cause.Error())
	}
	ev.Str("session", sess.ID()).Str("nick", sess.Nickname()).Msg(reason)
	s.deliver(out)
}
