package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	ncerr "relaychat/internal/errors"
	"relaychat/internal/metrics"
	"relaychat/util"
)

const (
	// DefaultConnectTimeout bounds a non-blocking connect.
	DefaultConnectTimeout = 5 * time.Second

	// nonBlockingWait is how long a non-blocking read lets the runtime
	// poller look for data before reporting ErrWouldBlock.
	nonBlockingWait = time.Millisecond
)

// Conn is one stream socket.  It is either a listening endpoint (after
// Bind and Listen) or a connected endpoint (after Connect or Accept),
// never both.  Close is idempotent and safe to call concurrently with
// reads and writes, which then fail.
type Conn struct {
	family Family

	mu             sync.Mutex
	blocking       bool
	connectTimeout time.Duration
	address        string
	service        string
	backlog        int
	conn           net.Conn
	ln             net.Listener

	readMu  sync.Mutex // serialises readers
	bufMu   sync.Mutex // guards pending and discarding
	pending []byte
	// discarding is set after an oversized frame until its newline is seen.
	discarding bool

	writeMu sync.Mutex
	// pollMu is held shared while Select polls the descriptor and
	// exclusively while Close releases it, so a polled fd is never reused.
	pollMu  sync.RWMutex
	closed  atomic.Bool
	metrics *metrics.Collector
}

// Open returns an unconnected handle for family.
func Open(family Family) (*Conn, error) {
	if !family.valid() {
		return nil, fmt.Errorf("open: unknown address family %d", int(family))
	}
	return &Conn{family: family, blocking: true, connectTimeout: DefaultConnectTimeout}, nil
}

// Family reports the address family.
func (c *Conn) Family() Family { return c.family }

// Transport returns c itself, so a []*Conn can be passed to [Select].
func (c *Conn) Transport() *Conn { return c }

// SetMetrics attaches a collector that receives byte and connection
// counts.  A nil collector disables counting.
func (c *Conn) SetMetrics(m *metrics.Collector) {
	c.mu.Lock()
	c.metrics = m
	c.mu.Unlock()
}

// SetConnectTimeout changes the bound applied to non-blocking connects.
func (c *Conn) SetConnectTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultConnectTimeout
	}
	c.mu.Lock()
	c.connectTimeout = d
	c.mu.Unlock()
}

// SetBlocking switches between blocking and non-blocking mode.  In
// non-blocking mode Read returns ErrWouldBlock instead of waiting, and
// Connect is bounded by the connect timeout.
func (c *Conn) SetBlocking(blocking bool) {
	c.mu.Lock()
	c.blocking = blocking
	c.mu.Unlock()
}

// Blocking reports the current mode.
func (c *Conn) Blocking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blocking
}

// ── Passive open ─────────────────────────────────────────────────────

// Bind records the local endpoint.  For UNIX sockets address is a
// filesystem path and any stale socket file there is removed.
func (c *Conn) Bind(address, service string) error {
	if c.family == FamilyUnix {
		if address == "" {
			return ncerr.Wrap("bind", address, fmt.Errorf("unix socket path is empty"))
		}
		if err := os.Remove(address); err != nil && !os.IsNotExist(err) {
			return ncerr.Wrap("bind", address, fmt.Errorf("remove stale socket: %w", err))
		}
	}
	c.mu.Lock()
	c.address, c.service = address, service
	c.mu.Unlock()
	return nil
}

// Listen starts accepting on the bound endpoint.  backlog is recorded
// for reporting; the runtime always uses the system maximum.
func (c *Conn) Listen(backlog int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ln != nil || c.conn != nil {
		return ncerr.Wrap("listen", c.target(), ncerr.ErrAlreadyConnected)
	}
	ln, err := net.Listen(c.family.Network(), c.target())
	if err != nil {
		return ncerr.Wrap("listen", c.target(), err)
	}
	c.ln = ln
	c.backlog = backlog
	return nil
}

// Backlog returns the value passed to Listen.
func (c *Conn) Backlog() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backlog
}

// Accept blocks until a peer connects and returns the new connection.
// It inherits the listener's family and metrics collector.
func (c *Conn) Accept() (*Conn, error) {
	c.mu.Lock()
	ln, m := c.ln, c.metrics
	c.mu.Unlock()
	if ln == nil {
		return nil, ncerr.Wrap("accept", c.Addr(), ncerr.ErrNotConnected)
	}

	nc, err := ln.Accept()
	if err != nil {
		return nil, ncerr.Wrap("accept", c.Addr(), err)
	}
	m.ConnectionOpened()
	return &Conn{
		family:         c.family,
		blocking:       true,
		connectTimeout: DefaultConnectTimeout,
		conn:           nc,
		metrics:        m,
	}, nil
}

// ── Active open ──────────────────────────────────────────────────────

// Connect resolves address and dials it.  Failures wrap one of
// ErrNameResolution, ErrConnRefused or ErrTimeout when they apply.
func (c *Conn) Connect(ctx context.Context, address, service string) error {
	c.mu.Lock()
	if c.conn != nil || c.ln != nil {
		c.mu.Unlock()
		return ncerr.Wrap("connect", address, ncerr.ErrAlreadyConnected)
	}
	c.address, c.service = address, service
	target := c.target()
	d := net.Dialer{}
	if !c.blocking {
		d.Timeout = c.connectTimeout
	}
	c.mu.Unlock()

	nc, err := d.DialContext(ctx, c.family.Network(), target)
	if err != nil {
		return ncerr.Wrap("connect", target, ncerr.Classify(err))
	}

	c.mu.Lock()
	c.conn = nc
	m := c.metrics
	c.mu.Unlock()
	c.closed.Store(false)
	m.ConnectionOpened()
	return nil
}

// target joins address and service the way the family expects.
// Callers hold c.mu.
func (c *Conn) target() string {
	if c.family == FamilyUnix {
		return c.address
	}
	return net.JoinHostPort(c.address, c.service)
}

// ── Addresses ────────────────────────────────────────────────────────

// Addr returns the listening address, or the local address of a
// connected socket.
func (c *Conn) Addr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.ln != nil:
		return c.ln.Addr().String()
	case c.conn != nil:
		return c.conn.LocalAddr().String()
	}
	return c.target()
}

// Service returns the port of the bound or listening endpoint.  For
// UNIX sockets it is the recorded service string.
func (c *Conn) Service() string {
	addr := c.Addr()
	if c.family == FamilyInet {
		if _, port, err := net.SplitHostPort(addr); err == nil {
			return port
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.service
}

// PeerAddr returns the numeric host of the remote end.  UNIX peers are
// reported as "local".
func (c *Conn) PeerAddr() string {
	c.mu.Lock()
	nc := c.conn
	c.mu.Unlock()
	if nc == nil {
		return ""
	}
	if c.family == FamilyUnix {
		return "local"
	}
	host, _, err := net.SplitHostPort(remoteString(nc))
	if err != nil {
		return remoteString(nc)
	}
	return host
}

// remoteString tolerates unnamed UNIX peers, whose RemoteAddr is nil.
func remoteString(nc net.Conn) string {
	if a := nc.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}

// ── Writing ──────────────────────────────────────────────────────────

// Write sends line followed by '\n' and returns the payload byte count.
// If the socket already carries a pending error the write is skipped and
// an error wrapping ErrPendingError is returned.
func (c *Conn) Write(line string) (int, error) {
	if strings.ContainsRune(line, '\n') {
		return 0, fmt.Errorf("write: line contains a newline")
	}
	nc, err := c.connected("write")
	if err != nil {
		return 0, err
	}
	if perr := pendingError(nc); perr != nil {
		return 0, ncerr.Wrap("write", remoteString(nc), fmt.Errorf("%w: %w", ncerr.ErrPendingError, perr))
	}

	c.writeMu.Lock()
	n, err := io.WriteString(nc, line+"\n")
	c.writeMu.Unlock()

	c.metricsCollector().BytesSent(int64(n))
	if err != nil {
		return 0, ncerr.Wrap("write", remoteString(nc), err)
	}
	return len(line), nil
}

// ── Reading ──────────────────────────────────────────────────────────

// Read returns the next line, without its terminator, of at most
// maxLength-1 bytes.  A peer that has shut down yields io.EOF.  In
// non-blocking mode Read returns ErrWouldBlock when no complete line is
// available.
func (c *Conn) Read(maxLength int) (string, error) {
	var deadline time.Time
	if !c.Blocking() {
		deadline = time.Now().Add(nonBlockingWait)
	}
	line, err := c.readLine(maxLength, deadline)
	if err != nil && !deadline.IsZero() && ncerr.Is(err, ncerr.ErrTimeout) {
		return "", ncerr.ErrWouldBlock
	}
	return line, err
}

// ReadTimeout is Read bounded by timeout.  It returns an error wrapping
// ErrTimeout when no complete line arrives in time; bytes received so far
// are kept for the next read.
func (c *Conn) ReadTimeout(maxLength int, timeout time.Duration) (string, error) {
	return c.readLine(maxLength, time.Now().Add(timeout))
}

func (c *Conn) readLine(maxLength int, deadline time.Time) (string, error) {
	if maxLength <= 1 {
		return "", fmt.Errorf("read: maxLength must be greater than 1")
	}
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if line, ok, err := c.takeLine(maxLength); ok || err != nil {
		return line, err
	}

	nc, err := c.connected("read")
	if err != nil {
		return "", err
	}
	if err := nc.SetReadDeadline(deadline); err != nil {
		return "", ncerr.Wrap("read", remoteString(nc), err)
	}
	defer nc.SetReadDeadline(time.Time{}) //nolint:errcheck

	bp := util.GetBuf()
	defer util.PutBuf(bp)
	buf := *bp
	for {
		n, rerr := nc.Read(buf)
		if n > 0 {
			c.metricsCollector().BytesReceived(int64(n))
			c.bufMu.Lock()
			c.pending = append(c.pending, buf[:n]...)
			c.bufMu.Unlock()
			if line, ok, err := c.takeLine(maxLength); ok || err != nil {
				return line, err
			}
		}
		if rerr != nil {
			switch {
			case rerr == io.EOF:
				return "", io.EOF
			case ncerr.Is(rerr, os.ErrDeadlineExceeded):
				return "", ncerr.Wrap("read", remoteString(nc), ncerr.ErrTimeout)
			case ncerr.Is(rerr, net.ErrClosed):
				return "", ncerr.Wrap("read", "", ncerr.ErrClosed)
			}
			return "", ncerr.Wrap("read", remoteString(nc), rerr)
		}
	}
}

// takeLine pops one complete line from the pending buffer.  ok is false
// when no complete line is buffered yet.
func (c *Conn) takeLine(maxLength int) (line string, ok bool, err error) {
	c.bufMu.Lock()
	defer c.bufMu.Unlock()

	i := bytes.IndexByte(c.pending, '\n')
	if c.discarding {
		if i < 0 {
			c.pending = c.pending[:0]
			return "", false, nil
		}
		c.pending = append(c.pending[:0], c.pending[i+1:]...)
		c.discarding = false
		i = bytes.IndexByte(c.pending, '\n')
	}

	if i < 0 {
		if len(c.pending) > maxLength {
			c.pending = c.pending[:0]
			c.discarding = true
			return "", false, fmt.Errorf("read: %w (limit %d)", ncerr.ErrFrameTooLarge, maxLength-1)
		}
		return "", false, nil
	}

	raw := c.pending[:i]
	if len(raw) > 0 && raw[len(raw)-1] == '\r' {
		raw = raw[:len(raw)-1]
	}
	if len(raw) > maxLength-1 {
		c.pending = append(c.pending[:0], c.pending[i+1:]...)
		return "", false, fmt.Errorf("read: %w (limit %d)", ncerr.ErrFrameTooLarge, maxLength-1)
	}
	line = string(raw)
	c.pending = append(c.pending[:0], c.pending[i+1:]...)
	return line, true, nil
}

// hasLine reports whether a complete line is already buffered.
func (c *Conn) hasLine() bool {
	c.bufMu.Lock()
	defer c.bufMu.Unlock()
	if c.discarding {
		i := bytes.IndexByte(c.pending, '\n')
		return i >= 0 && bytes.IndexByte(c.pending[i+1:], '\n') >= 0
	}
	return bytes.IndexByte(c.pending, '\n') >= 0
}

// ── Teardown ─────────────────────────────────────────────────────────

// Shutdown closes one or both halves of a connected socket.
func (c *Conn) Shutdown(dir Direction) error {
	nc, err := c.connected("shutdown")
	if err != nil {
		return err
	}
	type halfCloser interface {
		CloseRead() error
		CloseWrite() error
	}
	hc, ok := nc.(halfCloser)
	if !ok {
		return ncerr.Wrap("shutdown", remoteString(nc), ncerr.ErrUnsupported)
	}
	switch dir {
	case ShutRead:
		err = hc.CloseRead()
	case ShutWrite:
		err = hc.CloseWrite()
	default:
		err = ncerr.Join(hc.CloseRead(), hc.CloseWrite())
	}
	if err != nil {
		return ncerr.Wrap("shutdown", remoteString(nc), err)
	}
	return nil
}

// Close releases the socket.  Calling it more than once is a no-op.  A
// Select polling the socket is woken by a read shutdown and finishes
// before the descriptor is released.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.mu.Lock()
	nc, ln, m := c.conn, c.ln, c.metrics
	c.mu.Unlock()

	if !c.pollMu.TryLock() {
		if rc, ok := nc.(interface{ CloseRead() error }); ok {
			rc.CloseRead() //nolint:errcheck
		}
		c.pollMu.Lock()
	}
	defer c.pollMu.Unlock()

	switch {
	case ln != nil:
		return ln.Close()
	case nc != nil:
		m.ConnectionClosed()
		return nc.Close()
	}
	return nil
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool { return c.closed.Load() }

func (c *Conn) connected(op string) (net.Conn, error) {
	if c.closed.Load() {
		return nil, ncerr.Wrap(op, "", ncerr.ErrClosed)
	}
	c.mu.Lock()
	nc := c.conn
	c.mu.Unlock()
	if nc == nil {
		return nil, ncerr.Wrap(op, "", ncerr.ErrNotConnected)
	}
	return nc, nil
}

func (c *Conn) metricsCollector() *metrics.Collector {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}
