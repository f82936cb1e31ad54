//go:build linux || darwin

package transport

import (
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	ncerr "relaychat/internal/errors"
)

// Selectable is anything that owns a [Conn], such as a session.
type Selectable interface {
	Transport() *Conn
}

// Select waits until at least one member of the three interest sets is
// ready or timeout elapses, then filters each set in place down to its
// ready members and returns the total ready count.  Nil set pointers are
// ignored and a negative timeout waits forever.
//
// A connection that already buffers a complete line is read-ready
// without polling.  A closed connection is reported read-ready so the
// caller observes the failure on its next read.
func Select[T Selectable](reads, writes, excepts *[]T, timeout time.Duration) (int, error) {
	type slot struct {
		set   *[]T
		index int
		poll  int // index into fds, or -1 when decided without polling
		ready bool
	}

	var (
		slots []slot
		fds   []unix.PollFd
		early bool
	)
	// Each polled Conn is read-locked once, even when it is in several sets.
	held := make(map[*Conn]int)
	defer func() {
		for c := range held {
			c.pollMu.RUnlock()
		}
	}()
	add := func(set *[]T, events int16) {
		if set == nil {
			return
		}
		for i, item := range *set {
			s := slot{set: set, index: i, poll: -1}
			c := item.Transport()
			switch {
			case c == nil || c.Closed():
				s.ready = events&unix.POLLIN != 0
			case events&unix.POLLIN != 0 && c.hasLine():
				s.ready = true
			default:
				fd, ok := held[c]
				if !ok {
					if fd, ok = c.holdFD(); ok {
						held[c] = fd
					}
				}
				if ok {
					s.poll = len(fds)
					fds = append(fds, unix.PollFd{Fd: int32(fd), Events: events})
				} else {
					s.ready = events&unix.POLLIN != 0
				}
			}
			early = early || s.ready
			slots = append(slots, s)
		}
	}
	add(reads, unix.POLLIN)
	add(writes, unix.POLLOUT)
	add(excepts, unix.POLLPRI)

	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}
	if early {
		ms = 0
	}

	if len(fds) > 0 || ms != 0 {
		deadline := time.Now().Add(timeout)
		for {
			_, err := unix.Poll(fds, ms)
			if err == nil {
				break
			}
			if err != unix.EINTR {
				return 0, ncerr.Wrap("select", "", err)
			}
			if ms > 0 {
				if ms = int(time.Until(deadline) / time.Millisecond); ms < 0 {
					ms = 0
				}
			}
		}
	}

	for i := range slots {
		if slots[i].poll < 0 {
			continue
		}
		fd := fds[slots[i].poll]
		slots[i].ready = fd.Revents&(fd.Events|unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0
	}

	total := 0
	for _, set := range []*[]T{reads, writes, excepts} {
		if set == nil {
			continue
		}
		kept := (*set)[:0]
		for _, s := range slots {
			if s.set == set && s.ready {
				kept = append(kept, (*set)[s.index])
			}
		}
		*set = kept
		total += len(kept)
	}
	return total, nil
}

// holdFD returns the descriptor of an open socket with pollMu read-held,
// keeping it valid until the caller releases the lock.
func (c *Conn) holdFD() (int, bool) {
	c.pollMu.RLock()
	if c.Closed() {
		c.pollMu.RUnlock()
		return 0, false
	}
	fd, ok := c.sysfd()
	if !ok {
		c.pollMu.RUnlock()
	}
	return fd, ok
}

// sysfd returns the descriptor of a connected or listening socket.
func (c *Conn) sysfd() (int, bool) {
	c.mu.Lock()
	var target any = c.conn
	if c.conn == nil {
		target = c.ln
	}
	c.mu.Unlock()

	sc, ok := target.(syscall.Conn)
	if !ok {
		return 0, false
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return 0, false
	}
	fd := -1
	if err := raw.Control(func(f uintptr) { fd = int(f) }); err != nil || fd < 0 {
		return 0, false
	}
	return fd, true
}

// pendingError reads and clears SO_ERROR on the socket behind nc.
func pendingError(nc net.Conn) error {
	sc, ok := nc.(syscall.Conn)
	if !ok {
		return nil
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return nil
	}
	var soErr int
	var gerr error
	if err := raw.Control(func(fd uintptr) {
		soErr, gerr = unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_ERROR)
	}); err != nil || gerr != nil {
		return nil
	}
	if soErr != 0 {
		return syscall.Errno(soErr)
	}
	return nil
}
