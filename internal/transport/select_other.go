//go:build !linux && !darwin

package transport

import (
	"net"
	"time"

	ncerr "relaychat/internal/errors"
)

// Selectable is anything that owns a [Conn], such as a session.
type Selectable interface {
	Transport() *Conn
}

// Select is not available on this platform; readiness polling relies on
// poll(2).
func Select[T Selectable](reads, writes, excepts *[]T, timeout time.Duration) (int, error) {
	return 0, ncerr.Wrap("select", "", ncerr.ErrUnsupported)
}

// pendingError always reports a clean socket here.
func pendingError(net.Conn) error { return nil }
