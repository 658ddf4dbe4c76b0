// Package poller provides a listening socket in non-blocking mode. Accept
// never waits: when no connection is pending it returns ErrWouldBlock and
// the caller decides how long to back off.
package poller

import (
	"errors"
	"net"
)

// ErrWouldBlock is returned by Accept when no connection is pending.
var ErrWouldBlock = errors.New("accept would block")

// Listener is a non-blocking TCP listener. Accepted connections are
// ordinary blocking net.Conns.
type Listener interface {
	Accept() (net.Conn, error)
	Addr() net.Addr
	Close() error
}

// Listen binds a non-blocking TCP listener on addr ("host:port").
func Listen(addr string) (Listener, error) {
	return listen(addr)
}
