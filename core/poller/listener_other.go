//go:build !(linux || darwin)

package poller

import (
	"errors"
	"net"
	"os"
	"time"
)

// deadlineListener emulates a non-blocking accept with an already-close
// deadline on a regular net.TCPListener.
type deadlineListener struct {
	*net.TCPListener
}

func listen(addr string) (Listener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, err
	}
	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, err
	}
	return &deadlineListener{TCPListener: ln}, nil
}

func (l *deadlineListener) Accept() (net.Conn, error) {
	if err := l.TCPListener.SetDeadline(time.Now().Add(time.Millisecond)); err != nil {
		return nil, err
	}
	conn, err := l.TCPListener.AcceptTCP()
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, ErrWouldBlock
		}
		return nil, err
	}
	conn.SetNoDelay(true)
	return conn, nil
}
