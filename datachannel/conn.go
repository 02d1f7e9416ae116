package datachannel

import (
	"net"
	"time"
)

// deadlineConn refreshes the read or write deadline before every call, so a
// stalled peer fails one call after timeout instead of hanging the session.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func newDeadlineConn(conn net.Conn, timeout time.Duration) net.Conn {
	if timeout <= 0 {
		return conn
	}
	return &deadlineConn{Conn: conn, timeout: timeout}
}

func (c *deadlineConn) Read(p []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(p)
}

func (c *deadlineConn) Write(p []byte) (int, error) {
	if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Write(p)
}

// CloseWrite half-closes the connection when the transport supports it.
func (c *deadlineConn) CloseWrite() error {
	return CloseWrite(c.Conn)
}

// CloseWrite signals end of stream to the peer without discarding data still
// in flight towards us. Connections without half-close are closed fully.
func CloseWrite(conn net.Conn) error {
	if hc, ok := conn.(interface{ CloseWrite() error }); ok {
		return hc.CloseWrite()
	}
	return conn.Close()
}

// WithIOTimeout wraps conn so every Read and Write must finish within
// timeout. A zero timeout returns conn unchanged.
func WithIOTimeout(conn net.Conn, timeout time.Duration) net.Conn {
	return newDeadlineConn(conn, timeout)
}
