// Package datachannel establishes the per-transfer data connections of a
// session, either by dialing out to a client endpoint (active mode) or by
// listening on an ephemeral port and accepting the client (passive mode).
package datachannel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"framedftp/ftperr"
)

// Default timeouts.
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultAcceptTimeout  = 30 * time.Second
	DefaultIOTimeout      = 60 * time.Second
)

// Config tunes data-channel negotiation.
type Config struct {
	ConnectTimeout time.Duration
	AcceptTimeout  time.Duration

	// IOTimeout bounds every single Read or Write on an established data
	// connection. Zero disables the per-call deadline.
	IOTimeout time.Duration

	// PassiveHost is the address advertised for passive listeners when the
	// control connection's local address is not reachable by clients, e.g.
	// behind NAT. Listeners always bind to the local address.
	PassiveHost string

	// StrictPeer requires data connections to involve the same IP as the
	// control connection, in both modes.
	StrictPeer bool

	// Ports limits passive listeners to a port range. Nil lets the OS pick.
	Ports *PortRange
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.AcceptTimeout <= 0 {
		c.AcceptTimeout = DefaultAcceptTimeout
	}
	return c
}

// Negotiator hands out at most one data channel at a time for a session.
type Negotiator struct {
	cfg   Config
	local net.IP
	peer  net.IP
	log   *logrus.Entry

	mu      sync.Mutex
	current *Channel
	closed  bool
}

// NewNegotiator creates a negotiator for the session on control.
func NewNegotiator(cfg Config, control net.Conn, log *logrus.Entry) *Negotiator {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Negotiator{
		cfg:   cfg.withDefaults(),
		local: addrIP(control.LocalAddr()),
		peer:  addrIP(control.RemoteAddr()),
		log:   log.WithField("component", "datachannel"),
	}
}

func addrIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP
	case nil:
		return nil
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}

// Begin reserves the session's data-channel slot. It fails if a channel is
// already open.
func (n *Negotiator) Begin() (*Channel, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil, ftperr.New(ftperr.KindNegotiation, "begin", "session is closing")
	}
	if n.current != nil {
		return nil, ftperr.New(ftperr.KindNegotiation, "begin", "data channel already in use")
	}
	ch := &Channel{n: n}
	n.current = ch
	return ch, nil
}

// Busy reports whether a data channel is currently open.
func (n *Negotiator) Busy() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current != nil
}

// Close tears down any open channel and refuses further negotiations.
func (n *Negotiator) Close() error {
	n.mu.Lock()
	n.closed = true
	ch := n.current
	n.mu.Unlock()

	if ch == nil {
		return nil
	}
	return ch.Close()
}

func (n *Negotiator) release(ch *Channel) {
	n.mu.Lock()
	if n.current == ch {
		n.current = nil
	}
	n.mu.Unlock()
}

// CheckEndpoint validates an active-mode endpoint without dialing it.
func (n *Negotiator) CheckEndpoint(endpoint string) error {
	host, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		return ftperr.Wrap(ftperr.KindNegotiation, "endpoint", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return ftperr.Newf(ftperr.KindNegotiation, "endpoint", "invalid port %q", portStr)
	}
	if !n.cfg.StrictPeer || n.peer == nil {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.Equal(n.peer) {
		return ftperr.Newf(ftperr.KindNegotiation, "endpoint", "endpoint %s does not match control peer %s", host, n.peer)
	}
	return nil
}

// Channel is one data-channel negotiation and the connection it yields.
type Channel struct {
	n *Negotiator

	mu     sync.Mutex
	ln     *net.TCPListener
	conn   net.Conn
	closed bool
}

func (c *Channel) setConn(conn net.Conn) (net.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		conn.Close()
		return nil, ftperr.New(ftperr.KindNegotiation, "open", "channel closed during negotiation")
	}
	c.conn = newDeadlineConn(conn, c.n.cfg.IOTimeout)
	return c.conn, nil
}

// Dial connects out to a client endpoint (active mode).
func (c *Channel) Dial(ctx context.Context, endpoint string) (net.Conn, error) {
	if err := c.n.CheckEndpoint(endpoint); err != nil {
		return nil, err
	}

	log := c.n.log.WithField("endpoint", endpoint)
	log.Debug("[DATA] connecting to client endpoint")

	d := net.Dialer{Timeout: c.n.cfg.ConnectTimeout}
	conn, err := d.DialContext(ctx, "tcp", endpoint)
	if err != nil {
		log.WithField("error", err.Error()).Warn("[DATA] active connect failed")
		return nil, ftperr.Wrap(ftperr.KindNegotiation, "connect", err)
	}
	log.Debug("[DATA] data connection established")
	return c.setConn(conn)
}

// Listen opens the passive listener on the control connection's local
// address and returns the bound address.
func (c *Channel) Listen() (*net.TCPAddr, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ftperr.New(ftperr.KindNegotiation, "listen", "channel closed")
	}
	if c.ln != nil {
		return nil, ftperr.New(ftperr.KindNegotiation, "listen", "already listening")
	}

	host := ""
	if c.n.local != nil {
		host = c.n.local.String()
	}

	ln, err := c.bind(host)
	if err != nil {
		c.n.log.WithField("error", err.Error()).Warn("[PASV] failed to bind data port")
		return nil, ftperr.Wrap(ftperr.KindNegotiation, "listen", err)
	}
	c.ln = ln

	addr := ln.Addr().(*net.TCPAddr)
	c.n.log.WithField("addr", addr.String()).Debug("[PASV] listener ready")
	return addr, nil
}

func (c *Channel) bind(host string) (*net.TCPListener, error) {
	ports := c.n.cfg.Ports
	if ports == nil {
		return listenTCP(host, 0)
	}

	attempts := ports.Size()
	if attempts > 10 {
		attempts = 10
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		port := ports.Next()
		ln, err := listenTCP(host, port)
		if err == nil {
			return ln, nil
		}
		c.n.log.WithFields(logrus.Fields{"port": port, "error": err.Error()}).Debug("[PASV] port busy, trying next")
		lastErr = err
	}
	return nil, fmt.Errorf("no free port in %s: %w", ports, lastErr)
}

func listenTCP(host string, port int) (*net.TCPListener, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	return ln.(*net.TCPListener), nil
}

// Accept waits for the client to connect to the passive listener. Only the
// first matching connection is used; the listener is closed afterwards.
func (c *Channel) Accept(ctx context.Context) (net.Conn, error) {
	c.mu.Lock()
	ln := c.ln
	c.mu.Unlock()
	if ln == nil {
		return nil, ftperr.New(ftperr.KindNegotiation, "accept", "no passive listener")
	}

	timeout := c.n.cfg.AcceptTimeout
	if err := ln.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, ftperr.Wrap(ftperr.KindNegotiation, "accept", err)
	}
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	for {
		conn, err := ln.AcceptTCP()
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return nil, ftperr.Wrap(ftperr.KindNegotiation, "accept", ctx.Err())
			case ftperr.Classify(err) == ftperr.KindTimeout:
				c.n.log.WithField("timeout", timeout).Warn("[PASV] no data connection before deadline")
				return nil, ftperr.Newf(ftperr.KindNegotiation, "accept", "no data connection within %s", timeout)
			default:
				return nil, ftperr.Wrap(ftperr.KindNegotiation, "accept", err)
			}
		}

		remote := addrIP(conn.RemoteAddr())
		if c.n.cfg.StrictPeer && c.n.peer != nil && !c.n.peer.Equal(remote) {
			c.n.log.WithField("remote", conn.RemoteAddr().String()).Warn("[PASV] rejected data connection from foreign address")
			conn.Close()
			continue
		}

		ln.Close()
		c.n.log.WithField("remote", conn.RemoteAddr().String()).Debug("[PASV] data connection accepted")
		return c.setConn(conn)
	}
}

// Close closes the connection and listener, if any, and frees the
// negotiator for the next transfer. It is safe to call more than once.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	ln, conn := c.ln, c.conn
	c.mu.Unlock()

	var errs *multierror.Error
	if conn != nil {
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = multierror.Append(errs, err)
		}
	}
	if ln != nil {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = multierror.Append(errs, err)
		}
	}
	c.n.release(c)
	return errs.ErrorOrNil()
}
