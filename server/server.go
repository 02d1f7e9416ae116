// Package server accepts control connections and runs one session per
// connection in its own goroutine.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"framedftp/ftperr"
	"framedftp/protocol"
)

// Options configures an FTPServer.
type Options struct {
	// Addr is the control listen address, e.g. ":2121".
	Addr string

	// Session is handed to every session. Its Root and Auth are required.
	Session protocol.Config

	// TrustedSubnets restricts control connections to these CIDRs. Empty
	// allows everyone.
	TrustedSubnets []string

	// MaxConnections caps concurrent sessions; zero means unlimited.
	MaxConnections int

	Log *logrus.Entry
}

// FTPServer is a framed file-transfer server.
type FTPServer struct {
	opts    Options
	log     *logrus.Entry
	subnets []*net.IPNet

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	done     chan struct{}

	wg       sync.WaitGroup
	active   atomic.Int32
	sessions atomic.Uint64
}

// NewFTPServer validates opts and prepares user home directories.
func NewFTPServer(opts Options) (*FTPServer, error) {
	if opts.Session.Root == nil {
		return nil, errors.New("server: no root directory configured")
	}
	if opts.Session.Auth == nil {
		return nil, errors.New("server: no authentication configured")
	}
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	server := &FTPServer{opts: opts, log: log}
	for _, cidr := range opts.TrustedSubnets {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("invalid CIDR in trusted subnets: %s", cidr)
		}
		server.subnets = append(server.subnets, ipNet)
	}

	for _, user := range opts.Session.Auth.Users().ListUsers() {
		if user.HomeDir == "" {
			continue
		}
		home := filepath.Join(opts.Session.Root.Dir(), filepath.FromSlash(user.HomeDir))
		if err := os.MkdirAll(home, 0755); err != nil {
			log.WithFields(logrus.Fields{"user": user.Username, "error": err.Error()}).
				Warn("[INIT] failed to create home directory")
		}
	}
	return server, nil
}

// Listen binds the control listener.
func (server *FTPServer) Listen() error {
	listener, err := net.Listen("tcp", server.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to start FTP server: %w", err)
	}
	server.mu.Lock()
	server.listener = listener
	server.mu.Unlock()
	return nil
}

// Addr returns the bound control address, or nil before Listen.
func (server *FTPServer) Addr() net.Addr {
	server.mu.Lock()
	defer server.mu.Unlock()
	if server.listener == nil {
		return nil
	}
	return server.listener.Addr()
}

// Start listens and serves until ctx is cancelled or Stop is called.
func (server *FTPServer) Start(ctx context.Context) error {
	if err := server.Listen(); err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve accepts connections on the bound listener. It returns nil after a
// graceful stop, once every session has finished.
func (server *FTPServer) Serve(ctx context.Context) error {
	server.mu.Lock()
	listener := server.listener
	if listener == nil {
		server.mu.Unlock()
		return errors.New("server: Serve called before Listen")
	}
	ctx, cancel := context.WithCancel(ctx)
	server.cancel = cancel
	done := make(chan struct{})
	server.done = done
	server.mu.Unlock()
	defer close(done)
	defer cancel()

	stop := context.AfterFunc(ctx, func() { listener.Close() })
	defer stop()

	server.log.WithFields(logrus.Fields{
		"addr":            listener.Addr().String(),
		"root":            server.opts.Session.Root.Dir(),
		"trusted_subnets": server.opts.TrustedSubnets,
	}).Info("[INIT] server started")

	var backoff time.Duration
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				server.wg.Wait()
				server.log.Info("[INIT] server stopped")
				return nil
			}
			backoff = nextBackoff(backoff)
			server.log.WithFields(logrus.Fields{"error": err.Error(), "retry_in": backoff}).
				Warn("[CONN] error accepting connection")
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		if !server.isIPAllowed(conn.RemoteAddr()) {
			server.log.WithField("remote", conn.RemoteAddr().String()).Warn("[CONN] connection rejected (not in trusted subnets)")
			conn.Close()
			continue
		}
		if limit := server.opts.MaxConnections; limit > 0 && int(server.active.Load()) >= limit {
			server.log.WithField("remote", conn.RemoteAddr().String()).Warn("[CONN] connection rejected (too many connections)")
			fmt.Fprintf(conn, "%d Too many connections, try again later\r\n", protocol.CodeServiceClosing)
			conn.Close()
			continue
		}

		server.wg.Add(1)
		server.active.Add(1)
		go server.handleClient(ctx, conn)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > time.Second {
		d = time.Second
	}
	return d
}

// handleClient runs one session to completion.
func (server *FTPServer) handleClient(ctx context.Context, conn net.Conn) {
	defer server.wg.Done()
	defer server.active.Add(-1)

	id := fmt.Sprintf("s%d", server.sessions.Add(1))
	session := protocol.NewSession(id, conn, server.opts.Session, server.log)

	err := session.Serve(ctx)
	switch {
	case err == nil:
	case ftperr.IsTimeout(err):
		server.log.WithField("session", id).Debug("[CONN] session timed out")
	default:
		server.log.WithFields(logrus.Fields{"session": id, "error": err.Error()}).Warn("[CONN] session ended with error")
	}
}

// isIPAllowed checks the remote address against the trusted subnets
func (server *FTPServer) isIPAllowed(addr net.Addr) bool {
	if len(server.subnets) == 0 {
		return true
	}
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return false
	}
	for _, ipNet := range server.subnets {
		if ipNet.Contains(tcp.IP) {
			return true
		}
	}
	return false
}

// ActiveSessions returns the number of sessions currently running.
func (server *FTPServer) ActiveSessions() int {
	return int(server.active.Load())
}

// Stop closes the listener, ends every session and waits for Serve to
// return.
func (server *FTPServer) Stop() error {
	server.mu.Lock()
	listener, cancel, done := server.listener, server.cancel, server.done
	server.mu.Unlock()

	var errs *multierror.Error
	if cancel != nil {
		cancel()
	}
	if listener != nil {
		if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = multierror.Append(errs, err)
		}
	}
	if done != nil {
		<-done
	}
	return errs.ErrorOrNil()
}
