package client

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"framedftp/datachannel"
	"framedftp/ftperr"
	"framedftp/protocol"
	"framedftp/transfer"
)

// Stats describes a finished transfer as seen by the client.
type Stats struct {
	Bytes      int64
	Compressed bool
	Duration   time.Duration
	Reply      string
}

// Rate returns the throughput in bytes per second.
func (s Stats) Rate() float64 {
	if s.Duration <= 0 {
		return 0
	}
	return float64(s.Bytes) / s.Duration.Seconds()
}

// Retrieve downloads name into dst. dst may have received bytes even when an
// error is returned; callers writing to a file should discard it then.
func (c *Client) Retrieve(ctx context.Context, name string, dst io.Writer) (Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	var stats Stats
	err := c.transfer(ctx, protocol.Get, name, func(conn net.Conn) error {
		h, n, err := transfer.ReadFrame(conn, transfer.SinkWriter(dst), c.opts.Transfer)
		stats.Bytes = n
		stats.Compressed = h.Compressed()
		return err
	}, &stats)
	stats.Duration = time.Since(start)
	return stats, err
}

// Store uploads the next size bytes of src as name.
func (c *Client) Store(ctx context.Context, name string, src io.ReadSeeker, size int64) (Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	opts := c.opts.Transfer
	opts.Compress = c.compress

	start := time.Now()
	var stats Stats
	err := c.transfer(ctx, protocol.Put, name, func(conn net.Conn) error {
		h, err := transfer.WriteFrame(conn, src, size, opts)
		if err != nil {
			return err
		}
		stats.Bytes = size
		stats.Compressed = h.Compressed()
		return ftperr.FromIO("close", datachannel.CloseWrite(conn))
	}, &stats)
	stats.Duration = time.Since(start)
	return stats, err
}

// transfer negotiates a data channel for one command, runs move on it and
// reads the final reply.
func (c *Client) transfer(ctx context.Context, dir protocol.Direction, name string, move func(net.Conn) error, stats *Stats) error {
	req := protocol.TransferRequest{Direction: dir, Passive: !c.opts.Active, Filename: name}
	log := c.log.WithFields(logrus.Fields{"verb": req.Verb(), "file": name})

	var (
		conn net.Conn
		err  error
	)
	if c.opts.Active {
		conn, err = c.openActive(ctx, req)
	} else {
		conn, err = c.openPassive(ctx, req)
	}
	if err != nil {
		log.WithField("error", err.Error()).Debug("[XFER] no data channel")
		return err
	}

	moveErr := move(datachannel.WithIOTimeout(conn, c.opts.Timeout))
	conn.Close()

	// The server always answers once the data channel is gone.
	_, msg, replyErr := c.expect(protocol.CodeTransferDone)
	stats.Reply = msg
	if replyErr != nil {
		if moveErr != nil && !protocol.IsReplyError(replyErr) {
			return moveErr
		}
		return replyErr
	}
	if moveErr != nil {
		return moveErr
	}
	log.WithFields(logrus.Fields{"bytes": stats.Bytes, "compressed": stats.Compressed}).Debug("[XFER] done")
	return nil
}

// openPassive sends the PASSIVE_* command and dials the endpoint from the
// 227 reply.
func (c *Client) openPassive(ctx context.Context, req protocol.TransferRequest) (net.Conn, error) {
	if err := c.text.PrintfLine("%s %s", req.Verb(), req.Filename); err != nil {
		return nil, ftperr.FromIO("send", err)
	}
	_, msg, err := c.expect(protocol.CodePassive)
	if err != nil {
		return nil, err
	}
	endpoint, err := protocol.ParsePassiveReply(msg)
	if err != nil {
		return nil, err
	}

	d := net.Dialer{Timeout: c.opts.Timeout}
	conn, err := d.DialContext(ctx, "tcp", endpoint)
	if err != nil {
		// The server is still waiting to accept; its final reply follows.
		c.expect(protocol.CodeTransferDone)
		return nil, ftperr.Wrap(ftperr.KindNegotiation, "dial", err)
	}
	return conn, nil
}

// openActive listens on the control connection's local address, announces
// it with PORT and accepts the server's connection after the 150 reply.
func (c *Client) openActive(ctx context.Context, req protocol.TransferRequest) (net.Conn, error) {
	local, ok := c.conn.LocalAddr().(*net.TCPAddr)
	if !ok {
		return nil, ftperr.New(ftperr.KindNegotiation, "active", "control connection is not TCP")
	}
	ln, err := net.ListenTCP("tcp", &net.TCPAddr{IP: local.IP})
	if err != nil {
		return nil, ftperr.Wrap(ftperr.KindNegotiation, "listen", err)
	}
	defer ln.Close()

	addr := ln.Addr().(*net.TCPAddr)
	if _, err := c.cmd(protocol.CodeOK, "PORT %s", protocol.FormatHostPort(addr)); err != nil {
		return nil, err
	}
	if err := c.text.PrintfLine("%s %s", req.Verb(), req.Filename); err != nil {
		return nil, ftperr.FromIO("send", err)
	}
	if _, _, err := c.expect(protocol.CodeDataOpen); err != nil {
		return nil, err
	}

	ln.SetDeadline(time.Now().Add(c.opts.Timeout))
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	conn, err := ln.Accept()
	if err != nil {
		// The server has a connection we never took; it will fail and reply.
		c.expect(protocol.CodeTransferDone)
		return nil, ftperr.Wrap(ftperr.KindNegotiation, "accept", err)
	}
	return conn, nil
}

// RetrieveFile downloads name to localPath. The file only appears once the
// frame has been verified.
func (c *Client) RetrieveFile(ctx context.Context, name, localPath string) (Stats, error) {
	dir := filepath.Dir(localPath)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(localPath)+".*.part")
	if err != nil {
		return Stats{}, ftperr.FromFS("create", err)
	}
	tmpName := tmp.Name()

	stats, err := c.Retrieve(ctx, name, tmp)
	if closeErr := tmp.Close(); err == nil && closeErr != nil {
		err = ftperr.FromFS("close", closeErr)
	}
	if err != nil {
		os.Remove(tmpName)
		return stats, err
	}
	if err := os.Rename(tmpName, localPath); err != nil {
		os.Remove(tmpName)
		return stats, ftperr.FromFS("rename", err)
	}
	return stats, nil
}

// StoreFile uploads localPath as name.
func (c *Client) StoreFile(ctx context.Context, localPath, name string) (Stats, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return Stats{}, ftperr.FromFS("open", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Stats{}, ftperr.FromFS("stat", err)
	}
	if info.IsDir() {
		return Stats{}, ftperr.Newf(ftperr.KindIO, "open", "%s is a directory", localPath)
	}
	if name == "" {
		name = filepath.Base(localPath)
	}
	return c.Store(ctx, name, f, info.Size())
}

// String formats stats for the command line.
func (s Stats) String() string {
	mode := "raw"
	if s.Compressed {
		mode = "compressed"
	}
	return fmt.Sprintf("%d bytes in %s (%s, %.1f KB/s)", s.Bytes, s.Duration.Round(time.Millisecond), mode, s.Rate()/1024)
}
