// Package client talks to a framed file-transfer server: control commands
// over a text connection and one framed file per data connection.
package client

import (
	"context"
	"fmt"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"framedftp/ftperr"
	"framedftp/protocol"
	"framedftp/transfer"
)

// DefaultTimeout bounds dialing and each data-channel read or write.
const DefaultTimeout = 30 * time.Second

// Options configures a Client.
type Options struct {
	// Timeout bounds dialing, accepting and every data-channel I/O call.
	Timeout time.Duration

	// Active makes transfers use PORT and an outbound connection from the
	// server instead of passive mode.
	Active bool

	// Transfer holds frame options; Compress applies to uploads.
	Transfer transfer.Options

	Log *logrus.Entry
}

// Client is a connection to one server. It is safe for use by one goroutine
// at a time; calls are serialized.
type Client struct {
	opts Options
	log  *logrus.Entry

	mu       sync.Mutex
	conn     net.Conn
	text     *textproto.Conn
	greeting string
	compress bool
}

// Dial connects to addr and reads the greeting.
func Dial(ctx context.Context, addr string, opts Options) (*Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	d := net.Dialer{Timeout: opts.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, ftperr.Wrap(ftperr.KindIO, "dial", err)
	}

	c := &Client{
		opts:     opts,
		log:      log.WithField("server", addr),
		conn:     conn,
		text:     textproto.NewConn(conn),
		compress: opts.Transfer.Compress,
	}

	conn.SetReadDeadline(time.Now().Add(opts.Timeout))
	_, msg, err := c.expect(protocol.CodeReady)
	conn.SetReadDeadline(time.Time{})
	if err != nil {
		c.text.Close()
		return nil, err
	}
	c.greeting = msg
	return c, nil
}

// Greeting returns the text of the server's 220 reply.
func (c *Client) Greeting() string {
	return c.greeting
}

// expect reads one reply and turns anything but want into an error.
func (c *Client) expect(want int) (int, string, error) {
	code, msg, err := c.text.ReadResponse(0)
	if err != nil {
		return 0, "", ftperr.FromIO("reply", err)
	}
	if code != want {
		return code, msg, protocol.ParseReplyError(code, msg)
	}
	return code, msg, nil
}

// cmd sends one command line and reads its reply.
func (c *Client) cmd(want int, format string, args ...interface{}) (string, error) {
	if err := c.text.PrintfLine(format, args...); err != nil {
		return "", ftperr.FromIO("send", err)
	}
	_, msg, err := c.expect(want)
	return msg, err
}

// Login sends USER and PASS.
func (c *Client) Login(user, password string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.cmd(protocol.CodeNeedPassword, "USER %s", user); err != nil {
		return err
	}
	_, err := c.cmd(protocol.CodeLoggedIn, "PASS %s", password)
	return err
}

// quoted extracts the first "..." section of a reply.
func quoted(msg string) string {
	start := strings.IndexByte(msg, '"')
	if start < 0 {
		return ""
	}
	end := strings.IndexByte(msg[start+1:], '"')
	if end < 0 {
		return ""
	}
	return msg[start+1 : start+1+end]
}

// Pwd returns the working directory.
func (c *Client) Pwd() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg, err := c.cmd(protocol.CodePathCreated, "PWD")
	if err != nil {
		return "", err
	}
	return quoted(msg), nil
}

// Cwd changes the working directory and returns the new one.
func (c *Client) Cwd(dir string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg, err := c.cmd(protocol.CodeFileAction, "CWD %s", dir)
	if err != nil {
		return "", err
	}
	return quoted(msg), nil
}

// Cdup moves to the parent directory and returns the new one.
func (c *Client) Cdup() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg, err := c.cmd(protocol.CodeFileAction, "CDUP")
	if err != nil {
		return "", err
	}
	return quoted(msg), nil
}

// List returns the entries of dir, or of the working directory when dir is
// empty.
func (c *Client) List(dir string) ([]Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	line := "LIST"
	if dir != "" {
		line += " " + dir
	}
	msg, err := c.cmd(protocol.CodeFileAction, "%s", line)
	if err != nil {
		return nil, err
	}
	return parseListing(msg)
}

// Size returns the size of a remote file.
func (c *Client) Size(name string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg, err := c.cmd(protocol.CodeSize, "SIZE %s", name)
	if err != nil {
		return 0, err
	}
	size, err := strconv.ParseInt(strings.TrimSpace(msg), 10, 64)
	if err != nil {
		return 0, ftperr.Newf(ftperr.KindIO, "size", "bad SIZE reply %q", msg)
	}
	return size, nil
}

// Mkdir creates a directory and returns its path.
func (c *Client) Mkdir(name string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg, err := c.cmd(protocol.CodePathCreated, "MKD %s", name)
	if err != nil {
		return "", err
	}
	return quoted(msg), nil
}

// Delete removes a remote file.
func (c *Client) Delete(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.cmd(protocol.CodeFileAction, "DELE %s", name)
	return err
}

// SetCompression switches MODE Z on or off. It also controls whether
// uploads are compressed.
func (c *Client) SetCompression(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	mode := "S"
	if on {
		mode = "Z"
	}
	if _, err := c.cmd(protocol.CodeOK, "MODE %s", mode); err != nil {
		return err
	}
	c.compress = on
	return nil
}

// Compression reports whether MODE Z is on.
func (c *Client) Compression() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.compress
}

// Noop checks that the session is alive.
func (c *Client) Noop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.cmd(protocol.CodeOK, "NOOP")
	return err
}

// Raw sends an arbitrary command line and returns the reply as is.
func (c *Client) Raw(line string) (int, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.text.PrintfLine("%s", line); err != nil {
		return 0, "", ftperr.FromIO("send", err)
	}
	code, msg, err := c.text.ReadResponse(0)
	if err != nil {
		return 0, "", ftperr.FromIO("reply", err)
	}
	return code, msg, nil
}

// Quit ends the session and closes the connection.
func (c *Client) Quit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs *multierror.Error
	if _, err := c.cmd(protocol.CodeGoodbye, "QUIT"); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := c.text.Close(); err != nil && !ftperr.IsClosed(err) {
		errs = multierror.Append(errs, err)
	}
	return errs.ErrorOrNil()
}

// Close closes the connection without QUIT.
func (c *Client) Close() error {
	return c.text.Close()
}

// Entry is one parsed LIST line.
type Entry struct {
	Name    string
	Size    int64
	IsDir   bool
	Perms   string
	ModTime string
}

// parseListing parses a LIST reply body.
func parseListing(msg string) ([]Entry, error) {
	lines := strings.Split(msg, "\n")
	entries := make([]Entry, 0, len(lines))
	for _, line := range lines[1:] {
		if !strings.HasPrefix(line, " ") {
			continue
		}
		entry, err := ParseEntry(strings.TrimPrefix(line, " "))
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ParseEntry parses one ls -l style line: perms, links, owner, group, size,
// month, day, time, then the name, which may contain spaces.
func ParseEntry(line string) (Entry, error) {
	rest := line
	var fields [8]string
	for i := range fields {
		rest = strings.TrimLeft(rest, " ")
		end := strings.IndexByte(rest, ' ')
		if end < 0 {
			return Entry{}, ftperr.Newf(ftperr.KindIO, "list", "malformed listing line %q", line)
		}
		fields[i], rest = rest[:end], rest[end+1:]
	}
	size, err := strconv.ParseInt(fields[4], 10, 64)
	if err != nil {
		return Entry{}, ftperr.Newf(ftperr.KindIO, "list", "malformed size in %q", line)
	}
	return Entry{
		Name:    rest,
		Size:    size,
		IsDir:   strings.HasPrefix(fields[0], "d"),
		Perms:   fields[0],
		ModTime: fmt.Sprintf("%s %s %s", fields[5], fields[6], fields[7]),
	}, nil
}
