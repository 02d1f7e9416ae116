package protocol

import (
	"context"
	"fmt"
	"net"
	"net/textproto"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"framedftp/auth"
	"framedftp/datachannel"
	"framedftp/fsroot"
	"framedftp/ftperr"
	"framedftp/transfer"
)

// State is the control-channel state of a session.
type State int

const (
	// StateConnected is the initial state, before a successful PASS
	StateConnected State = iota

	// StateIdle means authenticated and waiting for a command
	StateIdle

	// StateTransferring means a data-channel transfer is in progress
	StateTransferring

	// StateClosed is terminal
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "Connected"
	case StateIdle:
		return "Idle"
	case StateTransferring:
		return "Transferring"
	case StateClosed:
		return "Closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// DefaultBanner is sent in the 220 greeting.
const DefaultBanner = "framedftp server ready"

// Config is what a session needs from its server. It is shared read-only by
// all sessions.
type Config struct {
	Root     *fsroot.Root
	Auth     *auth.AuthService
	Data     datachannel.Config
	Transfer transfer.Options

	// Compress is the initial MODE of new sessions.
	Compress bool

	// IdleTimeout closes the control connection after that long without a
	// command. Zero disables it.
	IdleTimeout time.Duration

	Banner string
}

// Session is one control connection. It is owned by the goroutine running
// Serve and is never shared.
type Session struct {
	ID string

	conn       net.Conn
	text       *textproto.Conn
	cfg        Config
	log        *logrus.Entry
	negotiator *datachannel.Negotiator
	executor   *transfer.Executor
	handler    *CommandHandler

	mu    sync.Mutex
	state State

	pendingUser string
	user        *auth.UserProfile
	root        *fsroot.Root
	cwd         string
	compress    bool
	endpoint    string

	quit      bool
	writeErr  error
	closeOnce sync.Once
}

// NewSession wraps an accepted control connection.
func NewSession(id string, conn net.Conn, cfg Config, log *logrus.Entry) *Session {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithFields(logrus.Fields{
		"session": id,
		"remote":  conn.RemoteAddr().String(),
	})

	s := &Session{
		ID:         id,
		conn:       conn,
		text:       textproto.NewConn(conn),
		cfg:        cfg,
		log:        log,
		negotiator: datachannel.NewNegotiator(cfg.Data, conn, log),
		executor:   &transfer.Executor{Options: cfg.Transfer, Log: log},
		state:      StateConnected,
		cwd:        "/",
		compress:   cfg.Compress,
	}
	s.handler = NewCommandHandler(s)
	return s
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// IsAuthenticated reports whether PASS has succeeded.
func (s *Session) IsAuthenticated() bool {
	st := s.State()
	return st == StateIdle || st == StateTransferring
}

// Username returns the logged-in user, or "" before authentication.
func (s *Session) Username() string {
	if s.user == nil {
		return ""
	}
	return s.user.Username
}

// CurrentDir returns the virtual working directory.
func (s *Session) CurrentDir() string {
	return s.cwd
}

// SendResponse writes a single-line reply. A failed write is remembered and
// ends the session after the current command.
func (s *Session) SendResponse(code int, message string) {
	if s.writeErr != nil {
		return
	}
	if err := s.text.PrintfLine("%d %s", code, message); err != nil {
		s.writeErr = ftperr.FromIO("reply", err)
		return
	}
	s.log.WithFields(logrus.Fields{"code": code}).Debugf("[REPLY] %d %s", code, message)
}

// SendMultiline writes a "code-first / lines / code last" block. Each body
// line is indented by one space so it can never be mistaken for a reply.
func (s *Session) SendMultiline(code int, first string, lines []string, last string) {
	if s.writeErr != nil {
		return
	}
	w := s.text.Writer.W
	fmt.Fprintf(w, "%d-%s\r\n", code, first)
	for _, line := range lines {
		fmt.Fprintf(w, " %s\r\n", oneLine(line))
	}
	fmt.Fprintf(w, "%d %s\r\n", code, last)
	if err := w.Flush(); err != nil {
		s.writeErr = ftperr.FromIO("reply", err)
	}
}

// SendError writes the reply for err.
func (s *Session) SendError(err error) {
	s.SendResponse(ReplyCode(err), ErrorText(err))
}

// sendErrorCode writes err with an explicit code.
func (s *Session) sendErrorCode(code int, err error) {
	s.SendResponse(code, ErrorText(err))
}

// Serve greets the client and processes commands until QUIT, disconnect,
// idle timeout or ctx cancellation. A clean end returns nil.
func (s *Session) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()
	defer s.Close()

	banner := s.cfg.Banner
	if banner == "" {
		banner = DefaultBanner
	}
	s.SendResponse(CodeReady, banner)
	s.log.Info("[CONN] session started")

	for s.writeErr == nil {
		if s.cfg.IdleTimeout > 0 {
			s.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		}
		line, err := s.text.ReadLine()
		if err != nil {
			return s.readFailed(ctx, err)
		}
		if s.cfg.IdleTimeout > 0 {
			s.conn.SetReadDeadline(time.Time{})
		}

		cmd, err := Parse(line)
		s.logCommand(line)
		if err != nil {
			s.SendError(s.gateParseError(line, err))
			continue
		}

		s.handler.HandleCommand(ctx, cmd)
		if s.quit {
			s.log.Info("[CONN] session ended by QUIT")
			return s.writeErr
		}
	}
	s.log.WithField("error", s.writeErr.Error()).Warn("[CONN] control channel write failed")
	return s.writeErr
}

// gateParseError turns a bad-argument error for a known verb into
// UnauthenticatedError before login. Unknown verbs keep their 500 reply and
// USER, PASS and QUIT are never gated.
func (s *Session) gateParseError(line string, err error) error {
	if s.IsAuthenticated() || ReplyCode(err) == CodeUnknownCommand {
		return err
	}
	switch verb, _ := SplitLine(line); verb {
	case "USER", "PASS", "QUIT":
		return err
	}
	return errNotLoggedIn
}

func (s *Session) readFailed(ctx context.Context, err error) error {
	switch ftperr.Classify(err) {
	case ftperr.KindClosed:
		if ctx.Err() != nil {
			s.log.Info("[CONN] session closed by server shutdown")
		} else {
			s.log.Info("[CONN] client disconnected")
		}
		return nil
	case ftperr.KindTimeout:
		s.log.WithField("idle_timeout", s.cfg.IdleTimeout).Info("[CONN] idle timeout")
		s.SendResponse(CodeServiceClosing, "Idle timeout, closing control connection")
		return ftperr.Wrap(ftperr.KindTimeout, "read", err)
	}
	s.log.WithField("error", err.Error()).Warn("[CONN] control channel read failed")
	return ftperr.Wrap(ftperr.KindIO, "read", err)
}

func (s *Session) logCommand(line string) {
	verb, arg := SplitLine(line)
	if verb == "PASS" && arg != "" {
		arg = "********"
	}
	s.log.WithFields(logrus.Fields{
		"function": "Serve",
		"state":    s.State().String(),
	}).Debugf("[CMD] %s %s", verb, arg)
}

// Close tears the session down: any open data channel first, then the
// control connection.
func (s *Session) Close() error {
	var result error
	s.closeOnce.Do(func() {
		s.setState(StateClosed)

		var errs *multierror.Error
		if err := s.negotiator.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
		if err := s.text.Close(); err != nil && !ftperr.IsClosed(err) {
			errs = multierror.Append(errs, err)
		}
		result = errs.ErrorOrNil()
	})
	return result
}
