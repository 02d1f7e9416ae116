// Package ftperr defines the error kinds shared by the control channel, the
// data-channel negotiator and the frame codec.
//
// Every failure that can reach a client is an *Error carrying a Kind. The
// control channel turns the Kind into a reply code and prefixes the reply text
// with the Kind name, which lets clients map replies back to the same kinds.
package ftperr

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
)

// Kind categorizes protocol errors
type Kind int

const (
	// KindIO indicates a filesystem or socket failure
	KindIO Kind = iota

	// KindAuthentication indicates bad credentials or a PASS out of sequence
	KindAuthentication

	// KindUnauthenticated indicates a command issued before PASS succeeded
	KindUnauthenticated

	// KindPathTraversal indicates a path that resolves outside the root
	KindPathTraversal

	// KindNotFound indicates a missing file or directory
	KindNotFound

	// KindNegotiation indicates a data channel could not be established
	KindNegotiation

	// KindFraming indicates a bad magic, version or truncated frame
	KindFraming

	// KindIntegrity indicates a CRC mismatch
	KindIntegrity

	// KindUnknownCommand indicates a control line that does not parse
	KindUnknownCommand

	// KindClosed indicates the peer closed the stream
	KindClosed

	// KindTimeout indicates a deadline expired
	KindTimeout
)

var kindNames = map[Kind]string{
	KindIO:              "IoError",
	KindAuthentication:  "AuthenticationError",
	KindUnauthenticated: "UnauthenticatedError",
	KindPathTraversal:   "PathTraversalError",
	KindNotFound:        "NotFoundError",
	KindNegotiation:     "NegotiationError",
	KindFraming:         "FramingError",
	KindIntegrity:       "IntegrityError",
	KindUnknownCommand:  "UnknownCommandError",
	KindClosed:          "ClosedError",
	KindTimeout:         "TimeoutError",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind maps a kind name as printed by Kind.String back to its Kind.
func ParseKind(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name {
			return k, true
		}
	}
	return KindIO, false
}

// Error is a protocol error of a specific kind.
type Error struct {
	// Kind is the error category
	Kind Kind

	// Op names the operation that failed, e.g. "decode" or "accept"
	Op string

	// Message is a human-readable description
	Message string

	// Err is the underlying cause, if any
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Detail returns the message and cause without the operation or kind prefix.
// It is what the control channel puts after "<Kind>: " in a reply.
func (e *Error) Detail() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return strings.TrimSuffix(strings.ToLower(e.Kind.String()), "error")
	}
}

// New creates an error of the given kind.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind to an underlying error. The given kind always wins,
// even when err is already an *Error; use FromIO or FromFS to keep an
// existing kind.
func Wrap(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf reports the kind of err. Errors that are not *Error are classified
// with Classify.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Classify(err)
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Classify sorts a raw I/O error into Closed, Timeout or IO.
func Classify(err error) Kind {
	if err == nil {
		return KindIO
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrClosed) {
		return KindClosed
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	return KindIO
}

// FromIO wraps a raw socket error, keeping an existing kind if err is
// already an *Error.
func FromIO(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: Classify(err), Op: op, Err: err}
}

// FromFS wraps a filesystem error, mapping "does not exist" to NotFound.
func FromFS(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, os.ErrNotExist) {
		return &Error{Kind: KindNotFound, Op: op, Err: err}
	}
	return &Error{Kind: KindIO, Op: op, Err: err}
}

// IsTimeout checks if an error is a timeout error
func IsTimeout(err error) bool {
	return KindOf(err) == KindTimeout
}

// IsClosed checks if an error means the peer went away
func IsClosed(err error) bool {
	return KindOf(err) == KindClosed
}

// IsFatalToStream reports whether the data stream that produced err can no
// longer be trusted to be frame-aligned.
func IsFatalToStream(err error) bool {
	switch KindOf(err) {
	case KindFraming, KindClosed, KindTimeout:
		return true
	}
	return false
}
