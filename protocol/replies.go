package protocol

import (
	"errors"
	"fmt"
	"strings"

	"framedftp/ftperr"
)

// Reply codes used on the control channel.
const (
	CodeDataOpen        = 150
	CodeOK              = 200
	CodeSize            = 213
	CodeHelp            = 214
	CodeSystem          = 215
	CodeReady           = 220
	CodeGoodbye         = 221
	CodeTransferDone    = 226
	CodePassive         = 227
	CodeLoggedIn        = 230
	CodeFileAction      = 250
	CodePathCreated     = 257
	CodeNeedPassword    = 331
	CodeServiceClosing  = 421
	CodeCantOpenData    = 425
	CodeTransferAborted = 426
	CodeLocalError      = 451
	CodeUnknownCommand  = 500
	CodeSyntaxError     = 501
	CodeBadSequence     = 503
	CodeBadParameter    = 504
	CodeNotLoggedIn     = 530
	CodeFileUnavailable = 550
)

// ReplyCode picks the reply code for err.
func ReplyCode(err error) int {
	var e *ftperr.Error
	if !errors.As(err, &e) {
		return CodeLocalError
	}

	switch e.Kind {
	case ftperr.KindAuthentication, ftperr.KindUnauthenticated:
		return CodeNotLoggedIn
	case ftperr.KindPathTraversal, ftperr.KindNotFound:
		return CodeFileUnavailable
	case ftperr.KindNegotiation:
		return CodeCantOpenData
	case ftperr.KindFraming, ftperr.KindIntegrity, ftperr.KindClosed, ftperr.KindTimeout:
		return CodeTransferAborted
	case ftperr.KindUnknownCommand:
		switch e.Op {
		case opBadArgs:
			return CodeSyntaxError
		case opBadParam:
			return CodeBadParameter
		}
		return CodeUnknownCommand
	}
	return CodeLocalError
}

// ErrorText renders err as "<KindName>: <detail>".
func ErrorText(err error) string {
	var e *ftperr.Error
	if errors.As(err, &e) {
		return fmt.Sprintf("%s: %s", e.Kind, oneLine(e.Detail()))
	}
	return fmt.Sprintf("%s: %s", ftperr.KindIO, oneLine(err.Error()))
}

func oneLine(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}

// ReplyError is a negative reply received from a server. It unwraps to an
// *ftperr.Error whose kind is taken from the reply text, or from the code
// when the text carries no kind.
type ReplyError struct {
	Code int
	Text string
	err  *ftperr.Error
}

// ParseReplyError converts a negative reply back into a typed error.
func ParseReplyError(code int, text string) *ReplyError {
	re := &ReplyError{Code: code, Text: text}

	if name, detail, ok := strings.Cut(text, ": "); ok {
		if kind, known := ftperr.ParseKind(name); known {
			re.err = ftperr.New(kind, "reply", detail)
			return re
		}
	}
	re.err = ftperr.New(kindForCode(code), "reply", text)
	return re
}

func kindForCode(code int) ftperr.Kind {
	switch code {
	case CodeNotLoggedIn:
		return ftperr.KindUnauthenticated
	case CodeFileUnavailable:
		return ftperr.KindNotFound
	case CodeCantOpenData:
		return ftperr.KindNegotiation
	case CodeTransferAborted:
		return ftperr.KindFraming
	case CodeUnknownCommand, CodeSyntaxError, CodeBadParameter:
		return ftperr.KindUnknownCommand
	case CodeServiceClosing:
		return ftperr.KindClosed
	}
	return ftperr.KindIO
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("%d %s", e.Code, e.Text)
}

func (e *ReplyError) Unwrap() error {
	return e.err
}

// Kind returns the error kind carried by the reply.
func (e *ReplyError) Kind() ftperr.Kind {
	return e.err.Kind
}

// IsReplyError reports whether err carries a reply from the server, as
// opposed to a local or transport failure.
func IsReplyError(err error) bool {
	var re *ReplyError
	return errors.As(err, &re)
}
