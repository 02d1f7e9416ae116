package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"framedftp/ftperr"
)

func TestReplyCode(t *testing.T) {
	tests := []struct {
		kind ftperr.Kind
		want int
	}{
		{ftperr.KindAuthentication, 530},
		{ftperr.KindUnauthenticated, 530},
		{ftperr.KindPathTraversal, 550},
		{ftperr.KindNotFound, 550},
		{ftperr.KindNegotiation, 425},
		{ftperr.KindFraming, 426},
		{ftperr.KindIntegrity, 426},
		{ftperr.KindTimeout, 426},
		{ftperr.KindIO, 451},
		{ftperr.KindUnknownCommand, 500},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ReplyCode(ftperr.New(tt.kind, "op", "msg")), tt.kind.String())
	}
	assert.Equal(t, 451, ReplyCode(errors.New("plain")))
}

func TestErrorTextRoundTrip(t *testing.T) {
	err := ftperr.Newf(ftperr.KindPathTraversal, "resolve", "%q escapes the root", "../../etc")
	text := ErrorText(err)
	assert.Equal(t, `PathTraversalError: "../../etc" escapes the root`, text)

	re := ParseReplyError(ReplyCode(err), text)
	assert.Equal(t, 550, re.Code)
	assert.Equal(t, ftperr.KindPathTraversal, re.Kind())
	assert.True(t, ftperr.Is(re, ftperr.KindPathTraversal))
	assert.Equal(t, "550 "+text, re.Error())
}

func TestErrorTextIsOneLine(t *testing.T) {
	text := ErrorText(ftperr.New(ftperr.KindIO, "write", "line one\r\nline two"))
	assert.NotContains(t, text, "\n")
	assert.NotContains(t, text, "\r")
}

func TestParseReplyErrorWithoutKind(t *testing.T) {
	re := ParseReplyError(550, "File not found")
	assert.Equal(t, ftperr.KindNotFound, re.Kind())

	re = ParseReplyError(530, "Bogus: text")
	assert.Equal(t, ftperr.KindUnauthenticated, re.Kind())

	re = ParseReplyError(421, "Idle timeout")
	assert.True(t, ftperr.IsClosed(re))
}
