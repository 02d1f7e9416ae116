package protocol

import (
	"framedftp/ftperr"
)

var errNotLoggedIn = ftperr.New(ftperr.KindUnauthenticated, "auth", "not logged in")

func (h *CommandHandler) withAuth(handler func()) {
	if !h.session.IsAuthenticated() {
		h.session.SendError(errNotLoggedIn)
		return
	}
	handler()
}

// withResolvedDir resolves name to an existing directory under the session
// root and replies with the error if that fails.
func (h *CommandHandler) withResolvedDir(name string, handler func(virtual, host string)) {
	virtual, host, err := h.session.root.ResolveDir(h.session.cwd, name)
	if err != nil {
		h.session.SendError(err)
		return
	}
	handler(virtual, host)
}
