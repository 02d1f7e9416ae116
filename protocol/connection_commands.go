package protocol

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"framedftp/ftperr"
)

// HandleUSER stores the name for the following PASS.
func (h *CommandHandler) HandleUSER(username string) {
	s := h.session
	if s.IsAuthenticated() {
		s.sendErrorCode(CodeBadSequence, ftperr.New(ftperr.KindAuthentication, "user", "already logged in"))
		return
	}
	s.pendingUser = username
	s.SendResponse(CodeNeedPassword, fmt.Sprintf("User %s OK. Password required", username))
}

// HandlePASS checks the pending user's password. The pending name is
// consumed whatever the outcome.
func (h *CommandHandler) HandlePASS(password string) {
	s := h.session
	if s.IsAuthenticated() {
		s.sendErrorCode(CodeBadSequence, ftperr.New(ftperr.KindAuthentication, "pass", "already logged in"))
		return
	}
	username := s.pendingUser
	s.pendingUser = ""
	if username == "" {
		s.sendErrorCode(CodeBadSequence, ftperr.New(ftperr.KindAuthentication, "pass", "send USER first"))
		return
	}

	log := s.log.WithFields(logrus.Fields{"function": "HandlePASS", "user": username})

	profile, err := s.cfg.Auth.AuthenticateUser(username, password)
	if err != nil {
		log.Warn("[AUTH] login failed")
		s.SendError(err)
		return
	}

	root, err := s.cfg.Root.Sub(profile.HomeDir)
	if err != nil {
		log.WithField("error", err.Error()).Error("[AUTH] home directory unavailable")
		s.sendErrorCode(CodeNotLoggedIn, ftperr.New(ftperr.KindAuthentication, "pass", "home directory unavailable"))
		return
	}

	s.user = profile
	s.root = root
	s.cwd = "/"
	s.setState(StateIdle)

	log.WithField("home", profile.HomeDir).Info("[AUTH] user logged in")
	s.SendResponse(CodeLoggedIn, fmt.Sprintf("User %s logged in", username))
}

// HandleQUIT says goodbye; the session closes after this command.
func (h *CommandHandler) HandleQUIT() {
	h.session.SendResponse(CodeGoodbye, "Goodbye")
	h.session.quit = true
}
