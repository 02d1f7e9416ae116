package protocol

import (
	"context"

	"framedftp/ftperr"
)

// HandleCommand routes a parsed command to its handler.
func (h *CommandHandler) HandleCommand(ctx context.Context, cmd Command) {
	switch c := cmd.(type) {
	// Connection commands
	case User:
		h.HandleUSER(c.Name)
	case Pass:
		h.HandlePASS(c.Secret)
	case Quit:
		h.HandleQUIT()

	// Directory commands
	case Pwd:
		h.HandlePWD()
	case Cwd:
		h.HandleCWD(c.Path)
	case Cdup:
		h.HandleCDUP()
	case List:
		h.HandleLIST(c.Path)

	// File management commands
	case Size:
		h.HandleSIZE(c.Path)
	case Mkd:
		h.HandleMKD(c.Path)
	case Dele:
		h.HandleDELE(c.Path)

	// Data connection commands
	case Mode:
		h.HandleMODE(c.Compressed)
	case Port:
		h.HandlePORT(c.Endpoint)
	case TransferRequest:
		h.HandleTransfer(ctx, c)

	// Simple response commands
	case Noop:
		h.withAuth(func() {
			h.session.SendResponse(CodeOK, "NOOP command successful")
		})
	case Syst:
		h.HandleSYST()
	case Help:
		h.HandleHELP()

	default:
		h.session.SendError(ftperr.Newf(ftperr.KindUnknownCommand, opUnknownVerb, "command %s not implemented", cmd.Verb()))
	}
}
