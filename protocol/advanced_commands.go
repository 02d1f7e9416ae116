package protocol

// Miscellaneous Commands

// HandleSYST - System type
func (h *CommandHandler) HandleSYST() {
	h.withAuth(func() {
		h.session.SendResponse(CodeSystem, "UNIX Type: L8")
	})
}

var helpLines = []string{
	"USER PASS QUIT NOOP SYST HELP",
	"PWD CWD CDUP LIST SIZE MKD DELE",
	"MODE PORT ACTIVE_GET PASSIVE_GET ACTIVE_PUT PASSIVE_PUT",
}

// HandleHELP - List recognized commands
func (h *CommandHandler) HandleHELP() {
	h.withAuth(func() {
		h.session.SendMultiline(CodeHelp, "The following commands are recognized:", helpLines, "Help OK")
	})
}
