package protocol

// CommandHandler runs parsed commands against a session. Individual command
// handlers are in separate files.
type CommandHandler struct {
	session *Session
}

// NewCommandHandler creates a new command handler for session
func NewCommandHandler(session *Session) *CommandHandler {
	return &CommandHandler{session: session}
}
