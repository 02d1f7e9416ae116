package protocol

import (
	"strings"

	"framedftp/ftperr"
)

// Command is one parsed control-channel line. The concrete types below are
// the only implementations.
type Command interface {
	Verb() string
	command()
}

// Direction is the direction of a file transfer, seen from the client.
type Direction int

const (
	// Get moves a file from the server to the client
	Get Direction = iota

	// Put moves a file from the client to the server
	Put
)

func (d Direction) String() string {
	if d == Put {
		return "PUT"
	}
	return "GET"
}

type (
	User struct{ Name string }
	Pass struct{ Secret string }
	Pwd  struct{}
	Cwd  struct{ Path string }
	Cdup struct{}

	// List lists Path, or the working directory when Path is empty.
	List struct{ Path string }

	Size struct{ Path string }
	Mkd  struct{ Path string }
	Dele struct{ Path string }

	// Mode selects whether GET frames are compressed.
	Mode struct{ Compressed bool }

	// Port sets the endpoint for the next active transfer.
	Port struct{ Endpoint string }

	Noop struct{}
	Syst struct{}
	Help struct{}
	Quit struct{}
)

// TransferRequest is one of ACTIVE_GET, PASSIVE_GET, ACTIVE_PUT or
// PASSIVE_PUT. Endpoint is only set for active transfers that name their
// endpoint inline.
type TransferRequest struct {
	Direction Direction
	Passive   bool
	Filename  string
	Endpoint  string
}

func (User) Verb() string { return "USER" }
func (Pass) Verb() string { return "PASS" }
func (Pwd) Verb() string  { return "PWD" }
func (Cwd) Verb() string  { return "CWD" }
func (Cdup) Verb() string { return "CDUP" }
func (List) Verb() string { return "LIST" }
func (Size) Verb() string { return "SIZE" }
func (Mkd) Verb() string  { return "MKD" }
func (Dele) Verb() string { return "DELE" }
func (Mode) Verb() string { return "MODE" }
func (Port) Verb() string { return "PORT" }
func (Noop) Verb() string { return "NOOP" }
func (Syst) Verb() string { return "SYST" }
func (Help) Verb() string { return "HELP" }
func (Quit) Verb() string { return "QUIT" }

func (t TransferRequest) Verb() string {
	mode := "ACTIVE_"
	if t.Passive {
		mode = "PASSIVE_"
	}
	return mode + t.Direction.String()
}

func (User) command()            {}
func (Pass) command()            {}
func (Pwd) command()             {}
func (Cwd) command()             {}
func (Cdup) command()            {}
func (List) command()            {}
func (Size) command()            {}
func (Mkd) command()             {}
func (Dele) command()            {}
func (Mode) command()            {}
func (Port) command()            {}
func (Noop) command()            {}
func (Syst) command()            {}
func (Help) command()            {}
func (Quit) command()            {}
func (TransferRequest) command() {}

// Parse errors use these operation names so the reply code can tell an
// unknown verb (500) from bad arguments (501) and an unsupported parameter
// (504).
const (
	opUnknownVerb = "parse"
	opBadArgs     = "args"
	opBadParam    = "param"
)

func unknownVerb(verb string) error {
	return ftperr.Newf(ftperr.KindUnknownCommand, opUnknownVerb, "unknown command %q", verb)
}

func badArgs(verb, format string, args ...interface{}) error {
	e := ftperr.Newf(ftperr.KindUnknownCommand, opBadArgs, format, args...)
	e.Message = verb + ": " + e.Message
	return e
}

// SplitLine separates the verb from its argument. The argument is the rest of
// the line after the first space, trimmed, so file names may contain spaces.
func SplitLine(line string) (verb, arg string) {
	line = strings.TrimSpace(line)
	if i := strings.IndexAny(line, " \t"); i >= 0 {
		return strings.ToUpper(line[:i]), strings.TrimSpace(line[i+1:])
	}
	return strings.ToUpper(line), ""
}

// Parse turns one control line into a Command.
func Parse(line string) (Command, error) {
	verb, arg := SplitLine(line)
	if verb == "" {
		return nil, ftperr.New(ftperr.KindUnknownCommand, opUnknownVerb, "empty command")
	}

	need := func() error {
		if arg == "" {
			return badArgs(verb, "argument required")
		}
		return nil
	}
	none := func() error {
		if arg != "" {
			return badArgs(verb, "takes no argument")
		}
		return nil
	}

	switch verb {
	case "USER":
		if err := need(); err != nil {
			return nil, err
		}
		return User{Name: arg}, nil
	case "PASS":
		return Pass{Secret: arg}, nil
	case "PWD", "XPWD":
		if err := none(); err != nil {
			return nil, err
		}
		return Pwd{}, nil
	case "CWD":
		if err := need(); err != nil {
			return nil, err
		}
		return Cwd{Path: arg}, nil
	case "CDUP":
		if err := none(); err != nil {
			return nil, err
		}
		return Cdup{}, nil
	case "LIST":
		return List{Path: arg}, nil
	case "SIZE":
		if err := need(); err != nil {
			return nil, err
		}
		return Size{Path: arg}, nil
	case "MKD", "XMKD":
		if err := need(); err != nil {
			return nil, err
		}
		return Mkd{Path: arg}, nil
	case "DELE":
		if err := need(); err != nil {
			return nil, err
		}
		return Dele{Path: arg}, nil
	case "MODE":
		switch strings.ToUpper(arg) {
		case "S":
			return Mode{Compressed: false}, nil
		case "Z":
			return Mode{Compressed: true}, nil
		}
		e := ftperr.Newf(ftperr.KindUnknownCommand, opBadParam, "unsupported mode %q", arg)
		e.Message = verb + ": " + e.Message
		return nil, e
	case "PORT":
		if err := need(); err != nil {
			return nil, err
		}
		endpoint, err := ParsePortArg(arg)
		if err != nil {
			return nil, badArgs(verb, "%v", err)
		}
		return Port{Endpoint: endpoint}, nil
	case "ACTIVE_GET", "PASSIVE_GET", "ACTIVE_PUT", "PASSIVE_PUT":
		if err := need(); err != nil {
			return nil, err
		}
		return parseTransfer(verb, arg), nil
	case "NOOP":
		return Noop{}, nil
	case "SYST":
		return Syst{}, nil
	case "HELP":
		return Help{}, nil
	case "QUIT":
		return Quit{}, nil
	}
	return nil, unknownVerb(verb)
}

func parseTransfer(verb, arg string) TransferRequest {
	req := TransferRequest{
		Passive:  strings.HasPrefix(verb, "PASSIVE_"),
		Filename: arg,
	}
	if strings.HasSuffix(verb, "_PUT") {
		req.Direction = Put
	}
	if req.Passive {
		return req
	}

	// An active transfer may name its endpoint as the last token.
	if i := strings.LastIndexAny(arg, " \t"); i > 0 {
		if endpoint, ok := ParseEndpoint(arg[i+1:]); ok {
			req.Filename = strings.TrimSpace(arg[:i])
			req.Endpoint = endpoint
		}
	}
	return req
}
