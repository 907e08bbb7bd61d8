package envelope

import "strings"

// ControlCommand identifies one of the daemon's control-line verbs (spec.md §4.1).
type ControlCommand string

const (
	ControlIdentify ControlCommand = "identify"
	ControlHistory  ControlCommand = "history"
	ControlShutdown ControlCommand = "shutdown"
	ControlUnknown  ControlCommand = ""
)

// Control is a parsed control line: "#<command>[:<argument>]".
type Control struct {
	Command     ControlCommand
	Raw         string // the command token as written, for logging unknown commands
	Argument    string
	HasArgument bool
}

// IsControlLine reports whether line begins with the control-line prefix.
func IsControlLine(line []byte) bool {
	return len(line) > 0 && line[0] == '#'
}

// ParseControl parses a control line of the form "#command" or
// "#command:argument". The leading '#' must already be present in line.
func ParseControl(line string) Control {
	body := strings.TrimPrefix(line, "#")
	name, arg, hasArg := strings.Cut(body, ":")

	c := Control{Raw: name, Argument: arg, HasArgument: hasArg}
	switch name {
	case "identify":
		c.Command = ControlIdentify
	case "history":
		c.Command = ControlHistory
	case "shutdown":
		c.Command = ControlShutdown
	default:
		c.Command = ControlUnknown
	}
	return c
}
