// Package cli parses hark's command line.
package cli

import (
	"errors"
	"fmt"
	"strings"
)

type Command string

const (
	CommandToggle  Command = "toggle"
	CommandStop    Command = "stop"
	CommandCancel  Command = "cancel"
	CommandStatus  Command = "status"
	CommandDevices Command = "devices"
	CommandDoctor  Command = "doctor"
	CommandVersion Command = "version"
	CommandHelp    Command = "help"
)

var validCommands = map[Command]struct{}{
	CommandToggle:  {},
	CommandStop:    {},
	CommandCancel:  {},
	CommandStatus:  {},
	CommandDevices: {},
	CommandDoctor:  {},
	CommandVersion: {},
	CommandHelp:    {},
}

// Parsed is the resolved invocation. Continuous is only meaningful for toggle.
type Parsed struct {
	Command    Command
	ConfigPath string
	ShowHelp   bool
	Continuous bool
}

// Parse reads flags followed by at most one command.
func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true}

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch {
		case arg == "-h" || arg == "--help":
			parsed.ShowHelp = true
			parsed.Command = CommandHelp
		case arg == "--version":
			parsed.ShowHelp = false
			parsed.Command = CommandVersion
		case arg == "--continuous":
			parsed.Continuous = true
		case arg == "--config":
			i++
			if i >= len(args) || strings.TrimSpace(args[i]) == "" {
				return Parsed{}, errors.New("--config requires a path")
			}
			parsed.ConfigPath = args[i]
		case strings.HasPrefix(arg, "--config="):
			path := strings.TrimPrefix(arg, "--config=")
			if strings.TrimSpace(path) == "" {
				return Parsed{}, errors.New("--config requires a path")
			}
			parsed.ConfigPath = path
		case strings.HasPrefix(arg, "-"):
			return Parsed{}, fmt.Errorf("unknown flag: %s", arg)
		default:
			cmd := Command(arg)
			if _, ok := validCommands[cmd]; !ok {
				return Parsed{}, fmt.Errorf("unknown command: %s", arg)
			}

			parsed.Command = cmd
			parsed.ShowHelp = cmd == CommandHelp
			if i != len(args)-1 {
				return Parsed{}, fmt.Errorf("unexpected arguments after command %q", arg)
			}
		}
	}

	if parsed.Continuous && parsed.Command != CommandToggle {
		return Parsed{}, fmt.Errorf("--continuous only applies to %s", CommandToggle)
	}
	return parsed, nil
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [--config PATH] [--continuous] <command>

Commands:
  toggle    Start a recognition session, or stop capture when one is running
  stop      Stop capture and wait for the final result
  cancel    Cancel the running session and discard its result
  status    Print capture and recognize states
  devices   List available input devices
  doctor    Check config, audio device, and recognizer readiness
  version   Print version information
  help      Show this help

Flags:
  --config PATH   Config file path (default: $XDG_CONFIG_HOME/hark/config.jsonc)
  --continuous    Keep the recognizer processing from the first captured block (toggle only)
  -h, --help      Show help
  --version       Show version
`, binaryName)
}
