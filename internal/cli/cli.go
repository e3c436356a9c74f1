// Package cli parses pulselink argv into a command and its positional arguments.
package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type Command string

const (
	CommandRun       Command = "run"
	CommandTrigger   Command = "trigger"
	CommandInbound   Command = "inbound"
	CommandStatus    Command = "status"
	CommandListening Command = "listening"
	CommandHistory   Command = "history"
	CommandContacts  Command = "contacts"
	CommandSounds    Command = "sounds"
	CommandDevices   Command = "devices"
	CommandDoctor    Command = "doctor"
	CommandVersion   Command = "version"
	CommandHelp      Command = "help"
)

// ErrUsage marks argv errors that should print help and exit 2.
var ErrUsage = errors.New("usage error")

// arity bounds positional arguments per command; max < 0 means unbounded.
type arity struct {
	min int
	max int
}

var validCommands = map[Command]arity{
	CommandRun:       {0, 0},
	CommandTrigger:   {1, -1},
	CommandInbound:   {1, -1},
	CommandStatus:    {0, 0},
	CommandListening: {1, 1},
	CommandHistory:   {0, 1},
	CommandContacts:  {1, 4},
	CommandSounds:    {0, 0},
	CommandDevices:   {0, 0},
	CommandDoctor:    {0, 0},
	CommandVersion:   {0, 0},
	CommandHelp:      {0, 0},
}

type Parsed struct {
	Command    Command
	Args       []string
	ConfigPath string
	ShowHelp   bool
}

// Parse reads global flags, then one command, then that command's positional
// arguments. Flags are only recognized before the command.
func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true}

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "-h", "--help":
			parsed.ShowHelp = true
			parsed.Command = CommandHelp
		case "--version":
			parsed.ShowHelp = false
			parsed.Command = CommandVersion
		case "--config":
			i++
			if i >= len(args) {
				return Parsed{}, usagef("--config requires a path")
			}
			parsed.ConfigPath = args[i]
		default:
			if strings.HasPrefix(arg, "-") {
				return Parsed{}, usagef("unknown flag: %s", arg)
			}

			cmd := Command(arg)
			bounds, ok := validCommands[cmd]
			if !ok {
				return Parsed{}, usagef("unknown command: %s", arg)
			}

			parsed.Command = cmd
			parsed.ShowHelp = cmd == CommandHelp
			parsed.Args = append([]string(nil), args[i+1:]...)

			if len(parsed.Args) < bounds.min {
				return Parsed{}, usagef("command %q requires at least %d argument(s)", arg, bounds.min)
			}
			if bounds.max >= 0 && len(parsed.Args) > bounds.max {
				return Parsed{}, usagef("unexpected arguments after command %q", arg)
			}
			if err := validateArgs(cmd, parsed.Args); err != nil {
				return Parsed{}, err
			}
			return parsed, nil
		}
	}

	return parsed, nil
}

func validateArgs(cmd Command, args []string) error {
	switch cmd {
	case CommandListening:
		switch strings.ToLower(args[0]) {
		case "on", "off":
		default:
			return usagef("listening expects on or off, got %q", args[0])
		}
	case CommandHistory:
		if len(args) == 1 {
			if n, err := strconv.Atoi(args[0]); err != nil || n <= 0 {
				return usagef("history limit must be a positive integer, got %q", args[0])
			}
		}
	case CommandContacts:
		switch args[0] {
		case "list":
			if len(args) != 1 {
				return usagef("contacts list takes no arguments")
			}
		case "add":
			if len(args) != 4 {
				return usagef("contacts add requires <tier> <name> <phone>")
			}
		case "remove":
			if len(args) != 2 {
				return usagef("contacts remove requires <id>")
			}
			if _, err := strconv.ParseInt(args[1], 10, 64); err != nil {
				return usagef("contact id must be an integer, got %q", args[1])
			}
		default:
			return usagef("unknown contacts subcommand: %s", args[0])
		}
	}
	return nil
}

func usagef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUsage, fmt.Sprintf(format, args...))
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [--config PATH] <command> [args]

Commands:
  run                              Run the listening daemon in the foreground
  trigger <emergency|check-in> [text]
                                   Dispatch an alert through the running daemon
  inbound <body>                   Hand an inbound message to the running daemon
  status                           Print daemon and listening state
  listening <on|off>               Enable or disable voice listening
  history [limit]                  Print recent alert events (default 20)
  contacts list                    List trusted contacts
  contacts add <tier> <name> <phone>
                                   Add a trusted contact
  contacts remove <id>             Remove a trusted contact
  sounds                           List discovered alert sounds
  devices                          List available input devices
  doctor                           Run configuration and environment checks
  version                          Print version information
  help                             Show this help

Flags:
  --config PATH   Config file path (default: $XDG_CONFIG_HOME/pulselink/config.jsonc)
  -h, --help      Show help
  --version       Show version
`, binaryName)
}
