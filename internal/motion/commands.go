package motion

import (
	"fmt"
	"sync/atomic"
)

// Command is an asynchronous request to the engine.
type Command int

const (
	// CommandForceClip starts a clip regardless of the thresholds.
	CommandForceClip Command = iota
	// CommandDumpDiagnostics reports the engine internals once.
	CommandDumpDiagnostics
)

func (c Command) String() string {
	switch c {
	case CommandForceClip:
		return "force-clip"
	case CommandDumpDiagnostics:
		return "dump-diagnostics"
	default:
		return fmt.Sprintf("Command(%d)", int(c))
	}
}

// ParseCommand maps a command name to a Command.
func ParseCommand(name string) (Command, error) {
	switch name {
	case "force-clip", "trigger":
		return CommandForceClip, nil
	case "dump-diagnostics", "dump":
		return CommandDumpDiagnostics, nil
	}
	return 0, fmt.Errorf("unknown command %q", name)
}

// Commands is the queue between command sources and the engine loop. Requests
// never block and repeated requests between two ticks coalesce, matching the
// delivery semantics of the signals that feed it.
type Commands struct {
	force atomic.Bool
	dump  atomic.Bool
}

// NewCommands returns an empty queue.
func NewCommands() *Commands { return &Commands{} }

// Request queues cmd for the next tick. Safe for concurrent use.
func (c *Commands) Request(cmd Command) {
	switch cmd {
	case CommandForceClip:
		c.force.Store(true)
	case CommandDumpDiagnostics:
		c.dump.Store(true)
	}
}

// Poll drains the queue. Only the engine loop calls it.
func (c *Commands) Poll() (force, dump bool) {
	return c.force.Swap(false), c.dump.Swap(false)
}
