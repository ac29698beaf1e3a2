package relay

import (
	"github.com/ernie/renx-relay/internal/domain"
	"github.com/ernie/renx-relay/internal/rcon"
)

// FakeCommand is a command the relay answers itself, without touching the
// downstream session
type FakeCommand int

const (
	FakeNone FakeCommand = iota
	FakePing
	FakeNoop
)

func (f FakeCommand) String() string {
	switch f {
	case FakePing:
		return "ping"
	case FakeNoop:
		return "noop"
	default:
		return "none"
	}
}

const unknownCommandResponse = "Non-existent RconCommand - executed as ConsoleCommand"

// Execute runs a fake command. handled is false when the command still needs
// the downstream session.
func (f FakeCommand) Execute(command string, players []domain.Player) (handled bool, responses []string) {
	switch f {
	case FakePing:
		return true, []string{"PONG"}
	case FakeNoop:
		return true, nil
	default:
		return false, nil
	}
}

// fakeResponse renders the full protocol exchange for a synthesized command:
// the execution echo, every response line and the completion marker
func fakeResponse(identity, command string, responses []string) []string {
	lines := make([]string, 0, len(responses)+2)
	lines = append(lines, rcon.CommandExecutionLine(identity, command))
	for _, r := range responses {
		lines = append(lines, rcon.ResponseLine(r))
	}
	return append(lines, rcon.CommandLine(command))
}
