package rcon

import (
	"fmt"
	"strings"
)

// Delimiter separates fields inside a single protocol line
const Delimiter = "\x02"

// Line kinds, tagged by the first byte of every line
const (
	KindVersion      = 'v'
	KindAuth         = 'a'
	KindCommand      = 'c'
	KindResponse     = 'r'
	KindLog          = 'l'
	KindSubscribe    = 's'
	KindError        = 'e'
	ProtocolVersion  = 4
	DefaultRconPort  = 7777
	commandLogPrefix = "lRCON"
)

// Kind returns the line kind tag, or 0 for an empty line
func Kind(line string) byte {
	if line == "" {
		return 0
	}
	return line[0]
}

// Tokenize splits a line on the field delimiter
func Tokenize(line string) []string {
	return strings.Split(line, Delimiter)
}

// Join rebuilds a line from its fields
func Join(tokens []string) string {
	return strings.Join(tokens, Delimiter)
}

// VersionLine builds the handshake version line sent on connect
func VersionLine(protocol int, gameVersion string) string {
	return fmt.Sprintf("v%s%03d%s%s", Delimiter, protocol, Delimiter, gameVersion)
}

// ParseVersion parses a version line received from a game server.
// Accepts both "v004<delim>Game" and "v<delim>004<delim>Game".
func ParseVersion(line string) (protocol int, gameVersion string, err error) {
	if Kind(line) != KindVersion {
		return 0, "", fmt.Errorf("not a version line: %q", line)
	}
	fields := Tokenize(line[1:])
	if len(fields) > 1 && fields[0] == "" {
		fields = fields[1:]
	}
	if _, err := fmt.Sscanf(fields[0], "%d", &protocol); err != nil {
		return 0, "", fmt.Errorf("parsing protocol version %q: %w", fields[0], err)
	}
	if len(fields) > 1 {
		gameVersion = strings.Join(fields[1:], Delimiter)
	}
	return protocol, gameVersion, nil
}

// AuthLine builds an authentication line for the given identity
func AuthLine(identity string) string {
	return string(KindAuth) + identity
}

// CommandLine builds a command line
func CommandLine(command string) string {
	return string(KindCommand) + command
}

// ResponseLine builds a single response line
func ResponseLine(text string) string {
	return string(KindResponse) + text
}

// CommandWord returns the lower-cased first word of a command
func CommandWord(command string) string {
	word, _, _ := strings.Cut(command, " ")
	return strings.ToLower(word)
}

// CommandExecution is a parsed "command executed" RCON log line:
// lRCON<d>Command;<d><user><d>executed:<d><command>
type CommandExecution struct {
	User    string
	Command string
}

const (
	userToken    = 2
	commandToken = 4
)

// ParseCommandExecution recognises a command-executed log line from its tokens
func ParseCommandExecution(tokens []string) (CommandExecution, bool) {
	if len(tokens) < 5 || tokens[0] != commandLogPrefix || tokens[1] != "Command;" || tokens[3] != "executed:" {
		return CommandExecution{}, false
	}
	return CommandExecution{
		User:    tokens[userToken],
		Command: strings.Join(tokens[commandToken:], Delimiter),
	}, true
}

// SetCommandUser rewrites the user field of command-executed tokens in place
func SetCommandUser(tokens []string, user string) {
	tokens[userToken] = user
}

// CommandExecutionLine builds the log line echoed when a command starts executing
func CommandExecutionLine(user, command string) string {
	return Join([]string{commandLogPrefix, "Command;", user, "executed:", command})
}

// LogCategory returns the sub-tag of a log line, e.g. "CHAT" for "lCHAT<d>..."
func LogCategory(line string) string {
	if Kind(line) != KindLog {
		return ""
	}
	category, _, _ := strings.Cut(line[1:], Delimiter)
	return category
}
