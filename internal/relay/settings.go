package relay

import (
	"net"
	"strconv"
)

// DefaultUpstreamPort is used when an upstream section does not name a port
const DefaultUpstreamPort = 21337

// UpstreamSettings is the immutable configuration of one upstream target
type UpstreamSettings struct {
	Label    string
	Host     string
	Port     int
	Identity string // empty means use the downstream's real RCON user

	SanitizeNames    bool
	SanitizeIPs      bool
	SanitizeHWIDs    bool
	SanitizeSteamIDs bool

	SuppressUnknownCommands     bool
	SuppressBlacklistedCommands bool
	SuppressChatLogs            bool

	FakePings              bool
	FakeSuppressedCommands bool

	LogTraffic bool

	FakeCommands map[string]FakeCommand
}

// Address returns the host:port dial target
func (s *UpstreamSettings) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// IdentityFor returns the RCON identity this upstream presents
func (s *UpstreamSettings) IdentityFor(realUser string) string {
	if s.Identity != "" {
		return s.Identity
	}
	return realUser
}

// BuildFakeCommands fills the fake-command table from the fake toggles
func (s *UpstreamSettings) BuildFakeCommands() {
	table := make(map[string]FakeCommand)
	if s.FakePings {
		table["ping"] = FakePing
	}
	if s.FakeSuppressedCommands && s.SuppressBlacklistedCommands {
		for word := range blacklistedCommands {
			table[word] = FakeNoop
		}
	}
	s.FakeCommands = table
}

// knownCommands is the allow-list of commands the game server recognises
var knownCommands = toSet(
	"addbots", "addredbots", "addbluebots", "allowcharacterchange", "amsg",
	"ban", "botlist", "botvarlist", "buildinginfo", "cancelvote", "changemap",
	"changename", "clientlist", "clientvarlist", "disarm", "disarmbeacon",
	"disarmc4", "endmap", "fkick", "forcenonseamless", "forceseamless",
	"gameinfo", "help", "hostprivatesay", "hostsay", "kick", "kickban",
	"kill", "killbots", "lockbuildings", "map", "mineban", "minelimit",
	"mineunban", "mutatorlist", "mute", "normalmode", "ping", "playerinfo",
	"recorddemo", "rotation", "serverinfo", "setcommander", "spectate",
	"swapteams", "teaminfo", "textmute", "textunmute", "togglesuddendeath",
	"unmute", "vehiclelimit", "vehiclelist",
)

// blacklistedCommands mutate shared server state and are never relayed for
// upstreams with blacklist suppression enabled
var blacklistedCommands = toSet(
	"addbots", "addredbots", "addbluebots", "ban", "cancelvote", "changemap",
	"changename", "disarm", "disarmbeacon", "disarmc4", "endmap", "fkick",
	"forcenonseamless", "forceseamless", "kick", "kickban", "kill", "killbots",
	"lockbuildings", "map", "mineban", "minelimit", "mineunban", "mute",
	"normalmode", "recorddemo", "setcommander", "spectate", "swapteams",
	"textmute", "textunmute", "togglesuddendeath", "unmute", "vehiclelimit",
)

func toSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// IsKnownCommand reports whether word is on the allow-list
func IsKnownCommand(word string) bool {
	_, ok := knownCommands[word]
	return ok
}

// IsBlacklistedCommand reports whether word is on the deny-list
func IsBlacklistedCommand(word string) bool {
	_, ok := blacklistedCommands[word]
	return ok
}
