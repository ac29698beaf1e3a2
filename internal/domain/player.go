package domain

import (
	"strconv"
	"strings"
)

// Player is a roster entry of a connected game-server player
type Player struct {
	ID      int    `json:"id"`
	IsBot   bool   `json:"is_bot"`
	Team    string `json:"team"`
	Name    string `json:"name"`
	IP      string `json:"ip,omitempty"`
	HWID    string `json:"hwid,omitempty"`
	SteamID string `json:"steam_id,omitempty"`
}

// PlayerToken is the parsed form of a "<team>,<id>,<name>" player field.
// Bot ids carry a "b" prefix.
type PlayerToken struct {
	Team  string
	ID    int
	IsBot bool
	Name  string
	rawID string // id segment as received, written back untouched
}

// ParsePlayerToken parses a player field; the name may itself contain commas
func ParsePlayerToken(s string) (PlayerToken, bool) {
	parts := strings.SplitN(s, ",", 3)
	if len(parts) != 3 {
		return PlayerToken{}, false
	}
	idStr := parts[1]
	isBot := strings.HasPrefix(idStr, "b")
	if isBot {
		idStr = idStr[1:]
	}
	if idStr == "" {
		return PlayerToken{}, false
	}
	id, err := strconv.Atoi(idStr)
	if err != nil || id < 0 {
		return PlayerToken{}, false
	}
	return PlayerToken{Team: parts[0], ID: id, IsBot: isBot, Name: parts[2], rawID: parts[1]}, true
}

// String formats the token back into its wire form
func (p PlayerToken) String() string {
	if p.rawID != "" {
		return p.Team + "," + p.rawID + "," + p.Name
	}
	id := strconv.Itoa(p.ID)
	if p.IsBot {
		id = "b" + id
	}
	return p.Team + "," + id + "," + p.Name
}
