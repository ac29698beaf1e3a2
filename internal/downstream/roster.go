package downstream

import (
	"sort"
	"sync"

	"github.com/ernie/renx-relay/internal/domain"
	"github.com/ernie/renx-relay/internal/rcon"
)

// Player log events, the second field of an "lPLAYER" line
const (
	playerEnter      = "Enter;"
	playerExit       = "Exit;"
	playerNameChange = "NameChange;"
	playerTeamJoin   = "TeamJoin;"
)

type rosterKey struct {
	id    int
	isBot bool
}

// Roster tracks connected players from the game server's PLAYER log lines.
// The consumer of Client.Lines feeds it; readers may be on other goroutines.
type Roster struct {
	mu      sync.RWMutex
	players map[rosterKey]*domain.Player
}

// NewRoster creates an empty roster
func NewRoster() *Roster {
	return &Roster{players: make(map[rosterKey]*domain.Player)}
}

// Observe updates the roster from one downstream line; lines that are not
// player events are ignored
func (r *Roster) Observe(line string) {
	if rcon.LogCategory(line) != "PLAYER" {
		return
	}
	tokens := rcon.Tokenize(line)
	if len(tokens) < 3 {
		return
	}
	token, ok := domain.ParsePlayerToken(tokens[2])
	if !ok {
		return
	}
	key := rosterKey{id: token.ID, isBot: token.IsBot}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch tokens[1] {
	case playerEnter:
		p := &domain.Player{
			ID:    token.ID,
			IsBot: token.IsBot,
			Team:  token.Team,
			Name:  token.Name,
		}
		// Enter;<d>player<d>from<d>ip<d>hwid<d>x<d>steamid<d>y...
		for i := 3; i+1 < len(tokens); i++ {
			switch tokens[i] {
			case "from":
				p.IP = tokens[i+1]
			case "hwid":
				p.HWID = tokens[i+1]
			case "steamid":
				p.SteamID = tokens[i+1]
			default:
				continue
			}
			i++
		}
		r.players[key] = p
	case playerExit:
		delete(r.players, key)
	case playerNameChange:
		// NameChange;<d>player<d>to:<d>new name
		if p, ok := r.players[key]; ok && len(tokens) >= 5 && tokens[3] == "to:" {
			p.Name = tokens[4]
		}
	case playerTeamJoin:
		// TeamJoin;<d>player<d>joined<d>team...
		if p, ok := r.players[key]; ok && len(tokens) >= 5 && tokens[3] == "joined" {
			p.Team = tokens[4]
		}
	}
}

// Players returns a copy of the roster sorted by id, humans before bots
// sharing an id
func (r *Roster) Players() []domain.Player {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Player, 0, len(r.players))
	for _, p := range r.players {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		return !out[i].IsBot && out[j].IsBot
	})
	return out
}

// Len returns the number of players
func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players)
}
