package relay

import (
	"fmt"
	"math/rand/v2"
	"net/netip"
	"strconv"

	"github.com/ernie/renx-relay/internal/domain"
)

// SanitizedSteamID replaces every known Steam ID
const SanitizedSteamID = "0x0110000100000000"

const (
	hwidLength     = 12
	hwidSeedOffset = 0x5f3759df
)

// Sanitizer rewrites player-identifying tokens. Substitutions are seeded by
// the relay start time and the player id, so they are stable for the life of
// the process and distinct per player.
type Sanitizer struct {
	seed uint64
}

// NewSanitizer creates a sanitizer seeded with the given start time (unix seconds)
func NewSanitizer(seed int64) *Sanitizer {
	return &Sanitizer{seed: uint64(seed)}
}

// Sanitize rewrites tokens in place according to settings. It reports whether
// any token changed; when it did not, callers must forward the original line.
func (s *Sanitizer) Sanitize(tokens []string, players []domain.Player, settings *UpstreamSettings) bool {
	changed := false
	for i, token := range tokens {
		replacement, ok := s.sanitizeToken(token, players, settings)
		if ok && replacement != token {
			tokens[i] = replacement
			changed = true
		}
	}
	return changed
}

func (s *Sanitizer) sanitizeToken(token string, players []domain.Player, settings *UpstreamSettings) (string, bool) {
	if pt, ok := domain.ParsePlayerToken(token); ok {
		if !settings.SanitizeNames {
			return "", false
		}
		pt.Name = PlayerAlias(pt.ID)
		return pt.String(), true
	}

	if addr, err := netip.ParseAddr(token); err == nil && addr.Is4() {
		if !settings.SanitizeIPs {
			return "", false
		}
		for _, p := range players {
			if p.IP == token {
				return s.FakeIP(p.ID), true
			}
		}
		return "", false
	}

	if settings.SanitizeHWIDs {
		for _, p := range players {
			if p.HWID != "" && p.HWID == token {
				return s.FakeHWID(p.ID), true
			}
		}
	}
	if settings.SanitizeSteamIDs {
		for _, p := range players {
			if p.SteamID != "" && p.SteamID == token {
				return SanitizedSteamID, true
			}
		}
	}
	return "", false
}

// PlayerAlias is the deterministic replacement name for a player id
func PlayerAlias(id int) string {
	return "Player" + strconv.Itoa(id)
}

// FakeIP returns the substitute IPv4 address for a player
func (s *Sanitizer) FakeIP(playerID int) string {
	r := rand.New(rand.NewPCG(s.seed, uint64(playerID)))
	return fmt.Sprintf("%d.%d.%d.%d", r.IntN(256), r.IntN(256), r.IntN(256), r.IntN(256))
}

// FakeHWID returns the substitute hardware id for a player
func (s *Sanitizer) FakeHWID(playerID int) string {
	r := rand.New(rand.NewPCG(s.seed, uint64(playerID)+hwidSeedOffset))
	const hex = "0123456789abcdef"
	buf := make([]byte, hwidLength)
	for i := range buf {
		buf[i] = hex[r.IntN(len(hex))]
	}
	return string(buf)
}
