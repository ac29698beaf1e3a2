package config

import (
	"fmt"

	"github.com/ernie/renx-relay/internal/relay"
)

// ResolveUpstreams builds the settings of every listed upstream by layering
// its section over the defaults. The result is shared by every relayed game
// server and is not modified afterwards.
func (r RelayConfig) ResolveUpstreams() ([]*relay.UpstreamSettings, error) {
	if len(r.Upstreams) == 0 {
		return nil, ErrNoUpstreams
	}

	out := make([]*relay.UpstreamSettings, 0, len(r.Upstreams))
	seen := make(map[string]bool)
	for _, label := range r.Upstreams {
		if seen[label] {
			return nil, fmt.Errorf("upstream %q listed twice", label)
		}
		seen[label] = true

		section := r.Sections[label]
		s := &relay.UpstreamSettings{
			Label:    label,
			Host:     pick(section.Host, r.Defaults.Host, ""),
			Port:     pick(section.Port, r.Defaults.Port, relay.DefaultUpstreamPort),
			Identity: pick(section.Identity, r.Defaults.Identity, ""),

			SanitizeNames:    pick(section.SanitizeNames, r.Defaults.SanitizeNames, true),
			SanitizeIPs:      pick(section.SanitizeIPs, r.Defaults.SanitizeIPs, true),
			SanitizeHWIDs:    pick(section.SanitizeHWIDs, r.Defaults.SanitizeHWIDs, true),
			SanitizeSteamIDs: pick(section.SanitizeSteamIDs, r.Defaults.SanitizeSteamIDs, true),

			SuppressUnknownCommands:     pick(section.SuppressUnknownCommands, r.Defaults.SuppressUnknownCommands, true),
			SuppressBlacklistedCommands: pick(section.SuppressBlacklistedCommands, r.Defaults.SuppressBlacklistedCommands, true),
			SuppressChatLogs:            pick(section.SuppressChatLogs, r.Defaults.SuppressChatLogs, true),

			FakePings:              pick(section.FakePings, r.Defaults.FakePings, true),
			FakeSuppressedCommands: pick(section.FakeSuppressedCommands, r.Defaults.FakeSuppressedCommands, true),

			LogTraffic: pick(section.LogTraffic, r.Defaults.LogTraffic, false),
		}
		if s.Host == "" {
			return nil, fmt.Errorf("upstream %q: host is required", label)
		}
		if s.Port <= 0 || s.Port > 65535 {
			return nil, fmt.Errorf("upstream %q: invalid port %d", label, s.Port)
		}
		s.BuildFakeCommands()
		out = append(out, s)
	}
	return out, nil
}

// pick returns the first set value, or def
func pick[T any](section, defaults *T, def T) T {
	if section != nil {
		return *section
	}
	if defaults != nil {
		return *defaults
	}
	return def
}
