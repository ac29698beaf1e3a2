package domain

import "time"

// ServerStatus is a snapshot of one downstream server and its upstreams
type ServerStatus struct {
	Name            string           `json:"name"`
	Address         string           `json:"address"`
	Connected       bool             `json:"connected"`
	GameVersion     string           `json:"game_version,omitempty"`
	ProtocolVersion int              `json:"protocol_version,omitempty"`
	RconUser        string           `json:"rcon_user,omitempty"`
	PlayerCount     int              `json:"player_count"`
	InFlight        int              `json:"in_flight"`
	Upstreams       []UpstreamStatus `json:"upstreams"`
	LastUpdated     time.Time        `json:"last_updated"`
}

// UpstreamStatus is a snapshot of one upstream connection
type UpstreamStatus struct {
	Label              string    `json:"label"`
	Address            string    `json:"address"`
	SessionID          string    `json:"session_id,omitempty"`
	Connected          bool      `json:"connected"`
	Processing         bool      `json:"processing"`
	Pending            int       `json:"pending"`
	LastConnectAttempt time.Time `json:"last_connect_attempt"`
	LastActivity       time.Time `json:"last_activity"`
}
