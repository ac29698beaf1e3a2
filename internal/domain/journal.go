package domain

import "time"

// Command outcomes recorded in the journal
const (
	OutcomeCompleted  = "completed"
	OutcomeFaked      = "faked"
	OutcomeSuppressed = "suppressed"
)

// UpstreamSession is one connected period of an upstream socket
type UpstreamSession struct {
	ID               string     `json:"id"`
	Server           string     `json:"server"`
	Upstream         string     `json:"upstream"`
	Address          string     `json:"address"`
	Identity         string     `json:"identity"`
	ConnectedAt      time.Time  `json:"connected_at"`
	DisconnectedAt   *time.Time `json:"disconnected_at,omitempty"`
	DisconnectReason string     `json:"disconnect_reason,omitempty"`
}

// CommandRecord is one journaled upstream command
type CommandRecord struct {
	ID         int64     `json:"id"`
	Server     string    `json:"server"`
	Upstream   string    `json:"upstream"`
	SessionID  string    `json:"session_id"`
	Command    string    `json:"command"`
	Outcome    string    `json:"outcome"`
	Responses  int       `json:"responses"`
	RecordedAt time.Time `json:"recorded_at"`
}
