package domain

import "time"

// Event types for WebSocket notifications and the command journal
const (
	EventDownstreamConnected    = "downstream_connected"
	EventDownstreamDisconnected = "downstream_disconnected"
	EventUpstreamConnected      = "upstream_connected"
	EventUpstreamDisconnected   = "upstream_disconnected"
	EventCommandForwarded       = "command_forwarded"
	EventCommandCompleted       = "command_completed"
	EventCommandFaked           = "command_faked"
	EventCommandSuppressed      = "command_suppressed"
	EventNotice                 = "notice"
)

// Event represents a relay state change for WebSocket broadcast
type Event struct {
	Type      string      `json:"event"`
	Server    string      `json:"server"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// UpstreamConnectedEvent is sent when an upstream handshake completes
type UpstreamConnectedEvent struct {
	Upstream  string `json:"upstream"`
	SessionID string `json:"session_id"`
	Address   string `json:"address"`
	Identity  string `json:"identity"`
}

// UpstreamDisconnectedEvent is sent when an upstream socket is torn down
type UpstreamDisconnectedEvent struct {
	Upstream  string `json:"upstream"`
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}

// CommandEvent is sent for every command an upstream issues
type CommandEvent struct {
	Upstream  string `json:"upstream"`
	SessionID string `json:"session_id"`
	Command   string `json:"command"`
	Fake      bool   `json:"fake"`
	Responses int    `json:"responses,omitempty"`
}

// NoticeEvent carries an administrative notice
type NoticeEvent struct {
	Message string `json:"message"`
}
