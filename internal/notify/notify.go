// Package notify delivers administrative notices such as "reconnection in
// progress" to the operators' log channel.
package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Notice is the payload published for every administrative notice
type Notice struct {
	Server    string    `json:"server"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier delivers notices
type Notifier interface {
	Notify(n Notice) error
	Close() error
}

// LogNotifier writes notices to the process log only
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier creates a notifier that only logs
func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

// Notify logs the notice
func (l *LogNotifier) Notify(n Notice) error {
	l.log.Warn().Str("server", n.Server).Msg(n.Message)
	return nil
}

// Close is a no-op
func (l *LogNotifier) Close() error { return nil }

// NATSNotifier publishes notices as JSON on a NATS subject and logs them
type NATSNotifier struct {
	conn    *nats.Conn
	subject string
	log     zerolog.Logger
}

// NewNATSNotifier connects to the NATS server at url. The connection
// reconnects on its own; notices published while it is down are buffered
// by the client.
func NewNATSNotifier(url, subject string, log zerolog.Logger) (*NATSNotifier, error) {
	n := &NATSNotifier{subject: subject, log: log}
	conn, err := nats.Connect(url,
		nats.Name("renx-relay"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats %s: %w", url, err)
	}
	n.conn = conn
	return n, nil
}

// Notify logs and publishes the notice
func (n *NATSNotifier) Notify(notice Notice) error {
	n.log.Warn().Str("server", notice.Server).Msg(notice.Message)
	data, err := json.Marshal(notice)
	if err != nil {
		return err
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		return fmt.Errorf("publishing notice: %w", err)
	}
	return nil
}

// Close flushes pending notices and closes the connection
func (n *NATSNotifier) Close() error {
	return n.conn.Drain()
}
