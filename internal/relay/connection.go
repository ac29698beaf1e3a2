package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ernie/renx-relay/internal/domain"
	"github.com/ernie/renx-relay/internal/metrics"
	"github.com/ernie/renx-relay/internal/rcon"
)

// DisconnectReason explains why an upstream socket was torn down
type DisconnectReason string

const (
	ReasonPingTimeout    DisconnectReason = "ping timeout"
	ReasonReadError      DisconnectReason = "read error"
	ReasonWriteError     DisconnectReason = "write error"
	ReasonDownstreamGone DisconnectReason = "downstream disconnected"
)

const readBufferSize = 4096

// PendingCommand is a command accepted from an upstream and not yet completed
type PendingCommand struct {
	Text      string
	Responses []string
	Fake      bool
	Sent      bool // real command forwarded downstream
}

// UpstreamConnection is the relay's link to one upstream for one downstream
// server. It survives socket reconnects; it is destroyed with its server.
type UpstreamConnection struct {
	settings *UpstreamSettings
	handle   handle

	conn               net.Conn
	connected          bool
	sessionID          string
	lastConnectAttempt time.Time
	lastActivity       time.Time
	reassembler        rcon.Reassembler
	reads              chan readResult
	done               chan struct{}

	pending    []*PendingCommand
	processing bool

	traffic *trafficLog
	log     zerolog.Logger
}

type readResult struct {
	data []byte
	err  error
}

// Settings returns the upstream's configuration
func (c *UpstreamConnection) Settings() *UpstreamSettings {
	return c.settings
}

// Connected reports whether the socket is up
func (c *UpstreamConnection) Connected() bool {
	return c.connected
}

// Pending returns the number of commands waiting on this connection
func (c *UpstreamConnection) Pending() int {
	return len(c.pending)
}

// checkTimeout reports whether the connection has been silent past timeout
func (c *UpstreamConnection) checkTimeout(now time.Time, timeout time.Duration) (DisconnectReason, bool) {
	if c.connected && now.Sub(c.lastActivity) >= timeout {
		return ReasonPingTimeout, true
	}
	return "", false
}

// readLoop moves raw bytes off the socket; it never touches relay state
func readLoop(conn net.Conn, out chan<- readResult, done <-chan struct{}) {
	for {
		buf := make([]byte, readBufferSize)
		n, err := conn.Read(buf)
		if n > 0 {
			select {
			case out <- readResult{data: buf[:n]}:
			case <-done:
				return
			}
		}
		if err != nil {
			select {
			case out <- readResult{err: err}:
			case <-done:
			}
			return
		}
	}
}

// tickConnection drives one connection's lifecycle for a scheduler tick
func (r *Relay) tickConnection(c *UpstreamConnection, now time.Time) {
	if !c.connected {
		if now.Sub(c.lastConnectAttempt) >= r.opts.ReconnectDelay {
			r.connect(c, now)
		}
		return
	}

	if reason, ok := c.checkTimeout(now, r.opts.ActivityTimeout); ok {
		r.disconnect(c, reason)
		return
	}

	for c.connected {
		select {
		case res := <-c.reads:
			if res.err != nil {
				c.log.Warn().Err(res.err).Msg("Upstream read failed")
				r.disconnect(c, ReasonReadError)
				// the peer actively dropped us; retry without waiting out the backoff
				r.connect(c, now)
				return
			}
			c.lastActivity = now
			for _, line := range c.reassembler.Feed(res.data) {
				r.handleUpstreamLine(c, line)
				if !c.connected {
					return
				}
			}
		default:
			return
		}
	}
}

// connect dials the upstream and performs the handshake
func (r *Relay) connect(c *UpstreamConnection, now time.Time) {
	c.lastConnectAttempt = now
	c.lastActivity = now
	if r.downstream == nil {
		return
	}

	s := c.settings
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.ConnectTimeout)
	defer cancel()

	conn, err := r.opts.Dialer.DialContext(ctx, "tcp", s.Address())
	if err != nil {
		r.metrics.ConnectAttempts.WithLabelValues(r.name, s.Label, "failure").Inc()
		c.log.Debug().Err(err).Str("address", s.Address()).Msg("Upstream connect failed")
		return
	}

	c.conn = conn
	c.connected = true
	c.sessionID = uuid.NewString()
	c.reassembler.Reset()
	c.reads = make(chan readResult, 64)
	c.done = make(chan struct{})
	c.log = r.log.With().Str("upstream", s.Label).Str("session", c.sessionID).Logger()

	identity := s.IdentityFor(r.downstream.RconUser())
	version := rcon.VersionLine(r.downstream.ProtocolVersion(), r.downstream.GameVersion())
	if err := r.writeUpstream(c, version); err != nil {
		return
	}
	if err := r.writeUpstream(c, rcon.AuthLine(identity)); err != nil {
		return
	}

	go readLoop(conn, c.reads, c.done)

	r.metrics.ConnectAttempts.WithLabelValues(r.name, s.Label, "success").Inc()
	r.metrics.UpstreamConnected.WithLabelValues(r.name, s.Label).Set(1)
	c.log.Info().Str("address", s.Address()).Str("identity", identity).Msg("Upstream connected")
	r.emit(domain.EventUpstreamConnected, domain.UpstreamConnectedEvent{
		Upstream:  s.Label,
		SessionID: c.sessionID,
		Address:   s.Address(),
		Identity:  identity,
	})
}

// disconnect closes the socket and invalidates everything that refers to it
func (r *Relay) disconnect(c *UpstreamConnection, reason DisconnectReason) {
	if !c.connected {
		return
	}
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connected = false

	r.tracker.invalidate(c.handle, c.processing)
	c.handle.gen++
	c.processing = false
	c.pending = nil
	c.reassembler.Reset()

	s := c.settings
	r.metrics.Disconnects.WithLabelValues(r.name, s.Label, string(reason)).Inc()
	r.metrics.UpstreamConnected.WithLabelValues(r.name, s.Label).Set(0)
	r.metrics.InFlight.WithLabelValues(r.name).Set(float64(r.tracker.size()))
	c.log.Warn().Str("reason", string(reason)).Msg("Upstream disconnected")
	r.emit(domain.EventUpstreamDisconnected, domain.UpstreamDisconnectedEvent{
		Upstream:  s.Label,
		SessionID: c.sessionID,
		Reason:    string(reason),
	})
	if reason != ReasonDownstreamGone {
		r.notice(fmt.Sprintf("Connection to upstream %s lost (%s); reconnection in progress.", s.Label, reason))
	}
}

// writeUpstream writes one line to the upstream socket, disconnecting on failure
func (r *Relay) writeUpstream(c *UpstreamConnection, line string) error {
	if !c.connected || c.conn == nil {
		return errors.New("upstream not connected")
	}
	if r.opts.WriteTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(r.opts.WriteTimeout))
	}
	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		c.log.Warn().Err(err).Msg("Upstream write failed")
		r.disconnect(c, ReasonWriteError)
		return err
	}
	r.metrics.LinesRelayed.WithLabelValues(r.name, c.settings.Label, metrics.ToUpstream).Inc()
	if err := c.traffic.Write(r.now(), trafficOut, line); err != nil {
		c.log.Error().Err(err).Msg("Traffic log write failed")
	}
	return nil
}
