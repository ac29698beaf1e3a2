package relay

import (
	"github.com/ernie/renx-relay/internal/domain"
	"github.com/ernie/renx-relay/internal/metrics"
	"github.com/ernie/renx-relay/internal/rcon"
)

const chatCategory = "CHAT"

// HandleDownstreamLine routes one complete line received from the downstream
// session: command traffic goes to the single upstream that issued the
// command, everything else is sanitized and fanned out.
func (r *Relay) HandleDownstreamLine(line string) {
	if r.downstream == nil || line == "" {
		return
	}

	switch rcon.Kind(line) {
	case rcon.KindResponse, rcon.KindError:
		r.routeResponse(line)
		return
	case rcon.KindCommand:
		r.routeCompletion(line)
		return
	}

	tokens := rcon.Tokenize(line)
	if exec, ok := rcon.ParseCommandExecution(tokens); ok {
		r.routeExecution(line, tokens, exec)
		return
	}
	r.fanOut(line, tokens)
}

// processingConn returns the connection whose command is executing downstream
func (r *Relay) processingConn() *UpstreamConnection {
	front, ok := r.tracker.front()
	if !ok {
		return nil
	}
	c := r.resolve(front.owner)
	if c == nil || !c.processing {
		return nil
	}
	return c
}

// routeExecution handles the echo the downstream emits when it starts
// executing a command. It arrives before the command's response lines.
func (r *Relay) routeExecution(line string, tokens []string, exec rcon.CommandExecution) {
	realUser := r.downstream.RconUser()
	front, ok := r.tracker.front()
	if exec.User != realUser || !ok || front.command != exec.Command {
		r.log.Debug().Str("user", exec.User).Str("command", exec.Command).Msg("Suppressed unattributed command execution")
		return
	}

	c := r.resolve(front.owner)
	if c == nil {
		// issued by a connection that has since been torn down
		r.tracker.draining = true
		r.log.Debug().Str("command", exec.Command).Msg("Draining command of a closed upstream")
		return
	}

	c.processing = true
	identity := c.settings.IdentityFor(realUser)
	if identity != realUser {
		rewritten := make([]string, len(tokens))
		copy(rewritten, tokens)
		rcon.SetCommandUser(rewritten, identity)
		line = rcon.Join(rewritten)
	}
	r.writeUpstream(c, line)
}

// routeResponse delivers a response line to the processing upstream
func (r *Relay) routeResponse(line string) {
	c := r.processingConn()
	if c == nil {
		if !r.tracker.draining {
			r.log.Debug().Str("line", line).Msg("Dropped response with no command in flight")
		}
		return
	}
	if len(c.pending) > 0 {
		c.pending[0].Responses = append(c.pending[0].Responses, line[1:])
	}
	r.writeUpstream(c, r.sanitizeFor(c, line, rcon.Tokenize(line), r.downstream.Players()))
}

// routeCompletion handles the completion marker of the executing command
func (r *Relay) routeCompletion(line string) {
	c := r.processingConn()
	if c == nil {
		if r.tracker.draining {
			r.tracker.pop()
			r.metrics.InFlight.WithLabelValues(r.name).Set(float64(r.tracker.size()))
			return
		}
		r.log.Warn().Str("line", line).Msg("Completion marker with no command in flight")
		return
	}
	r.completeCommand(c, line)
}

// fanOut sends an event line to every connected upstream, sanitized per
// upstream policy
func (r *Relay) fanOut(line string, tokens []string) {
	chat := rcon.LogCategory(line) == chatCategory
	players := r.downstream.Players()
	for _, c := range r.conns {
		if !c.connected {
			continue
		}
		if chat && c.settings.SuppressChatLogs {
			continue
		}
		r.writeUpstream(c, r.sanitizeFor(c, line, tokens, players))
	}
}

// sanitizeFor rewrites a private copy of tokens. When nothing changed the
// original bytes are returned untouched.
func (r *Relay) sanitizeFor(c *UpstreamConnection, line string, tokens []string, players []domain.Player) string {
	private := make([]string, len(tokens))
	copy(private, tokens)
	if !r.sanitizer.Sanitize(private, players, c.settings) {
		return line
	}
	return rcon.Join(private)
}

// sendDownstream forwards a line to the game server
func (r *Relay) sendDownstream(c *UpstreamConnection, line string) {
	if err := r.downstream.Send(line); err != nil {
		c.log.Warn().Err(err).Msg("Downstream send failed")
		return
	}
	r.metrics.LinesRelayed.WithLabelValues(r.name, c.settings.Label, metrics.ToDownstream).Inc()
}
