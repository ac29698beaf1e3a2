package relay

import (
	"github.com/ernie/renx-relay/internal/domain"
	"github.com/ernie/renx-relay/internal/metrics"
	"github.com/ernie/renx-relay/internal/rcon"
)

// handleUpstreamLine processes one complete line received from an upstream
func (r *Relay) handleUpstreamLine(c *UpstreamConnection, line string) {
	r.metrics.LinesRelayed.WithLabelValues(r.name, c.settings.Label, metrics.FromUpstream).Inc()
	if err := c.traffic.Write(r.now(), trafficIn, line); err != nil {
		c.log.Error().Err(err).Msg("Traffic log write failed")
	}

	switch rcon.Kind(line) {
	case 0:
		return
	case rcon.KindSubscribe, rcon.KindAuth:
		// already done on the downstream session
		return
	case rcon.KindCommand:
		r.handleCommand(c, line[1:])
	default:
		r.sendDownstream(c, line)
	}
}

func (r *Relay) handleCommand(c *UpstreamConnection, command string) {
	s := c.settings
	word := rcon.CommandWord(command)

	if s.SuppressUnknownCommands && !IsKnownCommand(word) {
		if s.FakeSuppressedCommands {
			r.answerFake(c, command, []string{unknownCommandResponse})
			return
		}
		r.suppress(c, command)
		return
	}
	if s.SuppressBlacklistedCommands && !s.FakeSuppressedCommands && IsBlacklistedCommand(word) {
		r.suppress(c, command)
		return
	}

	if fake, ok := s.FakeCommands[word]; ok {
		if handled, responses := fake.Execute(command, r.downstream.Players()); handled {
			r.answerFake(c, command, responses)
			return
		}
	}

	r.queueReal(c, command)
}

func (r *Relay) suppress(c *UpstreamConnection, command string) {
	r.metrics.Commands.WithLabelValues(r.name, c.settings.Label, metrics.CommandSuppressed).Inc()
	c.log.Debug().Str("command", command).Msg("Suppressed upstream command")
	r.emit(domain.EventCommandSuppressed, domain.CommandEvent{
		Upstream:  c.settings.Label,
		SessionID: c.sessionID,
		Command:   command,
	})
}

// answerFake emits a synthesized response, or queues it behind the
// commands already pending on this connection
func (r *Relay) answerFake(c *UpstreamConnection, command string, responses []string) {
	r.metrics.Commands.WithLabelValues(r.name, c.settings.Label, metrics.CommandFake).Inc()
	r.emit(domain.EventCommandFaked, domain.CommandEvent{
		Upstream:  c.settings.Label,
		SessionID: c.sessionID,
		Command:   command,
		Fake:      true,
		Responses: len(responses),
	})

	if len(c.pending) > 0 {
		c.pending = append(c.pending, &PendingCommand{Text: command, Responses: responses, Fake: true})
		return
	}
	r.flushFake(c, command, responses)
}

func (r *Relay) flushFake(c *UpstreamConnection, command string, responses []string) {
	identity := c.settings.IdentityFor(r.downstream.RconUser())
	for _, line := range fakeResponse(identity, command, responses) {
		if err := r.writeUpstream(c, line); err != nil {
			return
		}
	}
}

// queueReal appends a real command; it goes downstream at once when nothing
// else is pending on this connection, otherwise when its predecessor completes
func (r *Relay) queueReal(c *UpstreamConnection, command string) {
	p := &PendingCommand{Text: command}
	c.pending = append(c.pending, p)
	if len(c.pending) == 1 {
		r.dispatch(c, p)
	}
}

// dispatch records a real command in the global order and sends it downstream
func (r *Relay) dispatch(c *UpstreamConnection, p *PendingCommand) {
	p.Sent = true
	r.tracker.push(c.handle, p.Text)
	r.metrics.InFlight.WithLabelValues(r.name).Set(float64(r.tracker.size()))
	r.metrics.Commands.WithLabelValues(r.name, c.settings.Label, metrics.CommandReal).Inc()
	r.emit(domain.EventCommandForwarded, domain.CommandEvent{
		Upstream:  c.settings.Label,
		SessionID: c.sessionID,
		Command:   p.Text,
	})
	r.sendDownstream(c, rcon.CommandLine(p.Text))
}

// completeCommand pops the executing command from both the connection and
// the global tracker, then flushes queued fakes and dispatches the next real
// command. All bookkeeping precedes the first write.
func (r *Relay) completeCommand(c *UpstreamConnection, marker string) {
	if len(c.pending) == 0 {
		// should be unreachable: processing is only set for a pending command
		c.log.Error().Str("line", marker).Msg("Completion with empty command queue")
		return
	}

	done := c.pending[0]
	c.pending[0] = nil
	c.pending = c.pending[1:]
	r.tracker.pop()
	c.processing = false
	r.metrics.InFlight.WithLabelValues(r.name).Set(float64(r.tracker.size()))
	r.emit(domain.EventCommandCompleted, domain.CommandEvent{
		Upstream:  c.settings.Label,
		SessionID: c.sessionID,
		Command:   done.Text,
		Responses: len(done.Responses),
	})

	if err := r.writeUpstream(c, marker); err != nil {
		return
	}

	for len(c.pending) > 0 && c.pending[0].Fake {
		next := c.pending[0]
		c.pending[0] = nil
		c.pending = c.pending[1:]
		r.flushFake(c, next.Text, next.Responses)
		if !c.connected {
			return
		}
	}
	if len(c.pending) > 0 && !c.pending[0].Sent {
		r.dispatch(c, c.pending[0])
	}
}
