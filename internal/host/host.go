// Package host drives one relay per game server from a single goroutine.
package host

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ernie/renx-relay/internal/downstream"
	"github.com/ernie/renx-relay/internal/metrics"
	"github.com/ernie/renx-relay/internal/relay"
)

// DefaultTickInterval is the scheduler period when none is configured
const DefaultTickInterval = 100 * time.Millisecond

// Host owns the downstream session and relay of one game server. Run is the
// only goroutine that touches either.
type Host struct {
	name           string
	client         *downstream.Client
	relay          *relay.Relay
	tickInterval   time.Duration
	reconnectDelay time.Duration
	metrics        *metrics.Metrics
	log            zerolog.Logger
	now            func() time.Time
}

// Options tune a Host; zero values take the defaults
type Options struct {
	TickInterval   time.Duration
	ReconnectDelay time.Duration
	Metrics        *metrics.Metrics
	Logger         zerolog.Logger
}

// New creates a host for an existing client and relay
func New(name string, client *downstream.Client, r *relay.Relay, opts Options) *Host {
	if opts.TickInterval == 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.ReconnectDelay == 0 {
		opts.ReconnectDelay = relay.DefaultReconnectDelay
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	return &Host{
		name:           name,
		client:         client,
		relay:          r,
		tickInterval:   opts.TickInterval,
		reconnectDelay: opts.ReconnectDelay,
		metrics:        opts.Metrics,
		log:            opts.Logger.With().Str("server", name).Logger(),
		now:            time.Now,
	}
}

// Name returns the game server name
func (h *Host) Name() string {
	return h.name
}

// Relay returns the host's relay; only Status is safe to call from outside Run
func (h *Host) Relay() *relay.Relay {
	return h.relay
}

// Run connects to the game server, relays until the session drops, then
// reconnects after the backoff. It returns when ctx is cancelled.
func (h *Host) Run(ctx context.Context) {
	ticker := time.NewTicker(h.tickInterval)
	defer ticker.Stop()

	var lines <-chan string
	var nextAttempt time.Time

	for {
		if lines == nil && !h.now().Before(nextAttempt) {
			lines = h.connect(ctx)
			if lines == nil {
				nextAttempt = h.now().Add(h.reconnectDelay)
			}
		}

		select {
		case <-ctx.Done():
			if lines != nil {
				h.disconnect()
			}
			return

		case <-ticker.C:
			h.relay.Tick(h.now())

		case line, ok := <-lines:
			if !ok {
				h.log.Warn().Err(h.client.Err()).Msg("Lost game server session")
				h.disconnect()
				lines = nil
				nextAttempt = h.now().Add(h.reconnectDelay)
				continue
			}
			h.client.Observe(line)
			h.relay.HandleDownstreamLine(line)
		}
	}
}

func (h *Host) connect(ctx context.Context) <-chan string {
	if err := h.client.Connect(ctx); err != nil {
		if ctx.Err() == nil {
			h.log.Warn().Err(err).Dur("retry_in", h.reconnectDelay).Msg("Game server connect failed")
		}
		return nil
	}
	h.metrics.DownstreamConnected.WithLabelValues(h.name).Set(1)
	h.relay.Attach(h.client)
	return h.client.Lines()
}

func (h *Host) disconnect() {
	h.relay.Detach()
	if err := h.client.Close(); err != nil {
		h.log.Debug().Err(err).Msg("Closing game server session")
	}
	h.metrics.DownstreamConnected.WithLabelValues(h.name).Set(0)
}
