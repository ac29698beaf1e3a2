package relay

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ernie/renx-relay/internal/domain"
	"github.com/ernie/renx-relay/internal/metrics"
)

// Defaults for connection lifecycle timing
const (
	DefaultReconnectDelay  = 15 * time.Second
	DefaultActivityTimeout = 120 * time.Second
	DefaultConnectTimeout  = 5 * time.Second
	DefaultWriteTimeout    = 5 * time.Second
)

// ErrNoUpstreams is returned when a relay is created without any upstream
var ErrNoUpstreams = errors.New("no upstreams configured")

// Downstream is the authoritative game-server session being relayed
type Downstream interface {
	Send(line string) error
	Players() []domain.Player
	RconUser() string
	GameVersion() string
	ProtocolVersion() int
}

// Dialer opens upstream sockets; *net.Dialer satisfies it
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Options tune a Relay; zero values take the defaults above
type Options struct {
	Dialer             Dialer
	Logger             zerolog.Logger
	Metrics            *metrics.Metrics
	OnEvent            func(domain.Event)
	Now                func() time.Time
	Seed               int64 // sanitizer seed, normally the process start time
	ReconnectDelay     time.Duration
	ActivityTimeout    time.Duration
	ConnectTimeout     time.Duration
	WriteTimeout       time.Duration
	TrafficLogDir      string
	TrafficLogMaxBytes int64
}

// Relay proxies one downstream game-server session to a set of upstreams.
// All methods except Status must be called from a single goroutine.
type Relay struct {
	name       string
	address    string
	settings   []*UpstreamSettings
	downstream Downstream
	conns      []*UpstreamConnection
	tracker    commandTracker
	sanitizer  *Sanitizer
	opts       Options
	metrics    *metrics.Metrics
	log        zerolog.Logger

	statusMu sync.RWMutex
	status   domain.ServerStatus
}

// New creates a relay for the named downstream server
func New(name, address string, settings []*UpstreamSettings, opts Options) (*Relay, error) {
	if len(settings) == 0 {
		return nil, ErrNoUpstreams
	}
	if opts.Dialer == nil {
		opts.Dialer = &net.Dialer{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().Unix()
	}
	if opts.ReconnectDelay == 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.ActivityTimeout == 0 {
		opts.ActivityTimeout = DefaultActivityTimeout
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}

	r := &Relay{
		name:      name,
		address:   address,
		settings:  settings,
		sanitizer: NewSanitizer(opts.Seed),
		opts:      opts,
		metrics:   opts.Metrics,
		log:       opts.Logger.With().Str("server", name).Logger(),
	}
	r.publishStatus()
	return r, nil
}

func (r *Relay) now() time.Time {
	return r.opts.Now()
}

// Attach is called once the downstream session is established; it creates
// one UpstreamConnection per configured upstream
func (r *Relay) Attach(ds Downstream) {
	if r.downstream != nil {
		r.Detach()
	}
	r.downstream = ds
	r.tracker.reset()
	r.conns = make([]*UpstreamConnection, len(r.settings))
	for i, s := range r.settings {
		c := &UpstreamConnection{
			settings: s,
			handle:   handle{slot: i},
			log:      r.log.With().Str("upstream", s.Label).Logger(),
		}
		if s.LogTraffic && r.opts.TrafficLogDir != "" {
			t, err := openTrafficLog(r.opts.TrafficLogDir, r.name, s.Label, r.opts.TrafficLogMaxBytes)
			if err != nil {
				c.log.Error().Err(err).Msg("Traffic log unavailable")
			} else {
				c.traffic = t
			}
		}
		r.conns[i] = c
	}
	r.log.Info().Int("upstreams", len(r.conns)).Msg("Downstream attached")
	r.emit(domain.EventDownstreamConnected, nil)
	r.publishStatus()
}

// Detach destroys every upstream connection; called when the downstream
// session goes away
func (r *Relay) Detach() {
	if r.downstream == nil {
		return
	}
	for _, c := range r.conns {
		r.disconnect(c, ReasonDownstreamGone)
		if err := c.traffic.Close(); err != nil {
			c.log.Error().Err(err).Msg("Closing traffic log failed")
		}
	}
	r.conns = nil
	r.tracker.reset()
	r.metrics.InFlight.WithLabelValues(r.name).Set(0)
	r.downstream = nil
	r.log.Info().Msg("Downstream detached")
	r.emit(domain.EventDownstreamDisconnected, nil)
	r.notice("Game server " + r.name + " is no longer listed; upstream connections closed.")
	r.publishStatus()
}

// Tick runs one scheduler pass over every upstream connection
func (r *Relay) Tick(now time.Time) {
	for _, c := range r.conns {
		r.tickConnection(c, now)
	}
	r.publishStatus()
}

// Connections returns the live upstream connections
func (r *Relay) Connections() []*UpstreamConnection {
	return r.conns
}

// resolve maps a tracker handle back to its connection, or nil when the
// handle is a tombstone or stale
func (r *Relay) resolve(h handle) *UpstreamConnection {
	if h.isTombstone() || h.slot >= len(r.conns) {
		return nil
	}
	c := r.conns[h.slot]
	if c == nil || !c.connected || c.handle.gen != h.gen {
		return nil
	}
	return c
}

func (r *Relay) emit(eventType string, data interface{}) {
	if r.opts.OnEvent == nil {
		return
	}
	r.opts.OnEvent(domain.Event{
		Type:      eventType,
		Server:    r.name,
		Timestamp: r.now().UTC(),
		Data:      data,
	})
}

func (r *Relay) notice(message string) {
	r.emit(domain.EventNotice, domain.NoticeEvent{Message: message})
}

func (r *Relay) publishStatus() {
	status := domain.ServerStatus{
		Name:        r.name,
		Address:     r.address,
		Connected:   r.downstream != nil,
		InFlight:    r.tracker.size(),
		LastUpdated: r.now().UTC(),
	}
	if r.downstream != nil {
		status.GameVersion = r.downstream.GameVersion()
		status.ProtocolVersion = r.downstream.ProtocolVersion()
		status.RconUser = r.downstream.RconUser()
		status.PlayerCount = len(r.downstream.Players())
	}
	for _, c := range r.conns {
		status.Upstreams = append(status.Upstreams, domain.UpstreamStatus{
			Label:              c.settings.Label,
			Address:            c.settings.Address(),
			SessionID:          c.sessionID,
			Connected:          c.connected,
			Processing:         c.processing,
			Pending:            len(c.pending),
			LastConnectAttempt: c.lastConnectAttempt,
			LastActivity:       c.lastActivity,
		})
	}

	r.statusMu.Lock()
	r.status = status
	r.statusMu.Unlock()
}

// Status returns the last published snapshot; safe from any goroutine
func (r *Relay) Status() domain.ServerStatus {
	r.statusMu.RLock()
	defer r.statusMu.RUnlock()
	return r.status
}
