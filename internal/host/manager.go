package host

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ernie/renx-relay/internal/config"
	"github.com/ernie/renx-relay/internal/domain"
	"github.com/ernie/renx-relay/internal/downstream"
	"github.com/ernie/renx-relay/internal/metrics"
	"github.com/ernie/renx-relay/internal/notify"
	"github.com/ernie/renx-relay/internal/relay"
	"github.com/ernie/renx-relay/internal/storage"
)

const eventQueueSize = 1024

// Manager runs one Host per configured game server and fans their events
// out to the journal, the notifier and the event stream
type Manager struct {
	hosts    []*Host
	store    *storage.Store
	notifier notify.Notifier
	metrics  *metrics.Metrics
	log      zerolog.Logger

	raw    chan domain.Event
	events chan domain.Event
}

// NewManager builds the hosts for every configured server. store and
// notifier may be nil.
func NewManager(cfg *config.Config, store *storage.Store, notifier notify.Notifier, m *metrics.Metrics, log zerolog.Logger) (*Manager, error) {
	upstreams, err := cfg.Relay.ResolveUpstreams()
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = metrics.New()
	}

	mgr := &Manager{
		store:    store,
		notifier: notifier,
		metrics:  m,
		log:      log,
		raw:      make(chan domain.Event, eventQueueSize),
		events:   make(chan domain.Event, eventQueueSize),
	}

	seed := time.Now().Unix()
	for _, srv := range cfg.Servers {
		address := srv.ServerAddress()
		client := downstream.NewClient(address, srv.RconPassword, downstream.Options{
			Logger: log.With().Str("server", srv.Name).Logger(),
		})
		r, err := relay.New(srv.Name, address, upstreams, relay.Options{
			Logger:             log,
			Metrics:            m,
			OnEvent:            mgr.emit,
			Seed:               seed,
			ReconnectDelay:     cfg.Relay.ReconnectDelay,
			ActivityTimeout:    cfg.Relay.ActivityTimeout,
			TrafficLogDir:      cfg.Relay.TrafficLogDir,
			TrafficLogMaxBytes: cfg.Relay.TrafficLogMaxBytes,
		})
		if err != nil {
			return nil, fmt.Errorf("server %s: %w", srv.Name, err)
		}
		mgr.hosts = append(mgr.hosts, New(srv.Name, client, r, Options{
			TickInterval:   cfg.Relay.TickInterval,
			ReconnectDelay: cfg.Relay.ReconnectDelay,
			Metrics:        m,
			Logger:         log,
		}))
	}
	return mgr, nil
}

// Events returns the event channel for WebSocket broadcasting. It is closed
// when Run returns.
func (m *Manager) Events() <-chan domain.Event {
	return m.events
}

// Statuses returns the latest status snapshot of every server in
// configuration order
func (m *Manager) Statuses() []domain.ServerStatus {
	statuses := make([]domain.ServerStatus, 0, len(m.hosts))
	for _, h := range m.hosts {
		statuses = append(statuses, h.Relay().Status())
	}
	return statuses
}

// Run registers the servers in the journal, then relays until ctx is
// cancelled
func (m *Manager) Run(ctx context.Context) error {
	if m.store != nil {
		for _, h := range m.hosts {
			status := h.Relay().Status()
			if _, err := m.store.UpsertServer(ctx, status.Name, status.Address); err != nil {
				return fmt.Errorf("registering server %s: %w", status.Name, err)
			}
		}
		if n, err := m.store.CloseOpenSessions(ctx, time.Now(), "relay restarted"); err != nil {
			return fmt.Errorf("closing stale sessions: %w", err)
		} else if n > 0 {
			m.log.Info().Int64("sessions", n).Msg("Closed sessions left open by previous run")
		}
	}

	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		m.dispatch()
	}()

	var wg sync.WaitGroup
	for _, h := range m.hosts {
		wg.Add(1)
		go func(h *Host) {
			defer wg.Done()
			h.Run(ctx)
		}(h)
	}
	m.log.Info().Int("servers", len(m.hosts)).Msg("Relay started")

	wg.Wait()
	close(m.raw)
	<-dispatched
	close(m.events)
	m.log.Info().Msg("Relay stopped")
	return nil
}

// emit is the relays' event callback. It runs on a host goroutine and must
// never block the tick.
func (m *Manager) emit(e domain.Event) {
	select {
	case m.raw <- e:
	default:
		m.metrics.EventsDropped.Inc()
		m.log.Warn().Str("event", e.Type).Str("server", e.Server).Msg("Event queue full, dropping event")
	}
}

func (m *Manager) dispatch() {
	ctx := context.Background()
	for e := range m.raw {
		if m.store != nil {
			if err := m.store.RecordEvent(ctx, e); err != nil {
				m.log.Error().Err(err).Str("event", e.Type).Msg("Journaling event failed")
			}
		}
		if notice, ok := e.Data.(domain.NoticeEvent); ok && m.notifier != nil {
			err := m.notifier.Notify(notify.Notice{Server: e.Server, Message: notice.Message, Timestamp: e.Timestamp})
			if err != nil {
				m.log.Error().Err(err).Msg("Delivering notice failed")
			}
		}
		select {
		case m.events <- e:
		default:
			// nobody is streaming
		}
	}
}
