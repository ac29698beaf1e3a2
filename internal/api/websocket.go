package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ernie/renx-relay/internal/domain"
)

const (
	subscriberQueue = 64
	streamWriteWait = 10 * time.Second
	streamPongWait  = 60 * time.Second
	streamPingEvery = streamPongWait / 2
	streamReadLimit = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // token auth, not cookies
	},
}

// remoteHost names the peer of req for logs, preferring the first
// X-Forwarded-For hop.
func remoteHost(req *http.Request) string {
	if fwd, _, _ := strings.Cut(req.Header.Get("X-Forwarded-For"), ","); strings.TrimSpace(fwd) != "" {
		return strings.TrimSpace(fwd)
	}
	if host, _, err := net.SplitHostPort(req.RemoteAddr); err == nil {
		return host
	}
	return req.RemoteAddr
}

// subscriber is one operator connection on the event stream. An empty server
// receives events from every relayed game server.
type subscriber struct {
	conn   *websocket.Conn
	server string
	remote string
	queue  chan []byte
}

func (s *subscriber) wants(e domain.Event) bool {
	return s.server == "" || s.server == e.Server
}

// EventStream publishes relay events to subscribed operators, one JSON text
// message per event. A subscriber that cannot keep up is disconnected rather
// than allowed to stall the publisher.
type EventStream struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
	log    zerolog.Logger
}

// NewEventStream creates an empty stream
func NewEventStream(log zerolog.Logger) *EventStream {
	return &EventStream{
		subs: make(map[*subscriber]struct{}),
		log:  log.With().Str("component", "events").Logger(),
	}
}

// Publish queues e for every subscriber whose filter matches
func (es *EventStream) Publish(e domain.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		es.log.Error().Err(err).Str("event", e.Type).Msg("Encoding event")
		return
	}

	es.mu.Lock()
	defer es.mu.Unlock()
	for s := range es.subs {
		if !s.wants(e) {
			continue
		}
		select {
		case s.queue <- payload:
		default:
			es.log.Warn().Str("remote", s.remote).Msg("Dropping slow event subscriber")
			es.dropLocked(s)
		}
	}
}

// Subscribers returns the number of open subscriptions
func (es *EventStream) Subscribers() int {
	es.mu.Lock()
	defer es.mu.Unlock()
	return len(es.subs)
}

// Close ends every subscription and refuses new ones
func (es *EventStream) Close() {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.closed = true
	for s := range es.subs {
		es.dropLocked(s)
	}
}

func (es *EventStream) subscribe(s *subscriber) bool {
	es.mu.Lock()
	defer es.mu.Unlock()
	if es.closed {
		return false
	}
	es.subs[s] = struct{}{}
	return true
}

func (es *EventStream) unsubscribe(s *subscriber) {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.dropLocked(s)
}

// dropLocked closes the queue, which tells the writer to hang up
func (es *EventStream) dropLocked(s *subscriber) {
	if _, ok := es.subs[s]; !ok {
		return
	}
	delete(es.subs, s)
	close(s.queue)
}

// follow publishes events until ctx is cancelled or events is closed, then
// closes the stream
func (es *EventStream) follow(ctx context.Context, events <-chan domain.Event) {
	defer es.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			es.Publish(e)
		}
	}
}

// handleWebSocket subscribes the caller to the event stream. Browsers cannot
// set headers on the upgrade, so the token may be passed as a query
// parameter; ?server=<name> narrows the stream to one game server.
func (r *Router) handleWebSocket(w http.ResponseWriter, req *http.Request) {
	if r.getAuthClaims(req) == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	server := req.URL.Query().Get("server")
	if server != "" && !r.knownServer(server) {
		writeError(w, http.StatusNotFound, "server not found")
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	s := &subscriber{
		conn:   conn,
		server: server,
		remote: remoteHost(req),
		queue:  make(chan []byte, subscriberQueue),
	}
	if !r.events.subscribe(s) {
		conn.Close()
		return
	}
	r.log.Debug().Str("remote", s.remote).Str("filter", server).Msg("Event subscriber joined")

	go s.deliver()
	go s.drain(r.events)
}

func (r *Router) knownServer(name string) bool {
	for _, st := range r.servers.Statuses() {
		if st.Name == name {
			return true
		}
	}
	return false
}

// deliver writes queued events and keepalive pings until the queue is closed
// or a write fails
func (s *subscriber) deliver() {
	ping := time.NewTicker(streamPingEvery)
	defer func() {
		ping.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case payload, open := <-s.queue:
			s.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if !open {
				s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ping.C:
			s.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// drain discards anything the operator sends and notices when the peer goes
// away; the stream is one-way.
func (s *subscriber) drain(es *EventStream) {
	defer func() {
		es.unsubscribe(s)
		s.conn.Close()
	}()

	s.conn.SetReadLimit(streamReadLimit)
	s.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := s.conn.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				es.log.Debug().Err(err).Str("remote", s.remote).Msg("Event subscriber read")
			}
			return
		}
	}
}
