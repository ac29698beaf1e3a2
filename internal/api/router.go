package api

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ernie/renx-relay/internal/auth"
	"github.com/ernie/renx-relay/internal/domain"
	"github.com/ernie/renx-relay/internal/metrics"
	"github.com/ernie/renx-relay/internal/storage"
)

// StatusSource reports the live state of every relayed game server
type StatusSource interface {
	Statuses() []domain.ServerStatus
}

// Router holds the HTTP routes and dependencies
type Router struct {
	mux     *http.ServeMux
	store   *storage.Store
	servers StatusSource
	events  *EventStream
	auth    *auth.Service
	log     zerolog.Logger
}

// NewRouter creates a new HTTP router
func NewRouter(store *storage.Store, servers StatusSource, authService *auth.Service, m *metrics.Metrics, log zerolog.Logger) *Router {
	r := &Router{
		mux:     http.NewServeMux(),
		store:   store,
		servers: servers,
		events:  NewEventStream(log),
		auth:    authService,
		log:     log,
	}

	// Relay state
	r.mux.HandleFunc("GET /api/servers", r.requireAuth(r.handleGetServers))
	r.mux.HandleFunc("GET /api/servers/{name}", r.requireAuth(r.handleGetServer))

	// Journal (admin only)
	r.mux.HandleFunc("GET /api/commands", r.requireAdmin(r.handleGetCommands))
	r.mux.HandleFunc("GET /api/sessions", r.requireAdmin(r.handleGetSessions))

	// Auth routes
	r.mux.HandleFunc("POST /api/auth/login", r.handleLogin)
	r.mux.HandleFunc("GET /api/auth/check", r.handleAuthCheck)

	// WebSocket event stream
	r.mux.HandleFunc("GET /ws", r.handleWebSocket)

	// Prometheus
	if m != nil {
		r.mux.Handle("GET /metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	}

	// Health check
	r.mux.HandleFunc("GET /health", r.handleHealth)

	return r
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	// CORS headers for API
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if req.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	r.mux.ServeHTTP(w, req)
}

// StreamEvents publishes relay events to WebSocket subscribers until ctx is
// cancelled or events is closed
func (r *Router) StreamEvents(ctx context.Context, events <-chan domain.Event) {
	go r.events.follow(ctx, events)
}

// Events exposes the WebSocket event stream
func (r *Router) Events() *EventStream {
	return r.events
}
