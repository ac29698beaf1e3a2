package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/ernie/renx-relay/internal/auth"
	"github.com/ernie/renx-relay/internal/domain"
	"github.com/ernie/renx-relay/internal/metrics"
	"github.com/ernie/renx-relay/internal/storage"
)

type staticStatuses []domain.ServerStatus

func (s staticStatuses) Statuses() []domain.ServerStatus { return s }

type testEnv struct {
	router  *Router
	store   *storage.Store
	auth    *auth.Service
	metrics *metrics.Metrics
	server  *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	authService := auth.NewService("secret", time.Hour, "admin", string(hash))
	m := metrics.New()
	statuses := staticStatuses{{
		Name:      "marathon",
		Address:   "10.0.0.2:7777",
		Connected: true,
		Upstreams: []domain.UpstreamStatus{{Label: "devbot", Connected: true}},
	}}

	router := NewRouter(store, statuses, authService, m, zerolog.Nop())
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &testEnv{router: router, store: store, auth: authService, metrics: m, server: server}
}

func (e *testEnv) token(t *testing.T) string {
	t.Helper()
	token, err := e.auth.GenerateToken("admin", true)
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func (e *testEnv) get(t *testing.T, path, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, e.server.URL+path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	resp := env.get(t, "/health", "")
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Errorf("health = %d %q", resp.StatusCode, body)
	}
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"valid", `{"username":"admin","password":"hunter2"}`, http.StatusOK},
		{"wrong password", `{"username":"admin","password":"nope"}`, http.StatusUnauthorized},
		{"missing fields", `{"username":"admin"}`, http.StatusBadRequest},
		{"bad json", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(env.server.URL+"/api/auth/login", "application/json", bytes.NewBufferString(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			if tt.status != http.StatusOK {
				return
			}
			var login LoginResponse
			decode(t, resp, &login)
			if _, err := env.auth.ValidateToken(login.Token); err != nil {
				t.Errorf("returned token invalid: %v", err)
			}
		})
	}
}

func TestAuthCheck(t *testing.T) {
	env := newTestEnv(t)

	var anon map[string]interface{}
	decode(t, env.get(t, "/api/auth/check", ""), &anon)
	if anon["authenticated"] != false {
		t.Errorf("anonymous check = %v", anon)
	}

	var authed map[string]interface{}
	decode(t, env.get(t, "/api/auth/check", env.token(t)), &authed)
	if authed["authenticated"] != true || authed["username"] != "admin" {
		t.Errorf("authenticated check = %v", authed)
	}
}

func TestServersRequireAuth(t *testing.T) {
	env := newTestEnv(t)
	if resp := env.get(t, "/api/servers", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d", resp.StatusCode)
	}

	resp := env.get(t, "/api/servers", env.token(t))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var statuses []domain.ServerStatus
	decode(t, resp, &statuses)
	if len(statuses) != 1 || statuses[0].Name != "marathon" || statuses[0].Upstreams[0].Label != "devbot" {
		t.Errorf("statuses = %+v", statuses)
	}
}

func TestGetServer(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t)
	if resp := env.get(t, "/api/servers/marathon", token); resp.StatusCode != http.StatusOK {
		t.Errorf("known server status = %d", resp.StatusCode)
	}
	if resp := env.get(t, "/api/servers/jelly", token); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown server status = %d", resp.StatusCode)
	}
}

func TestCommandsJournal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.store.UpsertServer(ctx, "marathon", "x")
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	for _, rec := range []domain.CommandRecord{
		{Server: "marathon", Upstream: "devbot", Command: "clientlist", Outcome: domain.OutcomeCompleted, RecordedAt: now},
		{Server: "marathon", Upstream: "devbot", Command: "ping", Outcome: domain.OutcomeFaked, RecordedAt: now},
		{Server: "marathon", Upstream: "stats", Command: "kick 1", Outcome: domain.OutcomeSuppressed, RecordedAt: now},
	} {
		if err := env.store.RecordCommand(ctx, &rec); err != nil {
			t.Fatal(err)
		}
	}
	token := env.token(t)

	var all []domain.CommandRecord
	decode(t, env.get(t, "/api/commands?limit=2", token), &all)
	if len(all) != 2 || all[0].Command != "kick 1" {
		t.Errorf("limited journal = %+v", all)
	}

	var faked []domain.CommandRecord
	decode(t, env.get(t, "/api/commands?outcome=faked", token), &faked)
	if len(faked) != 1 || faked[0].Command != "ping" {
		t.Errorf("faked = %+v", faked)
	}

	if resp := env.get(t, "/api/commands?outcome=bogus", token); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bogus outcome status = %d", resp.StatusCode)
	}

	var empty []domain.UpstreamSession
	resp := env.get(t, "/api/sessions", token)
	decode(t, resp, &empty)
	if empty == nil || len(empty) != 0 {
		t.Errorf("sessions = %+v", empty)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.metrics.LinesRelayed.WithLabelValues("marathon", "devbot", metrics.ToUpstream).Add(3)

	resp := env.get(t, "/metrics", "")
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "renx_relay_lines_total") {
		t.Errorf("metrics output missing relay counter:\n%s", body)
	}
}

type streamedEvent struct {
	Event  string `json:"event"`
	Server string `json:"server"`
	Data   struct {
		Message string `json:"message"`
	} `json:"data"`
}

func (e *testEnv) dialStream(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws?token=" + e.token(t) + query
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (e *testEnv) waitSubscribers(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for e.router.Events().Subscribers() != n {
		if time.Now().After(deadline) {
			t.Fatalf("subscribers = %d, want %d", e.router.Events().Subscribers(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) streamedEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got streamedEvent
	if err := json.Unmarshal(msg, &got); err != nil {
		t.Fatalf("event %q: %v", msg, err)
	}
	return got
}

func notice(server, message string) domain.Event {
	return domain.Event{
		Type:      domain.EventNotice,
		Server:    server,
		Timestamp: time.Now().UTC(),
		Data:      domain.NoticeEvent{Message: message},
	}
}

func TestWebSocketStream(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan domain.Event, 1)
	env.router.StreamEvents(ctx, events)

	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws"
	if _, resp, err := websocket.DefaultDialer.Dial(wsURL, nil); err == nil {
		t.Fatal("dial without token should fail")
	} else if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated dial: %v", err)
	}

	conn := env.dialStream(t, "")
	env.waitSubscribers(t, 1)

	events <- notice("marathon", "hello")
	events <- notice("marathon", "again")

	// one message per event
	if got := readEvent(t, conn); got.Event != domain.EventNotice || got.Server != "marathon" || got.Data.Message != "hello" {
		t.Errorf("event = %+v", got)
	}
	if got := readEvent(t, conn); got.Data.Message != "again" {
		t.Errorf("second event = %+v", got)
	}
}

func TestWebSocketServerFilter(t *testing.T) {
	env := newTestEnv(t)
	es := env.router.Events()

	all := env.dialStream(t, "")
	one := env.dialStream(t, "&server=marathon")
	env.waitSubscribers(t, 2)

	es.Publish(notice("jelly", "elsewhere"))
	es.Publish(notice("marathon", "here"))

	if got := readEvent(t, all); got.Server != "jelly" {
		t.Errorf("unfiltered first event = %+v", got)
	}
	if got := readEvent(t, all); got.Server != "marathon" {
		t.Errorf("unfiltered second event = %+v", got)
	}
	if got := readEvent(t, one); got.Server != "marathon" || got.Data.Message != "here" {
		t.Errorf("filtered subscriber got %+v", got)
	}
}

func TestWebSocketUnknownServerFilter(t *testing.T) {
	env := newTestEnv(t)
	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws?token=" + env.token(t) + "&server=jelly"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("dial with unknown server should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown server dial: %v", err)
	}
}

func TestWebSocketClosesWithEvents(t *testing.T) {
	env := newTestEnv(t)
	events := make(chan domain.Event)
	env.router.StreamEvents(context.Background(), events)

	conn := env.dialStream(t, "")
	env.waitSubscribers(t, 1)
	close(events)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("read after close = %v, want going away", err)
	}
	env.waitSubscribers(t, 0)

	// the stream refuses late subscribers once closed
	late := env.dialStream(t, "")
	late.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := late.ReadMessage(); err == nil {
		t.Fatal("late subscriber should be hung up on")
	}
}
