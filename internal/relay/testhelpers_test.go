package relay

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ernie/renx-relay/internal/domain"
)

const testRconUser = "RelayBot"

// fakeDownstream records every line the relay sends to the game server
type fakeDownstream struct {
	sent    []string
	players []domain.Player
	sendErr error
}

func (d *fakeDownstream) Send(line string) error {
	if d.sendErr != nil {
		return d.sendErr
	}
	d.sent = append(d.sent, line)
	return nil
}

func (d *fakeDownstream) Players() []domain.Player { return d.players }
func (d *fakeDownstream) RconUser() string         { return testRconUser }
func (d *fakeDownstream) GameVersion() string      { return "5.42" }
func (d *fakeDownstream) ProtocolVersion() int     { return 4 }

// fakeConn is an in-memory upstream socket. Writes are recorded; reads are
// fed from a channel by the test.
type fakeConn struct {
	mu        sync.Mutex
	written   strings.Builder
	reads     chan []byte
	readErr   chan error
	closed    chan struct{}
	closeOnce sync.Once
	writeErr  error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		reads:   make(chan []byte, 16),
		readErr: make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) Read(b []byte) (int, error) {
	select {
	case data := <-c.reads:
		return copy(b, data), nil
	case err := <-c.readErr:
		return 0, err
	case <-c.closed:
		return 0, net.ErrClosed
	}
}

func (c *fakeConn) Write(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	c.written.Write(b)
	return len(b), nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// lines returns every complete line written so far and resets the record
func (c *fakeConn) lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.written.String()
	c.written.Reset()
	if out == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(out, "\n"), "\n")
}

func (c *fakeConn) LocalAddr() net.Addr                { return &net.TCPAddr{} }
func (c *fakeConn) RemoteAddr() net.Addr               { return &net.TCPAddr{} }
func (c *fakeConn) SetDeadline(t time.Time) error      { return nil }
func (c *fakeConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(t time.Time) error { return nil }

// fakeDialer hands out fakeConns per address; failing addresses return an error
type fakeDialer struct {
	mu      sync.Mutex
	conns   map[string][]*fakeConn
	failing map[string]bool
	dials   map[string]int
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		conns:   make(map[string][]*fakeConn),
		failing: make(map[string]bool),
		dials:   make(map[string]int),
	}
}

func (d *fakeDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials[address]++
	if d.failing[address] {
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	d.conns[address] = append(d.conns[address], c)
	return c, nil
}

// latest returns the most recent connection dialed to address
func (d *fakeDialer) latest(address string) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	conns := d.conns[address]
	if len(conns) == 0 {
		return nil
	}
	return conns[len(conns)-1]
}

func (d *fakeDialer) dialCount(address string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials[address]
}

type harness struct {
	t      *testing.T
	relay  *Relay
	ds     *fakeDownstream
	dialer *fakeDialer
	now    time.Time
	events []domain.Event
}

func upstream(label string, port int) *UpstreamSettings {
	s := &UpstreamSettings{Label: label, Host: "127.0.0.1", Port: port}
	s.BuildFakeCommands()
	return s
}

func newHarness(t *testing.T, settings ...*UpstreamSettings) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		ds:     &fakeDownstream{},
		dialer: newFakeDialer(),
		now:    time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC),
	}
	r, err := New("test-server", "127.0.0.1:7777", settings, Options{
		Dialer:  h.dialer,
		Logger:  zerolog.Nop(),
		Now:     func() time.Time { return h.now },
		Seed:    1700000000,
		OnEvent: func(e domain.Event) { h.events = append(h.events, e) },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.relay = r
	return h
}

// start attaches the downstream and connects every upstream, discarding the
// handshake lines
func (h *harness) start() {
	h.t.Helper()
	h.relay.Attach(h.ds)
	h.relay.Tick(h.now)
	for _, c := range h.relay.conns {
		if !c.connected {
			h.t.Fatalf("upstream %s did not connect", c.settings.Label)
		}
		h.conn(c.settings.Label).lines()
	}
}

func (h *harness) conn(label string) *fakeConn {
	for _, c := range h.relay.conns {
		if c.settings.Label == label {
			return h.dialer.latest(c.settings.Address())
		}
	}
	h.t.Fatalf("no upstream %s", label)
	return nil
}

func (h *harness) upstreamConn(label string) *UpstreamConnection {
	for _, c := range h.relay.conns {
		if c.settings.Label == label {
			return c
		}
	}
	h.t.Fatalf("no upstream %s", label)
	return nil
}

// waitReadable blocks until the relay's reader goroutine has queued data
func (h *harness) waitReadable(c *UpstreamConnection) {
	h.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for len(c.reads) == 0 {
		if time.Now().After(deadline) {
			h.t.Fatalf("upstream %s: no data reached the relay", c.settings.Label)
		}
		time.Sleep(time.Millisecond)
	}
}

// upstreamSends delivers raw bytes from an upstream and runs one tick
func (h *harness) upstreamSends(label, data string) {
	h.t.Helper()
	c := h.upstreamConn(label)
	h.conn(label).reads <- []byte(data)
	h.waitReadable(c)
	h.relay.Tick(h.now)
}

// downstreamSends feeds complete lines from the game server
func (h *harness) downstreamSends(lines ...string) {
	for _, line := range lines {
		h.relay.HandleDownstreamLine(line)
	}
}

func (h *harness) takeSent() []string {
	sent := h.ds.sent
	h.ds.sent = nil
	return sent
}

func (h *harness) eventsOfType(eventType string) []domain.Event {
	var out []domain.Event
	for _, e := range h.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
