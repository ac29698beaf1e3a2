package downstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ernie/renx-relay/internal/domain"
	"github.com/ernie/renx-relay/internal/rcon"
)

const (
	defaultConnectTimeout   = 5 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	readBufferSize          = 4096
	lineBufferSize          = 256
)

var (
	// ErrAuthFailed is returned when the game server rejects the RCON password
	ErrAuthFailed = errors.New("rcon authentication failed")
	// ErrNotConnected is returned by Send before Connect or after Close
	ErrNotConnected = errors.New("not connected")
)

// Dialer opens the game-server socket; *net.Dialer satisfies it
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Options tune a Client; zero values take the defaults above
type Options struct {
	Dialer           Dialer
	Logger           zerolog.Logger
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// Client is an authenticated, subscribed RCON session with one game server.
// A reader goroutine reassembles the byte stream into lines and delivers them
// on Lines(); everything else is called from the owning goroutine.
type Client struct {
	address  string
	password string
	opts     Options
	log      zerolog.Logger

	writeMu sync.Mutex
	conn    net.Conn
	done    chan struct{}

	lines   chan string
	errMu   sync.Mutex
	readErr error

	roster      *Roster
	rconUser    string
	gameVersion string
	protocol    int
}

// NewClient creates a client for the game server at address
func NewClient(address, password string, opts Options) *Client {
	if opts.Dialer == nil {
		opts.Dialer = &net.Dialer{}
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	if opts.HandshakeTimeout == 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	return &Client{
		address:  address,
		password: password,
		opts:     opts,
		log:      opts.Logger.With().Str("downstream", address).Logger(),
		roster:   NewRoster(),
	}
}

// Connect dials the game server, authenticates and subscribes to its log
// stream. On success the reader goroutine is running.
func (c *Client) Connect(ctx context.Context) error {
	c.Close()
	c.setErr(nil)

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	conn, err := c.opts.Dialer.DialContext(dialCtx, "tcp", c.address)
	cancel()
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", c.address, err)
	}

	s := &lineReader{conn: conn}
	conn.SetDeadline(time.Now().Add(c.opts.HandshakeTimeout))
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	err = c.handshake(s)
	if !stop() && err == nil {
		err = ctx.Err()
	}
	if err != nil {
		conn.Close()
		return err
	}
	conn.SetDeadline(time.Time{})

	done := make(chan struct{})
	lines := make(chan string, lineBufferSize)
	roster := NewRoster()
	c.writeMu.Lock()
	c.conn = conn
	c.done = done
	c.writeMu.Unlock()
	c.lines = lines
	c.roster = roster

	go c.readLoop(s, lines, done)

	c.log.Info().
		Int("protocol", c.protocol).
		Str("game_version", c.gameVersion).
		Str("rcon_user", c.rconUser).
		Msg("Connected to game server")
	return nil
}

func (c *Client) handshake(s *lineReader) error {
	conn := s.conn
	line, err := s.next()
	if err != nil {
		return fmt.Errorf("reading version: %w", err)
	}
	c.protocol, c.gameVersion, err = rcon.ParseVersion(line)
	if err != nil {
		return err
	}

	if err := writeLine(conn, rcon.AuthLine(c.password)); err != nil {
		return fmt.Errorf("sending auth: %w", err)
	}
	for {
		line, err := s.next()
		if err != nil {
			return fmt.Errorf("reading auth response: %w", err)
		}
		if rcon.Kind(line) == rcon.KindError {
			return fmt.Errorf("%w: %s", ErrAuthFailed, line[1:])
		}
		if rcon.Kind(line) == rcon.KindAuth {
			c.rconUser = line[1:]
			break
		}
	}

	if err := writeLine(conn, string(rcon.KindSubscribe)); err != nil {
		return fmt.Errorf("subscribing: %w", err)
	}
	return nil
}

// lineReader reassembles lines from one connection. During the handshake
// lines are pulled with next; afterwards the read loop takes over and any
// lines already buffered are delivered first.
type lineReader struct {
	conn        net.Conn
	reassembler rcon.Reassembler
	backlog     []string
	buf         [readBufferSize]byte
}

func (s *lineReader) fill() error {
	n, err := s.conn.Read(s.buf[:])
	if n > 0 {
		for _, line := range s.reassembler.Feed(s.buf[:n]) {
			if line != "" {
				s.backlog = append(s.backlog, line)
			}
		}
	}
	return err
}

func (s *lineReader) next() (string, error) {
	for len(s.backlog) == 0 {
		if err := s.fill(); err != nil && len(s.backlog) == 0 {
			return "", err
		}
	}
	line := s.backlog[0]
	s.backlog = s.backlog[1:]
	return line, nil
}

func (c *Client) readLoop(s *lineReader, lines chan<- string, done <-chan struct{}) {
	defer close(lines)
	for {
		for _, line := range s.backlog {
			select {
			case lines <- line:
			case <-done:
				return
			}
		}
		s.backlog = s.backlog[:0]
		if err := s.fill(); err != nil {
			// flush what the final read completed before reporting
			for _, line := range s.backlog {
				select {
				case lines <- line:
				case <-done:
					return
				}
			}
			c.setErr(err)
			return
		}
	}
}

func (c *Client) setErr(err error) {
	c.errMu.Lock()
	c.readErr = err
	c.errMu.Unlock()
}

// Err returns the error that ended the read loop, once Lines is closed
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.readErr
}

// Lines delivers every line received after the handshake. The channel is
// closed when the connection is lost.
func (c *Client) Lines() <-chan string {
	return c.lines
}

// Send writes one line to the game server
func (c *Client) Send(line string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if err := writeLine(c.conn, line); err != nil {
		return fmt.Errorf("writing to %s: %w", c.address, err)
	}
	return nil
}

func writeLine(conn net.Conn, line string) error {
	_, err := conn.Write([]byte(line + "\n"))
	return err
}

// Close drops the connection; the reader goroutine exits and closes Lines
func (c *Client) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return nil
	}
	close(c.done)
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Observe applies one line taken from Lines to the player roster. Call it in
// line order, before the line is routed.
func (c *Client) Observe(line string) {
	c.roster.Observe(line)
}

// Players returns the current roster sorted by id
func (c *Client) Players() []domain.Player {
	return c.roster.Players()
}

// RconUser is the user name the game server assigned to this session
func (c *Client) RconUser() string {
	return c.rconUser
}

// GameVersion is the game version string from the handshake
func (c *Client) GameVersion() string {
	return c.gameVersion
}

// ProtocolVersion is the RCON protocol version from the handshake
func (c *Client) ProtocolVersion() int {
	return c.protocol
}
