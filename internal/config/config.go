package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ernie/renx-relay/internal/rcon"
	"github.com/ernie/renx-relay/internal/relay"
)

// ErrNoUpstreams is returned when relay.upstreams lists no labels
var ErrNoUpstreams = errors.New("relay.upstreams lists no upstream labels")

// Config holds the application configuration
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	NATS     NATSConfig     `yaml:"nats"`
	Servers  []GameServer   `yaml:"servers"`
	Relay    RelayConfig    `yaml:"relay"`
}

// LogConfig controls process logging
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console", "json" or empty for auto
}

// ServerConfig holds admin HTTP server settings
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	HTTPPort   int    `yaml:"http_port"`
}

// DatabaseConfig holds SQLite settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds admin authentication settings
type AuthConfig struct {
	JWTSecret         string        `yaml:"jwt_secret"`
	TokenDuration     time.Duration `yaml:"token_duration"`
	AdminUser         string        `yaml:"admin_user"`
	AdminPasswordHash string        `yaml:"admin_password_hash"`
}

// NATSConfig configures the administrative notice publisher. An empty URL
// disables it.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// GameServer is a downstream game server whose RCON session is relayed
type GameServer struct {
	Name         string `yaml:"name"`
	Address      string `yaml:"address"`
	RconPassword string `yaml:"rcon_password"`
}

// RelayConfig holds relay-wide settings and the upstream definitions
type RelayConfig struct {
	TickInterval       time.Duration              `yaml:"tick_interval"`
	ReconnectDelay     time.Duration              `yaml:"reconnect_delay"`
	ActivityTimeout    time.Duration              `yaml:"activity_timeout"`
	TrafficLogDir      string                     `yaml:"traffic_log_dir"`
	TrafficLogMaxBytes int64                      `yaml:"traffic_log_max_bytes"`
	Defaults           UpstreamSection            `yaml:"defaults"`
	Upstreams          []string                   `yaml:"upstreams"`
	Sections           map[string]UpstreamSection `yaml:"sections"`
}

// UpstreamSection is one layer of upstream settings. Nil fields are unset
// and inherit from the layer below.
type UpstreamSection struct {
	Host     *string `yaml:"host"`
	Port     *int    `yaml:"port"`
	Identity *string `yaml:"identity"`

	SanitizeNames    *bool `yaml:"sanitize_names"`
	SanitizeIPs      *bool `yaml:"sanitize_ips"`
	SanitizeHWIDs    *bool `yaml:"sanitize_hwids"`
	SanitizeSteamIDs *bool `yaml:"sanitize_steamids"`

	SuppressUnknownCommands     *bool `yaml:"suppress_unknown_commands"`
	SuppressBlacklistedCommands *bool `yaml:"suppress_blacklisted_commands"`
	SuppressChatLogs            *bool `yaml:"suppress_chat_logs"`

	FakePings              *bool `yaml:"fake_pings"`
	FakeSuppressedCommands *bool `yaml:"fake_suppressed_commands"`

	LogTraffic *bool `yaml:"log_traffic"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes configuration and applies defaults
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Set defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = "127.0.0.1"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "/var/lib/renx-relay/relay.db"
	}
	if cfg.Auth.TokenDuration == 0 {
		cfg.Auth.TokenDuration = 24 * time.Hour
	}
	if cfg.Auth.AdminUser == "" {
		cfg.Auth.AdminUser = "admin"
	}
	if cfg.NATS.Subject == "" {
		cfg.NATS.Subject = "renx.relay.notices"
	}
	if cfg.Relay.TickInterval == 0 {
		cfg.Relay.TickInterval = 100 * time.Millisecond
	}
	if cfg.Relay.ReconnectDelay == 0 {
		cfg.Relay.ReconnectDelay = relay.DefaultReconnectDelay
	}
	if cfg.Relay.ActivityTimeout == 0 {
		cfg.Relay.ActivityTimeout = relay.DefaultActivityTimeout
	}
	if cfg.Relay.TrafficLogMaxBytes == 0 {
		cfg.Relay.TrafficLogMaxBytes = 64 << 20
	}

	return &cfg, nil
}

// Validate checks everything serve needs before any connection is opened
func (c *Config) Validate() error {
	if len(c.Servers) == 0 {
		return errors.New("no game servers configured")
	}
	seen := make(map[string]bool)
	for i, s := range c.Servers {
		if s.Name == "" {
			return fmt.Errorf("servers[%d]: name is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("servers[%d]: duplicate name %q", i, s.Name)
		}
		seen[s.Name] = true
		if s.Address == "" {
			return fmt.Errorf("server %s: address is required", s.Name)
		}
	}
	_, err := c.Relay.ResolveUpstreams()
	return err
}

// ServerAddress returns the game server address, adding the default RCON
// port when none is given
func (s GameServer) ServerAddress() string {
	if _, _, err := net.SplitHostPort(s.Address); err == nil {
		return s.Address
	}
	return net.JoinHostPort(strings.Trim(s.Address, "[]"), strconv.Itoa(rcon.DefaultRconPort))
}
