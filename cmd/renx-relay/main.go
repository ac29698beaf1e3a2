// renx-relay - Renegade X RCON upstream relay
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/ernie/renx-relay/internal/api"
	"github.com/ernie/renx-relay/internal/auth"
	"github.com/ernie/renx-relay/internal/config"
	"github.com/ernie/renx-relay/internal/domain"
	"github.com/ernie/renx-relay/internal/host"
	"github.com/ernie/renx-relay/internal/metrics"
	"github.com/ernie/renx-relay/internal/notify"
	"github.com/ernie/renx-relay/internal/storage"
)

var version = "dev"

const defaultConfigPath = "/etc/renx-relay/config.yml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "check-config":
		cmdCheckConfig(os.Args[2:])
	case "status":
		cmdStatus(os.Args[2:])
	case "commands":
		cmdCommands(os.Args[2:])
	case "prune":
		cmdPrune(os.Args[2:])
	case "hash-password":
		cmdHashPassword()
	case "token":
		cmdToken(os.Args[2:])
	case "version":
		fmt.Printf("renx-relay %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: renx-relay <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                                Start the relay and the admin API")
	fmt.Println("  check-config                         Validate the config and show resolved upstreams")
	fmt.Println("  status [--url <url>]                 Show downstream and upstream state of a running relay")
	fmt.Println("  commands [--server S] [--upstream U] [--outcome O] [--limit N]")
	fmt.Println("                                       Show the relayed command journal")
	fmt.Println("  prune [--older-than 720h]            Delete old command journal entries")
	fmt.Println("  hash-password                        Hash an admin password for the config file")
	fmt.Println("  token [--user name] [--admin]        Mint an API token")
	fmt.Println("  version                              Show version")
	fmt.Println("  help                                 Show this help")
	fmt.Println()
	fmt.Println("Global Options:")
	fmt.Println("  --config <path>    Path to configuration file (default /etc/renx-relay/config.yml)")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  renx-relay serve --config /etc/renx-relay/config.yml")
	fmt.Println("  renx-relay check-config")
	fmt.Println("  renx-relay commands --outcome suppressed --limit 50")
}

// newLogger builds the process logger: console output on a terminal, JSON
// lines otherwise
func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var w io.Writer = os.Stderr
	switch cfg.Format {
	case "console":
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime}
	case "json":
	default:
		if term.IsTerminal(int(os.Stderr.Fd())) {
			w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime}
		}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// loadConfig parses and validates the config file, exiting on failure
func loadConfig(path string, log zerolog.Logger) *config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("Failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("Invalid config")
	}
	return cfg
}

// cmdServe runs the relay until SIGINT or SIGTERM
func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to config file")
	fs.Parse(args)

	cfg := loadConfig(*configPath, newLogger(config.LogConfig{}))
	log := newLogger(cfg.Log)
	log.Info().Str("version", version).Int("servers", len(cfg.Servers)).Strs("upstreams", cfg.Relay.Upstreams).Msg("renx-relay starting")

	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Database.Path).Msg("Failed to initialize database")
	}
	defer store.Close()
	log.Info().Str("path", cfg.Database.Path).Msg("Database initialized")

	var notifier notify.Notifier = notify.NewLogNotifier(log)
	if cfg.NATS.URL != "" {
		n, err := notify.NewNATSNotifier(cfg.NATS.URL, cfg.NATS.Subject, log)
		if err != nil {
			log.Fatal().Err(err).Str("url", cfg.NATS.URL).Msg("Failed to connect to NATS")
		}
		notifier = n
		log.Info().Str("url", cfg.NATS.URL).Str("subject", cfg.NATS.Subject).Msg("Publishing notices to NATS")
	}
	defer notifier.Close()

	m := metrics.New()
	manager, err := host.NewManager(cfg, store, notifier, m, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create relay")
	}

	authService := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenDuration, cfg.Auth.AdminUser, cfg.Auth.AdminPasswordHash)
	if cfg.Auth.JWTSecret == "" {
		log.Warn().Msg("No JWT secret configured. Auth tokens will use an empty secret.")
	}
	if cfg.Auth.AdminPasswordHash == "" {
		log.Warn().Msg("No admin password hash configured. API login is disabled.")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	managerDone := make(chan error, 1)
	go func() { managerDone <- manager.Run(ctx) }()

	router := api.NewRouter(store, manager, authService, m, log)
	router.StreamEvents(ctx, manager.Events())

	addr := fmt.Sprintf("%s:%d", cfg.Server.ListenAddr, cfg.Server.HTTPPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Received signal, shutting down")
	case err := <-serverErr:
		log.Error().Err(err).Msg("HTTP server error")
	case err := <-managerDone:
		log.Fatal().Err(err).Msg("Relay stopped unexpectedly")
	}
	stop()

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := server.Shutdown(httpCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("Stopping relay")
	if err := <-managerDone; err != nil {
		log.Error().Err(err).Msg("Relay shutdown error")
	}
	log.Info().Msg("Shutdown complete")
}

// cmdCheckConfig validates the config and prints the effective upstream
// settings
func cmdCheckConfig(args []string) {
	fs := flag.NewFlagSet("check-config", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to config file")
	fs.Parse(args)

	cfg := loadConfig(*configPath, newLogger(config.LogConfig{}))
	upstreams, err := cfg.Relay.ResolveUpstreams()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s: OK\n\n", *configPath)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SERVER\tADDRESS")
	for _, srv := range cfg.Servers {
		fmt.Fprintf(w, "%s\t%s\n", srv.Name, srv.ServerAddress())
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "UPSTREAM\tADDRESS\tIDENTITY\tSANITIZE\tSUPPRESS\tFAKE\tTRAFFIC LOG")
	for _, u := range upstreams {
		identity := u.Identity
		if identity == "" {
			identity = "(rcon user)"
		}
		sanitize := flags(map[string]bool{"names": u.SanitizeNames, "ips": u.SanitizeIPs, "hwids": u.SanitizeHWIDs, "steamids": u.SanitizeSteamIDs})
		suppress := flags(map[string]bool{"unknown": u.SuppressUnknownCommands, "blacklisted": u.SuppressBlacklistedCommands, "chat": u.SuppressChatLogs})
		fake := flags(map[string]bool{"ping": u.FakePings, "suppressed": u.FakeSuppressedCommands})
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%t\n", u.Label, u.Address(), identity, sanitize, suppress, fake, u.LogTraffic)
	}
	w.Flush()
}

// flags renders the enabled names of a toggle set in a stable order
func flags(toggles map[string]bool) string {
	var on []string
	for _, name := range []string{"names", "ips", "hwids", "steamids", "unknown", "blacklisted", "chat", "ping", "suppressed"} {
		if toggles[name] {
			on = append(on, name)
		}
	}
	if len(on) == 0 {
		return "-"
	}
	return strings.Join(on, ",")
}

// cmdStatus queries a running relay's API with a locally minted admin token
func cmdStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	url := fs.String("url", "", "base URL of the relay API (default: derived from config)")
	fs.Parse(args)

	cfg := loadConfig(*configPath, newLogger(config.LogConfig{}))
	baseURL := *url
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://%s:%d", cfg.Server.ListenAddr, cfg.Server.HTTPPort)
	}
	authService := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenDuration, cfg.Auth.AdminUser, cfg.Auth.AdminPasswordHash)
	token, err := authService.GenerateToken(cfg.Auth.AdminUser, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var statuses []domain.ServerStatus
	if err := getJSON(baseURL+"/api/servers", token, &statuses); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SERVER\tADDRESS\tDOWNSTREAM\tPLAYERS\tIN FLIGHT\tUPSTREAMS")
	fmt.Fprintln(w, "------\t-------\t----------\t-------\t---------\t---------")
	for _, s := range statuses {
		downstream := "OFFLINE"
		if s.Connected {
			downstream = "ONLINE"
		}
		var ups []string
		for _, u := range s.Upstreams {
			state := "down"
			if u.Connected {
				state = "up"
			}
			if u.Pending > 0 {
				state = fmt.Sprintf("%s(%d)", state, u.Pending)
			}
			ups = append(ups, u.Label+":"+state)
		}
		upstreams := "-"
		if len(ups) > 0 {
			upstreams = strings.Join(ups, " ")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n", s.Name, s.Address, downstream, s.PlayerCount, s.InFlight, upstreams)
	}
	w.Flush()
}

func getJSON(url, token string, target interface{}) error {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to relay: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

// cmdCommands prints the command journal straight from the database
func cmdCommands(args []string) {
	fs := flag.NewFlagSet("commands", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	server := fs.String("server", "", "only this game server")
	upstream := fs.String("upstream", "", "only this upstream label")
	outcome := fs.String("outcome", "", "completed, faked or suppressed")
	limit := fs.Int("limit", 20, "number of entries")
	fs.Parse(args)

	cfg := loadConfig(*configPath, newLogger(config.LogConfig{}))
	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	records, err := store.GetCommands(context.Background(), storage.CommandFilter{
		Server:   *server,
		Upstream: *upstream,
		Outcome:  *outcome,
		Limit:    *limit,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIME\tSERVER\tUPSTREAM\tOUTCOME\tRESPONSES\tCOMMAND")
	for _, rec := range records {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%s\n",
			rec.ID, rec.RecordedAt.Local().Format(time.DateTime), rec.Server, rec.Upstream, rec.Outcome, rec.Responses, rec.Command)
	}
	w.Flush()
}

// cmdPrune deletes journal entries older than the given age
func cmdPrune(args []string) {
	fs := flag.NewFlagSet("prune", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	olderThan := fs.Duration("older-than", 30*24*time.Hour, "delete entries older than this")
	fs.Parse(args)

	cfg := loadConfig(*configPath, newLogger(config.LogConfig{}))
	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	n, err := store.PruneCommands(context.Background(), time.Now().Add(-*olderThan))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Pruned %d journal entries older than %s\n", n, *olderThan)
}

// cmdHashPassword prompts for a password and prints its bcrypt hash
func cmdHashPassword() {
	fmt.Print("Enter password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to read password: %v\n", err)
		os.Exit(1)
	}
	if len(password) < 8 {
		fmt.Fprintln(os.Stderr, "Error: password must be at least 8 characters")
		os.Exit(1)
	}

	fmt.Print("Confirm password: ")
	confirm, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to read password: %v\n", err)
		os.Exit(1)
	}
	if string(password) != string(confirm) {
		fmt.Fprintln(os.Stderr, "Error: passwords do not match")
		os.Exit(1)
	}

	hash, err := auth.HashPassword(string(password))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to hash password: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Add this to the auth section of your config:")
	fmt.Printf("  admin_password_hash: %q\n", hash)
}

// cmdToken mints a token signed with the configured secret
func cmdToken(args []string) {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	user := fs.String("user", "", "token subject (default: the configured admin user)")
	admin := fs.Bool("admin", false, "grant admin access")
	fs.Parse(args)

	cfg := loadConfig(*configPath, newLogger(config.LogConfig{}))
	username := *user
	if username == "" {
		username = cfg.Auth.AdminUser
	}
	authService := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenDuration, cfg.Auth.AdminUser, cfg.Auth.AdminPasswordHash)
	token, err := authService.GenerateToken(username, *admin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
