package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ernie/renx-relay/internal/domain"
)

// formatTimestamp converts time.Time to SQLite-compatible UTC ISO8601 string
// The Z suffix ensures the Go sqlite driver parses it back as UTC
func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

//go:embed schema.sql
var schema string

// Store provides database access
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting pragmas: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Server methods ---

// UpsertServer creates or updates a game server and returns its id
func (s *Store) UpsertServer(ctx context.Context, name, address string) (int64, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO servers (name, address)
		VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET
			address = excluded.address
	`, name, address)
	if err != nil {
		return 0, err
	}

	// Always query for the ID (LastInsertId unreliable with ON CONFLICT)
	var id int64
	err = s.db.QueryRowContext(ctx, "SELECT id FROM servers WHERE name = ?", name).Scan(&id)
	return id, err
}

func (s *Store) serverID(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, "SELECT id FROM servers WHERE name = ?", name).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("unknown server %q", name)
	}
	return id, err
}

// --- Upstream session methods ---

// OpenUpstreamSession records a newly connected upstream socket
func (s *Store) OpenUpstreamSession(ctx context.Context, sess *domain.UpstreamSession) error {
	serverID, err := s.serverID(ctx, sess.Server)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO upstream_sessions (id, server_id, upstream, address, identity, connected_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, sess.ID, serverID, sess.Upstream, sess.Address, sess.Identity, formatTimestamp(sess.ConnectedAt))
	return err
}

// CloseUpstreamSession marks a session as disconnected
func (s *Store) CloseUpstreamSession(ctx context.Context, id string, at time.Time, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE upstream_sessions SET disconnected_at = ?, disconnect_reason = ?
		WHERE id = ? AND disconnected_at IS NULL
	`, formatTimestamp(at), reason, id)
	return err
}

// CloseOpenSessions closes every session left open, e.g. by a crash
func (s *Store) CloseOpenSessions(ctx context.Context, at time.Time, reason string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE upstream_sessions SET disconnected_at = ?, disconnect_reason = ?
		WHERE disconnected_at IS NULL
	`, formatTimestamp(at), reason)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// GetUpstreamSessions returns the most recent sessions, optionally for one server
func (s *Store) GetUpstreamSessions(ctx context.Context, server string, limit int) ([]domain.UpstreamSession, error) {
	query := `
		SELECT us.id, sv.name, us.upstream, us.address, us.identity,
			us.connected_at, us.disconnected_at, us.disconnect_reason
		FROM upstream_sessions us
		JOIN servers sv ON sv.id = us.server_id`
	var args []interface{}
	if server != "" {
		query += " WHERE sv.name = ?"
		args = append(args, server)
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	query += " ORDER BY us.connected_at DESC, us.rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []domain.UpstreamSession
	for rows.Next() {
		var sess domain.UpstreamSession
		var disconnectedAt sql.NullTime
		var reason sql.NullString
		if err := rows.Scan(&sess.ID, &sess.Server, &sess.Upstream, &sess.Address, &sess.Identity,
			&sess.ConnectedAt, &disconnectedAt, &reason); err != nil {
			return nil, err
		}
		sess.DisconnectedAt = scanNullTime(disconnectedAt)
		sess.DisconnectReason = scanNullStringValue(reason)
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// --- Command journal methods ---

// RecordCommand appends a command outcome to the journal
func (s *Store) RecordCommand(ctx context.Context, rec *domain.CommandRecord) error {
	serverID, err := s.serverID(ctx, rec.Server)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO relayed_commands (server_id, upstream, session_id, command, outcome, responses, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, serverID, rec.Upstream, nullString(rec.SessionID), rec.Command, rec.Outcome, rec.Responses,
		formatTimestamp(rec.RecordedAt))
	if err != nil {
		return err
	}
	rec.ID, err = result.LastInsertId()
	return err
}

// CommandFilter selects journal entries
type CommandFilter struct {
	Server   string
	Upstream string
	Outcome  string
	BeforeID *int64
	Limit    int // zero or negative means DefaultListLimit
}

// DefaultListLimit caps journal queries that do not name a limit
const DefaultListLimit = 100

// GetCommands returns journal entries newest first
func (s *Store) GetCommands(ctx context.Context, filter CommandFilter) ([]domain.CommandRecord, error) {
	var conditions []string
	var args []interface{}
	if filter.Server != "" {
		conditions = append(conditions, "sv.name = ?")
		args = append(args, filter.Server)
	}
	if filter.Upstream != "" {
		conditions = append(conditions, "rc.upstream = ?")
		args = append(args, filter.Upstream)
	}
	if filter.Outcome != "" {
		conditions = append(conditions, "rc.outcome = ?")
		args = append(args, filter.Outcome)
	}
	if filter.BeforeID != nil {
		conditions = append(conditions, "rc.id < ?")
		args = append(args, *filter.BeforeID)
	}

	query := `
		SELECT rc.id, sv.name, rc.upstream, rc.session_id, rc.command, rc.outcome, rc.responses, rc.recorded_at
		FROM relayed_commands rc
		JOIN servers sv ON sv.id = rc.server_id`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY rc.id DESC LIMIT ?"
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.CommandRecord
	for rows.Next() {
		var rec domain.CommandRecord
		var sessionID sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Server, &rec.Upstream, &sessionID, &rec.Command,
			&rec.Outcome, &rec.Responses, &rec.RecordedAt); err != nil {
			return nil, err
		}
		rec.SessionID = scanNullStringValue(sessionID)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountCommandsByOutcome returns the journal size per outcome for a server
func (s *Store) CountCommandsByOutcome(ctx context.Context, server string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rc.outcome, COUNT(*)
		FROM relayed_commands rc
		JOIN servers sv ON sv.id = rc.server_id
		WHERE sv.name = ?
		GROUP BY rc.outcome
	`, server)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		counts[outcome] = n
	}
	return counts, rows.Err()
}

// PruneCommands deletes journal entries recorded before cutoff
func (s *Store) PruneCommands(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM relayed_commands WHERE recorded_at < ?", formatTimestamp(cutoff))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
