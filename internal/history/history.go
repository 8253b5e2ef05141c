// Package history keeps an append-only audit of finished dial groups and
// transfers in SQLite. The orchestrators write records on terminal
// transitions; the API reads them back for agent call history.
package history

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dialcast/dialcast/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DefaultListLimit bounds history queries when the caller gives no limit.
const DefaultListLimit = 50

// MaxListLimit is the hard ceiling on one history page.
const MaxListLimit = 500

// GroupRecord is one audited dial group with its attempts.
type GroupRecord struct {
	ID             string          `json:"id"`
	QueueID        string          `json:"queue_id,omitempty"`
	AgentID        string          `json:"agent_id,omitempty"`
	ConferenceName string          `json:"conference_name,omitempty"`
	Status         string          `json:"status"`
	WinnerCallRef  string          `json:"winner_call_ref,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	RecordedAt     time.Time       `json:"recorded_at"`
	Attempts       []AttemptRecord `json:"attempts"`
}

// AttemptRecord is one audited dial attempt.
type AttemptRecord struct {
	CallRef        string `json:"call_ref"`
	CustomerNumber string `json:"customer_number"`
	FromNumber     string `json:"from_number"`
	Position       int    `json:"position"`
	Status         string `json:"status"`
	AnsweredBy     string `json:"answered_by,omitempty"`
	Screened       bool   `json:"screened,omitempty"`
	ContactID      string `json:"contact_id,omitempty"`
}

// TransferRecord is one audited transfer.
type TransferRecord struct {
	ID              string     `json:"id"`
	ConferenceName  string     `json:"conference_name"`
	Type            string     `json:"type"`
	Status          string     `json:"status"`
	StatusDetail    string     `json:"status_detail,omitempty"`
	RecipientPhone  string     `json:"recipient_phone"`
	CallerID        string     `json:"caller_id,omitempty"`
	AgentCallRef    string     `json:"agent_call_ref,omitempty"`
	CustomerCallRef string     `json:"customer_call_ref,omitempty"`
	TransferCallRef string     `json:"transfer_call_ref,omitempty"`
	InitiatedAt     time.Time  `json:"initiated_at"`
	ConnectedAt     *time.Time `json:"connected_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	RecordedAt      time.Time  `json:"recorded_at"`
}

// Store wraps a SQLite database holding the audit tables.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the history database at the given file path with
// WAL mode enabled and runs any pending migrations.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging history database: %w", err)
	}

	// SQLite performs best with a single writer connection.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logger.With("subsystem", "history")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running history migrations: %w", err)
	}

	s.logger.Info("history database opened", "path", dbPath)
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at DATETIME DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version := strings.TrimSuffix(entry.Name(), ".sql")

		var count int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", version).Scan(&count); err != nil {
			return fmt.Errorf("checking migration %s: %w", version, err)
		}
		if count > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", version, err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %s: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", version, err)
		}
		s.logger.Info("applied migration", "version", version)
	}
	return nil
}

// RecordGroup writes a terminal dial group and its attempts. Re-recording
// the same group replaces the earlier rows, so redelivered terminal events
// stay idempotent.
func (s *Store) RecordGroup(ctx context.Context, g *store.Group) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO dial_groups
		(id, queue_id, agent_id, conference_name, status, winner_call_ref, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.QueueID, g.AgentID, g.ConferenceName, string(g.Status), g.WinnerCallRef, g.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("recording group: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM dial_attempts WHERE group_id = ?", g.ID); err != nil {
		return fmt.Errorf("clearing attempts: %w", err)
	}
	for _, a := range g.Attempts {
		_, err := tx.ExecContext(ctx, `INSERT INTO dial_attempts
			(group_id, call_ref, customer_number, from_number, position, status, answered_by, screened, contact_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			g.ID, a.CallRef, a.CustomerNumber, a.FromNumber, a.Position, string(a.Status), a.AnsweredBy, a.Screened, a.ContactID)
		if err != nil {
			return fmt.Errorf("recording attempt %s: %w", a.CallRef, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing group record: %w", err)
	}
	return nil
}

// RecordTransfer writes a terminal transfer.
func (s *Store) RecordTransfer(ctx context.Context, t *store.Transfer) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO transfers
		(id, conference_name, type, status, status_detail, recipient_phone, caller_id,
		 agent_call_ref, customer_call_ref, transfer_call_ref, initiated_at, connected_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ConferenceName, string(t.Type), string(t.Status), t.StatusDetail,
		t.RecipientPhone, t.CallerID, t.AgentCallRef, t.CustomerCallRef, t.TransferCallRef,
		t.InitiatedAt.UTC(), nullableTime(t.ConnectedAt), nullableTime(t.CompletedAt))
	if err != nil {
		return fmt.Errorf("recording transfer: %w", err)
	}
	return nil
}

// ListGroups returns recorded dial groups, newest first, optionally
// filtered by agent.
func (s *Store) ListGroups(ctx context.Context, agentID string, limit int) ([]GroupRecord, error) {
	limit = clampLimit(limit)

	query := `SELECT id, queue_id, agent_id, conference_name, status, winner_call_ref, created_at, recorded_at
		FROM dial_groups`
	args := []any{}
	if agentID != "" {
		query += " WHERE agent_id = ?"
		args = append(args, agentID)
	}
	query += " ORDER BY recorded_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing groups: %w", err)
	}
	defer rows.Close()

	var out []GroupRecord
	for rows.Next() {
		var g GroupRecord
		if err := rows.Scan(&g.ID, &g.QueueID, &g.AgentID, &g.ConferenceName, &g.Status, &g.WinnerCallRef, &g.CreatedAt, &g.RecordedAt); err != nil {
			return nil, fmt.Errorf("scanning group: %w", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading groups: %w", err)
	}

	for i := range out {
		attempts, err := s.listAttempts(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Attempts = attempts
	}
	return out, nil
}

func (s *Store) listAttempts(ctx context.Context, groupID string) ([]AttemptRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT call_ref, customer_number, from_number, position, status, answered_by, screened, contact_id
		FROM dial_attempts WHERE group_id = ? ORDER BY position`, groupID)
	if err != nil {
		return nil, fmt.Errorf("listing attempts: %w", err)
	}
	defer rows.Close()

	var out []AttemptRecord
	for rows.Next() {
		var a AttemptRecord
		if err := rows.Scan(&a.CallRef, &a.CustomerNumber, &a.FromNumber, &a.Position, &a.Status, &a.AnsweredBy, &a.Screened, &a.ContactID); err != nil {
			return nil, fmt.Errorf("scanning attempt: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListTransfers returns recorded transfers, newest first, optionally
// filtered by conference name.
func (s *Store) ListTransfers(ctx context.Context, conferenceName string, limit int) ([]TransferRecord, error) {
	limit = clampLimit(limit)

	query := `SELECT id, conference_name, type, status, status_detail, recipient_phone, caller_id,
		agent_call_ref, customer_call_ref, transfer_call_ref, initiated_at, connected_at, completed_at, recorded_at
		FROM transfers`
	args := []any{}
	if conferenceName != "" {
		query += " WHERE conference_name = ?"
		args = append(args, conferenceName)
	}
	query += " ORDER BY recorded_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing transfers: %w", err)
	}
	defer rows.Close()

	var out []TransferRecord
	for rows.Next() {
		var t TransferRecord
		var connected, completed sql.NullTime
		if err := rows.Scan(&t.ID, &t.ConferenceName, &t.Type, &t.Status, &t.StatusDetail,
			&t.RecipientPhone, &t.CallerID, &t.AgentCallRef, &t.CustomerCallRef, &t.TransferCallRef,
			&t.InitiatedAt, &connected, &completed, &t.RecordedAt); err != nil {
			return nil, fmt.Errorf("scanning transfer: %w", err)
		}
		if connected.Valid {
			t.ConnectedAt = &connected.Time
		}
		if completed.Valid {
			t.CompletedAt = &completed.Time
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
