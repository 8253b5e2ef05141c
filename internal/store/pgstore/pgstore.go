// Package pgstore implements the store contracts on PostgreSQL, giving the
// lock table and the per-group winner field true cross-instance atomicity.
package pgstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/dialcast/dialcast/internal/store"

	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements store.LockStore, store.GroupStore and store.TransferStore
// using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New opens a PostgreSQL connection and runs pending migrations.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgresql: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgresql: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	slog.Info("postgresql store opened")
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate runs all pending SQL migration files in order.
func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
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
		err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = $1", version).Scan(&count)
		if err != nil {
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

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", version, err)
		}

		slog.Info("applied migration", "version", version)
	}

	return nil
}

// Acquire inserts the lock, or steals the row when the existing lock is
// expired or carries the same call reference. The WHERE clause on the
// conflict update is what makes the acquire atomic across instances.
func (s *Store) Acquire(ctx context.Context, lock store.Lock) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO caller_id_locks (phone_number, holder_id, call_ref, acquired_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (phone_number) DO UPDATE
		 SET holder_id   = EXCLUDED.holder_id,
		     call_ref    = EXCLUDED.call_ref,
		     acquired_at = EXCLUDED.acquired_at,
		     expires_at  = EXCLUDED.expires_at
		 WHERE caller_id_locks.call_ref = EXCLUDED.call_ref
		    OR caller_id_locks.expires_at <= NOW()`,
		lock.PhoneNumber, lock.HolderID, lock.CallRef, lock.AcquiredAt, lock.ExpiresAt,
	)
	if err != nil {
		return false, fmt.Errorf("acquiring lock: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquiring lock: %w", err)
	}
	return rows > 0, nil
}

func (s *Store) Get(ctx context.Context, phoneNumber string) (*store.Lock, error) {
	var l store.Lock
	err := s.db.QueryRowContext(ctx,
		`SELECT phone_number, holder_id, call_ref, acquired_at, expires_at
		 FROM caller_id_locks
		 WHERE phone_number = $1 AND expires_at > NOW()`,
		phoneNumber,
	).Scan(&l.PhoneNumber, &l.HolderID, &l.CallRef, &l.AcquiredAt, &l.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying lock: %w", err)
	}
	return &l, nil
}

func (s *Store) ReleaseByRef(ctx context.Context, callRef string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM caller_id_locks WHERE call_ref = $1 AND expires_at > NOW()`, callRef)
	if err != nil {
		return false, fmt.Errorf("releasing lock by ref: %w", err)
	}
	rows, _ := res.RowsAffected()
	return rows > 0, nil
}

func (s *Store) ReleaseByNumber(ctx context.Context, phoneNumber string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM caller_id_locks WHERE phone_number = $1 AND expires_at > NOW()`, phoneNumber)
	if err != nil {
		return false, fmt.Errorf("releasing lock by number: %w", err)
	}
	rows, _ := res.RowsAffected()
	return rows > 0, nil
}

func (s *Store) Rebind(ctx context.Context, oldRef, newRef string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE caller_id_locks SET call_ref = $2 WHERE call_ref = $1 AND expires_at > NOW()`,
		oldRef, newRef)
	if err != nil {
		return false, fmt.Errorf("rebinding lock: %w", err)
	}
	rows, _ := res.RowsAffected()
	return rows > 0, nil
}

func (s *Store) ListByHolder(ctx context.Context, holderID string) ([]store.Lock, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT phone_number, holder_id, call_ref, acquired_at, expires_at
		 FROM caller_id_locks
		 WHERE holder_id = $1 AND expires_at > NOW()
		 ORDER BY acquired_at`,
		holderID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing locks: %w", err)
	}
	defer rows.Close()

	var out []store.Lock
	for rows.Next() {
		var l store.Lock
		if err := rows.Scan(&l.PhoneNumber, &l.HolderID, &l.CallRef, &l.AcquiredAt, &l.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scanning lock: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) PurgeExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM caller_id_locks WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("purging expired locks: %w", err)
	}
	rows, _ := res.RowsAffected()
	return int(rows), nil
}

func (s *Store) CountActive(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM caller_id_locks WHERE expires_at > NOW()`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting locks: %w", err)
	}
	return n, nil
}

func (s *Store) CreateGroup(ctx context.Context, g *store.Group) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO dial_groups (id, queue_id, agent_id, conference_name, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		g.ID, g.QueueID, g.AgentID, g.ConferenceName, g.Status, g.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting dial group: %w", err)
	}

	for _, a := range g.Attempts {
		if err := insertAttempt(ctx, tx, g.ID, a); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func insertAttempt(ctx context.Context, tx *sql.Tx, groupID string, a store.Attempt) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO dial_attempts (call_ref, group_id, customer_number, from_number, position, status, answered_by, screened, contact_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.CallRef, groupID, a.CustomerNumber, a.FromNumber, a.Position, a.Status, a.AnsweredBy, a.Screened, a.ContactID,
	)
	if err != nil {
		return fmt.Errorf("inserting dial attempt: %w", err)
	}
	return nil
}

func (s *Store) GetGroup(ctx context.Context, id string) (*store.Group, error) {
	var g store.Group
	var winner sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, queue_id, agent_id, conference_name, status, winner_call_ref, created_at, updated_at
		 FROM dial_groups WHERE id = $1`,
		id,
	).Scan(&g.ID, &g.QueueID, &g.AgentID, &g.ConferenceName, &g.Status, &winner, &g.CreatedAt, &g.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying dial group: %w", err)
	}
	g.WinnerCallRef = winner.String

	rows, err := s.db.QueryContext(ctx,
		`SELECT call_ref, customer_number, from_number, position, status, answered_by, screened, contact_id
		 FROM dial_attempts WHERE group_id = $1 ORDER BY position`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("querying dial attempts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a store.Attempt
		if err := rows.Scan(&a.CallRef, &a.CustomerNumber, &a.FromNumber, &a.Position, &a.Status, &a.AnsweredBy, &a.Screened, &a.ContactID); err != nil {
			return nil, fmt.Errorf("scanning dial attempt: %w", err)
		}
		g.Attempts = append(g.Attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *Store) GetGroupIDForCall(ctx context.Context, callRef string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT group_id FROM dial_attempts WHERE call_ref = $1`, callRef).Scan(&id)
	if err == sql.ErrNoRows {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("resolving call reference: %w", err)
	}
	return id, nil
}

func (s *Store) AddAttempt(ctx context.Context, groupID string, a store.Attempt) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertAttempt(ctx, tx, groupID, a); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE dial_groups SET updated_at = NOW() WHERE id = $1`, groupID); err != nil {
		return fmt.Errorf("touching dial group: %w", err)
	}
	return tx.Commit()
}

func (s *Store) UpdateAttempt(ctx context.Context, groupID string, a store.Attempt) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE dial_attempts
		 SET status = $3, answered_by = $4, screened = $5
		 WHERE call_ref = $1 AND group_id = $2`,
		a.CallRef, groupID, a.Status, a.AnsweredBy, a.Screened,
	)
	if err != nil {
		return fmt.Errorf("updating dial attempt: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return store.ErrNotFound
	}
	return nil
}

// SetWinner is the single-winner compare-and-set: the UPDATE only matches
// while no winner is recorded and the group is not terminal.
func (s *Store) SetWinner(ctx context.Context, groupID, callRef string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE dial_groups
		 SET winner_call_ref = $2, status = $3, updated_at = NOW()
		 WHERE id = $1
		   AND winner_call_ref IS NULL
		   AND status NOT IN ($4, $5, $6)`,
		groupID, callRef, store.GroupConnected,
		store.GroupCompleted, store.GroupFailed, store.GroupTerminated,
	)
	if err != nil {
		return false, fmt.Errorf("committing winner: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows > 0 {
		return true, nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM dial_groups WHERE id = $1)`, groupID).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking dial group: %w", err)
	}
	if !exists {
		return false, store.ErrNotFound
	}
	return false, nil
}

func (s *Store) UpdateGroupStatus(ctx context.Context, groupID string, status store.GroupStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE dial_groups SET status = $2, updated_at = NOW() WHERE id = $1`,
		groupID, status,
	)
	if err != nil {
		return fmt.Errorf("updating dial group status: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CountGroupsByStatus(ctx context.Context) (map[store.GroupStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM dial_groups GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting dial groups: %w", err)
	}
	defer rows.Close()

	out := make(map[store.GroupStatus]int)
	for rows.Next() {
		var status store.GroupStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning group count: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}

func (s *Store) CreateTransfer(ctx context.Context, t *store.Transfer) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transfers (id, conference_name, transfer_type, status, status_detail,
		                        recipient_phone, caller_id, agent_call_ref, customer_call_ref,
		                        transfer_call_ref, customer_on_hold, customer_muted,
		                        initiated_at, connected_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		t.ID, t.ConferenceName, t.Type, t.Status, t.StatusDetail,
		t.RecipientPhone, t.CallerID, t.AgentCallRef, t.CustomerCallRef,
		t.TransferCallRef, t.CustomerOnHold, t.CustomerMuted,
		t.InitiatedAt, t.ConnectedAt, t.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting transfer: %w", err)
	}
	return nil
}

func (s *Store) GetTransfer(ctx context.Context, id string) (*store.Transfer, error) {
	var t store.Transfer
	err := s.db.QueryRowContext(ctx,
		`SELECT id, conference_name, transfer_type, status, status_detail,
		        recipient_phone, caller_id, agent_call_ref, customer_call_ref,
		        transfer_call_ref, customer_on_hold, customer_muted,
		        initiated_at, connected_at, completed_at
		 FROM transfers WHERE id = $1`,
		id,
	).Scan(&t.ID, &t.ConferenceName, &t.Type, &t.Status, &t.StatusDetail,
		&t.RecipientPhone, &t.CallerID, &t.AgentCallRef, &t.CustomerCallRef,
		&t.TransferCallRef, &t.CustomerOnHold, &t.CustomerMuted,
		&t.InitiatedAt, &t.ConnectedAt, &t.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying transfer: %w", err)
	}
	return &t, nil
}

func (s *Store) GetTransferForCall(ctx context.Context, callRef string) (*store.Transfer, error) {
	var t store.Transfer
	err := s.db.QueryRowContext(ctx,
		`SELECT id, conference_name, transfer_type, status, status_detail,
		        recipient_phone, caller_id, agent_call_ref, customer_call_ref,
		        transfer_call_ref, customer_on_hold, customer_muted,
		        initiated_at, connected_at, completed_at
		 FROM transfers WHERE transfer_call_ref = $1
		 ORDER BY initiated_at DESC LIMIT 1`,
		callRef,
	).Scan(&t.ID, &t.ConferenceName, &t.Type, &t.Status, &t.StatusDetail,
		&t.RecipientPhone, &t.CallerID, &t.AgentCallRef, &t.CustomerCallRef,
		&t.TransferCallRef, &t.CustomerOnHold, &t.CustomerMuted,
		&t.InitiatedAt, &t.ConnectedAt, &t.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying transfer by call ref: %w", err)
	}
	return &t, nil
}

func (s *Store) UpdateTransfer(ctx context.Context, t *store.Transfer) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE transfers
		 SET status = $2, status_detail = $3, transfer_call_ref = $4,
		     customer_on_hold = $5, customer_muted = $6,
		     connected_at = $7, completed_at = $8
		 WHERE id = $1`,
		t.ID, t.Status, t.StatusDetail, t.TransferCallRef,
		t.CustomerOnHold, t.CustomerMuted, t.ConnectedAt, t.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("updating transfer: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListTransfersByConference(ctx context.Context, conferenceName string) ([]store.Transfer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conference_name, transfer_type, status, status_detail,
		        recipient_phone, caller_id, agent_call_ref, customer_call_ref,
		        transfer_call_ref, customer_on_hold, customer_muted,
		        initiated_at, connected_at, completed_at
		 FROM transfers WHERE conference_name = $1 ORDER BY initiated_at`,
		conferenceName,
	)
	if err != nil {
		return nil, fmt.Errorf("listing transfers: %w", err)
	}
	defer rows.Close()

	var out []store.Transfer
	for rows.Next() {
		var t store.Transfer
		if err := rows.Scan(&t.ID, &t.ConferenceName, &t.Type, &t.Status, &t.StatusDetail,
			&t.RecipientPhone, &t.CallerID, &t.AgentCallRef, &t.CustomerCallRef,
			&t.TransferCallRef, &t.CustomerOnHold, &t.CustomerMuted,
			&t.InitiatedAt, &t.ConnectedAt, &t.CompletedAt); err != nil {
			return nil, fmt.Errorf("scanning transfer: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) CountTransfersByStatus(ctx context.Context) (map[store.TransferStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM transfers GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting transfers: %w", err)
	}
	defer rows.Close()

	out := make(map[store.TransferStatus]int)
	for rows.Next() {
		var status store.TransferStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning transfer count: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}
