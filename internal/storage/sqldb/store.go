// Package sqldb is a SQL-backed RecordStore. SQLite via modernc is the
// shipped driver; queries go through the dialect layer so a server-side
// database can be added without touching call sites.
package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/showpath/showgate/internal/core/domain"
	"github.com/showpath/showgate/internal/storage"
	"github.com/showpath/showgate/internal/storage/dialect"
)

// Store is a SQL implementation of the record store.
type Store struct {
	db      *sqlx.DB
	dialect dialect.Dialect
}

var _ storage.RecordStore = (*Store)(nil)

// Config holds database connection configuration.
type Config struct {
	Driver string // driver name: sqlite
	DSN    string // data source name / file path
}

// New creates a SQL store with the specified configuration.
func New(cfg Config) (*Store, error) {
	d, err := dialect.FromDriverName(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("unsupported database driver: %w", err)
	}

	db, err := sqlx.Open(d.DriverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	for _, stmt := range d.PragmaStatements() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute pragma: %w", err)
		}
	}

	store := &Store{db: db, dialect: d}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// NewSQLite creates a SQLite-backed store at the given path. ":memory:"
// is supported for tests.
func NewSQLite(dbPath string) (*Store, error) {
	return New(Config{Driver: "sqlite", DSN: dbPath})
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS occurrences (
key TEXT PRIMARY KEY,
count INTEGER NOT NULL DEFAULT 0
)`,
		`CREATE TABLE IF NOT EXISTS assignments (
experiment_id TEXT PRIMARY KEY,
variant_id TEXT NOT NULL,
variant_type TEXT NOT NULL,
paywall_id TEXT,
bucket TEXT NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS pending_events (
position INTEGER PRIMARY KEY,
payload TEXT NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS kv (
key TEXT PRIMARY KEY,
value TEXT NOT NULL
)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// IncrementOccurrence upserts the counter row and returns the count
// prior to the increment. The single UPSERT statement serializes
// concurrent increments for a key inside the database.
func (s *Store) IncrementOccurrence(ctx context.Context, key string) (int, error) {
	if s.dialect.SupportsReturning() {
		query := s.dialect.Rebind(`INSERT INTO occurrences (key, count) VALUES (?, 1)
ON CONFLICT(key) DO UPDATE SET count = count + 1
RETURNING count`)
		var count int
		if err := s.db.QueryRowxContext(ctx, query, key).Scan(&count); err != nil {
			return 0, fmt.Errorf("failed to increment occurrence: %w", err)
		}
		return count - 1, nil
	}

	// Fallback for dialects without RETURNING: read and write in one
	// transaction.
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var prior int
	err = tx.QueryRowxContext(ctx, s.dialect.Rebind(`SELECT count FROM occurrences WHERE key = ?`), key).Scan(&prior)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("failed to read occurrence: %w", err)
	}
	upsert := `INSERT INTO occurrences (key, count) VALUES (?, ?) ` + s.dialect.UpsertClause("key", []string{"count"})
	if _, err := tx.ExecContext(ctx, s.dialect.Rebind(upsert), key, prior+1); err != nil {
		return 0, fmt.Errorf("failed to increment occurrence: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return prior, nil
}

func (s *Store) OccurrenceCount(ctx context.Context, key string) (int, error) {
	var count int
	err := s.db.QueryRowxContext(ctx, s.dialect.Rebind(`SELECT count FROM occurrences WHERE key = ?`), key).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read occurrence: %w", err)
	}
	return count, nil
}

func (s *Store) SaveAssignment(ctx context.Context, partition string, a domain.Assignment) error {
	query := `INSERT INTO assignments (experiment_id, variant_id, variant_type, paywall_id, bucket) VALUES (?, ?, ?, ?, ?) ` +
		s.dialect.UpsertClause("experiment_id", []string{"variant_id", "variant_type", "paywall_id", "bucket"})
	_, err := s.db.ExecContext(ctx, s.dialect.Rebind(query),
		a.ExperimentID, a.Variant.ID, string(a.Variant.Type), a.Variant.PaywallID, partition)
	if err != nil {
		return fmt.Errorf("failed to save assignment: %w", err)
	}
	return nil
}

func (s *Store) Assignments(ctx context.Context, partition string) ([]domain.Assignment, error) {
	query := s.dialect.Rebind(`SELECT experiment_id, variant_id, variant_type, paywall_id FROM assignments WHERE bucket = ?`)
	rows, err := s.db.QueryxContext(ctx, query, partition)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	var result []domain.Assignment
	for rows.Next() {
		var (
			a         domain.Assignment
			vtype     string
			paywallID sql.NullString
		)
		if err := rows.Scan(&a.ExperimentID, &a.Variant.ID, &vtype, &paywallID); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		a.Variant.Type = domain.VariantType(vtype)
		a.Variant.PaywallID = paywallID.String
		result = append(result, a)
	}
	return result, rows.Err()
}

func (s *Store) DeleteAssignments(ctx context.Context, partition string) error {
	query := s.dialect.Rebind(`DELETE FROM assignments WHERE bucket = ?`)
	if _, err := s.db.ExecContext(ctx, query, partition); err != nil {
		return fmt.Errorf("failed to delete assignments: %w", err)
	}
	return nil
}

// SavePendingEvents replaces the queue wholesale; the caller owns
// batching semantics.
func (s *Store) SavePendingEvents(ctx context.Context, events []domain.Event) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_events`); err != nil {
		return fmt.Errorf("failed to clear pending events: %w", err)
	}
	insert := s.dialect.Rebind(`INSERT INTO pending_events (position, payload) VALUES (?, ?)`)
	for i, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		if _, err := tx.ExecContext(ctx, insert, i, string(payload)); err != nil {
			return fmt.Errorf("failed to save pending event: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) PendingEvents(ctx context.Context) ([]domain.Event, error) {
	rows, err := s.db.QueryxContext(ctx, `SELECT payload FROM pending_events ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending events: %w", err)
	}
	defer rows.Close()

	var result []domain.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan pending event: %w", err)
		}
		var ev domain.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("failed to unmarshal pending event: %w", err)
		}
		result = append(result, ev)
	}
	return result, rows.Err()
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowxContext(ctx, s.dialect.Rebind(`SELECT value FROM kv WHERE key = ?`), key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read key: %w", err)
	}
	return value, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	query := `INSERT INTO kv (key, value) VALUES (?, ?) ` + s.dialect.UpsertClause("key", []string{"value"})
	if _, err := s.db.ExecContext(ctx, s.dialect.Rebind(query), key, value); err != nil {
		return fmt.Errorf("failed to set key: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
