// Package dialect abstracts the SQL flavor the record store runs on.
// Only SQLite ships today; the interface keeps the store portable to a
// server-side dialect without touching query sites.
package dialect

import (
	"fmt"
	"strings"
)

// Dialect represents a SQL database dialect.
type Dialect interface {
	// Name returns the dialect name (e.g., "sqlite").
	Name() string

	// DriverName returns the database/sql driver name to use.
	DriverName() string

	// Rebind converts ? placeholders to the dialect's format.
	Rebind(query string) string

	// UpsertClause returns the ON CONFLICT clause for upserts.
	UpsertClause(conflictColumn string, updateColumns []string) string

	// SupportsReturning reports whether the dialect supports RETURNING.
	SupportsReturning() bool

	// PragmaStatements returns dialect-specific initialization statements.
	PragmaStatements() []string
}

// FromDriverName returns the dialect for a given driver name.
func FromDriverName(driverName string) (Dialect, error) {
	switch strings.ToLower(driverName) {
	case "sqlite", "sqlite3":
		return &sqliteDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driverName)
	}
}

// sqliteDialect implements Dialect for SQLite.
type sqliteDialect struct{}

func (d *sqliteDialect) Name() string       { return "sqlite" }
func (d *sqliteDialect) DriverName() string { return "sqlite" }

func (d *sqliteDialect) Rebind(query string) string {
	return query // SQLite uses ?
}

func (d *sqliteDialect) SupportsReturning() bool {
	return true // SQLite 3.35+
}

func (d *sqliteDialect) UpsertClause(conflictColumn string, updateColumns []string) string {
	if len(updateColumns) == 0 {
		return fmt.Sprintf("ON CONFLICT(%s) DO NOTHING", conflictColumn)
	}
	updates := make([]string, len(updateColumns))
	for i, col := range updateColumns {
		updates[i] = fmt.Sprintf("%s=excluded.%s", col, col)
	}
	return fmt.Sprintf("ON CONFLICT(%s) DO UPDATE SET %s", conflictColumn, strings.Join(updates, ", "))
}

func (d *sqliteDialect) PragmaStatements() []string {
	return []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
}
