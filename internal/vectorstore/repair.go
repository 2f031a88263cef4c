package vectorstore

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

// SchemaRepairable is the narrow capability for self-healing a storage
// error. TryRepair reports whether the error was repaired and the
// failed operation is worth retrying exactly once. Any error it does
// not recognise is non-repairable.
type SchemaRepairable interface {
	TryRepair(err error) bool
}

// NoRepair is a SchemaRepairable that never repairs. Used by backends
// that have no repairable schema drift.
type NoRepair struct{}

// TryRepair always reports false.
func (NoRepair) TryRepair(error) bool { return false }

// missingColumnPrefix is the SQLite error text preceding the
// "<table>.<column>" reference of a missing column.
const missingColumnPrefix = "no such column: "

// SQLiteRepairer heals the one known schema-drift failure between
// deployed versions of the engine's internal tables: a missing column.
// It adds the column as nullable TEXT and signals the caller to retry.
// This is a narrow compatibility shim, not a migration system.
type SQLiteRepairer struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteRepairer creates a repairer bound to an open database.
func NewSQLiteRepairer(db *sql.DB, logger *slog.Logger) *SQLiteRepairer {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteRepairer{db: db, logger: logger}
}

// TryRepair inspects the error text for the missing-column shape and,
// when it matches, adds the column. Both identifiers are validated to
// be pure alphanumeric/underscore before any statement is built, so no
// part of the error message reaches SQL unchecked.
func (r *SQLiteRepairer) TryRepair(err error) bool {
	if err == nil {
		return false
	}

	table, column, ok := parseMissingColumn(err.Error())
	if !ok {
		return false
	}

	if _, alterErr := r.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s TEXT", table, column)); alterErr != nil {
		r.logger.Warn("schema repair failed", "table", table, "column", column, "error", alterErr)
		return false
	}

	r.logger.Info("added missing column", "table", table, "column", column)
	return true
}

// parseMissingColumn extracts a validated table and column name from a
// "no such column: table.column" error message. Returns ok=false for
// any other error shape or for identifiers containing anything outside
// [A-Za-z0-9_].
func parseMissingColumn(message string) (table, column string, ok bool) {
	idx := strings.Index(message, missingColumnPrefix)
	if idx < 0 {
		return "", "", false
	}

	rest := strings.TrimSpace(message[idx+len(missingColumnPrefix):])
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", "", false
	}
	ref := strings.Trim(fields[0], "\"`[]")

	table, column, found := strings.Cut(ref, ".")
	if !found || table == "" || column == "" {
		return "", "", false
	}
	if !isIdentifier(table) || !isIdentifier(column) {
		return "", "", false
	}
	return table, column, true
}

// isIdentifier reports whether s consists only of ASCII letters,
// digits, and underscores.
func isIdentifier(s string) bool {
	for _, ch := range s {
		switch {
		case ch >= 'a' && ch <= 'z':
		case ch >= 'A' && ch <= 'Z':
		case ch >= '0' && ch <= '9':
		case ch == '_':
		default:
			return false
		}
	}
	return len(s) > 0
}

// Ensure both repairers satisfy the capability interface.
var (
	_ SchemaRepairable = (*SQLiteRepairer)(nil)
	_ SchemaRepairable = NoRepair{}
)
