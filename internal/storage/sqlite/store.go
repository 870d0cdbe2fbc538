package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"csvload/internal/storage"
	"csvload/internal/storage/sqldb"
)

func init() {
	storage.Register(storage.KindSQLite, New)
}

// New opens a SQLite database through modernc.org/sqlite.
//
// Key design points vs Postgres:
//   - SQLite allows one writer at a time, so the pool is capped at a single
//     connection and concurrent jobs queue on it instead of failing with
//     SQLITE_BUSY.
//   - There is no TRUNCATE; DELETE FROM without WHERE uses the truncate
//     optimization.
func New(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	s, err := sqldb.Open(ctx, "sqlite", trimScheme(cfg.DSN), Dialect{}, func(db *sql.DB) {
		db.SetMaxOpenConns(1)
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// trimScheme turns "sqlite://path" into the driver's file name form.
func trimScheme(dsn string) string {
	return strings.TrimPrefix(dsn, "sqlite://")
}

// Dialect is the SQLite flavour of sqldb.Dialect.
type Dialect struct{}

func (Dialect) Name() string { return storage.KindSQLite }

func (Dialect) Quote(id string) string { return sqlIdent(id) }

func (Dialect) Placeholder(int) string { return "?" }

// ExistsSQL probes sqlite_master. SQLite table names are case-insensitive.
func (Dialect) ExistsSQL(table string) (string, []any) {
	return `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ? COLLATE NOCASE`, []any{table}
}

func (d Dialect) CreateSQL(t storage.TableSpec) (string, error) { return buildCreateSQL(d, t) }

func (Dialect) TruncateSQL(table string) string { return "DELETE FROM " + sqlIdent(table) }

// MaxParams stays at the historical SQLITE_MAX_VARIABLE_NUMBER default so
// builds with a lowered limit still work.
func (Dialect) MaxParams() int { return 999 }

func (Dialect) MaxRows() int { return 0 }

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// buildCreateSQL generates CREATE TABLE IF NOT EXISTS with an AUTOINCREMENT
// key (ids are never reused after DELETE) and nullable TEXT columns.
func buildCreateSQL(d Dialect, t storage.TableSpec) (string, error) {
	if err := t.Validate(); err != nil {
		return "", fmt.Errorf("sqlite: %w", err)
	}

	defs := make([]string, 0, len(t.Columns)+1)
	if t.PrimaryKey != nil {
		defs = append(defs, fmt.Sprintf("%s INTEGER PRIMARY KEY AUTOINCREMENT", sqlIdent(t.PrimaryKey.Name)))
	}
	defs = append(defs, sqldb.ColumnDefs(d, t, "TEXT")...)

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s);", sqlIdent(t.Name), strings.Join(defs, ", ")), nil
}
