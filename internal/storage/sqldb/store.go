// Package sqldb implements storage.Store on top of database/sql. Backends
// that speak database/sql (SQLite, SQL Server, MySQL) supply a Dialect and
// share the load path.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"csvload/internal/storage"
)

// Dialect captures the SQL differences between database/sql backends.
type Dialect interface {
	// Name is the backend kind, used in error messages.
	Name() string

	// Quote quotes a single identifier.
	Quote(ident string) string

	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder(n int) string

	// ExistsSQL returns a query yielding a single integer > 0 when table exists.
	ExistsSQL(table string) (string, []any)

	// CreateSQL renders create-if-missing DDL for t.
	CreateSQL(t storage.TableSpec) (string, error)

	// TruncateSQL empties table and keeps its structure.
	TruncateSQL(table string) string

	// MaxParams and MaxRows bound a single multi-row INSERT. MaxRows <= 0
	// means no row cap.
	MaxParams() int
	MaxRows() int
}

// Store implements storage.Store for a database/sql handle.
type Store struct {
	db dbConn
	d  Dialect
}

// Open opens driver/dsn, lets tune adjust pool settings, verifies connectivity
// and returns a Store.
func Open(ctx context.Context, driver, dsn string, d Dialect, tune func(*sql.DB)) (*Store, error) {
	raw, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if tune != nil {
		tune(raw)
	}
	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("%s: ping: %w", d.Name(), err)
	}
	return New(raw, d), nil
}

// New wraps an already opened *sql.DB.
func New(db *sql.DB, d Dialect) *Store {
	return &Store{db: &sqlDB{db: db}, d: d}
}

// Close releases database resources held by this store.
func (s *Store) Close() {
	if s == nil || s.db == nil {
		return
	}
	_ = s.db.Close()
}

// TableExists reports whether table exists.
func (s *Store) TableExists(ctx context.Context, table string) (bool, error) {
	q, args := s.d.ExistsSQL(table)
	var n int64
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// CountRows returns COUNT(*) of table.
func (s *Store) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+s.d.Quote(table)).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// CreateTable creates t if it is missing.
func (s *Store) CreateTable(ctx context.Context, t storage.TableSpec) error {
	ddl, err := s.d.CreateSQL(t)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("%s: create table %s: %w", s.d.Name(), t.Name, err)
	}
	return nil
}

// TruncateTable removes every row of table.
func (s *Store) TruncateTable(ctx context.Context, table string) error {
	if _, err := s.db.ExecContext(ctx, s.d.TruncateSQL(table)); err != nil {
		return fmt.Errorf("%s: truncate %s: %w", s.d.Name(), table, err)
	}
	return nil
}

// AppendRows inserts rows in one transaction, split into multi-row INSERT
// statements that respect the dialect's parameter limits.
//
// On failure the transaction is rolled back and 0 is returned: the batch is
// either fully appended or not at all.
func (s *Store) AppendRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("%s: append to %s: columns is empty", s.d.Name(), table)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	per := storage.RowsPerStatement(len(columns), s.d.MaxParams(), s.d.MaxRows())

	var total int64
	for _, chunk := range storage.ChunkRows(rows, per) {
		q, args := BuildInsertSQL(s.d, table, columns, chunk)
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return 0, fmt.Errorf("%s: insert into %s: %w", s.d.Name(), table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			n = int64(len(chunk))
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%s: commit %s: %w", s.d.Name(), table, err)
	}
	return total, nil
}

// BuildInsertSQL builds a single INSERT ... VALUES statement for rows.
//
// Constraints:
//   - every row must have at least len(columns) values.
//   - columns must be non-empty.
func BuildInsertSQL(d Dialect, table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(d.Quote(table))
	b.WriteString(" (")

	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.Quote(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(d.Placeholder(p))
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	return b.String(), args
}

// ColumnDefs renders "<col> <type> NULL" for every column of t, with
// textType standing in for an empty ColumnSpec.Type.
func ColumnDefs(d Dialect, t storage.TableSpec, textType string) []string {
	out := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		typ := strings.TrimSpace(c.Type)
		if typ == "" {
			typ = textType
		}
		out = append(out, fmt.Sprintf("%s %s NULL", d.Quote(c.Name), typ))
	}
	return out
}
