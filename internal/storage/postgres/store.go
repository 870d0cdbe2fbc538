package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"csvload/internal/storage"
)

/*
Store implements storage.Store for Postgres.

It provides:
  - create-if-missing DDL with a SERIAL primary key and TEXT columns
  - existence checks via to_regclass (honours search_path)
  - bulk appends through the COPY protocol
*/
type Store struct {
	pool *pgxpool.Pool
}

// New creates a new Postgres-backed Store and verifies connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// TableExists reports whether table resolves in the current search_path.
func (s *Store) TableExists(ctx context.Context, table string) (bool, error) {
	var ok bool
	if err := s.pool.QueryRow(ctx, buildExistsSQL(), pgIdent(table)).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

// CountRows returns COUNT(*) of table.
func (s *Store) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+pgIdent(table)).Scan(&n); err != nil {
		return 0, classify(err, table)
	}
	return n, nil
}

// CreateTable creates t if it does not exist yet.
func (s *Store) CreateTable(ctx context.Context, t storage.TableSpec) error {
	ddl, err := buildCreateSQL(t)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", t.Name, err)
	}
	return nil
}

// TruncateTable empties table; the structure and its sequence owner stay.
func (s *Store) TruncateTable(ctx context.Context, table string) error {
	if _, err := s.pool.Exec(ctx, "TRUNCATE TABLE "+pgIdent(table)); err != nil {
		return classify(err, table)
	}
	return nil
}

// AppendRows bulk-appends rows with COPY FROM STDIN.
//
// COPY is all-or-nothing per call, so a failed batch leaves no partial rows.
func (s *Store) AppendRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	n, err := s.pool.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return n, classify(err, table)
	}
	return n, nil
}

// buildExistsSQL returns the existence probe. The single argument is the
// quoted identifier, so mixed-case names resolve exactly.
func buildExistsSQL() string {
	return "SELECT to_regclass($1) IS NOT NULL"
}

// buildCreateSQL generates CREATE TABLE IF NOT EXISTS for t.
//
// Every non-key column is nullable TEXT unless ColumnSpec.Type says otherwise.
// The primary key, when present, is an inline SERIAL PRIMARY KEY as the first column.
func buildCreateSQL(t storage.TableSpec) (string, error) {
	if err := t.Validate(); err != nil {
		return "", fmt.Errorf("postgres: %w", err)
	}

	cols := make([]string, 0, len(t.Columns)+1)
	if t.PrimaryKey != nil {
		cols = append(cols, fmt.Sprintf(`%s SERIAL PRIMARY KEY`, pgIdent(t.PrimaryKey.Name)))
	}
	for _, c := range t.Columns {
		typ := strings.TrimSpace(c.Type)
		if typ == "" {
			typ = "TEXT"
		}
		cols = append(cols, fmt.Sprintf(`%s %s NULL`, pgIdent(c.Name), typ))
	}

	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s);`, pgIdent(t.Name), strings.Join(cols, ", ")), nil
}

// pgIdent double-quotes a single identifier, preserving case.
func pgIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// classify annotates the Postgres errors an ingest is most likely to hit
// with the table they concern. Other errors are returned unchanged.
func classify(err error, table string) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgerrcode.UndefinedTable:
		return fmt.Errorf("table %s does not exist: %w", table, err)
	case pgerrcode.UndefinedColumn:
		return fmt.Errorf("table %s: header does not match existing columns: %w", table, err)
	case pgerrcode.InsufficientPrivilege:
		return fmt.Errorf("table %s: permission denied: %w", table, err)
	default:
		return err
	}
}
