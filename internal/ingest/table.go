package ingest

import (
	"context"
	"log/slog"

	"csvload/internal/schema"
	"csvload/internal/storage"
)

// TableState is the outcome of EnsureTable.
type TableState int

const (
	// Created means the table did not exist and was created.
	Created TableState = iota + 1
	// ReconciledEmpty means the table existed with no rows and was left untouched.
	ReconciledEmpty
	// ReconciledTruncated means the table existed with rows, which were deleted.
	ReconciledTruncated
)

func (s TableState) String() string {
	switch s {
	case Created:
		return "created"
	case ReconciledEmpty:
		return "reconciled_empty"
	case ReconciledTruncated:
		return "reconciled_truncated"
	default:
		return "unknown"
	}
}

// TableManager creates destination tables or reconciles existing ones.
type TableManager struct {
	Store  storage.Store
	Logger *slog.Logger
}

// EnsureTable makes spec.TableName exist and be empty.
//
// Behavior:
//   - absent: created with an auto-increment "id" key and one nullable text
//     column per spec.Columns entry -> Created
//   - present and empty: no structural change -> ReconciledEmpty
//   - present with rows: every row is deleted, structure kept -> ReconciledTruncated
//
// Existing columns are never altered; a header that no longer matches the
// table surfaces later as an append failure.
//
// Errors:
//   - *TableError naming the failed Op.
func (m *TableManager) EnsureTable(ctx context.Context, spec schema.TableSpec) (TableState, error) {
	log := m.logger().With("table", spec.TableName)
	table := spec.TableName

	exists, err := m.Store.TableExists(ctx, table)
	if err != nil {
		return 0, &TableError{Table: table, Op: OpExists, Err: err}
	}

	if !exists {
		ddl := storage.TextTable(table, schema.IDColumn, spec.Columns)
		if err := m.Store.CreateTable(ctx, ddl); err != nil {
			return 0, &TableError{Table: table, Op: OpCreate, Err: err}
		}
		log.Info("table created", "columns", len(ddl.Columns))
		return Created, nil
	}

	n, err := m.Store.CountRows(ctx, table)
	if err != nil {
		return 0, &TableError{Table: table, Op: OpCount, Err: err}
	}
	if n == 0 {
		log.Info("table exists and is empty")
		return ReconciledEmpty, nil
	}

	if err := m.Store.TruncateTable(ctx, table); err != nil {
		return 0, &TableError{Table: table, Op: OpTruncate, Err: err}
	}
	log.Warn("table truncated: re-import replaces existing data", "rows_deleted", n)
	return ReconciledTruncated, nil
}

func (m *TableManager) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}
