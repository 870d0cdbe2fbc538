package ingest

import "fmt"

// Table operations reported in TableError.Op.
const (
	OpExists   = "exists"
	OpCount    = "count"
	OpCreate   = "create"
	OpTruncate = "truncate"
)

// TableError reports a store failure while creating or reconciling a table.
type TableError struct {
	Table string
	Op    string
	Err   error
}

func (e *TableError) Error() string {
	return fmt.Sprintf("table %s: %s: %v", e.Table, e.Op, e.Err)
}

func (e *TableError) Unwrap() error { return e.Err }

// LoadError reports a failed load. Rows is the number of rows already
// committed by earlier batches; Line is the last source record read when
// the failure happened (0 if unknown).
type LoadError struct {
	Table string
	Rows  int64
	Line  int
	Err   error
}

func (e *LoadError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("load %s: %v (record %d, %d rows committed)", e.Table, e.Err, e.Line, e.Rows)
	}
	return fmt.Sprintf("load %s: %v (%d rows committed)", e.Table, e.Err, e.Rows)
}

func (e *LoadError) Unwrap() error { return e.Err }

// LifecycleError reports a file that could not be moved after a successful load.
type LifecycleError struct {
	Path string
	Dest string
	Err  error
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("move %s to %s: %v", e.Path, e.Dest, e.Err)
}

func (e *LifecycleError) Unwrap() error { return e.Err }
