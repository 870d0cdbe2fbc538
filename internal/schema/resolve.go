package schema

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"csvload/internal/parser/csv"
)

// IDColumn is the engine-managed primary key. A header field normalizing to
// it (in any case) is never treated as a user column.
const IDColumn = "id"

var (
	ErrEmptyTableName  = errors.New("file name normalizes to an empty table name")
	ErrEmptyColumn     = errors.New("header field normalizes to an empty column name")
	ErrDuplicateColumn = errors.New("header fields normalize to the same column name")
	ErrNoColumns       = errors.New("header has no columns besides id")
)

// TableSpec is the destination derived from one source file.
type TableSpec struct {
	// TableName is the normalized base name of the file.
	TableName string

	// Columns are the normalized user columns, in header order, without id.
	Columns []string

	// Source[i] is the header position that feeds Columns[i].
	Source []int

	// HeaderWidth is the raw number of header fields, id included.
	HeaderWidth int
}

// SchemaError reports a file whose header cannot be turned into a TableSpec.
type SchemaError struct {
	Path string
	Err  error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("resolve schema %s: %v", e.Path, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// Resolve derives the table name from the file name and the columns from
// the header read under sep.
//
// Example: "Distribuição de Renda.csv" with header "col A;Col[x] B" resolves
// to table "distribuicaoDeRenda" with columns [colA colB].
func Resolve(path string, sep rune, opt csv.Options) (TableSpec, error) {
	base := filepath.Base(path)
	table := Normalize(strings.TrimSuffix(base, filepath.Ext(base)))
	if table == "" {
		return TableSpec{}, &SchemaError{Path: path, Err: ErrEmptyTableName}
	}

	hdr, err := csv.ReadHeader(path, sep, opt)
	if err != nil {
		return TableSpec{}, &SchemaError{Path: path, Err: err}
	}

	spec, err := FromHeader(table, hdr)
	if err != nil {
		return TableSpec{}, &SchemaError{Path: path, Err: err}
	}
	return spec, nil
}

// FromHeader builds a TableSpec from an already-read header.
func FromHeader(table string, header []string) (TableSpec, error) {
	spec := TableSpec{
		TableName:   table,
		Columns:     make([]string, 0, len(header)),
		Source:      make([]int, 0, len(header)),
		HeaderWidth: len(header),
	}

	seen := make(map[string]string, len(header))
	for i, raw := range header {
		col := Normalize(raw)
		if col == "" {
			return TableSpec{}, fmt.Errorf("%w: field %d %q", ErrEmptyColumn, i+1, raw)
		}
		if strings.EqualFold(col, IDColumn) {
			continue
		}
		// case-insensitive: MySQL and SQL Server fold identifier case
		key := strings.ToLower(col)
		if prev, ok := seen[key]; ok {
			return TableSpec{}, fmt.Errorf("%w: %q and %q both become %q", ErrDuplicateColumn, prev, raw, col)
		}
		seen[key] = raw
		spec.Columns = append(spec.Columns, col)
		spec.Source = append(spec.Source, i)
	}

	if len(spec.Columns) == 0 {
		return TableSpec{}, ErrNoColumns
	}
	return spec, nil
}
