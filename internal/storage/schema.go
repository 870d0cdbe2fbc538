// To keep the engine generic, the DDL types live in a place both the ingest
// package and the backend packages can import without circular deps.
package storage

import (
	"fmt"
	"strings"
)

// TableSpec describes a table to create.
type TableSpec struct {
	Name       string
	PrimaryKey *PrimaryKeySpec
	Columns    []ColumnSpec
}

// PrimaryKeySpec is an auto-increment integer primary key.
type PrimaryKeySpec struct {
	Name string
}

// ColumnSpec is a nullable column. An empty Type means the backend's
// unbounded text type.
type ColumnSpec struct {
	Name string
	Type string
}

// TextTable builds the TableSpec for a dynamically ingested file: an
// auto-increment pk plus one nullable text column per entry of columns.
// Columns equal (case-insensitively) to pk are skipped.
func TextTable(name, pk string, columns []string) TableSpec {
	t := TableSpec{
		Name:       name,
		PrimaryKey: &PrimaryKeySpec{Name: pk},
		Columns:    make([]ColumnSpec, 0, len(columns)),
	}
	for _, c := range columns {
		if strings.EqualFold(c, pk) {
			continue
		}
		t.Columns = append(t.Columns, ColumnSpec{Name: c})
	}
	return t
}

// Validate checks the invariants every backend DDL builder relies on.
func (t TableSpec) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("table name is empty")
	}
	if t.PrimaryKey != nil && strings.TrimSpace(t.PrimaryKey.Name) == "" {
		return fmt.Errorf("table %s: primary key name is empty", t.Name)
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("table %s: no columns", t.Name)
	}
	seen := make(map[string]bool, len(t.Columns)+1)
	if t.PrimaryKey != nil {
		seen[strings.ToLower(t.PrimaryKey.Name)] = true
	}
	for _, c := range t.Columns {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return fmt.Errorf("table %s: column name is empty", t.Name)
		}
		key := strings.ToLower(name)
		if seen[key] {
			return fmt.Errorf("table %s: column %q specified more than once", t.Name, name)
		}
		seen[key] = true
	}
	return nil
}

// ColumnNames returns the column names of t in order, primary key excluded.
func (t TableSpec) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}
