package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Config is the minimal configuration needed to open a Store.
//
// Edge cases:
//   - Kind may be empty; New then infers it from the DSN via KindFromDSN.
//   - DSN is passed through to the backend factory; validation is backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// Store is the backend-agnostic capability the ingestion engine needs.
//
// Every column created through a Store is nullable text; the only typed column
// is the auto-increment primary key. Each backend implements these semantics
// in its own idiomatic way (Postgres COPY, SQL Server OBJECT_ID guards, SQLite
// sqlite_master, etc).
type Store interface {
	// Close releases backend resources. Treat it as "call once".
	Close()

	// TableExists reports whether table is present in the current database/schema.
	TableExists(ctx context.Context, table string) (bool, error)

	// CountRows returns COUNT(*) of table.
	CountRows(ctx context.Context, table string) (int64, error)

	// CreateTable creates t. Backends use create-if-missing semantics so a
	// concurrent creator does not fail the call.
	CreateTable(ctx context.Context, t TableSpec) error

	// TruncateTable removes every row of table and keeps its structure.
	TruncateTable(ctx context.Context, table string) error

	// AppendRows appends rows (aligned to columns) to table and returns the
	// number of rows written. It never replaces existing rows.
	AppendRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)
}

// Factory opens a Store for cfg.
type Factory func(ctx context.Context, cfg Config) (Store, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers a backend under a kind (e.g. "postgres", "sqlite").
//
// Call Register from an init() function in a backend package.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// Kinds returns the registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New constructs a Store using the registered backend factory.
//
// Errors:
//   - cfg.DSN is empty.
//   - the kind is neither given nor inferable from the DSN.
//   - the kind is not registered (missing blank import of the backend).
//   - whatever the factory returns.
func New(ctx context.Context, cfg Config) (Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("storage: missing DSN")
	}
	if cfg.Kind == "" {
		kind, err := KindFromDSN(cfg.DSN)
		if err != nil {
			return nil, err
		}
		cfg.Kind = kind
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s (registered: %s)", cfg.Kind, strings.Join(Kinds(), ", "))
	}
	return f(ctx, cfg)
}

// Backend kinds.
const (
	KindPostgres = "postgres"
	KindSQLite   = "sqlite"
	KindMSSQL    = "mssql"
	KindMySQL    = "mysql"
)

// KindFromDSN infers the backend kind from a DSN.
//
//	postgres://..., postgresql://...  -> postgres
//	sqlserver://...                   -> mssql
//	mysql://...                       -> mysql
//	sqlite://..., file:..., *.db, *.sqlite, *.sqlite3 -> sqlite
func KindFromDSN(dsn string) (string, error) {
	d := strings.ToLower(strings.TrimSpace(dsn))
	switch {
	case strings.HasPrefix(d, "postgres://"), strings.HasPrefix(d, "postgresql://"):
		return KindPostgres, nil
	case strings.HasPrefix(d, "sqlserver://"):
		return KindMSSQL, nil
	case strings.HasPrefix(d, "mysql://"):
		return KindMySQL, nil
	case strings.HasPrefix(d, "sqlite://"), strings.HasPrefix(d, "file:"):
		return KindSQLite, nil
	}

	// strip sqlite URI parameters before looking at the extension
	if i := strings.IndexByte(d, '?'); i >= 0 {
		d = d[:i]
	}
	for _, ext := range []string{".db", ".sqlite", ".sqlite3"} {
		if strings.HasSuffix(d, ext) {
			return KindSQLite, nil
		}
	}
	return "", fmt.Errorf("storage: cannot infer backend kind from DSN %q", redactDSN(dsn))
}

// redactDSN hides a password in URL-style DSNs so it can be logged.
func redactDSN(dsn string) string {
	scheme := strings.Index(dsn, "://")
	at := strings.LastIndexByte(dsn, '@')
	if scheme < 0 || at < scheme {
		return dsn
	}
	creds := dsn[scheme+3 : at]
	if i := strings.IndexByte(creds, ':'); i >= 0 {
		return dsn[:scheme+3] + creds[:i] + ":***" + dsn[at:]
	}
	return dsn
}
