package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"csvload/internal/storage"
	"csvload/internal/storage/sqldb"
)

func init() {
	storage.Register(storage.KindMySQL, New)
}

// New opens MySQL/MariaDB through go-sql-driver/mysql.
//
// Both the driver's native DSN (user:pass@tcp(host:3306)/db) and the same
// string prefixed with "mysql://" are accepted.
func New(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	dsn, err := driverDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}
	s, err := sqldb.Open(ctx, "mysql", dsn, Dialect{}, func(db *sql.DB) {
		db.SetMaxOpenConns(32)
		db.SetMaxIdleConns(32)
		db.SetConnMaxLifetime(5 * time.Minute)
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// driverDSN validates dsn and forces the connection options the loader
// relies on: utf8mb4 for arbitrary text.
func driverDSN(dsn string) (string, error) {
	raw := strings.TrimPrefix(dsn, "mysql://")
	c, err := mysql.ParseDSN(raw)
	if err != nil {
		return "", fmt.Errorf("mysql: parse dsn: %w", err)
	}
	// the parser keeps charset out of Params, so look at the raw string
	if !strings.Contains(raw, "charset=") {
		if c.Params == nil {
			c.Params = map[string]string{}
		}
		c.Params["charset"] = "utf8mb4"
	}
	return c.FormatDSN(), nil
}

// Dialect is the MySQL flavour of sqldb.Dialect.
type Dialect struct{}

func (Dialect) Name() string { return storage.KindMySQL }

func (Dialect) Quote(id string) string { return mysqlIdent(id) }

func (Dialect) Placeholder(int) string { return "?" }

func (Dialect) ExistsSQL(table string) (string, []any) {
	return "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?", []any{table}
}

func (d Dialect) CreateSQL(t storage.TableSpec) (string, error) { return buildCreateSQL(d, t) }

func (Dialect) TruncateSQL(table string) string { return "TRUNCATE TABLE " + mysqlIdent(table) }

// MaxParams is the protocol's 65535 placeholder limit.
func (Dialect) MaxParams() int { return 65535 }

func (Dialect) MaxRows() int { return 1000 }

func mysqlIdent(id string) string {
	return "`" + strings.ReplaceAll(id, "`", "``") + "`"
}

func buildCreateSQL(d Dialect, t storage.TableSpec) (string, error) {
	if err := t.Validate(); err != nil {
		return "", fmt.Errorf("mysql: %w", err)
	}

	defs := make([]string, 0, len(t.Columns)+1)
	if t.PrimaryKey != nil {
		defs = append(defs, fmt.Sprintf("%s INT AUTO_INCREMENT PRIMARY KEY", mysqlIdent(t.PrimaryKey.Name)))
	}
	defs = append(defs, sqldb.ColumnDefs(d, t, "TEXT")...)

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s) DEFAULT CHARSET=utf8mb4;", mysqlIdent(t.Name), strings.Join(defs, ", ")), nil
}
