// Package audit records one row per workflow invocation: when it ran, how
// long it took, which tools were routed and how each extraction ended.
// Message text and payload content are never stored.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DB is a migrated audit database.
type DB struct {
	db     *sql.DB
	driver string
}

// Open connects to the audit database and brings its schema up to date.
// A sqlite DSN is a file path; missing parent directories are created.
func Open(driver, dsn string) (*DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("audit: dsn is required")
	}
	var connect func(string) (*sql.DB, error)
	switch driver {
	case DriverSQLite:
		connect = openSQLite
	case DriverPostgres:
		connect = func(dsn string) (*sql.DB, error) { return sql.Open("postgres", dsn) }
	default:
		return nil, fmt.Errorf("audit: unsupported driver %q", driver)
	}
	db, err := connect(dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: %s: %w", driver, err)
	}
	d := &DB{db: db, driver: driver}
	if err := d.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

// openSQLite uses a single connection in WAL mode so recorder writes and
// API reads never see SQLITE_BUSY.
func openSQLite(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

// rebind numbers ? placeholders as $1, $2... for postgres. Queries here
// never contain a literal question mark.
func (d *DB) rebind(query string) string {
	if d.driver != DriverPostgres || !strings.Contains(query, "?") {
		return query
	}
	parts := strings.Split(query, "?")
	var b strings.Builder
	b.WriteString(parts[0])
	for i, p := range parts[1:] {
		b.WriteString("$")
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(p)
	}
	return b.String()
}
