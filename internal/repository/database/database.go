package database

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"           // Registers the "postgres" driver.
	_ "github.com/mattn/go-sqlite3" // Registers the "sqlite3" driver.
)

//go:embed schema.sql
var schemaSQL string

const (
	// DriverSQLite is the database/sql name of the SQLite driver.
	DriverSQLite = "sqlite3"
	// DriverPostgres is the database/sql name of the PostgreSQL driver.
	DriverPostgres = "postgres"
)

// errUnsupportedDriver is returned for drivers without a dialect.
var errUnsupportedDriver = errors.New("unsupported database driver")

// DB wraps *sql.DB with the placeholder dialect of its driver.
type DB struct {
	*sql.DB

	// driver is the database/sql driver name.
	driver string
}

// Open connects to the database and applies the schema.
//
// SQLite is configured with WAL mode, NORMAL synchronous mode, a 5-second
// busy timeout and foreign keys, and limited to a single connection.
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("%w: %q", errUnsupportedDriver, driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if driver == DriverSQLite {
		// SQLite only supports one writer at a time.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)

		if err = applyPragmas(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	if _, err = db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &DB{DB: db, driver: driver}, nil
}

// Driver returns the database/sql driver name.
func (db *DB) Driver() string {
	return db.driver
}

// Rebind rewrites "?" placeholders into the form the driver expects.
func (db *DB) Rebind(query string) string {
	if db.driver != DriverPostgres {
		return query
	}

	var (
		sb strings.Builder
		n  int
	)

	sb.Grow(len(query) + 8)

	for _, r := range query {
		if r != '?' {
			sb.WriteRune(r)
			continue
		}

		n++
		sb.WriteByte('$')
		sb.WriteString(strconv.Itoa(n))
	}

	return sb.String()
}

// applyPragmas sets the SQLite connection configuration.
func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}

	return nil
}
