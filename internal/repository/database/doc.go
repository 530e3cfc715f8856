// Package database opens the SQL database shared by the entity store and the
// workflow history.
//
// SQLite (github.com/mattn/go-sqlite3) is the default single-node backend;
// PostgreSQL (github.com/lib/pq) is supported for hosted deployments. Queries
// are written with "?" placeholders and rebound for the active driver.
package database
