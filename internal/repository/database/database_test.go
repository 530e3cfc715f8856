package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestOpen_AppliesSchema opens a fresh SQLite file twice and checks the tables exist.
func TestOpen_AppliesSchema(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "monitor.db")

	for range 2 {
		db, err := Open(ctx, DriverSQLite, path)
		require.NoError(t, err)

		var count int
		err = db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('entities', 'instances', 'history')",
		).Scan(&count)
		require.NoError(t, err)
		require.Equal(t, 3, count)

		var mode string
		require.NoError(t, db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode))
		require.Equal(t, "wal", mode)

		require.NoError(t, db.Close())
	}
}

// TestOpen_RejectsUnknownDriver verifies the driver allow-list.
func TestOpen_RejectsUnknownDriver(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), "mysql", "")
	require.ErrorIs(t, err, errUnsupportedDriver)
}

// TestRebind checks placeholder rewriting per driver.
func TestRebind(t *testing.T) {
	t.Parallel()

	query := "SELECT value FROM entities WHERE kind = ? AND name = ?"

	require.Equal(t, query, (&DB{driver: DriverSQLite}).Rebind(query))
	require.Equal(t,
		"SELECT value FROM entities WHERE kind = $1 AND name = $2",
		(&DB{driver: DriverPostgres}).Rebind(query),
	)
}
