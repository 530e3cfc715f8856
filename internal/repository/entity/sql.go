package entity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/oshokin/door-monitor/internal/domain/door"
	"github.com/oshokin/door-monitor/internal/repository/database"
)

// SQLBackend stores entity values in the entities table.
type SQLBackend struct {
	db *database.DB
}

// NewSQLBackend creates a backend over an opened database.
func NewSQLBackend(db *database.DB) *SQLBackend {
	return &SQLBackend{db: db}
}

// Load returns the stored value.
func (b *SQLBackend) Load(ctx context.Context, id door.EntityID) (string, bool, error) {
	var value string

	err := b.db.QueryRowContext(ctx,
		b.db.Rebind(`SELECT value FROM entities WHERE kind = ? AND name = ?`),
		id.Kind, id.Name,
	).Scan(&value)

	switch {
	case err == nil:
		return value, true, nil
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	default:
		return "", false, fmt.Errorf("load entity %s: %w", id, err)
	}
}

// Save upserts the value.
func (b *SQLBackend) Save(ctx context.Context, id door.EntityID, value string) error {
	_, err := b.db.ExecContext(ctx, b.db.Rebind(`
		INSERT INTO entities (kind, name, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (kind, name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`),
		id.Kind, id.Name, value, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save entity %s: %w", id, err)
	}

	return nil
}
