package server

import (
	"context"
	"fmt"

	"github.com/oshokin/door-monitor/internal/config"
	"github.com/oshokin/door-monitor/internal/logger"
	"github.com/oshokin/door-monitor/internal/repository/database"
	"github.com/oshokin/door-monitor/internal/repository/entity"
	"github.com/oshokin/door-monitor/internal/repository/history"
)

// storage bundles the persistence of entity state and workflow history.
type storage struct {
	// entities persists entity values.
	entities entity.Backend
	// history persists orchestration instances and their steps.
	history history.Store
	// close releases the underlying resources.
	close func() error
}

// openStorage builds the backends selected by the storage driver.
// The file driver keeps entity state in a JSON file and workflow history in
// memory, so its instances do not survive a restart.
func openStorage(ctx context.Context, settings config.Storage) (*storage, error) {
	switch settings.Driver {
	case config.DriverMemory:
		return &storage{
			entities: entity.NewMemoryBackend(),
			history:  history.NewMemoryStore(),
			close:    func() error { return nil },
		}, nil

	case config.DriverFile:
		logger.Warn(ctx, "File storage keeps workflow history in memory, running instances are lost on restart")

		return &storage{
			entities: entity.NewFileBackend(settings.EntityFile),
			history:  history.NewMemoryStore(),
			close:    func() error { return nil },
		}, nil

	case config.DriverSQLite, config.DriverPostgres:
		db, err := database.Open(ctx, settings.Driver, settings.DSN)
		if err != nil {
			return nil, fmt.Errorf("open %s database: %w", settings.Driver, err)
		}

		return &storage{
			entities: entity.NewSQLBackend(db),
			history:  history.NewSQLStore(db),
			close:    db.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", settings.Driver)
	}
}

// singleWriter reports whether the driver tolerates only one server process.
func singleWriter(driver string) bool {
	return driver == config.DriverSQLite || driver == config.DriverFile
}
