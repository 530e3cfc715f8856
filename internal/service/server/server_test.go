package server

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/mitchellh/go-ps"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/door-monitor/internal/config"
	"github.com/oshokin/door-monitor/internal/domain/door"
)

// fakeProcess is a process table entry for tests.
type fakeProcess struct {
	pid        int
	executable string
}

func (p fakeProcess) Pid() int { return p.pid }
func (p fakeProcess) PPid() int { return 1 }
func (p fakeProcess) Executable() string { return p.executable }

func listOf(processes ...ps.Process) processLister {
	return func() ([]ps.Process, error) { return processes, nil }
}

// TestResolveListenAddress covers override, port extraction and errors.
func TestResolveListenAddress(t *testing.T) {
	t.Parallel()

	address, err := resolveListenAddress("monitor.local:50051", "")
	require.NoError(t, err)
	require.Equal(t, ":50051", address)

	address, err = resolveListenAddress("monitor.local:50051", "127.0.0.1:9090")
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9090", address)

	_, err = resolveListenAddress("", "")
	require.ErrorIs(t, err, ErrNoServerAddress)

	_, err = resolveListenAddress("no-port", "")
	require.Error(t, err)
}

// TestEnsureSingleInstance detects a second copy of the executable.
func TestEnsureSingleInstance(t *testing.T) {
	t.Parallel()

	self := fakeProcess{pid: 10, executable: "door-monitor"}
	other := fakeProcess{pid: 11, executable: "door-report"}

	require.NoError(t, ensureSingleInstance(listOf(self, other), "door-monitor", 10))

	err := ensureSingleInstance(listOf(self, other, fakeProcess{pid: 12, executable: "door-monitor"}), "door-monitor", 10)
	require.ErrorIs(t, err, ErrAlreadyRunning)

	failing := func() ([]ps.Process, error) { return nil, errors.New("no procfs") }
	require.Error(t, ensureSingleInstance(failing, "door-monitor", 10))
}

// TestOpenStorage opens every driver and round-trips an entity value.
func TestOpenStorage(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sensor := door.EntityID{Kind: "GarageDoor", Name: "Status"}

	for _, settings := range []config.Storage{
		{Driver: config.DriverMemory},
		{Driver: config.DriverFile, EntityFile: filepath.Join(dir, "entities.json")},
		{Driver: config.DriverSQLite, DSN: filepath.Join(dir, "door.db")},
	} {
		t.Run(settings.Driver, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()

			store, err := openStorage(ctx, settings)
			require.NoError(t, err)

			t.Cleanup(func() {
				require.NoError(t, store.close())
			})

			require.NoError(t, store.entities.Save(ctx, sensor, "open"))

			value, ok, err := store.entities.Load(ctx, sensor)
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, "open", value)

			_, err = store.history.GetInstance(ctx, "missing")
			require.Error(t, err)
		})
	}

	_, err := openStorage(context.Background(), config.Storage{Driver: "mongo"})
	require.Error(t, err)
}

// TestSingleWriter lists the drivers guarded against a second process.
func TestSingleWriter(t *testing.T) {
	t.Parallel()

	require.True(t, singleWriter(config.DriverSQLite))
	require.True(t, singleWriter(config.DriverFile))
	require.False(t, singleWriter(config.DriverPostgres))
	require.False(t, singleWriter(config.DriverMemory))
}

// TestRun_ListenFailureOpensNoStorage fails on a busy HTTP port before the
// database is opened or any orchestration resumed.
func TestRun_ListenFailureOpensNoStorage(t *testing.T) {
	t.Parallel()

	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = busy.Close() })

	dir := t.TempDir()
	dsn := filepath.Join(dir, "door-monitor.db")

	settings := config.Default()
	settings.ServerAddress = "127.0.0.1:0"
	settings.HTTPAddress = busy.Addr().String()
	settings.Storage.DSN = dsn

	configPath := filepath.Join(dir, "settings.yaml")
	require.NoError(t, config.Save(configPath, settings))

	err = Run(context.Background(), &Options{ConfigPath: configPath, ListenAddress: "127.0.0.1:0"})
	require.ErrorContains(t, err, "listen on "+busy.Addr().String())

	_, err = os.Stat(dsn)
	require.True(t, os.IsNotExist(err))
}
