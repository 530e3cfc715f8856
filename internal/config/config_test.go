package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestValidate checks required fields and format validations for Config.
func TestValidate(t *testing.T) {
	t.Parallel()

	// Missing socket.
	settings := Default()
	settings.ServerAddress = ""
	require.Error(t, Validate(settings))

	// Bad socket.
	settings = Default()
	settings.ServerAddress = "bad:address"
	require.Error(t, Validate(settings))

	// Unknown driver.
	settings = Default()
	settings.Storage.Driver = "mongo"
	require.ErrorIs(t, Validate(settings), errUnknownDriver)

	// Negative retries.
	settings = Default()
	settings.Monitor.MaxRetries = -1
	require.ErrorIs(t, Validate(settings), errNegativeRetries)

	// Missing entity name.
	settings = Default()
	settings.Entity.Name = ""
	require.ErrorIs(t, Validate(settings), errEntityRequired)

	// Zero durations are filled with defaults.
	settings = Default()
	settings.Monitor.TimerDelay = 0
	settings.Notification.Timeout = 0
	require.NoError(t, Validate(settings))
	require.Equal(t, DefaultTimerDelay, settings.Monitor.TimerDelay)
	require.Equal(t, DefaultNotificationTimeout, settings.Notification.Timeout)
}

// TestSaveLoadRoundtrip ensures settings are persisted and loaded back correctly.
func TestSaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"settings.yaml", "settings.toml"} {
		path := filepath.Join(t.TempDir(), name)

		settings := Default()
		settings.ServerAddress = "127.0.0.1:50052"
		settings.Monitor.TimerDelay = 50 * time.Millisecond
		settings.Monitor.MaxRetries = 3
		settings.Notification.To = "+15550001111"

		require.NoError(t, Save(path, settings))

		loaded, err := Load(path)
		require.NoError(t, err, name)
		require.Equal(t, settings.ServerAddress, loaded.ServerAddress, name)
		require.Equal(t, settings.Monitor, loaded.Monitor, name)
		require.Equal(t, settings.Notification.To, loaded.Notification.To, name)

		_, err = os.Stat(path)
		require.NoError(t, err)
	}
}

// TestLoad_KeepsDefaultsForAbsentKeys verifies partial documents keep defaults, including zero retries.
func TestLoad_KeepsDefaultsForAbsentKeys(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "partial.yaml")
	doc := "server_addr: 127.0.0.1:50051\nmonitor:\n  max_retries: 0\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), DefaultFilePermissions))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 0, cfg.Monitor.MaxRetries)
	require.Equal(t, DefaultTimerDelay, cfg.Monitor.TimerDelay)
	require.Equal(t, "GarageDoor", cfg.Entity.Kind)
	require.Equal(t, DriverSQLite, cfg.Storage.Driver)
}

// TestApplyEnv checks the environment overrides.
func TestApplyEnv(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		EnvAccountToken:      "secret",
		EnvTimerDelayMinutes: "7",
		EnvLogLevel:          "debug",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, ApplyEnv(cfg, lookup))
	require.Equal(t, "secret", cfg.Notification.AccountToken)
	require.Equal(t, 7*time.Minute, cfg.Monitor.TimerDelay)
	require.Equal(t, "debug", cfg.LogLevel)

	env[EnvTimerDelayMinutes] = "soon"
	require.Error(t, ApplyEnv(Default(), lookup))
}
