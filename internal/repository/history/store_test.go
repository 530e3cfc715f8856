package history

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/door-monitor/internal/domain/workflow"
	"github.com/oshokin/door-monitor/internal/repository/database"
)

// exerciseStore runs the shared Store contract.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()

	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)

	_, err := store.GetInstance(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	first := &workflow.Instance{
		ID:        "first",
		Name:      "DoorMonitor",
		Input:     json.RawMessage(`{"delay":120000000000}`),
		Status:    workflow.StatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	second := &workflow.Instance{
		ID:        "second",
		Name:      "DoorMonitor",
		Input:     json.RawMessage(`{}`),
		Status:    workflow.StatusRunning,
		CreatedAt: now.Add(time.Second),
		UpdatedAt: now.Add(time.Second),
	}

	require.NoError(t, store.CreateInstance(ctx, first))
	require.NoError(t, store.CreateInstance(ctx, second))
	require.Error(t, store.CreateInstance(ctx, first))

	// Steps are appended in order and duplicates are ignored.
	fireAt, err := json.Marshal(now.Add(time.Minute))
	require.NoError(t, err)

	steps := []workflow.Step{
		{InstanceID: "first", Seq: 0, Kind: workflow.StepTimerCreated, Payload: fireAt, RecordedAt: now},
		{InstanceID: "first", Seq: 1, Kind: workflow.StepTimerFired, RecordedAt: now.Add(time.Minute)},
		{InstanceID: "first", Seq: 2, Kind: workflow.StepEntityRead, Name: "GarageDoor/Status",
			Payload: json.RawMessage(`"open"`), RecordedAt: now.Add(time.Minute)},
	}
	for i := range steps {
		require.NoError(t, store.AppendStep(ctx, &steps[i]))
	}

	require.NoError(t, store.AppendStep(ctx, &steps[1]))

	loaded, err := store.LoadSteps(ctx, "first")
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	require.Equal(t, workflow.StepEntityRead, loaded[2].Kind)
	require.Equal(t, "GarageDoor/Status", loaded[2].Name)
	require.JSONEq(t, `"open"`, string(loaded[2].Payload))
	require.True(t, loaded[1].RecordedAt.Equal(now.Add(time.Minute)))
	require.Empty(t, loaded[1].Payload)

	got, err := store.GetInstance(ctx, "first")
	require.NoError(t, err)
	require.Equal(t, 3, got.HistoryLength)
	require.Equal(t, workflow.StatusRunning, got.Status)
	require.JSONEq(t, string(first.Input), string(got.Input))

	running, err := store.ListInstances(ctx, workflow.StatusRunning)
	require.NoError(t, err)
	require.Len(t, running, 2)
	require.Equal(t, "first", running[0].ID)
	require.Equal(t, "second", running[1].ID)

	// Finish only applies to running instances.
	ok, err := store.Finish(ctx, "first", workflow.StatusCompleted, []byte(`{"reason":"door_closed"}`), "")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.Finish(ctx, "first", workflow.StatusTerminated, nil, "late")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = store.Finish(ctx, "missing", workflow.StatusTerminated, nil, "")
	require.ErrorIs(t, err, ErrNotFound)

	got, err = store.GetInstance(ctx, "first")
	require.NoError(t, err)
	require.Equal(t, workflow.StatusCompleted, got.Status)
	require.JSONEq(t, `{"reason":"door_closed"}`, string(got.Output))

	running, err = store.ListInstances(ctx, workflow.StatusRunning)
	require.NoError(t, err)
	require.Len(t, running, 1)
	require.Equal(t, "second", running[0].ID)
}

// TestMemoryStore runs the Store contract in memory.
func TestMemoryStore(t *testing.T) {
	t.Parallel()

	exerciseStore(t, NewMemoryStore())
}

// TestSQLStore runs the Store contract on SQLite.
func TestSQLStore(t *testing.T) {
	t.Parallel()

	db, err := database.Open(context.Background(), database.DriverSQLite, filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = db.Close()
	})

	exerciseStore(t, NewSQLStore(db))
}

// TestMemoryStore_RejectsGaps ensures steps cannot skip positions.
func TestMemoryStore_RejectsGaps(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.CreateInstance(ctx, &workflow.Instance{ID: "x", Status: workflow.StatusRunning}))
	require.Error(t, store.AppendStep(ctx, &workflow.Step{InstanceID: "x", Seq: 2}))
	require.ErrorIs(t, store.AppendStep(ctx, &workflow.Step{InstanceID: "y"}), ErrNotFound)
}
