package checker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	api "github.com/oshokin/door-monitor/internal/api/grpc/door"
	wf "github.com/oshokin/door-monitor/internal/domain/workflow"
)

// scriptedGetter returns a scripted sequence of answers, repeating the last one.
type scriptedGetter struct {
	answers []answer
	calls   int
}

type answer struct {
	status wf.Status
	err    error
}

func (s *scriptedGetter) GetInstanceStatus(_ context.Context, id string) (*api.InstanceStatus, error) {
	a := s.answers[min(s.calls, len(s.answers)-1)]
	s.calls++

	if a.err != nil {
		return nil, a.err
	}

	return &api.InstanceStatus{ID: id, Name: "DoorMonitor", Status: a.status}, nil
}

// TestWatch_UntilTerminal polls through transient errors until completion.
func TestWatch_UntilTerminal(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		getter := &scriptedGetter{answers: []answer{
			{status: wf.StatusRunning},
			{err: errors.New("unavailable")},
			{status: wf.StatusRunning},
			{status: wf.StatusCompleted},
		}}

		var out bytes.Buffer

		started := time.Now()

		require.NoError(t, watch(context.Background(), getter, "abc", time.Second, &out))
		require.Equal(t, 4, getter.calls)
		require.Equal(t, 3*time.Second, time.Since(started))
		require.Contains(t, out.String(), "Status:    Completed")
	})
}

// TestWatch_UnknownInstance stops at once for NotFound.
func TestWatch_UnknownInstance(t *testing.T) {
	t.Parallel()

	notFound := fmt.Errorf("get instance status: %w", status.Error(codes.NotFound, "instance not found"))
	getter := &scriptedGetter{answers: []answer{{err: notFound}}}

	err := watch(context.Background(), getter, "abc", time.Second, new(bytes.Buffer))
	require.Equal(t, codes.NotFound, status.Code(err))
	require.Equal(t, 1, getter.calls)
}

// TestWatch_Cancellation exits cleanly when the context ends.
func TestWatch_Cancellation(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		getter := &scriptedGetter{answers: []answer{{status: wf.StatusRunning}}}

		require.NoError(t, watch(ctx, getter, "abc", time.Second, new(bytes.Buffer)))
		require.GreaterOrEqual(t, getter.calls, 10)
	})
}
