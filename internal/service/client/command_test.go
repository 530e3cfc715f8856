package client

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	api "github.com/oshokin/door-monitor/internal/api/grpc/door"
	"github.com/oshokin/door-monitor/internal/domain/door"
	wf "github.com/oshokin/door-monitor/internal/domain/workflow"
)

// fakeReporter fails a number of times before answering.
type fakeReporter struct {
	// failures is the number of calls that fail with err.
	failures int
	// err is returned by failing calls.
	err error
	// calls counts ReportState invocations.
	calls int
}

func (f *fakeReporter) ReportState(_ context.Context, state string, _ *door.Actor) (*api.ReportReply, error) {
	f.calls++

	if f.calls <= f.failures {
		return nil, f.err
	}

	return &api.ReportReply{Outcome: "started", State: state, InstanceID: "abc"}, nil
}

// TestPush_RetriesTransientErrors keeps pushing while the server is unavailable.
func TestPush_RetriesTransientErrors(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		reporter := &fakeReporter{failures: 2, err: status.Error(codes.Unavailable, "connection refused")}
		started := time.Now()

		reply, err := push(context.Background(), reporter, "open", nil, time.Second)
		require.NoError(t, err)
		require.Equal(t, "abc", reply.InstanceID)
		require.Equal(t, 3, reporter.calls)
		require.Equal(t, 2*time.Second, time.Since(started))
	})
}

// TestPush_StopsOnRejection does not retry requests the server refused.
func TestPush_StopsOnRejection(t *testing.T) {
	t.Parallel()

	reporter := &fakeReporter{failures: 5, err: status.Error(codes.InvalidArgument, "invalid door state")}

	_, err := push(context.Background(), reporter, "ajar", nil, time.Second)
	require.Equal(t, codes.InvalidArgument, status.Code(err))
	require.Equal(t, 1, reporter.calls)
}

// TestPush_Cancellation returns the context error when the server never answers.
func TestPush_Cancellation(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		reporter := &fakeReporter{failures: 100, err: errors.New("down")}

		_, err := push(ctx, reporter, "open", nil, time.Second)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestFormatReply(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Door status is already open.", formatReply(&api.ReportReply{Outcome: "already_set", State: "open"}))
	require.Equal(t, "Door closed, monitoring will stop at the next check.", formatReply(&api.ReportReply{Outcome: "closed"}))
	require.Equal(t,
		"Door open, monitoring instance b started. Superseded instance a.",
		formatReply(&api.ReportReply{Outcome: "started", InstanceID: "b", Superseded: "a"}),
	)
	require.Equal(t, "<no reply>", formatReply(nil))
}

func TestPrintInstance(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	var buf bytes.Buffer

	err := PrintInstance(&buf, &api.InstanceStatus{
		ID:            "abc",
		Name:          "DoorMonitor",
		Status:        wf.StatusCompleted,
		Output:        `{"reason":"door_closed"}`,
		CreatedAt:     at,
		UpdatedAt:     at,
		HistoryLength: 4,
	})
	require.NoError(t, err)
	require.Equal(t, "Instance:  abc\n"+
		"Name:      DoorMonitor\n"+
		"Status:    Completed\n"+
		"Created:   2026-05-01T12:00:00Z\n"+
		"Updated:   2026-05-01T12:00:00Z\n"+
		"Steps:     4\n"+
		"Output:    {\"reason\":\"door_closed\"}\n", buf.String())
}
