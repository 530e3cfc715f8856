package integration

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/door-monitor/internal/config"
	"github.com/oshokin/door-monitor/internal/domain/door"
	wf "github.com/oshokin/door-monitor/internal/domain/workflow"
	"github.com/oshokin/door-monitor/internal/service/common"
	"github.com/oshokin/door-monitor/internal/service/server"
)

const (
	testTimerDelay = 300 * time.Millisecond
	waitFor        = 10 * time.Second
	tick           = 50 * time.Millisecond
)

// testServer is a running door monitor with its addresses and message counter.
type testServer struct {
	grpcAddress string
	httpAddress string
	configPath  string
	messages    *atomic.Int32
}

// freeAddress reserves a free local port.
func freeAddress(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := l.Addr().String()
	_ = l.Close()

	return addr
}

// newTestServer writes a configuration backed by a sqlite database in dir and
// a fake messaging provider that counts received messages.
func newTestServer(t *testing.T, dir string) *testServer {
	t.Helper()

	var messages atomic.Int32

	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		messages.Add(1)
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(provider.Close)

	s := &testServer{
		grpcAddress: freeAddress(t),
		httpAddress: freeAddress(t),
		configPath:  filepath.Join(t.TempDir(), "settings.yaml"),
		messages:    &messages,
	}

	settings := config.Default()
	settings.ServerAddress = s.grpcAddress
	settings.HTTPAddress = s.httpAddress
	settings.LogLevel = "error"
	settings.Storage.DSN = filepath.Join(dir, "door-monitor.db")
	settings.Monitor.TimerDelay = testTimerDelay
	settings.Monitor.MaxRetries = 50
	settings.Notification.APIURL = provider.URL
	settings.Notification.AccountSID = "AC123"
	settings.Notification.AccountToken = "secret"
	settings.Notification.From = "+15550000001"
	settings.Notification.To = "+15550000002"
	settings.Ingress.RateLimit = 0

	require.NoError(t, config.Save(s.configPath, settings))

	return s
}

// start runs the server until the returned stop function is called.
func (s *testServer) start(t *testing.T) (stop func()) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- server.Run(ctx, &server.Options{ConfigPath: s.configPath})
	}()

	// Wait for the HTTP ingress to answer.
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + s.httpAddress + "/health") //nolint:noctx // Test readiness probe.
		if err != nil {
			return false
		}

		_ = resp.Body.Close()

		return resp.StatusCode == http.StatusOK
	}, waitFor, tick)

	return func() {
		cancel()
		require.NoError(t, <-done)
	}
}

func (s *testServer) dial(t *testing.T) *common.Client {
	t.Helper()

	c, err := common.Dial(context.Background(), s.grpcAddress, common.WithCallTimeout(3*time.Second))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = c.Close()
	})

	return c
}

// postState reports a state through the HTTP ingress.
func (s *testServer) postState(t *testing.T, state string) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(
		context.Background(),
		http.MethodPost,
		"http://"+s.httpAddress+"/api/door/state?state="+state,
		http.NoBody,
	)
	require.NoError(t, err)

	req.Header.Set("X-Reporter-Host", "garage-pi")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = resp.Body.Close()
	})

	return resp
}

// TestServer_OpenNotifyClose follows one door opening from the HTTP report to completion.
func TestServer_OpenNotifyClose(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, t.TempDir())

	stop := s.start(t)
	defer stop()

	resp := s.postState(t, "open")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var links struct {
		ID                string `json:"id"`
		StatusQueryGetURI string `json:"statusQueryGetUri"`
	}

	require.NoError(t, json.NewDecoder(resp.Body).Decode(&links))
	require.NotEmpty(t, links.ID)
	require.Equal(t, links.StatusQueryGetURI, resp.Header.Get("Location"))

	ctx := context.Background()
	c := s.dial(t)

	instance, err := c.GetInstanceStatus(ctx, links.ID)
	require.NoError(t, err)
	require.Equal(t, wf.StatusRunning, instance.Status)

	// The first reminder goes out after one timer delay.
	require.Eventually(t, func() bool { return s.messages.Load() >= 1 }, waitFor, tick)

	reply, err := c.ReportState(ctx, "closed", &door.Actor{Hostname: "garage-pi"})
	require.NoError(t, err)
	require.Equal(t, "closed", reply.Outcome)

	// The next check sees the door closed.
	require.Eventually(t, func() bool {
		instance, err = c.GetInstanceStatus(ctx, links.ID)

		return err == nil && instance.Status == wf.StatusCompleted
	}, waitFor, tick)
	require.Contains(t, instance.Output, `"reason":"door_closed"`)
}

// TestServer_TerminateOverHTTP stops an instance started through gRPC.
func TestServer_TerminateOverHTTP(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, t.TempDir())

	stop := s.start(t)
	defer stop()

	ctx := context.Background()
	c := s.dial(t)

	reply, err := c.ReportState(ctx, "open", nil)
	require.NoError(t, err)
	require.Equal(t, "started", reply.Outcome)

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		"http://"+s.httpAddress+"/api/instances/"+reply.InstanceID+"/terminate?reason=manual",
		http.NoBody,
	)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	_ = resp.Body.Close()

	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	instance, err := c.GetInstanceStatus(ctx, reply.InstanceID)
	require.NoError(t, err)
	require.Equal(t, wf.StatusTerminated, instance.Status)
	require.Contains(t, instance.Error, "manual")

	// A second terminate is rejected.
	require.Error(t, c.TerminateInstance(ctx, reply.InstanceID, "again"))
}

// TestServer_SurvivesRestart keeps the door state and the running instance across restarts.
func TestServer_SurvivesRestart(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := newTestServer(t, dir)
	ctx := context.Background()

	stop := s.start(t)

	reply, err := s.dial(t).ReportState(ctx, "open", nil)
	require.NoError(t, err)
	require.Equal(t, "started", reply.Outcome)

	stop()

	stop = s.start(t)
	defer stop()

	c := s.dial(t)

	instance, err := c.GetInstanceStatus(ctx, reply.InstanceID)
	require.NoError(t, err)
	require.Equal(t, wf.StatusRunning, instance.Status)

	// The persisted state makes a repeated report a no-op.
	again, err := c.ReportState(ctx, "open", nil)
	require.NoError(t, err)
	require.Equal(t, "already_set", again.Outcome)

	// The resumed instance keeps reminding.
	require.Eventually(t, func() bool { return s.messages.Load() >= 1 }, waitFor, tick)

	_, err = c.ReportState(ctx, "closed", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		instance, err = c.GetInstanceStatus(ctx, reply.InstanceID)

		return err == nil && instance.Status == wf.StatusCompleted
	}, waitFor, tick)
}
