package door

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	domain "github.com/oshokin/door-monitor/internal/domain/door"
	wf "github.com/oshokin/door-monitor/internal/domain/workflow"
	"github.com/oshokin/door-monitor/internal/logger"
	"github.com/oshokin/door-monitor/internal/service/ingest"
	"github.com/oshokin/door-monitor/internal/workflow"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// fakeService answers from a fixed current state and instance table.
type fakeService struct {
	// current is the state reported as already set.
	current string
	// actor is the last reporter seen.
	actor *domain.Actor
	// instances is returned by Status.
	instances map[string]*wf.Instance
}

func (f *fakeService) ReportState(_ context.Context, raw string, actor *domain.Actor) (*ingest.Response, error) {
	f.actor = actor

	state, err := domain.ParseState(raw)
	if err != nil {
		return nil, ingest.ErrInvalidState
	}

	switch {
	case string(state) == f.current:
		return &ingest.Response{Outcome: ingest.OutcomeAlreadySet, State: state}, nil
	case state.IsClosed():
		return &ingest.Response{Outcome: ingest.OutcomeClosed, State: state}, nil
	default:
		return &ingest.Response{Outcome: ingest.OutcomeStarted, State: state, InstanceID: "abc"}, nil
	}
}

func (f *fakeService) Status(_ context.Context, id string) (*wf.Instance, error) {
	instance, ok := f.instances[id]
	if !ok {
		return nil, workflow.ErrInstanceNotFound
	}

	return instance, nil
}

func (f *fakeService) Terminate(_ context.Context, id, _ string) error {
	instance, ok := f.instances[id]
	if !ok {
		return workflow.ErrInstanceNotFound
	}

	if instance.Status != wf.StatusRunning {
		return workflow.ErrInstanceNotRunning
	}

	instance.Status = wf.StatusTerminated

	return nil
}

func serve(t *testing.T, router http.Handler, method, target string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	return rec
}

func newTestRouter(svc Service) *gin.Engine {
	return NewRouter(context.Background(), svc, Options{})
}

func TestReportState_Started(t *testing.T) {
	t.Parallel()

	svc := &fakeService{current: "closed"}
	header := http.Header{
		headerReporterHost: []string{"garage"},
		headerReporterUser: []string{"pi"},
	}

	rec := serve(t, newTestRouter(svc), http.MethodPost, "/api/door/state?state=open", header)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, "http://example.com/api/instances/abc", rec.Header().Get("Location"))
	require.Equal(t, &domain.Actor{Hostname: "garage", Username: "pi"}, svc.actor)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "check_status", rec.Body.Bytes())
}

func TestReportState_Outcomes(t *testing.T) {
	t.Parallel()

	router := newTestRouter(&fakeService{current: "open"})

	rec := serve(t, router, http.MethodPost, "/api/door/state?state=open", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Door status is already open.", rec.Body.String())

	rec = serve(t, router, http.MethodPost, "/api/door/state?state=closed", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Empty(t, rec.Body.String())

	rec = serve(t, router, http.MethodPost, "/api/door/state", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReportState_FormField(t *testing.T) {
	t.Parallel()

	router := newTestRouter(&fakeService{})

	req := httptest.NewRequest(http.MethodPost, "/api/door/state", strings.NewReader("state=closed"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestInstanceRoutes(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	svc := &fakeService{instances: map[string]*wf.Instance{
		"abc": {
			ID:            "abc",
			Name:          "DoorMonitor",
			Status:        wf.StatusRunning,
			Input:         json.RawMessage(`{"delay":120000000000,"max_retries":10}`),
			CreatedAt:     created,
			UpdatedAt:     created,
			HistoryLength: 2,
		},
	}}
	router := newTestRouter(svc)

	rec := serve(t, router, http.MethodGet, "/api/instances/abc", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{
		"instanceId": "abc",
		"name": "DoorMonitor",
		"runtimeStatus": "Running",
		"input": {"delay": 120000000000, "max_retries": 10},
		"createdTime": "2026-03-01T08:00:00Z",
		"lastUpdatedTime": "2026-03-01T08:00:00Z",
		"historyLength": 2
	}`, rec.Body.String())

	rec = serve(t, router, http.MethodGet, "/api/instances/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(t, router, http.MethodPost, "/api/instances/abc/terminate?reason=test", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = serve(t, router, http.MethodPost, "/api/instances/abc/terminate", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()

	router := newTestRouter(&fakeService{})

	rec := serve(t, router, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = serve(t, router, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "door_monitor_http_requests_total")

	rec = serve(t, router, http.MethodGet, "/nowhere", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	router := NewRouter(context.Background(), &fakeService{current: "open"}, Options{RateLimit: 1, Burst: 1})

	rec := serve(t, router, http.MethodPost, "/api/door/state?state=open", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, router, http.MethodPost, "/api/door/state?state=open", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Health checks are not limited.
	rec = serve(t, router, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestClientLimiter(t *testing.T) {
	t.Parallel()

	require.Nil(t, newClientLimiter(0, 1))
	require.True(t, (*clientLimiter)(nil).allow("10.0.0.1", time.Now()))

	limiter := newClientLimiter(1, 2)
	now := time.Now()

	require.True(t, limiter.allow("10.0.0.1", now))
	require.True(t, limiter.allow("10.0.0.1", now))
	require.False(t, limiter.allow("10.0.0.1", now))
	require.True(t, limiter.allow("10.0.0.2", now))
	require.True(t, limiter.allow("10.0.0.1", now.Add(time.Second)))
	require.True(t, limiter.allow(" ", now))
}

// TestNewRouter_TrustedProxies logs an invalid proxy list instead of dropping the error.
func TestNewRouter_TrustedProxies(t *testing.T) {
	t.Parallel()

	const message = "Invalid trusted proxies, forwarding headers are ignored"

	core, logs := observer.New(zapcore.DebugLevel)
	ctx := logger.ToContext(context.Background(), zap.New(core).Sugar())

	NewRouter(ctx, &fakeService{}, Options{})
	require.Zero(t, logs.FilterMessage(message).Len())

	NewRouter(ctx, &fakeService{}, Options{TrustedProxies: []string{"not-an-address"}})
	require.Equal(t, 1, logs.FilterMessage(message).Len())
}
