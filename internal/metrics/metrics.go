package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	wf "github.com/oshokin/door-monitor/internal/domain/workflow"
)

const namespace = "door_monitor"

var (
	registerOnce sync.Once

	stateReports = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "reports_total",
			Help:      "State reports by reported state and outcome.",
		},
		[]string{"state", "result"},
	)
	instancesStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "instances_started_total",
			Help:      "Orchestration instances started.",
		},
		[]string{"name"},
	)
	instancesFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "instances_finished_total",
			Help:      "Orchestration instances that reached a terminal status.",
		},
		[]string{"name", "status"},
	)
	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "attempts_total",
			Help:      "Outbound notification attempts by outcome.",
		},
		[]string{"success"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Register adds every collector to the default registry. It is safe to call repeatedly.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			stateReports,
			instancesStarted,
			instancesFinished,
			notifications,
			httpRequests,
			httpDuration,
		)
	})
}

// RecordStateReport counts one ingested state report.
func RecordStateReport(state, result string) {
	Register()
	stateReports.WithLabelValues(state, result).Inc()
}

// RecordNotification counts one outbound notification attempt.
func RecordNotification(success bool) {
	Register()
	notifications.WithLabelValues(strconv.FormatBool(success)).Inc()
}

// RecordHTTPRequest counts one served HTTP request and its duration.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	Register()

	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

// WorkflowObserver feeds orchestration lifecycle events into the workflow counters.
type WorkflowObserver struct{}

// InstanceStarted counts a started instance.
func (WorkflowObserver) InstanceStarted(name string) {
	Register()
	instancesStarted.WithLabelValues(name).Inc()
}

// InstanceFinished counts an instance that reached a terminal status.
func (WorkflowObserver) InstanceFinished(name string, status wf.Status) {
	Register()
	instancesFinished.WithLabelValues(name, string(status)).Inc()
}
