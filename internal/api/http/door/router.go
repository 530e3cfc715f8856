package door

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap/zapcore"

	domain "github.com/oshokin/door-monitor/internal/domain/door"
	wf "github.com/oshokin/door-monitor/internal/domain/workflow"
	"github.com/oshokin/door-monitor/internal/logger"
	"github.com/oshokin/door-monitor/internal/metrics"
	"github.com/oshokin/door-monitor/internal/service/ingest"
)

// Service abstracts the business operations the transport layer depends on.
type Service interface {
	ReportState(ctx context.Context, raw string, actor *domain.Actor) (*ingest.Response, error)
	Status(ctx context.Context, id string) (*wf.Instance, error)
	Terminate(ctx context.Context, id, reason string) error
}

// Options tunes the router.
type Options struct {
	// RateLimit is the sustained requests per second per client, zero disables limiting.
	RateLimit float64
	// Burst is the token bucket size per client.
	Burst int
	// AccessLogLevel is the minimum level of the access log.
	AccessLogLevel string
	// TrustedProxies may set the client address through forwarding headers.
	// Nil trusts the loopback addresses.
	TrustedProxies []string
}

// defaultTrustedProxies are trusted when Options.TrustedProxies is nil.
var defaultTrustedProxies = []string{"127.0.0.1", "::1"}

// NewRouter builds the gin engine serving the HTTP API.
// ctx supplies the logger of every request.
func NewRouter(ctx context.Context, service Service, opts Options) *gin.Engine {
	metrics.Register()

	accessLevel, ok := logger.ParseLogLevel(opts.AccessLogLevel)
	if !ok {
		accessLevel = zapcore.InfoLevel
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(ctx, accessLevel))
	r.Use(requestMetrics())

	proxies := opts.TrustedProxies
	if proxies == nil {
		proxies = defaultTrustedProxies
	}

	// An invalid entry leaves gin trusting no proxy at all.
	if err := r.SetTrustedProxies(proxies); err != nil {
		logger.ErrorKV(ctx, "Invalid trusted proxies, forwarding headers are ignored",
			"trusted_proxies", proxies, "error", err)
	}

	h := &handlers{service: service}

	r.GET("/health", h.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api", rateLimit(newClientLimiter(opts.RateLimit, opts.Burst)))
	api.POST("/door/state", h.reportState)
	api.GET("/instances/:id", h.instanceStatus)
	api.POST("/instances/:id/terminate", h.terminateInstance)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	return r
}
