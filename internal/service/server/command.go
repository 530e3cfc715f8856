package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/mitchellh/go-ps"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	grpcapi "github.com/oshokin/door-monitor/internal/api/grpc/door"
	httpapi "github.com/oshokin/door-monitor/internal/api/http/door"
	"github.com/oshokin/door-monitor/internal/config"
	"github.com/oshokin/door-monitor/internal/domain/door"
	"github.com/oshokin/door-monitor/internal/logger"
	"github.com/oshokin/door-monitor/internal/metrics"
	"github.com/oshokin/door-monitor/internal/notify"
	"github.com/oshokin/door-monitor/internal/repository/entity"
	"github.com/oshokin/door-monitor/internal/service/ingest"
	"github.com/oshokin/door-monitor/internal/service/monitor"
	"github.com/oshokin/door-monitor/internal/version"
	"github.com/oshokin/door-monitor/internal/workflow"
)

const (
	// shutdownTimeout bounds the graceful stop of servers and workflows.
	shutdownTimeout = 15 * time.Second
	// readHeaderTimeout bounds how long a client may take to send request headers.
	readHeaderTimeout = 10 * time.Second
)

// Options controls the door-monitor process and configuration.
type Options struct {
	// ConfigPath specifies the path to the settings file.
	ConfigPath string
	// ListenAddress provides an optional listen address override for the gRPC server.
	ListenAddress string
	// HTTPAddress provides an optional listen address override for the HTTP ingress.
	HTTPAddress string
}

// ErrNoServerAddress indicates missing server configuration.
var ErrNoServerAddress = errors.New("no server address configured")

// Run starts the workflow engine with its gRPC and HTTP front ends and blocks
// until the context is canceled or a server fails.
//
//nolint:funlen // Linear wiring of the whole process.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "door-monitor")

	// Load configuration first to get server settings.
	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	if level, ok := logger.ParseLogLevel(settings.LogLevel); ok {
		logger.SetLevel(level)
	}

	// Determine listen addresses: command line arguments override config.
	listenAddress, err := resolveListenAddress(settings.ServerAddress, opts.ListenAddress)
	if err != nil {
		return fmt.Errorf("resolve listen address: %w", err)
	}

	httpAddress := settings.HTTPAddress
	if opts.HTTPAddress != "" {
		httpAddress = opts.HTTPAddress
	}

	// A single-writer store must not be shared by two server processes.
	if singleWriter(settings.Storage.Driver) {
		if err = ensureSingleInstance(ps.Processes, currentExecutable(), os.Getpid()); err != nil {
			return err
		}
	}

	// Setup TCP listeners first so address errors surface before any
	// orchestration is resumed.
	lc := net.ListenConfig{}

	grpcListener, err := lc.Listen(ctx, "tcp", listenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", listenAddress, err)
	}

	httpListener, err := lc.Listen(ctx, "tcp", httpAddress)
	if err != nil {
		_ = grpcListener.Close()

		return fmt.Errorf("listen on %s: %w", httpAddress, err)
	}

	store, err := openStorage(ctx, settings.Storage)
	if err != nil {
		_ = grpcListener.Close()
		_ = httpListener.Close()

		return err
	}

	defer func() {
		if closeErr := store.close(); closeErr != nil {
			logger.ErrorKV(ctx, "Failed to close storage", "error", closeErr)
		}
	}()

	// Wire the entity store, the engine and the monitoring orchestration.
	entities := entity.NewEntities(store.entities)
	engine := workflow.NewEngine(ctx, store.history, entities, workflow.WithObserver(metrics.WorkflowObserver{}))
	sensor := door.EntityID{Kind: settings.Entity.Kind, Name: settings.Entity.Name}

	monitor.New(sensor, notify.New(settings.Notification)).Register(engine)

	resumed, err := engine.Resume(ctx)
	if err != nil {
		_ = grpcListener.Close()
		_ = httpListener.Close()

		// Instances resumed before the failure must stop before the storage closes.
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if closeErr := engine.Close(closeCtx); closeErr != nil {
			logger.ErrorKV(ctx, "Failed to suspend orchestrations", "error", closeErr)
		}

		return fmt.Errorf("resume orchestrations: %w", err)
	}

	svc := ingest.NewService(entities, engine, sensor, monitor.NewInput(settings.Monitor))

	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(grpcapi.LoggingInterceptor(ctx)))
	grpcapi.Register(grpcServer, grpcapi.NewServer(svc))

	httpServer := &http.Server{
		Handler: httpapi.NewRouter(ctx, svc, httpapi.Options{
			RateLimit:      settings.Ingress.RateLimit,
			Burst:          settings.Ingress.Burst,
			AccessLogLevel: settings.Ingress.AccessLogLevel,
			TrustedProxies: settings.Ingress.TrustedProxies,
		}),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	logger.InfoKV(ctx, "Door monitor listening",
		"version", version.Short(),
		"grpc_address", grpcListener.Addr().String(),
		"http_address", httpListener.Addr().String(),
		"storage", settings.Storage.Driver,
		"sensor", sensor.String(),
		"resumed_instances", resumed,
	)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if serveErr := grpcServer.Serve(grpcListener); serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
			return fmt.Errorf("serve gRPC: %w", serveErr)
		}

		return nil
	})

	group.Go(func() error {
		if serveErr := httpServer.Serve(httpListener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			return fmt.Errorf("serve HTTP: %w", serveErr)
		}

		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info(ctx, "Shutting down door monitor")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		grpcServer.GracefulStop()

		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.ErrorKV(ctx, "Failed to stop HTTP server", "error", shutdownErr)
		}

		// Running instances stay Running in the history and resume on next start.
		if closeErr := engine.Close(shutdownCtx); closeErr != nil {
			logger.ErrorKV(ctx, "Failed to suspend orchestrations", "error", closeErr)
		}

		if closeErr := entities.Close(shutdownCtx); closeErr != nil {
			logger.ErrorKV(ctx, "Failed to flush entity signals", "error", closeErr)
		}

		return nil
	})

	if err = group.Wait(); err != nil {
		return err
	}

	logger.Info(ctx, "Door monitor stopped")

	return nil
}

// resolveListenAddress determines the listen address for the gRPC server.
// If override is provided, uses it directly. Otherwise extracts port from configAddr.
// Returns appropriate listen address (e.g., ":50051" for port-only binding).
func resolveListenAddress(configAddr, override string) (string, error) {
	// Use override address if provided (e.g., ":9090", "0.0.0.0:8080").
	if override != "" {
		return override, nil
	}

	// Extract port from config address (e.g., "monitor.example.com:50051" -> ":50051").
	if configAddr == "" {
		return "", ErrNoServerAddress
	}

	// Parse the address to extract port.
	_, port, err := net.SplitHostPort(configAddr)
	if err != nil {
		return "", fmt.Errorf("invalid server address format %q: %w", configAddr, err)
	}

	// Return port-only listen address to bind on all interfaces.
	return ":" + port, nil
}
