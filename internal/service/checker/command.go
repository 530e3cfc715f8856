package checker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	api "github.com/oshokin/door-monitor/internal/api/grpc/door"
	"github.com/oshokin/door-monitor/internal/config"
	"github.com/oshokin/door-monitor/internal/logger"
	"github.com/oshokin/door-monitor/internal/service/client"
	"github.com/oshokin/door-monitor/internal/service/common"
)

// Options controls the watch polling behavior and configuration.
type Options struct {
	// ConfigPath specifies the path to the settings file.
	ConfigPath string
	// ServerAddress provides an optional gRPC server address override.
	ServerAddress string
	// InstanceID is the monitoring instance to watch.
	InstanceID string
	// PollInterval defines the interval between status checks.
	PollInterval time.Duration
	// Out receives the final instance summary, os.Stdout when nil.
	Out io.Writer
}

// DefaultPollInterval defines the polling interval for instance status checks.
const DefaultPollInterval = 5 * time.Second

// errFinished indicates that the watched instance reached a terminal status.
var errFinished = errors.New("instance finished")

// statusGetter is the part of the client used by the watch loop.
type statusGetter interface {
	GetInstanceStatus(ctx context.Context, id string) (*api.InstanceStatus, error)
}

// Run polls a monitoring instance until it reaches a terminal status.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "door-watch")

	// Load settings from configuration file.
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	// Determine server address: command line argument overrides config.
	serverAddress := cfg.ServerAddress
	if opts.ServerAddress != "" {
		serverAddress = opts.ServerAddress
	}

	// Establish gRPC connection with timeout from configuration.
	conn, err := common.Dial(ctx, serverAddress, common.WithCallTimeout(cfg.Timeout))
	if err != nil {
		return fmt.Errorf("dial server: %w", err)
	}

	// Ensure connection cleanup on function exit.
	defer func() {
		_ = conn.Close()
	}()

	logger.InfoKV(ctx, "Watching monitoring instance",
		"server_address", serverAddress,
		"instance_id", opts.InstanceID,
		"interval", opts.PollInterval.String(),
	)

	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	return watch(ctx, conn, opts.InstanceID, opts.PollInterval, out)
}

// watch checks immediately and then on every interval until the instance finishes.
func watch(ctx context.Context, getter statusGetter, id string, interval time.Duration, out io.Writer) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	var last string

	check := func() error {
		err := checkInstance(ctx, getter, id, &last, out)
		if errors.Is(err, errFinished) {
			return errFinished
		}

		// An unknown instance will not appear later.
		if status.Code(err) == codes.NotFound {
			return err
		}

		if err != nil {
			logger.ErrorKV(ctx, "Check instance failed", "error", err)
		}

		return nil
	}

	if err := check(); err != nil {
		return finished(err)
	}

	// Setup polling ticker with fixed interval.
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Main polling loop until context cancellation or completion.
	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Context canceled, exiting")
			return nil
		case <-ticker.C:
			if err := check(); err != nil {
				return finished(err)
			}
		}
	}
}

// checkInstance logs status changes and prints the instance once it is terminal.
// Returns errFinished when the instance reached a terminal status.
func checkInstance(
	ctx context.Context,
	getter statusGetter,
	id string,
	last *string,
	out io.Writer,
) error {
	// Request current instance status from server.
	instance, err := getter.GetInstanceStatus(ctx, id)
	if err != nil {
		return err
	}

	current := string(instance.Status)
	if current != *last {
		logger.InfoKV(ctx, "Instance status", "status", current, "steps", instance.HistoryLength)
		*last = current
	}

	if !instance.Status.IsTerminal() {
		return nil
	}

	if err = client.PrintInstance(out, instance); err != nil {
		return err
	}

	return errFinished
}

// finished turns the completion marker into a clean exit.
func finished(err error) error {
	if errors.Is(err, errFinished) {
		return nil
	}

	return err
}
