package client

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	api "github.com/oshokin/door-monitor/internal/api/grpc/door"
	"github.com/oshokin/door-monitor/internal/config"
	"github.com/oshokin/door-monitor/internal/domain/door"
	"github.com/oshokin/door-monitor/internal/logger"
	"github.com/oshokin/door-monitor/internal/service/common"
)

// Options configures the door-report commands.
type Options struct {
	// ConfigPath to the settings file, defaults to standard filename if empty.
	ConfigPath string

	// ServerAddress overrides server address from config when specified.
	ServerAddress string

	// State is the sensor state to report.
	State string

	// Out receives the command output, os.Stdout when nil.
	Out io.Writer
}

// defaultPushInterval defines retry delay when pushing a state to the server.
const defaultPushInterval = 1 * time.Second

// stateReporter is the part of the client used by push.
type stateReporter interface {
	ReportState(ctx context.Context, state string, actor *door.Actor) (*api.ReportReply, error)
}

// Run reports the sensor state with retry logic until the server acknowledges it or ctx ends.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "door-report")

	client, serverAddress, err := connect(ctx, opts)
	if err != nil {
		return err
	}

	// Close connection on function exit.
	defer func() {
		_ = client.Close()
	}()

	// Identify current user and hostname for audit logging.
	actor, err := common.DetectActor()
	if err != nil {
		return err
	}

	logger.InfoKV(ctx, "Pushing door state", "server_address", serverAddress, "state", opts.State)

	reply, err := push(ctx, client, opts.State, actor, defaultPushInterval)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(output(opts), formatReply(reply))

	return err
}

// push tries to report the state immediately and then on every interval.
// Transient failures are retried; rejected requests end the loop.
func push(
	ctx context.Context,
	client stateReporter,
	state string,
	actor *door.Actor,
	interval time.Duration,
) (*api.ReportReply, error) {
	// attempt tries once to report the state, returns (reply, completed, error).
	attempt := func() (*api.ReportReply, bool, error) {
		reply, err := client.ReportState(ctx, state, actor)
		if err == nil {
			return reply, true, nil
		}

		// The server understood the request and refused it, retrying will not help.
		if code := status.Code(err); code == codes.InvalidArgument || code == codes.FailedPrecondition {
			return nil, true, err
		}

		// Log error but continue retrying for transient failures.
		logger.ErrorKV(ctx, "ReportState failed", "error", err)

		return nil, false, nil
	}

	// Attempt immediately before starting retry loop.
	if reply, done, err := attempt(); done {
		return reply, err
	}

	// Setup retry timer for subsequent attempts.
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Retry loop until success or cancellation.
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			if reply, done, err := attempt(); done {
				return reply, err
			}
		}
	}
}

// connect loads the settings and dials the server.
func connect(ctx context.Context, opts *Options) (*common.Client, string, error) {
	// Load settings from configuration file.
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, "", fmt.Errorf("load configuration: %w", err)
	}

	// Use server address from options if provided, otherwise use config.
	serverAddress := cfg.ServerAddress
	if opts.ServerAddress != "" {
		serverAddress = opts.ServerAddress
	}

	// Connect to the door monitor with timeout from config.
	client, err := common.Dial(ctx, serverAddress, common.WithCallTimeout(cfg.Timeout))
	if err != nil {
		return nil, "", err
	}

	return client, serverAddress, nil
}

// output returns the writer of command results.
func output(opts *Options) io.Writer {
	if opts.Out != nil {
		return opts.Out
	}

	return os.Stdout
}

// formatReply converts a ReportState reply to a readable line.
func formatReply(reply *api.ReportReply) string {
	if reply == nil {
		return "<no reply>"
	}

	switch reply.Outcome {
	case "already_set":
		return fmt.Sprintf("Door status is already %s.", reply.State)
	case "closed":
		return "Door closed, monitoring will stop at the next check."
	case "started":
		line := "Door open, monitoring instance " + reply.InstanceID + " started."
		if reply.Superseded != "" {
			line += " Superseded instance " + reply.Superseded + "."
		}

		return line
	default:
		return fmt.Sprintf("Door state %s: %s", reply.State, reply.Outcome)
	}
}
