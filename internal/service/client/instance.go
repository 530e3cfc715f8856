package client

import (
	"context"
	"fmt"
	"io"
	"time"

	api "github.com/oshokin/door-monitor/internal/api/grpc/door"
	"github.com/oshokin/door-monitor/internal/logger"
)

// InstanceOptions configures the status and terminate commands.
type InstanceOptions struct {
	Options

	// InstanceID is the monitoring instance to act on.
	InstanceID string
	// Reason is recorded on termination.
	Reason string
}

// Status prints one monitoring instance.
func Status(ctx context.Context, opts *InstanceOptions) error {
	ctx = logger.WithName(ctx, "door-report")

	client, _, err := connect(ctx, &opts.Options)
	if err != nil {
		return err
	}

	defer func() {
		_ = client.Close()
	}()

	instance, err := client.GetInstanceStatus(ctx, opts.InstanceID)
	if err != nil {
		return err
	}

	return PrintInstance(output(&opts.Options), instance)
}

// Terminate stops one monitoring instance.
func Terminate(ctx context.Context, opts *InstanceOptions) error {
	ctx = logger.WithName(ctx, "door-report")

	client, _, err := connect(ctx, &opts.Options)
	if err != nil {
		return err
	}

	defer func() {
		_ = client.Close()
	}()

	if err = client.TerminateInstance(ctx, opts.InstanceID, opts.Reason); err != nil {
		return err
	}

	_, err = fmt.Fprintf(output(&opts.Options), "Instance %s terminated.\n", opts.InstanceID)

	return err
}

// PrintInstance writes a readable summary of an instance.
func PrintInstance(w io.Writer, instance *api.InstanceStatus) error {
	_, err := fmt.Fprintf(w,
		"Instance:  %s\nName:      %s\nStatus:    %s\nCreated:   %s\nUpdated:   %s\nSteps:     %d\n",
		instance.ID,
		instance.Name,
		instance.Status,
		instance.CreatedAt.Format(time.RFC3339),
		instance.UpdatedAt.Format(time.RFC3339),
		instance.HistoryLength,
	)
	if err != nil {
		return err
	}

	if instance.Output != "" {
		if _, err = fmt.Fprintf(w, "Output:    %s\n", instance.Output); err != nil {
			return err
		}
	}

	if instance.Error != "" {
		if _, err = fmt.Fprintf(w, "Error:     %s\n", instance.Error); err != nil {
			return err
		}
	}

	return nil
}
