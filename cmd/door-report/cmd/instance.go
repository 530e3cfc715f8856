package cmd

import (
	"github.com/spf13/cobra"

	"github.com/oshokin/door-monitor/internal/service/checker"
	"github.com/oshokin/door-monitor/internal/service/client"
)

var (
	// terminateReason is recorded on the terminated instance.
	terminateReason string
	// pollInterval defines how often watch checks the instance.
	pollInterval = checker.DefaultPollInterval

	statusCmd = &cobra.Command{
		Use:   "status <instance-id>",
		Short: "Print a monitoring instance.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			return client.Status(ctx, instanceOptions(cmd, args[0]))
		},
	}

	watchCmd = &cobra.Command{
		Use:   "watch <instance-id>",
		Short: "Poll a monitoring instance until it finishes.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			return checker.Run(ctx, &checker.Options{
				ConfigPath:    cfgPath,
				ServerAddress: serverAddress,
				InstanceID:    args[0],
				PollInterval:  pollInterval,
				Out:           cmd.OutOrStdout(),
			})
		},
	}

	terminateCmd = &cobra.Command{
		Use:   "terminate <instance-id>",
		Short: "Stop a running monitoring instance.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			opts := instanceOptions(cmd, args[0])
			opts.Reason = terminateReason

			return client.Terminate(ctx, opts)
		},
	}
)

func instanceOptions(cmd *cobra.Command, id string) *client.InstanceOptions {
	return &client.InstanceOptions{
		Options: client.Options{
			ConfigPath:    cfgPath,
			ServerAddress: serverAddress,
			Out:           cmd.OutOrStdout(),
		},
		InstanceID: id,
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	terminateCmd.Flags().StringVarP(&terminateReason, "reason", "r", "", "reason recorded on the instance")
	watchCmd.Flags().DurationVarP(&pollInterval, "interval", "i", checker.DefaultPollInterval, "polling interval")
}
