package cmd

import (
	"github.com/spf13/cobra"

	"github.com/oshokin/door-monitor/internal/service/client"
)

// newStateCommand builds the command reporting one sensor state.
func newStateCommand(state string) *cobra.Command {
	return &cobra.Command{
		Use:   state,
		Short: "Report the door as " + state + ".",
		Long: `Sends the report to the server continuously until confirmation is received.
Reporting "open" starts a monitoring instance unless the door was already open.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			return client.Run(ctx, &client.Options{
				ConfigPath:    cfgPath,
				ServerAddress: serverAddress,
				State:         state,
				Out:           cmd.OutOrStdout(),
			})
		},
	}
}
