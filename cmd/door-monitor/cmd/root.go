package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/door-monitor/internal/config"
	"github.com/oshokin/door-monitor/internal/logger"
	"github.com/oshokin/door-monitor/internal/service/server"
	"github.com/oshokin/door-monitor/internal/version"
)

var (
	// configPath to the configuration file.
	configPath string
	// httpAddress overrides the HTTP ingress listen address.
	httpAddress string

	// rootCmd represents the base command for running the monitor server.
	rootCmd = &cobra.Command{
		Use:   "door-monitor [listen-address]",
		Short: "Run the garage door monitor.",
		Long: `Starts the door monitor: the workflow engine, the gRPC service and the HTTP ingress.

Sensor reports arrive over HTTP (POST /api/door/state) or gRPC.
An "open" report starts a monitoring instance that texts a reminder after the
configured delay and keeps reminding until the door closes or the retry budget
runs out. Instances and the door state survive restarts when a persistent
storage driver is configured.

Only the port from ServerAddress config is used for listening (e.g., :50051).
Listen address can be provided as argument to override config (e.g., :9090, 0.0.0.0:50051).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			// Use listen address argument if provided, otherwise rely on config.
			var listenAddress string
			if len(args) > 0 {
				listenAddress = args[0]
			}

			return server.Run(ctx, &server.Options{
				ConfigPath:    configPath,
				ListenAddress: listenAddress,
				HTTPAddress:   httpAddress,
			})
		},
	}
)

// Execute runs the door-monitor CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	err := rootCmd.Execute()

	logger.Sync()

	if err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().StringVar(&httpAddress, "http-addr", "", "HTTP ingress listen address (overrides config)")
}
