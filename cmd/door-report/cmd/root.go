package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/door-monitor/internal/config"
	"github.com/oshokin/door-monitor/internal/logger"
	"github.com/oshokin/door-monitor/internal/version"
)

var (
	// cfgPath stores the configuration file path.
	cfgPath string
	// serverAddress overrides the gRPC server address from config.
	serverAddress string

	// rootCmd represents the base command of the sensor and operator client.
	rootCmd = &cobra.Command{
		Use:   "door-report",
		Short: "Report door states and inspect monitoring instances.",
		Long: `Client for the door monitor gRPC service.

The open and closed commands push a sensor report until the server confirms it.
The status, watch and terminate commands operate on monitoring instances.
Server address can be provided with --server or loaded from configuration file.`,
		SilenceUsage: true,
	}
)

// Execute runs the door-report CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	err := rootCmd.Execute()

	logger.Sync()

	if err != nil {
		os.Exit(1)
	}
}

// signalContext is canceled on SIGTERM or SIGINT.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.PersistentFlags().
		StringVarP(&cfgPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.PersistentFlags().
		StringVarP(&serverAddress, "server", "s", "", "gRPC server address (overrides config)")

	rootCmd.AddCommand(newStateCommand("open"), newStateCommand("closed"))
	rootCmd.AddCommand(statusCmd, watchCmd, terminateCmd)
}
