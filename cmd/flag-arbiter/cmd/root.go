package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/flag-arbiter/internal/config"
	"github.com/oshokin/flag-arbiter/internal/service/server"
	"github.com/oshokin/flag-arbiter/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// stateFile overrides the path where flags are persisted.
	stateFile string
	// storage overrides the persistence backend.
	storage string
	// metricsAddress overrides the Prometheus listen address.
	metricsAddress string
	// allowMultiple skips the single-instance check.
	allowMultiple bool

	// rootCmd represents the base command for running the arbitration server.
	rootCmd = &cobra.Command{
		Use:   "flag-arbiter [listen-address]",
		Short: "Run the flag arbitration server.",
		Long: `Starts the gRPC server that owns the alert flags and decides which active
upper flag drives the broadcast display.

Every flag change recomputes the winner from the full set of active upper flags:
numeric priorities first (lower wins), then automatic ones, most recent first.
The winner's on_actions are sent to the scene driver; with no upper flag active
the default scene is shown.

Only the port from server_addr is used for listening (e.g., :50051).
Listen address can be provided as argument to override config.
Flags are persisted to a JSON file or SQLite database for recovery across restarts.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			var listenAddress string
			if len(args) > 0 {
				listenAddress = args[0]
			}

			options := &server.Options{
				ConfigPath:             configPath,
				ListenAddress:          listenAddress,
				MetricsAddress:         metricsAddress,
				StateFile:              stateFile,
				Storage:                storage,
				AllowMultipleInstances: allowMultiple,
			}

			return server.Run(ctx, options)
		},
	}
)

// Execute runs the flag-arbiter CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().StringVarP(&stateFile, "state-file", "s", "", "path to persisted flags (overrides state_file)")
	rootCmd.Flags().StringVar(&storage, "storage", "", "persistence backend: file or sqlite (overrides storage)")
	rootCmd.Flags().StringVar(&metricsAddress, "metrics-addr", "", "Prometheus listen address (overrides metrics_addr)")
	rootCmd.Flags().BoolVar(&allowMultiple, "allow-multiple", false, "skip the check for another running server")
}
