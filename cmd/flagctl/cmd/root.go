package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/flag-arbiter/internal/config"
	"github.com/oshokin/flag-arbiter/internal/version"
)

var (
	// cfgPath stores the configuration file path.
	cfgPath string
	// serverAddress overrides the server address from the configuration.
	serverAddress string

	// rootCmd represents the base command for talking to the arbiter.
	rootCmd = &cobra.Command{
		Use:   "flagctl",
		Short: "Inspect and switch flags on a running flag-arbiter.",
		Long: `Sends requests to a running flag-arbiter server.

Use "on" and "off" to switch flags, "status" to see the current winner,
"flags" to list every flag, "priority" to change an upper flag's priority,
"register" to create a flag and "watch" to follow winner changes.
The server address is read from the configuration file unless --server is given.`,
		SilenceUsage: true,
	}
)

// Execute runs the flagctl CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// signalContext returns a context canceled on SIGTERM or SIGINT.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.PersistentFlags().
		StringVarP(&cfgPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.PersistentFlags().StringVarP(&serverAddress, "server", "a", "", "server address (overrides server_addr)")

	rootCmd.AddCommand(
		newStateCommand(true),
		newStateCommand(false),
		statusCmd,
		flagsCmd,
		priorityCmd,
		newRegisterCommand(),
		newWatchCommand(),
	)
}
