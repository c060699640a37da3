package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/oshokin/flag-arbiter/internal/domain/flag"
	"github.com/oshokin/flag-arbiter/internal/service/client"
	"github.com/oshokin/flag-arbiter/internal/service/watcher"
)

// errInvalidPriority is returned for priority arguments that are neither a number nor "auto".
var errInvalidPriority = errors.New(`priority must be an integer or "auto"`)

//nolint:gochecknoglobals // Cobra commands are package-level by convention.
var (
	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Print the current winner.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			return client.Status(ctx, options(cmd))
		},
	}

	flagsCmd = &cobra.Command{
		Use:   "flags",
		Short: "List every flag with its state and priority.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			return client.ListFlags(ctx, options(cmd))
		},
	}

	priorityCmd = &cobra.Command{
		Use:   "priority <flag-id> <number|auto>",
		Short: "Change the priority of an upper flag.",
		Long: `Changes the priority of an upper flag. A lower number wins;
"auto" removes the number so the flag ranks below every numbered flag.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			priority, err := parsePriority(args[1])
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()

			return client.SetPriority(ctx, options(cmd), args[0], priority)
		},
	}
)

// newStateCommand builds the "on" or "off" command.
func newStateCommand(on bool) *cobra.Command {
	use, short := "off", "Switch a flag off."
	if on {
		use, short = "on", "Switch a flag on."
	}

	var wait bool

	command := &cobra.Command{
		Use:   use + " <flag-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			opts := options(cmd)
			opts.Wait = wait

			return client.SetState(ctx, opts, args[0], on)
		},
	}

	command.Flags().BoolVarP(&wait, "wait", "w", false, "keep retrying while the server is unavailable")

	return command
}

func options(cmd *cobra.Command) *client.Options {
	return &client.Options{
		ConfigPath:    cfgPath,
		ServerAddress: serverAddress,
		Out:           cmd.OutOrStdout(),
	}
}

// parsePriority accepts an integer or "auto".
func parsePriority(raw string) (*int, error) {
	if raw == "auto" {
		return nil, nil //nolint:nilnil // Automatic priority is nil.
	}

	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", errInvalidPriority, raw)
	}

	return flag.Priority(n), nil
}

// definitionFlags holds the command-line form of a flag definition.
type definitionFlags struct {
	name     string
	tier     string
	priority string
	links    []string
	scene    string
}

// definition builds the flag definition for id.
func (d *definitionFlags) definition(id string) (*flag.Flag, error) {
	tier, err := flag.ParseTier(d.tier)
	if err != nil {
		return nil, err
	}

	priority, err := parsePriority(d.priority)
	if err != nil {
		return nil, err
	}

	def := &flag.Flag{
		ID:               id,
		Name:             d.name,
		Tier:             tier,
		Priority:         priority,
		LinkedLowerFlags: d.links,
	}

	if d.scene != "" {
		def.OnActions = []flag.Action{
			{Type: flag.ActionSwitchScene, Params: map[string]any{"scene_name": d.scene}},
		}
	}

	return def, nil
}

// newRegisterCommand builds the "register" command.
func newRegisterCommand() *cobra.Command {
	var d definitionFlags

	command := &cobra.Command{
		Use:   "register <flag-id>",
		Short: "Create a flag, or refresh the definition of an existing one.",
		Long: `Creates a flag in the Off state the first time its id is seen.
Registering an existing id keeps its state and replaces its name, priority,
links and actions. A flag cannot change tier.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := d.definition(args[0])
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()

			return client.Register(ctx, options(cmd), def)
		},
	}

	command.Flags().StringVarP(&d.name, "name", "n", "", "human-readable name")
	command.Flags().StringVarP(&d.tier, "type", "t", string(flag.TierUpper), "flag tier: upper or lower")
	command.Flags().StringVarP(&d.priority, "priority", "p", "auto", `priority number or "auto"`)
	command.Flags().StringSliceVarP(&d.links, "link", "l", nil, "lower flag driving this upper flag, repeatable")
	command.Flags().StringVarP(&d.scene, "scene", "s", "", "scene switched to while the flag wins")

	return command
}

// newWatchCommand builds the "watch" command.
func newWatchCommand() *cobra.Command {
	var interval time.Duration

	command := &cobra.Command{
		Use:   "watch",
		Short: "Print the winner every time it changes.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			return watcher.Run(ctx, &watcher.Options{
				ConfigPath:    cfgPath,
				ServerAddress: serverAddress,
				PollInterval:  interval,
				Out:           cmd.OutOrStdout(),
			})
		},
	}

	command.Flags().DurationVarP(&interval, "interval", "i", watcher.DefaultPollInterval, "polling interval")

	return command
}
