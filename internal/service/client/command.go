package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/oshokin/flag-arbiter/internal/config"
	"github.com/oshokin/flag-arbiter/internal/domain/flag"
	"github.com/oshokin/flag-arbiter/internal/logger"
	"github.com/oshokin/flag-arbiter/internal/service/common"
)

// Options configures flagctl commands.
type Options struct {
	// ConfigPath to YAML settings file, defaults to standard filename if empty.
	ConfigPath string
	// ServerAddress overrides server address from config when specified.
	ServerAddress string
	// Wait keeps retrying a state change while the server is unavailable.
	Wait bool
	// Out receives command output, stdout when nil.
	Out io.Writer
}

// defaultPushInterval defines retry delay when pushing a flag state to the server.
const defaultPushInterval = 1 * time.Second

// connect loads settings and dials the server.
func connect(ctx context.Context, opts *Options) (*common.Client, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	serverAddress := cfg.ServerAddress
	if opts.ServerAddress != "" {
		serverAddress = opts.ServerAddress
	}

	actor, err := common.DetectActor()
	if err != nil {
		return nil, err
	}

	logger.DebugKV(ctx, "Connecting", "server_address", serverAddress, "actor", actor.String())

	return common.Dial(ctx, serverAddress, common.WithCallTimeout(cfg.Timeout), common.WithActor(actor))
}

// SetState switches a flag On or Off and prints the resulting decision.
//
//nolint:cyclop // Retry loop with early exits.
func SetState(ctx context.Context, opts *Options, id string, on bool) error {
	ctx = logger.WithName(ctx, "flagctl")

	client, err := connect(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		_ = client.Close()
	}()

	logger.InfoKV(ctx, "Pushing flag state", "flag_id", id, "state", on)

	// attempt tries once to change the flag, returns (completed, error).
	attempt := func() (bool, error) {
		changed, decision, err := client.SetFlagState(ctx, id, on, time.Time{})
		if err != nil {
			if opts.Wait && isTransient(err) {
				logger.ErrorKV(ctx, "SetFlagState failed, retrying", "error", err)

				return false, nil
			}

			return false, err
		}

		if !changed {
			logger.InfoKV(ctx, "Flag already in requested state", "flag_id", id, "state", on)
		}

		_, err = fmt.Fprintln(output(opts), FormatDecision(decision))

		return true, err
	}

	if done, err := attempt(); err != nil || done {
		return err
	}

	ticker := time.NewTicker(defaultPushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			done, err := attempt()
			if err != nil || done {
				return err
			}
		}
	}
}

// Status prints the current decision.
func Status(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "flagctl")

	client, err := connect(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		_ = client.Close()
	}()

	decision, err := client.GetDecision(ctx)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(output(opts), FormatDecision(decision))

	return err
}

// ListFlags prints every flag as a table.
func ListFlags(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "flagctl")

	client, err := connect(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		_ = client.Close()
	}()

	flags, err := client.ListFlags(ctx)
	if err != nil {
		return err
	}

	return WriteFlags(output(opts), flags)
}

// SetPriority changes the priority of an upper flag; nil selects automatic priority.
func SetPriority(ctx context.Context, opts *Options, id string, priority *int) error {
	ctx = logger.WithName(ctx, "flagctl")

	client, err := connect(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		_ = client.Close()
	}()

	decision, err := client.SetFlagPriority(ctx, id, priority)
	if err != nil {
		return err
	}

	logger.InfoKV(ctx, "Flag priority changed", "flag_id", id, "priority", flag.FormatPriority(priority))

	_, err = fmt.Fprintln(output(opts), FormatDecision(decision))

	return err
}

// Register creates a flag on the server, or refreshes its definition, and
// prints the stored record.
func Register(ctx context.Context, opts *Options, def *flag.Flag) error {
	ctx = logger.WithName(ctx, "flagctl")

	client, err := connect(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		_ = client.Close()
	}()

	registered, err := client.RegisterFlag(ctx, def)
	if err != nil {
		return err
	}

	logger.InfoKV(ctx, "Flag registered", "flag_id", registered.ID, "tier", string(registered.Tier))

	return WriteFlags(output(opts), []*flag.Flag{registered})
}

// isTransient reports whether a call may succeed when repeated.
func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Internal:
		return true
	default:
		return false
	}
}

func output(opts *Options) io.Writer {
	if opts.Out != nil {
		return opts.Out
	}

	return os.Stdout
}
