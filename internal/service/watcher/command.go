package watcher

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/oshokin/flag-arbiter/internal/config"
	"github.com/oshokin/flag-arbiter/internal/domain/flag"
	"github.com/oshokin/flag-arbiter/internal/logger"
	"github.com/oshokin/flag-arbiter/internal/service/client"
	"github.com/oshokin/flag-arbiter/internal/service/common"
)

// Options controls the watcher polling behavior and configuration.
type Options struct {
	// ConfigPath specifies the path to the settings YAML file.
	ConfigPath string
	// ServerAddress provides an optional gRPC server address override.
	ServerAddress string
	// PollInterval defines the interval between decision checks.
	PollInterval time.Duration
	// Out receives one line per winner change, stdout when nil.
	Out io.Writer
}

// DefaultPollInterval defines the default polling interval for decision checks.
const DefaultPollInterval = time.Second

// Run polls the current decision and prints it whenever the winner changes.
// It returns nil when ctx is canceled.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "flagctl-watch")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	serverAddress := cfg.ServerAddress
	if opts.ServerAddress != "" {
		serverAddress = opts.ServerAddress
	}

	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	c, err := common.Dial(ctx, serverAddress, common.WithCallTimeout(cfg.Timeout))
	if err != nil {
		return fmt.Errorf("dial server: %w", err)
	}

	defer func() {
		_ = c.Close()
	}()

	logger.InfoKV(ctx, "Watching decisions", "server_address", serverAddress, "interval", interval.String())

	w := &watcher{out: out}

	// Print the current state right away.
	w.check(ctx, c)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Context canceled, exiting")

			return nil
		case <-ticker.C:
			w.check(ctx, c)
		}
	}
}

// decisionGetter is the part of the client the watcher needs.
type decisionGetter interface {
	GetDecision(ctx context.Context) (*flag.Decision, error)
}

// watcher remembers the last printed winner.
type watcher struct {
	out     io.Writer
	printed bool
	winner  string
}

// check fetches the decision and prints it if the winner differs from the last one printed.
func (w *watcher) check(ctx context.Context, c decisionGetter) {
	decision, err := c.GetDecision(ctx)
	if err != nil {
		logger.ErrorKV(ctx, "Get decision failed", "error", err)

		return
	}

	if w.printed && decision.WinnerID() == w.winner {
		return
	}

	w.printed = true
	w.winner = decision.WinnerID()

	_, _ = fmt.Fprintf(w.out, "%s %s\n", time.Now().Format(time.TimeOnly), client.FormatDecision(decision))
}
