package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/oshokin/flag-arbiter/internal/arbiter"
	api "github.com/oshokin/flag-arbiter/internal/api/grpc/flags"
	"github.com/oshokin/flag-arbiter/internal/config"
	"github.com/oshokin/flag-arbiter/internal/control"
	"github.com/oshokin/flag-arbiter/internal/logger"
	"github.com/oshokin/flag-arbiter/internal/metrics"
	"github.com/oshokin/flag-arbiter/internal/service/flagstore"
	"github.com/oshokin/flag-arbiter/internal/version"
)

// Options controls the flag-arbiter process and configuration.
type Options struct {
	// ConfigPath specifies the path to settings YAML file.
	ConfigPath string
	// ListenAddress provides an optional listen address override for the gRPC server.
	ListenAddress string
	// MetricsAddress overrides the metrics listen address from the settings.
	MetricsAddress string
	// StateFile overrides the path of the persisted flags.
	StateFile string
	// Storage overrides the persistence backend ("file" or "sqlite").
	Storage string
	// AllowMultipleInstances skips the check for another running server.
	AllowMultipleInstances bool
	// Driver executes scene commands; nil logs them.
	Driver control.Driver
}

// ErrNoServerAddress indicates missing server configuration.
var ErrNoServerAddress = errors.New("no server address configured")

// Run starts the arbitration server and blocks until context is canceled or a component fails.
//
//nolint:funlen // Linear wiring of every component.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "flag-arbiter")

	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	applyOverrides(settings, opts)
	configureLogger(settings)

	if !opts.AllowMultipleInstances {
		if err = ensureSingleInstance(); err != nil {
			return err
		}
	}

	listenAddress, err := resolveListenAddress(settings.ServerAddress, opts.ListenAddress)
	if err != nil {
		return fmt.Errorf("resolve listen address: %w", err)
	}

	repo, closeRepo, err := openRepository(settings.Storage, settings.StateFile)
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := closeRepo(); closeErr != nil {
			logger.Errorf(ctx, "Failed to close storage: %v", closeErr)
		}
	}()

	seeds, err := settings.Seeds()
	if err != nil {
		return fmt.Errorf("build flag seeds: %w", err)
	}

	driver := opts.Driver
	if driver == nil {
		driver = control.LogDriver{}
	}

	recorder := metrics.NewRecorder()
	controller := arbiter.New(
		control.NewSceneClient(driver, control.WithDefaultScene(settings.DefaultScene)),
		arbiter.WithRetryInterval(settings.RetryInterval),
		arbiter.WithObserver(recorder),
	)

	store, err := flagstore.New(ctx, repo, seeds, controller)
	if err != nil {
		return fmt.Errorf("initialise flag store: %w", err)
	}

	controller.Attach(store)
	// Restored flags drive the display before the first request arrives.
	store.Refresh(ctx)

	lc := net.ListenConfig{}

	lis, err := lc.Listen(ctx, "tcp", listenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", listenAddress, err)
	}

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(api.UnaryLoggingInterceptor))
	api.RegisterFlagServiceServer(grpcServer, api.NewServer(store, controller))

	logger.InfoKV(
		ctx,
		"Flag arbiter listening",
		append(
			[]any{"listen_address", listenAddress, "storage", settings.Storage, "state_file", settings.StateFile},
			version.LogFields()...,
		)...,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return controller.Run(gctx)
	})

	g.Go(func() error {
		if serveErr := grpcServer.Serve(lis); serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
			return fmt.Errorf("serve gRPC: %w", serveErr)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info(ctx, "Shutting down gRPC server")
		grpcServer.GracefulStop()

		return nil
	})

	if settings.MetricsAddress != "" {
		startMetricsServer(ctx, gctx, g, settings.MetricsAddress, recorder.Handler())
	}

	if err = g.Wait(); err != nil {
		return err
	}

	logger.Info(ctx, "Flag arbiter stopped")

	return nil
}

// applyOverrides replaces settings with the non-empty command line values.
func applyOverrides(settings *config.Config, opts *Options) {
	if opts.StateFile != "" {
		settings.StateFile = opts.StateFile
	}

	if opts.Storage != "" {
		settings.Storage = opts.Storage
	}

	if opts.MetricsAddress != "" {
		settings.MetricsAddress = opts.MetricsAddress
	}
}

// configureLogger applies the validated log settings to the global logger.
func configureLogger(settings *config.Config) {
	level, _ := logger.ParseLogLevel(settings.LogLevel)
	format, _ := logger.ParseFormat(settings.LogFormat)

	logger.Configure(level, format)
}

// startMetricsServer serves /metrics until gctx is done.
func startMetricsServer(ctx, gctx context.Context, g *errgroup.Group, address string, handler http.Handler) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	//nolint:exhaustruct // Defaults are fine for the remaining fields.
	metricsServer := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: config.DefaultTimeout,
	}

	logger.InfoKV(ctx, "Metrics endpoint listening", "metrics_address", address)

	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve metrics: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.DefaultTimeout)
		defer cancel()

		return metricsServer.Shutdown(shutdownCtx)
	})
}

// resolveListenAddress determines the listen address for the gRPC server.
// If override is provided, uses it directly. Otherwise extracts port from configAddr.
// Returns appropriate listen address (e.g., ":8080" for port-only binding).
func resolveListenAddress(configAddr, override string) (string, error) {
	if override != "" {
		return override, nil
	}

	if configAddr == "" {
		return "", ErrNoServerAddress
	}

	_, port, err := net.SplitHostPort(configAddr)
	if err != nil {
		return "", fmt.Errorf("invalid server address format %q: %w", configAddr, err)
	}

	// Bind on all interfaces.
	return ":" + port, nil
}
