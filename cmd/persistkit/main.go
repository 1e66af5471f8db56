// Command persistkit hosts the persistence registry behind an admin HTTP
// server and moves fixture documents in and out of it.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"persistkit/internal/admin"
	"persistkit/internal/archive"
	"persistkit/internal/config"
	"persistkit/internal/core"
	"persistkit/internal/fixtures"
	"persistkit/internal/logging"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type rootOptions struct {
	logLevel string
	logFile  string
	logger   zerolog.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{logger: zerolog.Nop()}
	root := &cobra.Command{
		Use:           "persistkit",
		Short:         "Environment-scoped persistence registry",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			opts.logger = logging.Apply(opts.logLevel, logging.Options{
				FilePath: opts.logFile,
				Console:  cmd.ErrOrStderr(),
			})
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cmd.SetContext(opts.logger.WithContext(ctx))
		},
	}
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	root.PersistentFlags().StringVar(&opts.logFile, "log-file", "", "also write logs to this rotated file")

	root.AddCommand(newServeCmd(opts), newFixturesCmd(opts), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "persistkit %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		addr            string
		shutdownTimeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the admin endpoints until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), opts.logger, addr, shutdownTimeout)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":9464", "admin listen address")
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 10*time.Second, "grace period for in-flight requests")
	return cmd
}

func serve(ctx context.Context, logger zerolog.Logger, addr string, shutdownTimeout time.Duration) error {
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := core.NewMetrics(promReg)
	if err != nil {
		return err
	}
	registry := core.NewRegistry(core.WithLogger(logger), core.WithMetrics(metrics))
	env := config.CurrentEnvironment()
	if _, err := registry.Get(ctx, env); err != nil {
		return fmt.Errorf("warm environment %s: %w", env, err)
	}
	logger.Info().Str("version", version).Str("environment", env).Msg("persistkit started")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := admin.NewServer(registry, promReg, logger)
	listener := core.NewListener(registry)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.ListenAndServe(gctx, addr, shutdownTimeout) })
	g.Go(func() error { return listener.Watch(gctx) })
	return g.Wait()
}

func newFixturesCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fixtures",
		Short: "Load or export fixture documents",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "load <key>",
		Short: "Persist the fixture document at key into the current environment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFixtures(cmd.Context(), opts.logger, func(ctx context.Context, l *fixtures.Loader, pm *core.PersistenceManager) error {
				n, err := l.Load(ctx, pm, args[0])
				if err != nil {
					return err
				}
				return report(cmd.OutOrStdout(), "loaded %d entities from %s\n", n, args[0])
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "export <kind> <key>",
		Short: "Write every entity of kind to the fixture document at key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFixtures(cmd.Context(), opts.logger, func(ctx context.Context, l *fixtures.Loader, pm *core.PersistenceManager) error {
				n, err := l.Export(ctx, pm, args[0], args[1])
				if err != nil {
					return err
				}
				return report(cmd.OutOrStdout(), "exported %d entities to %s\n", n, args[1])
			})
		},
	})
	return cmd
}

func withFixtures(ctx context.Context, logger zerolog.Logger, fn func(context.Context, *fixtures.Loader, *core.PersistenceManager) error) (retErr error) {
	store, err := archive.Open(ctx)
	if err != nil {
		return err
	}
	registry := core.NewRegistry(core.WithLogger(logger))
	defer func() {
		if err := registry.Clear(); err != nil && retErr == nil {
			retErr = err
		}
	}()
	pm, err := registry.Get(ctx, config.CurrentEnvironment())
	if err != nil {
		return err
	}
	return fn(ctx, fixtures.NewLoader(store, nil), pm)
}

func report(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}
