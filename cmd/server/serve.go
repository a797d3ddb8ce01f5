package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the task API, with embedded workers when worker.embedded is set",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the worker pool and sweeper without the HTTP API",
	Long: `Run the worker pool and staleness sweeper only. Use this with the postgres
storage driver to scale processing independently of the API.`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(serveCmd, workerCmd)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	app, err := newApplication(ctx, cfg, log, nil)
	if err != nil {
		return err
	}
	defer app.close(context.Background())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.runHTTP(gctx) })
	if cfg.Worker.Embedded {
		g.Go(func() error { return app.runWorkers(gctx) })
	} else {
		log.Info("embedded workers disabled, run the worker command to process tasks")
	}
	return g.Wait()
}

func runWorker(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	if cfg.Storage.Driver == "memory" {
		log.Warn("worker started with the memory storage driver; it will only see tasks submitted in this process")
	}

	app, err := newApplication(ctx, cfg, log, nil)
	if err != nil {
		return err
	}
	defer app.close(context.Background())

	return app.runWorkers(ctx)
}
