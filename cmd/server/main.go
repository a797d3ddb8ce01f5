// Package main implements the scry-tasks binary: the task status API, the
// worker pool that runs AI generation tasks, and operational commands.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/phrazzld/scry-tasks/internal/config"
	"github.com/phrazzld/scry-tasks/internal/platform/logger"
)

var (
	cfg *config.Config
	log *slog.Logger
)

// rootCmd is the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "scry-tasks",
	Short: "Asynchronous AI task pipeline",
	Long: `scry-tasks accepts AI generation tasks over HTTP, queues them, and runs
them on a worker pool that routes each task to a suitable AI backend.

Configuration comes from SCRY_* environment variables and an optional
config.yaml in the working directory.`,
	SilenceUsage:      true,
	PersistentPreRunE: persistentPreRun,
}

func persistentPreRun(cmd *cobra.Command, _ []string) error {
	if cmd.Name() == "help" || cmd.Name() == "completion" {
		return nil
	}

	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err = logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	log.Debug("configuration loaded",
		"command", cmd.Name(),
		"storage_driver", cfg.Storage.Driver,
		"log_level", cfg.Server.LogLevel)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
