package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/phrazzld/scry-tasks/internal/platform/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the PostgreSQL schema",
	Long: `Apply or inspect the embedded goose migrations against database.url.
Migrations are only needed for the postgres storage driver.`,
}

func init() {
	for _, c := range []struct{ name, short string }{
		{postgres.MigrateUp, "Apply all pending migrations"},
		{postgres.MigrateDown, "Roll back the most recent migration"},
		{postgres.MigrateStatus, "Print the status of every migration"},
		{postgres.MigrateVersion, "Print the current schema version"},
		{postgres.MigrateReset, "Roll back every migration"},
	} {
		command := c.name
		migrateCmd.AddCommand(&cobra.Command{
			Use:   command,
			Short: c.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runMigrate(cmd, command)
			},
		})
	}
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, command string) error {
	if cfg.Database.URL == "" {
		return fmt.Errorf("database.url is required to run migrations")
	}

	ctx := cmd.Context()
	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("error closing database connection", "error", err)
		}
	}()

	if err := postgres.Migrate(ctx, db, command, log); err != nil {
		return err
	}
	log.Info("migration command completed", "command", command)
	return nil
}
