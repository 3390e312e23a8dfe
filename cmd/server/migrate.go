package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/socialnet/backend/internal/db"
	"github.com/socialnet/backend/internal/logger"
)

var migrateStatusOnly bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long: `Apply the embedded SQL migrations to the configured Postgres database.

Examples:
  server migrate
  server migrate --status`,
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateStatusOnly, "status", false, "print the applied schema version and exit")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	database, err := db.New(cfg.DatabaseDSN())
	if err != nil {
		return err
	}
	defer database.Close()

	if !migrateStatusOnly {
		if err := database.Migrate(ctx); err != nil {
			return err
		}
	}

	version, err := database.MigrationVersion(ctx)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	log.Info(ctx, "database schema", logger.Fields{"version": version})
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", version)
	return nil
}
