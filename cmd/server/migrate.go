package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"semaphore/coursework/internal/config"
	"semaphore/coursework/internal/db/postgres"
	"semaphore/coursework/internal/db/sqlite"
	"semaphore/coursework/internal/telemetry"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back schema migrations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd, 0)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back migrations, one step by default",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n <= 0 {
					return fmt.Errorf("invalid step count %q", args[0])
				}
				steps = n
			}
			return runMigrate(cmd, -steps)
		},
	})
	return cmd
}

func runMigrate(cmd *cobra.Command, steps int) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := telemetry.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	switch cfg.DatabaseDriver {
	case "sqlite":
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.Migrate(steps); err != nil {
			return err
		}
	default:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := postgres.Migrate(pool, steps); err != nil {
			return err
		}
	}
	log.Info().Str("driver", cfg.DatabaseDriver).Int("steps", steps).Msg("migrations applied")
	return nil
}
