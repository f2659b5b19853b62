package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/meikuraledutech/flowgraph/postgres"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Manage the Postgres schema",
}

var schemaCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create the users and workflows tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, s *postgres.PGStore) error {
			return s.CreateSchema(ctx)
		})
	},
}

var schemaDropCmd = &cobra.Command{
	Use:   "drop",
	Short: "Drop all flowgraph tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return fmt.Errorf("refusing to drop tables without --yes")
		}
		return withStore(cmd, func(ctx context.Context, s *postgres.PGStore) error {
			return s.DropSchema(ctx)
		})
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)
	schemaCmd.AddCommand(schemaCreateCmd, schemaDropCmd)
	schemaDropCmd.Flags().Bool("yes", false, "Confirm dropping the tables")
}

func withStore(cmd *cobra.Command, fn func(context.Context, *postgres.PGStore) error) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is not set")
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if err := fn(ctx, postgres.New(pool)); err != nil {
		return err
	}
	logger.Info("schema updated", "command", cmd.Name())
	return nil
}
