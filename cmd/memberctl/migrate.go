package main

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/memberhub/internal/config"
	"github.com/smallbiznis/memberhub/internal/migration"
	"github.com/smallbiznis/memberhub/internal/observability"
	"github.com/smallbiznis/memberhub/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func migrateCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fx.New(
				config.Module,
				observability.Module,
				db.Module,
				migration.Module,
				fx.NopLogger,
			)

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if err := app.Start(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return app.Stop(context.Background())
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "maximum time to wait for migrations")
	cmd.AddCommand(migrateStatusCmd())
	return cmd
}

func migrateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				conn *gorm.DB
				cfg  config.Config
			)
			app := fx.New(
				config.Module,
				observability.Module,
				db.Module,
				fx.Populate(&conn, &cfg),
				fx.NopLogger,
			)
			if err := app.Err(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if cfg.DBType != "" && cfg.DBType != "postgres" {
				fmt.Fprintf(out, "%s schema is managed by AutoMigrate\n", cfg.DBType)
				return nil
			}

			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			defer sqlDB.Close()

			status, err := migration.CurrentStatus(sqlDB)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "version=%d dirty=%t pending=%t\n", status.Version, status.Dirty, status.Pending)
			return nil
		},
	}
}
