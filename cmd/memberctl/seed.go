package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/memberhub/internal/config"
	"github.com/smallbiznis/memberhub/internal/observability"
	"github.com/smallbiznis/memberhub/internal/seed"
	"github.com/smallbiznis/memberhub/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func seedCmd() *cobra.Command {
	var (
		opts    seed.Options
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the bootstrap admin account and default membership levels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				conn     *gorm.DB
				node     *snowflake.Node
				policies *config.PolicyHolder
			)
			app := fx.New(
				config.Module,
				observability.Module,
				fx.Provide(newNode),
				db.Module,
				fx.Populate(&conn, &node, &policies),
				fx.NopLogger,
			)
			if err := app.Err(); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if err := app.Start(ctx); err != nil {
				return err
			}
			defer func() { _ = app.Stop(context.Background()) }()

			if opts.Currency == "" {
				opts.Currency = policies.Get().DefaultCurrency
			}
			result, err := seed.EnsureDefaults(ctx, conn, node, opts)
			if err != nil {
				return fmt.Errorf("seed: %w", err)
			}

			out := cmd.OutOrStdout()
			if result.AdminCreated {
				fmt.Fprintf(out, "admin %s created (id %s)\n", result.Admin.Email, result.Admin.ID)
			} else {
				fmt.Fprintf(out, "admin %s present (id %s)\n", result.Admin.Email, result.Admin.ID)
			}
			fmt.Fprintf(out, "%d membership levels created\n", result.LevelsCreated)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.AdminEmail, "admin-email", "", "email of the bootstrap admin")
	cmd.Flags().StringVar(&opts.AdminName, "admin-name", "", "display name of the bootstrap admin")
	cmd.Flags().StringVar(&opts.Currency, "currency", "", "currency for seeded levels (defaults to the policy currency)")
	cmd.Flags().BoolVar(&opts.SkipLevels, "skip-levels", false, "only seed the admin account")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "maximum time for the run")
	return cmd
}
