package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/memberhub/internal/clock"
	"github.com/smallbiznis/memberhub/internal/config"
	"github.com/smallbiznis/memberhub/internal/event"
	"github.com/smallbiznis/memberhub/internal/lock"
	"github.com/smallbiznis/memberhub/internal/membership"
	"github.com/smallbiznis/memberhub/internal/observability"
	"github.com/smallbiznis/memberhub/internal/order"
	"github.com/smallbiznis/memberhub/internal/payment"
	"github.com/smallbiznis/memberhub/internal/providers"
	"github.com/smallbiznis/memberhub/internal/scheduler"
	"github.com/smallbiznis/memberhub/internal/user"
	"github.com/smallbiznis/memberhub/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Run maintenance jobs once, outside the cron schedule",
	}
	cmd.AddCommand(jobsListCmd())
	cmd.AddCommand(jobsRunCmd())
	return cmd
}

func jobsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List job names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range []string{scheduler.JobExpireOrders, scheduler.JobExpireMemberships} {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func jobsRunCmd() *cobra.Command {
	var (
		all     bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run [job]",
		Short: "Run a single job, or every job with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return fmt.Errorf("job name required (or --all)")
			}

			return runJobs(cmd.Context(), timeout, func(ctx context.Context, sched *scheduler.Scheduler) error {
				if all {
					return sched.RunOnce(ctx)
				}
				return sched.RunJob(ctx, args[0])
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "run every job")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "maximum time for the run")
	return cmd
}

// expireCmd exposes a single job as a top-level command.
func expireCmd(use, short, job string) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobs(cmd.Context(), timeout, func(ctx context.Context, sched *scheduler.Scheduler) error {
				if err := sched.RunJob(ctx, job); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s completed\n", job)
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "maximum time for the run")
	return cmd
}

// runJobs boots the domain graph without the HTTP server or the cron loop and
// hands the scheduler to fn.
func runJobs(parent context.Context, timeout time.Duration, fn func(context.Context, *scheduler.Scheduler) error) error {
	var sched *scheduler.Scheduler
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(newNode),
		db.Module,
		clock.Module,
		lock.Module,
		providers.Module,
		user.Module,
		order.Module,
		membership.Module,
		event.Module,
		payment.Module,
		fx.Provide(scheduler.ProvideConfig, scheduler.New),
		fx.Populate(&sched),
		fx.NopLogger,
	)
	if err := app.Err(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = app.Stop(context.Background()) }()

	return fn(ctx, sched)
}

// newNode uses a node id distinct from the server so ids minted by a manual
// run never collide with live traffic.
func newNode() (*snowflake.Node, error) {
	return snowflake.NewNode(2)
}
