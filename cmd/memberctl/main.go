package main

import (
	"fmt"
	"os"

	"github.com/smallbiznis/memberhub/internal/scheduler"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "memberctl",
		Short:         "Operational commands for the memberhub service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(jobsCmd())
	rootCmd.AddCommand(expireCmd("expire-orders", "Expire pending orders past their deadline", scheduler.JobExpireOrders))
	rootCmd.AddCommand(expireCmd("expire-memberships", "Expire memberships past their end date", scheduler.JobExpireMemberships))
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
