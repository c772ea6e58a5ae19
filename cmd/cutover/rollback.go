package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Route traffic back to the previous color",
	Long: `Rollback restarts the previous color if needed, health-gates it with a
shortened budget and flips the proxy back. The containers promoted by
the bad deployment are stopped and removed afterwards.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, runner, err := connect()
		if err != nil {
			return err
		}
		defer runner.Close()

		if err := newDeployer(cfg, runner).Rollback(ctx); err != nil {
			return err
		}

		fmt.Println("✓ Rolled back to the previous version")
		return nil
	},
}
