package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/codegraph/internal/config"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the configured graph store is reachable",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine(cmd, config.ValidationContextAnalyze)
		if err != nil {
			return err
		}
		defer engine.Close(context.Background())

		if err := engine.HealthCheck(cmd.Context()); err != nil {
			return fmt.Errorf("graph store unhealthy: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Graph store (%s) is healthy\n", cfg.Storage.Backend)
		return nil
	},
}
