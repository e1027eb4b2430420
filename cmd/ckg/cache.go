package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/codegraph/internal/config"
)

var cacheProject string

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the parse result cache",
}

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate",
	Short: "Drop every cached parse result of a project",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cfg.Cache.Enabled {
			return fmt.Errorf("parse cache is disabled (set cache.enabled or CKG_CACHE_ENABLED)")
		}
		engine, err := openEngine(cmd, config.ValidationContextBuild)
		if err != nil {
			return err
		}
		defer engine.Close(context.Background())

		if err := engine.InvalidateCache(cmd.Context(), cacheProject); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Parse cache cleared for %s\n", cacheProject)
		return nil
	},
}

func init() {
	cacheInvalidateCmd.Flags().StringVarP(&cacheProject, "project", "p", "", "project name (required)")
	cacheInvalidateCmd.MarkFlagRequired("project")
	cacheCmd.AddCommand(cacheInvalidateCmd)
}
