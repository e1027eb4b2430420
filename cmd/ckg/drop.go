package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/codegraph/internal/config"
)

var (
	dropProject string
	dropConfirm bool
)

var dropCmd = &cobra.Command{
	Use:   "drop",
	Short: "Delete a project's graph and cached parse results",
	Long: `Delete every entity and relationship of a project from the graph store,
along with its parse cache entries. Other projects are untouched.

Examples:
  ckg drop -p billing --yes`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !dropConfirm {
			return fmt.Errorf("refusing to drop %s without --yes", dropProject)
		}
		engine, err := openEngine(cmd, config.ValidationContextBuild)
		if err != nil {
			return err
		}
		defer engine.Close(context.Background())

		if err := engine.DropProject(cmd.Context(), dropProject); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Dropped project %s\n", dropProject)
		return nil
	},
}

func init() {
	dropCmd.Flags().StringVarP(&dropProject, "project", "p", "", "project name (required)")
	dropCmd.Flags().BoolVar(&dropConfirm, "yes", false, "confirm deletion")
	dropCmd.MarkFlagRequired("project")
}
