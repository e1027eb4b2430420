package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/codegraph/internal/config"
	"github.com/rohankatakam/codegraph/internal/models"
	"github.com/rohankatakam/codegraph/internal/pipeline"
)

var analyzeProject string

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run an analysis over an already committed project",
}

var analyzeCyclesCmd = &cobra.Command{
	Use:   "cycles",
	Short: "Detect circular dependencies",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAnalysis(cmd, (*pipeline.Engine).DetectCircularDependencies)
	},
}

var analyzeUnusedCmd = &cobra.Command{
	Use:   "unused",
	Short: "Detect unused classes, interfaces, functions and methods",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAnalysis(cmd, (*pipeline.Engine).DetectUnusedElements)
	},
}

func init() {
	analyzeCmd.PersistentFlags().StringVarP(&analyzeProject, "project", "p", "", "project name (required)")
	analyzeCmd.MarkPersistentFlagRequired("project")
	analyzeCmd.AddCommand(analyzeCyclesCmd)
	analyzeCmd.AddCommand(analyzeUnusedCmd)
}

func runAnalysis(cmd *cobra.Command, detect func(*pipeline.Engine, context.Context, string) *models.AnalysisResult) error {
	out, err := formatter()
	if err != nil {
		return err
	}
	engine, err := openEngine(cmd, config.ValidationContextAnalyze)
	if err != nil {
		return err
	}
	defer engine.Close(context.Background())

	res := detect(engine, cmd.Context(), analyzeProject)
	if err := out.Analysis(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("%s failed: %s", res.Analysis, res.Error)
	}
	return nil
}
