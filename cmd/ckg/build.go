package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/codegraph/internal/config"
	"github.com/rohankatakam/codegraph/internal/pipeline"
)

var (
	buildProject     string
	buildLanguages   []string
	buildWorkers     int
	buildMetricsAddr string
)

var buildCmd = &cobra.Command{
	Use:   "build <path> [path...]",
	Short: "Parse source trees, commit the graph and run both analyses",
	Long: `Parse every supported file under each path, commit entities and
relationships to the graph store, then detect circular dependencies and
unused elements.

Several paths are processed concurrently as independent projects, each
named after its directory unless --project is given for a single path.

Examples:
  ckg build ./service --project billing
  ckg build ./api ./worker --languages python,typescript
  ckg build . --storage bolt --bolt-path /tmp/graph.db -o json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().StringVarP(&buildProject, "project", "p", "", "project name (single path only; default: directory name)")
	buildCmd.Flags().StringSliceVarP(&buildLanguages, "languages", "l", nil, "languages to parse (default: all registered)")
	buildCmd.Flags().IntVarP(&buildWorkers, "workers", "w", 0, "number of concurrent parsers (overrides config)")
	buildCmd.Flags().StringVar(&buildMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while building")
}

func runBuild(cmd *cobra.Command, args []string) error {
	if buildProject != "" && len(args) > 1 {
		return fmt.Errorf("--project can only be used with a single path")
	}
	if buildWorkers > 0 {
		cfg.Parser.Workers = buildWorkers
	}
	languages := buildLanguages
	if len(languages) == 0 {
		languages = cfg.Parser.Languages
	}

	out, err := formatter()
	if err != nil {
		return err
	}
	engine, err := openEngine(cmd, config.ValidationContextBuild)
	if err != nil {
		return err
	}
	defer engine.Close(context.Background())

	if buildMetricsAddr != "" {
		stop := serveMetrics(engine, buildMetricsAddr)
		defer stop()
	}

	specs := make([]pipeline.ProjectSpec, len(args))
	for i, path := range args {
		abs, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", path, err)
		}
		name := buildProject
		if name == "" {
			name = filepath.Base(abs)
		}
		specs[i] = pipeline.ProjectSpec{Name: name, Path: abs, Languages: languages}
	}

	reports := engine.BuildAndAnalyzeAll(cmd.Context(), specs)

	var failed []string
	for _, r := range reports {
		if err := out.Report(cmd.OutOrStdout(), r); err != nil {
			return err
		}
		if r.Graph == nil || !r.Graph.Success {
			failed = append(failed, r.ProjectName)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("build failed for %s", strings.Join(failed, ", "))
	}
	return nil
}

func serveMetrics(engine *pipeline.Engine, addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", engine.Metrics().WithRuntimeCollectors().Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("metrics server failed")
		}
	}()
	logger.WithField("addr", addr).Info("serving metrics")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}
