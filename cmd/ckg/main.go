package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/codegraph/internal/config"
	"github.com/rohankatakam/codegraph/internal/errors"
	"github.com/rohankatakam/codegraph/internal/logging"
	"github.com/rohankatakam/codegraph/internal/output"
	"github.com/rohankatakam/codegraph/internal/pipeline"
)

var (
	// Version information (set by build flags)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	cfgFile      string
	verbose      bool
	outputFormat string
	storage      string
	boltPath     string

	logger *logging.Logger
	cfg    *config.Config
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if logger != nil {
		logger.Close()
	}
	if err != nil {
		os.Exit(report(err))
	}
}

// report prints err and returns the exit code. Critical errors such as bad
// configuration or an unreachable store exit with 2.
func report(err error) int {
	var e *errors.Error
	if verbose && stderrors.As(err, &e) {
		fmt.Fprint(os.Stderr, e.DetailedString())
	} else {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	if errors.IsFatal(err) {
		return 2
	}
	return 1
}

var rootCmd = &cobra.Command{
	Use:   "ckg",
	Short: "Code knowledge graph builder and architectural analyzer",
	Long: `ckg parses source trees with tree-sitter, commits entities and
relationships to a graph store (Neo4j or an embedded bbolt file) and
detects circular dependencies and unused code over the stored graph.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		if storage != "" {
			cfg.Storage.Backend = storage
		}
		if boltPath != "" {
			cfg.Storage.BoltPath = boltPath
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}

		logger, err = logging.New(logging.Config{
			Level:      cfg.Logging.Level,
			Format:     cfg.Logging.Format,
			OutputFile: cfg.Logging.File,
		})
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: .ckg/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "", "output format: quiet, standard, json, yaml (default from environment)")
	rootCmd.PersistentFlags().StringVar(&storage, "storage", "", "graph backend: neo4j or bolt (overrides config)")
	rootCmd.PersistentFlags().StringVar(&boltPath, "bolt-path", "", "bbolt graph file for --storage bolt")

	rootCmd.SetVersionTemplate(`ckg {{.Version}}
Build time: ` + BuildTime + `
Git commit: ` + GitCommit + `
`)

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(entitiesCmd)
	rootCmd.AddCommand(relationshipsCmd)
	rootCmd.AddCommand(neighborsCmd)
	rootCmd.AddCommand(dropCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(healthCmd)
}

// openEngine validates the config for ctx and opens the store
func openEngine(cmd *cobra.Command, vctx config.ValidationContext) (*pipeline.Engine, error) {
	if err := cfg.ValidateOrError(vctx); err != nil {
		return nil, err
	}
	return pipeline.NewFromConfig(cmd.Context(), cfg, logger.Logger)
}

func formatter() (output.Formatter, error) {
	if outputFormat == "" {
		return output.NewFormatter(output.DefaultFormat()), nil
	}
	f, err := output.ParseFormat(outputFormat)
	if err != nil {
		return nil, err
	}
	return output.NewFormatter(f), nil
}
