// Package pipeline wires parsing, graph commit and analysis into the
// BuildAndAnalyze entry point used by the CLI.
package pipeline

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/rohankatakam/codegraph/internal/analysis"
	"github.com/rohankatakam/codegraph/internal/cache"
	"github.com/rohankatakam/codegraph/internal/config"
	"github.com/rohankatakam/codegraph/internal/errors"
	"github.com/rohankatakam/codegraph/internal/graph"
	"github.com/rohankatakam/codegraph/internal/ingestion"
	"github.com/rohankatakam/codegraph/internal/metrics"
	"github.com/rohankatakam/codegraph/internal/models"
	"github.com/rohankatakam/codegraph/internal/treesitter"
)

const defaultMaxProjects = 4

// Engine owns one store and runs projects against it
type Engine struct {
	store       graph.Store
	cache       cache.Cache
	coordinator *ingestion.Coordinator
	builder     *graph.Builder
	query       *graph.QueryInterface
	analyzer    *analysis.Analyzer
	metrics     *metrics.Collector
	logger      *logrus.Logger
	maxProjects int
}

// Options carries the optional collaborators of an Engine
type Options struct {
	// Cache keeps parse results between runs; nil disables it
	Cache cache.Cache
	// Registry selects parser plugins; nil means every built-in plugin
	Registry *treesitter.Registry
	Metrics  *metrics.Collector
	// MaxProjects bounds BuildAndAnalyzeAll concurrency (default 4)
	MaxProjects int
}

// New assembles an engine around an open store. The engine takes ownership
// of store and opts.Cache; Close releases both.
func New(cfg *config.Config, store graph.Store, logger *logrus.Logger, opts Options) (*Engine, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	policy, err := analysis.PolicyFrom(cfg.Analysis)
	if err != nil {
		return nil, err
	}

	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	maxProjects := opts.MaxProjects
	if maxProjects <= 0 {
		maxProjects = defaultMaxProjects
	}

	var resultCache ingestion.ResultCache
	if opts.Cache != nil {
		resultCache = opts.Cache
	}

	query := graph.NewQueryInterface(store, cfg.Graph.QueryTimeout, logger)
	return &Engine{
		store: store,
		cache: opts.Cache,
		coordinator: ingestion.NewCoordinator(ingestion.ConfigFrom(cfg.Parser), opts.Registry, resultCache, logger).
			WithMetrics(m),
		builder: graph.NewBuilder(store, graph.BatchConfigFrom(cfg.Graph), logger,
			graph.WithCommitTimeout(cfg.Graph.CommitTimeout),
			graph.WithWriteRate(cfg.Graph.WritesPerSecond),
			graph.WithBuilderMetrics(m),
		),
		query:       query,
		analyzer:    analysis.NewAnalyzer(query, policy, logger, analysis.WithAnalyzerMetrics(m)),
		metrics:     m,
		logger:      logger,
		maxProjects: maxProjects,
	}, nil
}

// NewFromConfig opens the configured graph store and, when enabled, the
// parse cache
func NewFromConfig(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*Engine, error) {
	store, err := graph.Open(ctx, cfg, logger)
	if err != nil {
		return nil, errors.DatabaseErrorf(err, "failed to open %s graph store", cfg.Storage.Backend)
	}

	var resultCache cache.Cache
	if cfg.Cache.Enabled {
		resultCache, err = cache.Open(ctx, cfg.Cache, logger)
		if err != nil {
			store.Close(ctx)
			return nil, errors.DatabaseErrorf(err, "failed to open %s parse cache", cfg.Cache.Driver)
		}
	}

	engine, err := New(cfg, store, logger, Options{Cache: resultCache})
	if err != nil {
		store.Close(ctx)
		if resultCache != nil {
			resultCache.Close()
		}
		return nil, err
	}
	return engine, nil
}

// Report is everything one project run produced
type Report struct {
	ProjectName string                       `json:"project_name" yaml:"project_name"`
	Parse       ingestion.ParseStats         `json:"parse" yaml:"parse"`
	ParseErrors []models.ParseError          `json:"parse_errors,omitempty" yaml:"parse_errors,omitempty"`
	Graph       *models.GraphOperationResult `json:"graph" yaml:"graph"`
	Analyses    []*models.AnalysisResult     `json:"analyses,omitempty" yaml:"analyses,omitempty"`
	Findings    []models.AnalysisFinding     `json:"findings" yaml:"findings"`
	Duration    time.Duration                `json:"duration" yaml:"duration"`
}

// Run parses path, commits the result and runs both detectors. Analysis is
// skipped when parsing or the commit failed.
func (e *Engine) Run(ctx context.Context, project, path string, languages []string) *Report {
	start := time.Now()
	log := e.logger.WithFields(logrus.Fields{"project": project, "path": path})
	report := &Report{ProjectName: project, Findings: []models.AnalysisFinding{}}
	defer func() { report.Duration = time.Since(start) }()

	parsed := e.coordinator.ParseProject(ctx, project, path, languages)
	report.Parse = parsed.Stats
	report.ParseErrors = parsed.Aggregate.Errors
	if !parsed.Success {
		report.Graph = &models.GraphOperationResult{ProjectName: project, Error: parsed.Error}
		log.WithField("error", parsed.Error).Warn("skipping commit and analysis")
		return report
	}

	report.Graph = e.builder.Commit(ctx, project, parsed.Aggregate)
	if !report.Graph.Success {
		log.WithField("error", report.Graph.Error).Warn("skipping analysis")
		return report
	}

	for _, detect := range []func(context.Context, string) *models.AnalysisResult{
		e.analyzer.DetectCircularDependencies,
		e.analyzer.DetectUnusedElements,
	} {
		res := detect(ctx, project)
		report.Analyses = append(report.Analyses, res)
		report.Findings = append(report.Findings, res.Findings...)
	}

	log.WithFields(logrus.Fields{
		"entities": report.Parse.Entities,
		"findings": len(report.Findings),
		"duration": time.Since(start).String(),
	}).Info("build and analyze complete")
	return report
}

// BuildAndAnalyze is the upstream entry point: parse, commit, analyze
func (e *Engine) BuildAndAnalyze(ctx context.Context, project, path string, languages []string) (*models.GraphOperationResult, []models.AnalysisFinding) {
	report := e.Run(ctx, project, path, languages)
	return report.Graph, report.Findings
}

// ProjectSpec names one project for BuildAndAnalyzeAll
type ProjectSpec struct {
	Name      string   `json:"name" yaml:"name"`
	Path      string   `json:"path" yaml:"path"`
	Languages []string `json:"languages,omitempty" yaml:"languages,omitempty"`
}

// BuildAndAnalyzeAll runs independent projects concurrently. Reports are
// returned in input order; a failed project does not stop the others.
func (e *Engine) BuildAndAnalyzeAll(ctx context.Context, projects []ProjectSpec) []*Report {
	reports := make([]*Report, len(projects))

	var g errgroup.Group
	g.SetLimit(e.maxProjects)
	for i, p := range projects {
		g.Go(func() error {
			reports[i] = e.Run(ctx, p.Name, p.Path, p.Languages)
			return nil
		})
	}
	g.Wait()
	return reports
}

// GetEntities lists committed entities of a type; empty type means all
func (e *Engine) GetEntities(ctx context.Context, project string, entityType models.EntityType) ([]models.CodeEntity, error) {
	return e.query.GetEntities(ctx, project, entityType)
}

// GetRelationships lists committed edges of a type; empty type means all
func (e *Engine) GetRelationships(ctx context.Context, project string, relType models.RelationshipType) ([]models.Relationship, error) {
	return e.query.GetRelationships(ctx, project, relType)
}

func (e *Engine) GetNeighbors(ctx context.Context, project, qualifiedName string, relType models.RelationshipType, dir graph.Direction) ([]models.CodeEntity, error) {
	return e.query.GetNeighbors(ctx, project, qualifiedName, relType, dir)
}

func (e *Engine) DetectCircularDependencies(ctx context.Context, project string) *models.AnalysisResult {
	return e.analyzer.DetectCircularDependencies(ctx, project)
}

func (e *Engine) DetectUnusedElements(ctx context.Context, project string) *models.AnalysisResult {
	return e.analyzer.DetectUnusedElements(ctx, project)
}

// DropProject deletes the committed graph of a project and its cached
// parse results
func (e *Engine) DropProject(ctx context.Context, project string) error {
	if err := e.store.DropProject(ctx, project); err != nil {
		return err
	}
	if e.cache != nil {
		return e.cache.Invalidate(ctx, project)
	}
	return nil
}

// InvalidateCache drops cached parse results of a project
func (e *Engine) InvalidateCache(ctx context.Context, project string) error {
	if e.cache == nil {
		return errors.ValidationErrorf("parse cache is not enabled")
	}
	return e.cache.Invalidate(ctx, project)
}

// HealthCheck probes the graph store
func (e *Engine) HealthCheck(ctx context.Context) error {
	return e.store.HealthCheck(ctx)
}

// Metrics returns the engine's collector
func (e *Engine) Metrics() *metrics.Collector {
	return e.metrics
}

// Close releases the store and the cache
func (e *Engine) Close(ctx context.Context) error {
	var cacheErr error
	if e.cache != nil {
		cacheErr = e.cache.Close()
	}
	if err := e.store.Close(ctx); err != nil {
		return err
	}
	return cacheErr
}
