package ingestion

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/codegraph/internal/config"
	"github.com/rohankatakam/codegraph/internal/metrics"
	"github.com/rohankatakam/codegraph/internal/models"
	"github.com/rohankatakam/codegraph/internal/treesitter"
)

// Config holds configuration for project parsing
type Config struct {
	Workers     int           // Number of concurrent parsers (default: 20)
	FileTimeout time.Duration // Per-file parsing timeout (default: 30s)
	Deadline    time.Duration // Bound on the whole parse; 0 disables it
	MaxFileSize int64         // Larger files are skipped; 0 disables the check
	ExcludeDirs []string      // Added to the built-in exclusion list
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Workers:     20,
		FileTimeout: 30 * time.Second,
		Deadline:    10 * time.Minute,
		MaxFileSize: 2 << 20,
	}
}

// ConfigFrom maps the parser section of the application config
func ConfigFrom(c config.ParserConfig) Config {
	return Config{
		Workers:     c.Workers,
		FileTimeout: c.FileTimeout,
		Deadline:    c.Deadline,
		MaxFileSize: c.MaxFileSize,
		ExcludeDirs: c.ExcludeDirs,
	}
}

// ResultCache stores per-file parse results between runs. A cached result
// is only valid for the same content hash and parser version.
type ResultCache interface {
	Lookup(ctx context.Context, project, filePath, contentHash, parserVersion string) (*models.ParseResult, bool, error)
	Store(ctx context.Context, project string, result *models.ParseResult) error
}

// ParseStats describes one coordinator run
type ParseStats struct {
	FilesSeen         int            `json:"files_seen"`
	FilesParsed       int            `json:"files_parsed"`
	FilesFailed       int            `json:"files_failed"`
	FilesCached       int            `json:"files_cached"`
	FilesAbandoned    int            `json:"files_abandoned"`
	FilesSkipped      int            `json:"files_skipped"`
	Entities          int            `json:"entities"`
	Relationships     int            `json:"relationships"`
	Duplicates        int            `json:"duplicates"`
	DuplicateEdges    int            `json:"duplicate_edges"`
	ResolvedHeuristic int            `json:"resolved_heuristic"`
	Unresolved        int            `json:"unresolved"`
	Ambiguous         int            `json:"ambiguous"`
	ByLanguage        map[string]int `json:"by_language"`
	Elapsed           time.Duration  `json:"elapsed"`
}

// Result is the outcome of parsing a whole project
type Result struct {
	Aggregate *models.ParseResult
	Stats     ParseStats
	Success   bool
	Error     string
}

// Coordinator orchestrates: walk → parse → aggregate
type Coordinator struct {
	config   Config
	registry *treesitter.Registry
	cache    ResultCache
	logger   *logrus.Logger
	metrics  *metrics.Collector
}

// NewCoordinator creates a coordinator. cache may be nil.
func NewCoordinator(cfg Config, registry *treesitter.Registry, cache ResultCache, logger *logrus.Logger) *Coordinator {
	defaults := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	if cfg.FileTimeout <= 0 {
		cfg.FileTimeout = defaults.FileTimeout
	}
	if registry == nil {
		registry = treesitter.DefaultRegistry()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Coordinator{
		config:   cfg,
		registry: registry,
		cache:    cache,
		logger:   logger,
	}
}

// WithMetrics attaches a collector for per-file outcomes
func (c *Coordinator) WithMetrics(m *metrics.Collector) *Coordinator {
	c.metrics = m
	return c
}

type fileStatus int

const (
	statusParsed fileStatus = iota
	statusCached
	statusFailed
	statusAbandoned
)

func (s fileStatus) String() string {
	switch s {
	case statusParsed:
		return "parsed"
	case statusCached:
		return "cached"
	case statusFailed:
		return "failed"
	default:
		return "abandoned"
	}
}

type fileOutcome struct {
	path   string
	status fileStatus
	result *models.ParseResult
}

// ParseProject parses every supported file under root. languages narrows the
// registry; empty means all. Per-file failures are recorded and skipped;
// the run fails only when the walk fails or nothing was extracted.
func (c *Coordinator) ParseProject(ctx context.Context, project, root string, languages []string) *Result {
	start := time.Now()
	log := c.logger.WithFields(logrus.Fields{"project": project, "root": root})

	res := &Result{
		Aggregate: models.NewParseResult(root, ""),
		Stats:     ParseStats{ByLanguage: map[string]int{}},
	}
	if !isDir(root) {
		res.Error = fmt.Sprintf("project root %q is not a directory", root)
		log.Error(res.Error)
		return res
	}

	registry := c.registry.ForLanguages(languages)
	if registry.Len() == 0 {
		res.Error = fmt.Sprintf("no parser plugin for languages %v", languages)
		log.Error(res.Error)
		return res
	}

	log.WithFields(logrus.Fields{
		"workers":   c.config.Workers,
		"languages": registry.Languages(),
	}).Info("starting project parse")

	parseCtx := ctx
	if c.config.Deadline > 0 {
		var cancel context.CancelFunc
		parseCtx, cancel = context.WithTimeout(ctx, c.config.Deadline)
		defer cancel()
	}

	var walkStats WalkStats
	files, walkErrs := WalkSourceFiles(ctx, root, WalkOptions{
		Accept:      func(path string) bool { return registry.PluginFor(path) != nil },
		ExcludeDirs: c.config.ExcludeDirs,
		MaxFileSize: c.config.MaxFileSize,
	}, &walkStats)

	outcomes := make(chan fileOutcome, c.config.Workers)
	var wg sync.WaitGroup
	for w := 0; w < c.config.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range files {
				if parseCtx.Err() != nil {
					// keep draining so the walker can finish
					outcomes <- fileOutcome{path: path, status: statusAbandoned}
					continue
				}
				outcomes <- c.parseFile(parseCtx, project, root, path, registry.PluginFor(path))
			}
		}()
	}
	go func() {
		wg.Wait()
		close(outcomes)
	}()

	var collected []fileOutcome
	for o := range outcomes {
		res.Stats.FilesSeen++
		if plugin := registry.PluginFor(o.path); plugin != nil {
			c.metrics.FileProcessed(plugin.Language(), o.status.String())
		}
		switch o.status {
		case statusParsed:
			res.Stats.FilesParsed++
		case statusCached:
			res.Stats.FilesParsed++
			res.Stats.FilesCached++
		case statusFailed:
			res.Stats.FilesFailed++
		case statusAbandoned:
			res.Stats.FilesAbandoned++
			continue
		}
		collected = append(collected, o)
	}
	walkErr := <-walkErrs
	res.Stats.FilesSkipped = walkStats.Skipped

	c.merge(project, collected, res, log)
	newResolver(res.Aggregate, log).resolve(res)
	res.Aggregate.SetProject(project)
	res.Aggregate.Metadata["project_name"] = project

	res.Stats.Entities = len(res.Aggregate.Entities)
	res.Stats.Relationships = len(res.Aggregate.Relationships)
	res.Stats.Elapsed = time.Since(start)
	c.metrics.ParseFinished(res.Stats.Elapsed)

	switch {
	case walkErr != nil:
		res.Error = fmt.Sprintf("failed to walk %s: %v", root, walkErr)
	case res.Stats.FilesParsed == 0:
		res.Error = fmt.Sprintf("no entities extracted from %d files", res.Stats.FilesSeen)
	default:
		res.Success = true
	}

	fields := logrus.Fields{
		"files":      res.Stats.FilesSeen,
		"parsed":     res.Stats.FilesParsed,
		"failed":     res.Stats.FilesFailed,
		"cached":     res.Stats.FilesCached,
		"abandoned":  res.Stats.FilesAbandoned,
		"entities":   res.Stats.Entities,
		"duplicates": res.Stats.Duplicates,
		"duration":   res.Stats.Elapsed.String(),
	}
	if res.Success {
		log.WithFields(fields).Info("project parse complete")
	} else {
		log.WithFields(fields).WithField("error", res.Error).Error("project parse failed")
	}
	return res
}

// parseFile runs one plugin under the per-file timeout, consulting the cache first
func (c *Coordinator) parseFile(ctx context.Context, project, root, path string, plugin treesitter.Plugin) fileOutcome {
	out := fileOutcome{path: treesitter.RelativePath(path, root)}

	var hash string
	if c.cache != nil {
		if content, err := os.ReadFile(path); err == nil {
			hash = treesitter.ContentHash(content)
			cached, ok, err := c.cache.Lookup(ctx, project, out.path, hash, plugin.Version())
			if err != nil {
				c.logger.WithError(err).WithField("file", out.path).Warn("parse cache lookup failed")
			} else if ok {
				out.status = statusCached
				out.result = cached
				return out
			}
		}
	}

	fileCtx, cancel := context.WithTimeout(ctx, c.config.FileTimeout)
	defer cancel()

	done := make(chan *models.ParseResult, 1)
	go func() {
		done <- plugin.Parse(fileCtx, path, root)
	}()

	select {
	case result := <-done:
		out.result = result
	case <-fileCtx.Done():
		if ctx.Err() != nil {
			out.status = statusAbandoned
			return out
		}
		result := models.NewParseResult(out.path, plugin.Language())
		result.AddError(0, "parse timed out after %s", c.config.FileTimeout)
		out.result = result
	}

	if out.result.HasErrors() {
		out.status = statusFailed
		if ctx.Err() != nil {
			// the deadline fired mid-parse
			out.status = statusAbandoned
		}
		return out
	}
	out.status = statusParsed

	if c.cache != nil && out.result.Metadata[models.MetaContentHash] != "" {
		if err := c.cache.Store(ctx, project, out.result); err != nil {
			c.logger.WithError(err).WithField("file", out.path).Warn("parse cache store failed")
		}
	}
	return out
}

// merge folds per-file results into the aggregate in sorted path order.
// The first definition of a qualified name wins; reference edges leaving a
// dropped definition are dropped with it.
func (c *Coordinator) merge(project string, outcomes []fileOutcome, res *Result, log *logrus.Entry) {
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].path < outcomes[j].path })

	agg := res.Aggregate
	agg.Entities = append(agg.Entities, models.CodeEntity{
		QualifiedName: project,
		Name:          project,
		EntityType:    models.EntityProject,
		Visibility:    models.VisibilityPublic,
	})
	seen := map[string]string{project: ""}
	edges := map[string]bool{}

	for _, o := range outcomes {
		r := o.result
		if r.HasErrors() {
			agg.Errors = append(agg.Errors, r.Errors...)
			for _, e := range r.Errors {
				log.WithField("file", e.FilePath).WithField("line", e.Line).Warn(e.Message)
			}
			continue
		}
		res.Stats.ByLanguage[r.Language]++

		for _, w := range r.Warnings {
			agg.AddWarning("%s: %s", r.FilePath, w)
		}
		dropped := map[string]bool{}
		for _, e := range r.Entities {
			if first, dup := seen[e.QualifiedName]; dup {
				dropped[e.QualifiedName] = true
				res.Stats.Duplicates++
				agg.AddWarning("duplicate qualified name %s in %s; keeping definition from %s", e.QualifiedName, r.FilePath, first)
				log.WithFields(logrus.Fields{
					"qualified_name": e.QualifiedName,
					"file":           r.FilePath,
					"kept":           first,
				}).Warn("duplicate qualified name dropped")
				continue
			}
			seen[e.QualifiedName] = e.FilePath
			agg.Entities = append(agg.Entities, e)
			if e.EntityType == models.EntityFile {
				agg.Relationships = append(agg.Relationships, models.Relationship{
					SourceQualifiedName: project,
					TargetQualifiedName: e.QualifiedName,
					RelationshipType:    models.RelContains,
					Resolution:          models.ResolutionExact,
				})
				edges[agg.Relationships[len(agg.Relationships)-1].Key()] = true
			}
		}
		skipped := 0
		for _, rel := range r.Relationships {
			if dropped[rel.SourceQualifiedName] && !rel.RelationshipType.IsStructural() {
				skipped++
				continue
			}
			if edges[rel.Key()] {
				continue
			}
			edges[rel.Key()] = true
			agg.Relationships = append(agg.Relationships, rel)
		}
		if skipped > 0 {
			res.Stats.DuplicateEdges += skipped
			log.WithFields(logrus.Fields{
				"file":  r.FilePath,
				"edges": skipped,
			}).Warn("dropped references of duplicate definitions")
		}
	}
}
