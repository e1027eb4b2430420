// Package analysis runs structural detectors over a committed project graph:
// circular dependencies (strongly connected components) and unused elements
// (reachability from entry points). Findings are recomputed on every call.
package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/codegraph/internal/errors"
	"github.com/rohankatakam/codegraph/internal/graph"
	"github.com/rohankatakam/codegraph/internal/metrics"
	"github.com/rohankatakam/codegraph/internal/models"
)

// Analysis names
const (
	AnalysisCycles = "circular_dependencies"
	AnalysisUnused = "unused_elements"
)

// SnapshotReader loads a whole project graph in one read
type SnapshotReader interface {
	Snapshot(ctx context.Context, project string) (*graph.Snapshot, error)
}

// transitions lists the allowed next states
var transitions = map[models.AnalysisState][]models.AnalysisState{
	models.StateRequested:   {models.StateGraphLoaded, models.StateFailed},
	models.StateGraphLoaded: {models.StateComputing, models.StateFailed},
	models.StateComputing:   {models.StateCompleted, models.StateFailed},
}

// Analyzer runs detectors against a graph reader
type Analyzer struct {
	reader  SnapshotReader
	policy  Policy
	logger  *logrus.Logger
	metrics *metrics.Collector
}

// AnalyzerOption configures an Analyzer
type AnalyzerOption func(*Analyzer)

// WithAnalyzerMetrics records run outcomes and findings in m
func WithAnalyzerMetrics(m *metrics.Collector) AnalyzerOption {
	return func(a *Analyzer) { a.metrics = m }
}

func NewAnalyzer(reader SnapshotReader, policy Policy, logger *logrus.Logger, opts ...AnalyzerOption) *Analyzer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	a := &Analyzer{reader: reader, policy: policy, logger: logger}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// DetectCircularDependencies reports one finding per dependency cycle
func (a *Analyzer) DetectCircularDependencies(ctx context.Context, project string) *models.AnalysisResult {
	return a.run(ctx, project, AnalysisCycles, a.policy.CycleRelationshipTypes, cycleFindings)
}

// DetectUnusedElements reports candidates unreachable from every entry point
func (a *Analyzer) DetectUnusedElements(ctx context.Context, project string) *models.AnalysisResult {
	return a.run(ctx, project, AnalysisUnused, nil, unusedFindings)
}

type detector func(ctx context.Context, g *codeGraph, p Policy) ([]models.AnalysisFinding, error)

// run drives one detector through the state machine. It never panics and
// never returns nil.
func (a *Analyzer) run(ctx context.Context, project, name string, edgeTypes []models.RelationshipType, detect detector) (result *models.AnalysisResult) {
	start := time.Now()
	result = &models.AnalysisResult{
		ProjectName: project,
		Analysis:    name,
		State:       models.StateRequested,
		Findings:    []models.AnalysisFinding{},
	}
	log := a.logger.WithFields(logrus.Fields{"project": project, "analysis": name})

	defer func() {
		if r := recover(); r != nil {
			a.fail(result, log, errors.InternalErrorf("analysis panicked: %v", r))
		}
		result.Duration = time.Since(start)
		a.metrics.AnalysisFinished(name, string(result.State), result.Duration)
		for _, f := range result.Findings {
			a.metrics.FindingReported(string(f.FindingType), string(f.Severity))
		}
		log.WithFields(logrus.Fields{
			"state":    result.State,
			"findings": len(result.Findings),
			"duration": result.Duration,
		}).Info("analysis finished")
	}()

	if project == "" {
		a.fail(result, log, errors.ValidationErrorf("project name is required"))
		return result
	}

	if a.policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.policy.Timeout)
		defer cancel()
	}

	snap, err := a.reader.Snapshot(ctx, project)
	if err != nil {
		a.fail(result, log, errors.AnalysisError(err, "failed to load project graph"))
		return result
	}
	g, err := newCodeGraph(ctx, snap, edgeTypes)
	if err != nil {
		a.fail(result, log, errors.AnalysisError(err, "failed to build analysis graph"))
		return result
	}
	if err := a.transition(result, models.StateGraphLoaded); err != nil {
		a.fail(result, log, err)
		return result
	}
	log.WithFields(logrus.Fields{"nodes": len(g.nodes)}).Debug("graph loaded")

	if err := a.transition(result, models.StateComputing); err != nil {
		a.fail(result, log, err)
		return result
	}
	findings, err := detect(ctx, g, a.policy)
	if err != nil {
		a.fail(result, log, errors.AnalysisError(err, "detector failed"))
		return result
	}

	if err := a.transition(result, models.StateCompleted); err != nil {
		a.fail(result, log, err)
		return result
	}
	if findings != nil {
		result.Findings = findings
	}
	result.Success = true
	return result
}

func (a *Analyzer) transition(r *models.AnalysisResult, to models.AnalysisState) error {
	for _, next := range transitions[r.State] {
		if next == to {
			r.State = to
			return nil
		}
	}
	return errors.InternalErrorf("invalid analysis transition %s -> %s", r.State, to)
}

// fail moves r to FAILED from any non-terminal state and drops its findings
func (a *Analyzer) fail(r *models.AnalysisResult, log *logrus.Entry, err error) {
	if r.State == models.StateFailed {
		return
	}
	r.State = models.StateFailed
	r.Success = false
	r.Findings = []models.AnalysisFinding{}
	r.Error = err.Error()
	log.WithError(err).WithFields(logrus.Fields{
		"error_type": errors.GetType(err),
		"severity":   errors.GetSeverity(err),
	}).Error("analysis failed")
}

// Summary describes a result in one line
func Summary(r *models.AnalysisResult) string {
	if !r.Success {
		return fmt.Sprintf("%s %s: %s (%s)", r.ProjectName, r.Analysis, r.State, r.Error)
	}
	return fmt.Sprintf("%s %s: %d finding(s) in %s", r.ProjectName, r.Analysis, len(r.Findings), r.Duration.Round(time.Millisecond))
}
