package analysis

import (
	"context"
	stderrors "errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/codegraph/internal/graph"
	"github.com/rohankatakam/codegraph/internal/logging"
	"github.com/rohankatakam/codegraph/internal/metrics"
	"github.com/rohankatakam/codegraph/internal/models"
)

type staticReader struct {
	snap *graph.Snapshot
	err  error
}

func (r staticReader) Snapshot(ctx context.Context, project string) (*graph.Snapshot, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.snap, nil
}

type panicReader struct{}

func (panicReader) Snapshot(context.Context, string) (*graph.Snapshot, error) {
	panic("boom")
}

type blockingReader struct{}

func (blockingReader) Snapshot(ctx context.Context, _ string) (*graph.Snapshot, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func fn(qn, file string, vis models.Visibility) models.CodeEntity {
	return models.CodeEntity{
		QualifiedName: qn,
		Name:          qn[strings.LastIndex(qn, ".")+1:],
		EntityType:    models.EntityFunction,
		FilePath:      file,
		StartLine:     1,
		EndLine:       2,
		Visibility:    vis,
	}
}

func link(src, dst string, t models.RelationshipType) models.Relationship {
	return models.Relationship{
		SourceQualifiedName: src,
		TargetQualifiedName: dst,
		RelationshipType:    t,
		Resolution:          models.ResolutionExact,
	}
}

func heuristic(r models.Relationship) models.Relationship {
	r.Resolution = models.ResolutionHeuristic
	return r
}

func newAnalyzer(snap *graph.Snapshot) *Analyzer {
	return NewAnalyzer(staticReader{snap: snap}, DefaultPolicy(), logging.Discard())
}

func TestDefaultPolicyMatchesConfig(t *testing.T) {
	p := DefaultPolicy()
	require.NoError(t, p.Validate())
	assert.Equal(t, 2*time.Minute, p.Timeout)
	assert.Equal(t, []models.RelationshipType{
		models.RelContains, models.RelImports, models.RelCalls, models.RelExtends, models.RelImplements,
	}, p.CycleRelationshipTypes)
	assert.Equal(t, []models.EntityType{
		models.EntityClass, models.EntityInterface, models.EntityFunction, models.EntityMethod,
	}, p.CandidateTypes)
	assert.True(t, p.isEntryPoint("__repr__"))
	assert.True(t, p.isEntryPoint("TestParse"))
	assert.False(t, p.isEntryPoint("helper"))
}

func TestPolicyValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Policy)
	}{
		{"confidence above one", func(p *Policy) { p.UnusedConfidence = 1.5 }},
		{"negative discount", func(p *Policy) { p.HeuristicEdgeDiscount = -0.1 }},
		{"bad glob", func(p *Policy) { p.EntryPointPatterns = []string{"["} }},
		{"no cycle types", func(p *Policy) { p.CycleRelationshipTypes = nil }},
		{"no candidates", func(p *Policy) { p.CandidateTypes = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy()
			tt.mutate(&p)
			assert.Error(t, p.Validate())
		})
	}
}

func TestSimpleCycleIsOneFinding(t *testing.T) {
	snap := &graph.Snapshot{
		ProjectName: "proj",
		Entities: []models.CodeEntity{
			fn("m.a", "m.py", models.VisibilityPublic),
			fn("m.b", "m.py", models.VisibilityPublic),
			fn("m.c", "m.py", models.VisibilityPublic),
		},
		Relationships: []models.Relationship{
			link("m.a", "m.b", models.RelCalls),
			link("m.b", "m.c", models.RelCalls),
			link("m.c", "m.a", models.RelCalls),
		},
	}

	res := newAnalyzer(snap).DetectCircularDependencies(context.Background(), "proj")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, models.StateCompleted, res.State)
	require.Len(t, res.Findings, 1)

	f := res.Findings[0]
	assert.Equal(t, models.FindingCircularDependency, f.FindingType)
	assert.Equal(t, models.ClassificationCycle, f.Classification)
	assert.Equal(t, []string{"m.a", "m.b", "m.c"}, f.AffectedEntities)
	assert.Equal(t, models.SeverityMedium, f.Severity)
	assert.InDelta(t, 1.0, f.ConfidenceScore, 1e-9)
	assert.Contains(t, f.Description, "m.a -> m.b -> m.c -> m.a")
	assert.NotEmpty(t, f.ID)
}

func TestFiveNodeComponentIsOneFinding(t *testing.T) {
	var entities []models.CodeEntity
	for _, qn := range []string{"p.a", "p.b", "p.c", "p.d", "p.e"} {
		entities = append(entities, fn(qn, "p.py", models.VisibilityPublic))
	}
	snap := &graph.Snapshot{
		Entities: entities,
		Relationships: []models.Relationship{
			link("p.a", "p.b", models.RelCalls),
			link("p.b", "p.c", models.RelCalls),
			link("p.c", "p.d", models.RelCalls),
			link("p.d", "p.e", models.RelCalls),
			link("p.e", "p.a", models.RelCalls),
			link("p.b", "p.d", models.RelCalls),
			link("p.e", "p.c", models.RelImports),
		},
	}

	res := newAnalyzer(snap).DetectCircularDependencies(context.Background(), "proj")
	require.True(t, res.Success, res.Error)
	require.Len(t, res.Findings, 1)
	assert.Len(t, res.Findings[0].AffectedEntities, 5)
}

func TestAcyclicAndSelfLoops(t *testing.T) {
	snap := &graph.Snapshot{
		Entities: []models.CodeEntity{
			fn("m.a", "m.py", models.VisibilityPublic),
			fn("m.b", "m.py", models.VisibilityPublic),
			fn("m.rec", "m.py", models.VisibilityPublic),
		},
		Relationships: []models.Relationship{
			link("m.a", "m.b", models.RelCalls),
			link("m.rec", "m.rec", models.RelCalls),
			// DEFINES is not a cycle edge by default
			link("m.b", "m.a", models.RelDefines),
		},
	}

	res := newAnalyzer(snap).DetectCircularDependencies(context.Background(), "proj")
	require.True(t, res.Success, res.Error)
	assert.Empty(t, res.Findings)
	assert.NotNil(t, res.Findings)
}

func TestCycleSeverity(t *testing.T) {
	tests := []struct {
		name     string
		fileB    string
		relBA    models.RelationshipType
		expected models.Severity
	}{
		{"same file", "m.py", models.RelCalls, models.SeverityMedium},
		{"calls across files", "n.py", models.RelCalls, models.SeverityHigh},
		{"imports across files", "n.py", models.RelImports, models.SeverityMedium},
		{"inheritance", "m.py", models.RelExtends, models.SeverityCritical},
		{"inheritance across files", "n.py", models.RelImplements, models.SeverityCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := &graph.Snapshot{
				Entities: []models.CodeEntity{
					fn("m.a", "m.py", models.VisibilityPublic),
					fn("m.b", tt.fileB, models.VisibilityPublic),
				},
				Relationships: []models.Relationship{
					link("m.a", "m.b", models.RelImports),
					link("m.b", "m.a", tt.relBA),
				},
			}
			res := newAnalyzer(snap).DetectCircularDependencies(context.Background(), "proj")
			require.True(t, res.Success, res.Error)
			require.Len(t, res.Findings, 1)
			assert.Equal(t, tt.expected, res.Findings[0].Severity)
		})
	}
}

func TestCycleConfidenceDecreasesWithHeuristicEdges(t *testing.T) {
	base := []models.Relationship{
		link("m.a", "m.b", models.RelCalls),
		link("m.b", "m.c", models.RelCalls),
		link("m.c", "m.a", models.RelCalls),
	}
	entities := []models.CodeEntity{
		fn("m.a", "m.py", models.VisibilityPublic),
		fn("m.b", "m.py", models.VisibilityPublic),
		fn("m.c", "m.py", models.VisibilityPublic),
	}

	previous := 2.0
	for k := 0; k <= len(base); k++ {
		rels := make([]models.Relationship, len(base))
		copy(rels, base)
		for i := 0; i < k; i++ {
			rels[i] = heuristic(rels[i])
		}
		res := newAnalyzer(&graph.Snapshot{Entities: entities, Relationships: rels}).
			DetectCircularDependencies(context.Background(), "proj")
		require.True(t, res.Success, res.Error)
		require.Len(t, res.Findings, 1)

		got := res.Findings[0].ConfidenceScore
		assert.InDelta(t, 1.0-0.3*float64(k)/3, got, 1e-9)
		assert.Less(t, got, previous)
		previous = got
	}
}

func TestCycleRecommendsLeastCoupledEdge(t *testing.T) {
	snap := &graph.Snapshot{
		Entities: []models.CodeEntity{
			fn("m.a", "m.py", models.VisibilityPublic),
			fn("m.b", "m.py", models.VisibilityPublic),
			fn("m.c", "m.py", models.VisibilityPublic),
			fn("m.d", "m.py", models.VisibilityPublic),
			fn("m.e", "m.py", models.VisibilityPublic),
		},
		Relationships: []models.Relationship{
			link("m.a", "m.b", models.RelCalls),
			link("m.b", "m.c", models.RelCalls),
			link("m.c", "m.a", models.RelCalls),
			link("m.d", "m.a", models.RelCalls),
			link("m.e", "m.a", models.RelCalls),
		},
	}

	res := newAnalyzer(snap).DetectCircularDependencies(context.Background(), "proj")
	require.True(t, res.Success, res.Error)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, []string{"m.a", "m.b", "m.c"}, res.Findings[0].AffectedEntities)
	assert.Contains(t, res.Findings[0].Recommendations[0], "m.b -> m.c")
}

func TestCycleFindingsOrderedBySeverity(t *testing.T) {
	snap := &graph.Snapshot{
		Entities: []models.CodeEntity{
			fn("a.x", "a.py", models.VisibilityPublic),
			fn("a.y", "a.py", models.VisibilityPublic),
			fn("z.x", "z.py", models.VisibilityPublic),
			fn("z.y", "z.py", models.VisibilityPublic),
		},
		Relationships: []models.Relationship{
			link("a.x", "a.y", models.RelCalls),
			link("a.y", "a.x", models.RelCalls),
			link("z.x", "z.y", models.RelCalls),
			link("z.y", "z.x", models.RelExtends),
		},
	}

	res := newAnalyzer(snap).DetectCircularDependencies(context.Background(), "proj")
	require.True(t, res.Success, res.Error)
	require.Len(t, res.Findings, 2)
	assert.Equal(t, models.SeverityCritical, res.Findings[0].Severity)
	assert.Equal(t, "z.x", res.Findings[0].AffectedEntities[0])
	assert.Equal(t, models.SeverityMedium, res.Findings[1].Severity)
}

func TestLongChainDoesNotRecurse(t *testing.T) {
	const n = 200000
	entities := make([]models.CodeEntity, n)
	rels := make([]models.Relationship, n)
	for i := 0; i < n; i++ {
		entities[i] = models.CodeEntity{QualifiedName: qnOf(i), Name: "f", EntityType: models.EntityFunction}
		rels[i] = link(qnOf(i), qnOf((i+1)%n), models.RelCalls)
	}

	res := newAnalyzer(&graph.Snapshot{Entities: entities, Relationships: rels}).
		DetectCircularDependencies(context.Background(), "proj")
	require.True(t, res.Success, res.Error)
	require.Len(t, res.Findings, 1)
	assert.Len(t, res.Findings[0].AffectedEntities, n)
}

func qnOf(i int) string {
	return "chain.f" + strconv.Itoa(i)
}

func TestAnalyzerFailures(t *testing.T) {
	policy := DefaultPolicy()
	short := policy
	short.Timeout = 20 * time.Millisecond

	tests := []struct {
		name    string
		reader  SnapshotReader
		policy  Policy
		project string
		message string
	}{
		{"missing project", staticReader{snap: &graph.Snapshot{}}, policy, "", "project name is required"},
		{"store error", staticReader{err: stderrors.New("connection refused")}, policy, "proj", "connection refused"},
		{"panic", panicReader{}, policy, "proj", "boom"},
		{"timeout", blockingReader{}, short, "proj", "deadline exceeded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAnalyzer(tt.reader, tt.policy, logging.Discard())
			for _, res := range []*models.AnalysisResult{
				a.DetectCircularDependencies(context.Background(), tt.project),
				a.DetectUnusedElements(context.Background(), tt.project),
			} {
				require.NotNil(t, res)
				assert.False(t, res.Success)
				assert.Equal(t, models.StateFailed, res.State)
				assert.True(t, res.State.IsTerminal())
				assert.Empty(t, res.Findings)
				assert.Contains(t, res.Error, tt.message)
			}
		})
	}
}

func TestTransitions(t *testing.T) {
	a := newAnalyzer(&graph.Snapshot{})
	r := &models.AnalysisResult{State: models.StateRequested}

	assert.Error(t, a.transition(r, models.StateCompleted))
	require.NoError(t, a.transition(r, models.StateGraphLoaded))
	require.NoError(t, a.transition(r, models.StateComputing))
	require.NoError(t, a.transition(r, models.StateCompleted))
	assert.Error(t, a.transition(r, models.StateFailed), "COMPLETED is terminal")
}

func TestAnalyzerMetrics(t *testing.T) {
	m := metrics.New()
	snap := &graph.Snapshot{
		Entities: []models.CodeEntity{
			fn("m.a", "m.py", models.VisibilityPublic),
			fn("m.b", "n.py", models.VisibilityPublic),
		},
		Relationships: []models.Relationship{
			link("m.a", "m.b", models.RelCalls),
			link("m.b", "m.a", models.RelCalls),
		},
	}
	a := NewAnalyzer(staticReader{snap: snap}, DefaultPolicy(), logging.Discard(), WithAnalyzerMetrics(m))
	require.True(t, a.DetectCircularDependencies(context.Background(), "proj").Success)

	expected := `
# HELP ckg_findings_total Findings reported by finding type and severity
# TYPE ckg_findings_total counter
ckg_findings_total{finding_type="CircularDependency",severity="High"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "ckg_findings_total"))
}
