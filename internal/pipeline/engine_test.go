package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/codegraph/internal/config"
	"github.com/rohankatakam/codegraph/internal/logging"
	"github.com/rohankatakam/codegraph/internal/models"
)

const coreSource = `def ping(n):
    return pong(n - 1)


def pong(n):
    return ping(n)


def __unused():
    return 1
`

func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		full := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0644))
	}
	return root
}

func testConfig(t *testing.T, withCache bool) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Storage.Backend = "bolt"
	cfg.Storage.BoltPath = filepath.Join(dir, "graph.db")
	cfg.Cache.Enabled = withCache
	cfg.Cache.Driver = "sqlite3"
	cfg.Cache.DSN = filepath.Join(dir, "cache.db")
	cfg.Parser.Workers = 2
	return cfg
}

func newEngine(t *testing.T, withCache bool) *Engine {
	t.Helper()
	e, err := NewFromConfig(context.Background(), testConfig(t, withCache), logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { e.Close(context.Background()) })
	return e
}

func findingsOf(findings []models.AnalysisFinding, t models.FindingType) []models.AnalysisFinding {
	var out []models.AnalysisFinding
	for _, f := range findings {
		if f.FindingType == t {
			out = append(out, f)
		}
	}
	return out
}

func TestBuildAndAnalyze(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, false)
	root := writeProject(t, map[string]string{"app/core.py": coreSource})

	res, findings := e.BuildAndAnalyze(ctx, "proj", root, nil)
	require.NotNil(t, res)
	require.True(t, res.Success, res.Error)
	assert.Positive(t, res.NodesCreated)
	assert.Positive(t, res.RelationshipsCreated)
	assert.NotEmpty(t, res.RunID)

	cycles := findingsOf(findings, models.FindingCircularDependency)
	require.Len(t, cycles, 1)
	assert.Equal(t, []string{"app.core.ping", "app.core.pong"}, cycles[0].AffectedEntities)
	assert.Equal(t, models.SeverityMedium, cycles[0].Severity)

	var unused []string
	for _, f := range findingsOf(findings, models.FindingUnusedElement) {
		unused = append(unused, f.AffectedEntities...)
	}
	assert.Contains(t, unused, "app.core.__unused")
	assert.NotContains(t, unused, "app.core.ping")

	functions, err := e.GetEntities(ctx, "proj", models.EntityFunction)
	require.NoError(t, err)
	assert.Len(t, functions, 3)

	calls, err := e.GetRelationships(ctx, "proj", models.RelCalls)
	require.NoError(t, err)
	assert.Len(t, calls, 2)
}

func TestBuildAndAnalyzeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, false)
	root := writeProject(t, map[string]string{"app/core.py": coreSource})

	first, _ := e.BuildAndAnalyze(ctx, "proj", root, nil)
	require.True(t, first.Success, first.Error)
	second, _ := e.BuildAndAnalyze(ctx, "proj", root, nil)
	require.True(t, second.Success, second.Error)

	assert.Zero(t, second.NodesCreated)
	assert.Zero(t, second.RelationshipsCreated)
	assert.Equal(t, first.NodesCreated, second.NodesMatched)
	assert.Equal(t, first.RelationshipsCreated, second.RelationshipsMatched)
}

func TestBuildAndAnalyzeSkipsAnalysisOnFailure(t *testing.T) {
	e := newEngine(t, false)

	report := e.Run(context.Background(), "proj", filepath.Join(t.TempDir(), "missing"), nil)
	require.NotNil(t, report.Graph)
	assert.False(t, report.Graph.Success)
	assert.NotEmpty(t, report.Graph.Error)
	assert.Empty(t, report.Analyses)
	assert.Empty(t, report.Findings)
}

func TestBuildAndAnalyzeAll(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, false)

	specs := []ProjectSpec{
		{Name: "one", Path: writeProject(t, map[string]string{"app/core.py": coreSource})},
		{Name: "two", Path: writeProject(t, map[string]string{"lib/util.py": "def helper():\n    return 1\n"})},
		{Name: "broken", Path: filepath.Join(t.TempDir(), "missing")},
	}

	reports := e.BuildAndAnalyzeAll(ctx, specs)
	require.Len(t, reports, 3)
	for i, r := range reports {
		assert.Equal(t, specs[i].Name, r.ProjectName)
	}
	assert.True(t, reports[0].Graph.Success)
	assert.True(t, reports[1].Graph.Success)
	assert.False(t, reports[2].Graph.Success)

	one, err := e.GetEntities(ctx, "one", models.EntityFunction)
	require.NoError(t, err)
	two, err := e.GetEntities(ctx, "two", models.EntityFunction)
	require.NoError(t, err)
	assert.Len(t, one, 3)
	require.Len(t, two, 1)
	assert.Equal(t, "lib.util.helper", two[0].QualifiedName)
}

func TestEngineParseCache(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, true)
	root := writeProject(t, map[string]string{"app/core.py": coreSource})

	first := e.Run(ctx, "proj", root, nil)
	require.True(t, first.Graph.Success, first.Graph.Error)
	assert.Zero(t, first.Parse.FilesCached)

	second := e.Run(ctx, "proj", root, nil)
	require.True(t, second.Graph.Success, second.Graph.Error)
	assert.Equal(t, 1, second.Parse.FilesCached)

	require.NoError(t, e.InvalidateCache(ctx, "proj"))
	third := e.Run(ctx, "proj", root, nil)
	assert.Zero(t, third.Parse.FilesCached)
}

func TestEngineDropProject(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, true)
	root := writeProject(t, map[string]string{"app/core.py": coreSource})

	first := e.Run(ctx, "proj", root, nil)
	require.True(t, first.Graph.Success, first.Graph.Error)
	require.NoError(t, e.DropProject(ctx, "proj"))

	entities, err := e.GetEntities(ctx, "proj", "")
	require.NoError(t, err)
	assert.Empty(t, entities)

	second := e.Run(ctx, "proj", root, nil)
	require.True(t, second.Graph.Success, second.Graph.Error)
	assert.Zero(t, second.Parse.FilesCached)
	assert.Equal(t, first.Graph.NodesCreated, second.Graph.NodesCreated)
}

func TestEngineWithoutCache(t *testing.T) {
	e := newEngine(t, false)
	assert.Error(t, e.InvalidateCache(context.Background(), "proj"))
	assert.NoError(t, e.HealthCheck(context.Background()))
}

func TestNewFromConfigRejectsBadPolicy(t *testing.T) {
	cfg := testConfig(t, false)
	cfg.Analysis.CandidateTypes = []string{"Widget"}

	_, err := NewFromConfig(context.Background(), cfg, logging.Discard())
	assert.Error(t, err)
}
