package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/codegraph/internal/config"
	"github.com/rohankatakam/codegraph/internal/logging"
	"github.com/rohankatakam/codegraph/internal/models"
)

func sampleResult(path, hash, version string) *models.ParseResult {
	r := models.NewParseResult(path, "python")
	r.Metadata[models.MetaContentHash] = hash
	r.Metadata[models.MetaParserVersion] = version
	r.Metadata[models.MetaModuleName] = "pkg.mod"
	r.Entities = []models.CodeEntity{
		{QualifiedName: "pkg.mod", Name: "mod", EntityType: models.EntityModule, FilePath: path, StartLine: 1, EndLine: 3},
		{QualifiedName: "pkg.mod.f", Name: "f", EntityType: models.EntityFunction, FilePath: path, StartLine: 1, EndLine: 2},
	}
	r.Relationships = []models.Relationship{
		{SourceQualifiedName: "pkg.mod", TargetQualifiedName: "pkg.mod.f", RelationshipType: models.RelDefines, Resolution: models.ResolutionExact, Line: 1},
	}
	return r
}

func newSQLite(t *testing.T) *SQLCache {
	t.Helper()
	c, err := NewSQLiteCache(filepath.Join(t.TempDir(), "nested", "cache.db"), logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSQLiteCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newSQLite(t)

	require.NoError(t, c.Store(ctx, "proj", sampleResult("pkg/mod.py", "h1", "python/1")))

	got, ok, err := c.Lookup(ctx, "proj", "pkg/mod.py", "h1", "python/1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "pkg/mod.py", got.FilePath)
	assert.Len(t, got.Entities, 2)
	assert.Len(t, got.Relationships, 1)
	assert.Equal(t, "pkg.mod", got.Metadata[models.MetaModuleName])
}

func TestSQLiteCacheInvalidation(t *testing.T) {
	ctx := context.Background()
	c := newSQLite(t)
	require.NoError(t, c.Store(ctx, "proj", sampleResult("pkg/mod.py", "h1", "python/1")))

	tests := []struct {
		name    string
		project string
		path    string
		hash    string
		version string
		hit     bool
	}{
		{"same content and version", "proj", "pkg/mod.py", "h1", "python/1", true},
		{"content changed", "proj", "pkg/mod.py", "h2", "python/1", false},
		{"parser upgraded", "proj", "pkg/mod.py", "h1", "python/2", false},
		{"other project", "other", "pkg/mod.py", "h1", "python/1", false},
		{"unknown file", "proj", "pkg/none.py", "h1", "python/1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok, err := c.Lookup(ctx, tt.project, tt.path, tt.hash, tt.version)
			require.NoError(t, err)
			assert.Equal(t, tt.hit, ok)
		})
	}
}

func TestSQLiteCacheUpsert(t *testing.T) {
	ctx := context.Background()
	c := newSQLite(t)

	require.NoError(t, c.Store(ctx, "proj", sampleResult("pkg/mod.py", "h1", "python/1")))
	require.NoError(t, c.Store(ctx, "proj", sampleResult("pkg/mod.py", "h2", "python/1")))

	n, err := c.Len(ctx, "proj")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok, err := c.Lookup(ctx, "proj", "pkg/mod.py", "h2", "python/1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSQLiteCacheSkipsFailedResults(t *testing.T) {
	ctx := context.Background()
	c := newSQLite(t)

	failed := sampleResult("pkg/bad.py", "h1", "python/1")
	failed.AddError(3, "syntax error")
	require.NoError(t, c.Store(ctx, "proj", failed))

	n, err := c.Len(ctx, "proj")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLiteCacheInvalidate(t *testing.T) {
	ctx := context.Background()
	c := newSQLite(t)
	require.NoError(t, c.Store(ctx, "proj", sampleResult("a.py", "h", "v")))
	require.NoError(t, c.Store(ctx, "proj", sampleResult("b.py", "h", "v")))
	require.NoError(t, c.Store(ctx, "keep", sampleResult("a.py", "h", "v")))

	require.NoError(t, c.Invalidate(ctx, "proj"))

	n, err := c.Len(ctx, "proj")
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = c.Len(ctx, "keep")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.CacheConfig{Driver: "memcached"}, logging.Discard())
	assert.Error(t, err)
}

func TestRedisKey(t *testing.T) {
	assert.Equal(t, "ckg:parse:proj:pkg/mod.py", Key("proj", "pkg/mod.py"))
}

// TestRedisCache runs against a live server when CKG_TEST_REDIS_URL is set
func TestRedisCache(t *testing.T) {
	url := os.Getenv("CKG_TEST_REDIS_URL")
	if url == "" {
		t.Skip("CKG_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	c, err := NewRedisCache(ctx, url, time.Minute, logging.Discard())
	require.NoError(t, err)
	defer c.Close()

	project := "ckg-test-" + time.Now().Format("150405.000000")
	defer c.Invalidate(ctx, project)

	require.NoError(t, c.Store(ctx, project, sampleResult("pkg/mod.py", "h1", "python/1")))

	got, ok, err := c.Lookup(ctx, project, "pkg/mod.py", "h1", "python/1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, got.Entities, 2)

	_, ok, err = c.Lookup(ctx, project, "pkg/mod.py", "h2", "python/1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Invalidate(ctx, project))
	_, ok, err = c.Lookup(ctx, project, "pkg/mod.py", "h1", "python/1")
	require.NoError(t, err)
	assert.False(t, ok)
}
