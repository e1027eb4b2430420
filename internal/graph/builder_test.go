package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/codegraph/internal/logging"
	"github.com/rohankatakam/codegraph/internal/metrics"
	"github.com/rohankatakam/codegraph/internal/models"
)

// fastRetries keeps retry tests quick
var fastRetries = BatchConfig{
	EntityBatchSize:       2,
	RelationshipBatchSize: 2,
	MaxRetries:            3,
	InitialBackoff:        time.Millisecond,
	MaxBackoff:            4 * time.Millisecond,
}

// flakyWriter fails selected write calls before delegating to the real store
type flakyWriter struct {
	Writer
	mu       sync.Mutex
	calls    int
	failures map[int]error // 1-based call number -> error
	failFrom int           // every call from this number on fails; 0 disables
}

func (f *flakyWriter) next() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err, ok := f.failures[f.calls]; ok {
		return err
	}
	if f.failFrom > 0 && f.calls >= f.failFrom {
		return errors.New("connection reset")
	}
	return nil
}

func (f *flakyWriter) WriteEntities(ctx context.Context, project string, entities []models.CodeEntity) (BatchCounts, error) {
	if err := f.next(); err != nil {
		return BatchCounts{}, err
	}
	return f.Writer.WriteEntities(ctx, project, entities)
}

func (f *flakyWriter) WriteRelationships(ctx context.Context, project string, rels []models.Relationship) (BatchCounts, error) {
	if err := f.next(); err != nil {
		return BatchCounts{}, err
	}
	return f.Writer.WriteRelationships(ctx, project, rels)
}

func sampleAggregate() *models.ParseResult {
	r := models.NewParseResult("", "")
	r.Entities = []models.CodeEntity{
		entity("proj", models.EntityProject),
		entity("pkg.mod", models.EntityModule),
		entity("pkg.mod.a", models.EntityFunction),
		entity("pkg.mod.b", models.EntityFunction),
		entity("pkg.mod.C", models.EntityClass),
	}
	r.Relationships = []models.Relationship{
		rel("pkg.mod", "pkg.mod.a", models.RelDefines),
		rel("pkg.mod", "pkg.mod.b", models.RelDefines),
		rel("pkg.mod", "pkg.mod.C", models.RelDefines),
		rel("pkg.mod.a", "pkg.mod.b", models.RelCalls),
		rel("pkg.mod.C", "ext.Base", models.RelExtends),
	}
	return r
}

func TestBuilderCommitIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newBoltStore(t)
	b := NewBuilder(store, fastRetries, logging.Discard())

	first := b.Commit(ctx, "proj", sampleAggregate())
	require.True(t, first.Success, first.Error)
	assert.NotEmpty(t, first.RunID)
	assert.Equal(t, 5, first.NodesCreated)
	assert.Equal(t, 0, first.NodesMatched)
	assert.Equal(t, 5, first.RelationshipsCreated)
	assert.Equal(t, 1, first.PlaceholdersCreated)
	assert.Equal(t, 6, first.BatchesCommitted) // 3 entity + 3 relationship batches
	assert.Zero(t, first.Retries)

	second := b.Commit(ctx, "proj", sampleAggregate())
	require.True(t, second.Success, second.Error)
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, 0, second.NodesCreated)
	assert.Equal(t, 5, second.NodesMatched)
	assert.Equal(t, 0, second.RelationshipsCreated)
	assert.Equal(t, 5, second.RelationshipsMatched)
	assert.Zero(t, second.PlaceholdersCreated)

	snap, err := store.Snapshot(ctx, "proj")
	require.NoError(t, err)
	assert.Len(t, snap.Entities, 6)
	assert.Len(t, snap.Relationships, 5)
}

func TestBuilderForwardReferencesAcrossCommits(t *testing.T) {
	ctx := context.Background()
	store := newBoltStore(t)
	b := NewBuilder(store, fastRetries, logging.Discard())

	// the caller arrives before its callee exists
	part1 := models.NewParseResult("", "")
	part1.Entities = []models.CodeEntity{entity("a.caller", models.EntityFunction)}
	part1.Relationships = []models.Relationship{rel("a.caller", "b.callee", models.RelCalls)}
	res := b.Commit(ctx, "proj", part1)
	require.True(t, res.Success)
	assert.Equal(t, 1, res.PlaceholdersCreated)

	part2 := models.NewParseResult("", "")
	part2.Entities = []models.CodeEntity{entity("b.callee", models.EntityFunction)}
	res = b.Commit(ctx, "proj", part2)
	require.True(t, res.Success)
	assert.Equal(t, 0, res.NodesCreated)
	assert.Equal(t, 1, res.NodesMatched)

	q := NewQueryInterface(store, time.Second, logging.Discard())
	ok, err := q.Exists(ctx, "proj", "b.callee")
	require.NoError(t, err)
	assert.True(t, ok)

	entities, err := q.GetEntities(ctx, "proj", "")
	require.NoError(t, err)
	assert.Len(t, entities, 2)
}

func TestBuilderRetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	writer := &flakyWriter{
		Writer: newBoltStore(t),
		failures: map[int]error{
			1: errors.New("deadlock detected"),
			2: errors.New("deadlock detected"),
			5: errors.New("leader switch"),
		},
	}
	m := metrics.New()
	b := NewBuilder(writer, fastRetries, logging.Discard(), WithBuilderMetrics(m))

	res := b.Commit(ctx, "proj", sampleAggregate())
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 3, res.Retries)
	assert.Equal(t, 6, res.BatchesCommitted)
	assert.Zero(t, res.BatchesFailed)
	assert.Equal(t, 5, res.NodesCreated)

	expected := `
# HELP ckg_graph_batch_retries_total Retried graph write attempts by kind
# TYPE ckg_graph_batch_retries_total counter
ckg_graph_batch_retries_total{kind="entity"} 3
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "ckg_graph_batch_retries_total"))
}

func TestBuilderExhaustedRetriesKeepPartialCounts(t *testing.T) {
	ctx := context.Background()
	store := newBoltStore(t)
	// entity batches 1 and 2 commit; batch 3 fails on every attempt
	writer := &flakyWriter{Writer: store, failFrom: 3}
	b := NewBuilder(writer, fastRetries, logging.Discard())

	res := b.Commit(ctx, "proj", sampleAggregate())
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "entity batch 3/3 failed")
	assert.Equal(t, 2, res.BatchesCommitted)
	assert.Equal(t, 1, res.BatchesFailed)
	assert.Equal(t, fastRetries.MaxRetries, res.Retries)
	assert.Equal(t, 4, res.NodesCreated)
	assert.Zero(t, res.RelationshipsCreated)
	assert.Equal(t, 3+fastRetries.MaxRetries, writer.calls)

	// counts match what actually reached the store
	snap, err := store.Snapshot(ctx, "proj")
	require.NoError(t, err)
	assert.Len(t, snap.Entities, 4)
	assert.Empty(t, snap.Relationships)
}

func TestBuilderDoesNotRetryCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	writer := &flakyWriter{Writer: newBoltStore(t)}
	b := NewBuilder(writer, fastRetries, logging.Discard())

	res := b.Commit(ctx, "proj", sampleAggregate())
	assert.False(t, res.Success)
	assert.Zero(t, res.Retries)
	assert.Zero(t, res.BatchesCommitted)
	assert.LessOrEqual(t, writer.calls, 1)
}

func TestBuilderClosedStoreIsPermanent(t *testing.T) {
	store := newBoltStore(t)
	require.NoError(t, store.Close(context.Background()))
	b := NewBuilder(store, fastRetries, logging.Discard())

	res := b.Commit(context.Background(), "proj", sampleAggregate())
	assert.False(t, res.Success)
	assert.Zero(t, res.Retries)
}

func TestBuilderValidation(t *testing.T) {
	b := NewBuilder(newBoltStore(t), fastRetries, logging.Discard())

	tests := []struct {
		name    string
		project string
		result  *models.ParseResult
		want    string
	}{
		{"missing project", "", sampleAggregate(), "project name is required"},
		{"missing result", "proj", nil, "parse result is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := b.Commit(context.Background(), tt.project, tt.result)
			assert.False(t, res.Success)
			assert.Contains(t, res.Error, tt.want)
		})
	}
}

func TestBuilderEmptyResult(t *testing.T) {
	b := NewBuilder(newBoltStore(t), fastRetries, logging.Discard())
	res := b.Commit(context.Background(), "proj", models.NewParseResult("", ""))
	assert.True(t, res.Success)
	assert.Zero(t, res.BatchesCommitted)
}

func TestBuilderConcurrentProjects(t *testing.T) {
	ctx := context.Background()
	store := newBoltStore(t)
	b := NewBuilder(store, fastRetries, logging.Discard(), WithWriteRate(0))

	var wg sync.WaitGroup
	results := make([]*models.GraphOperationResult, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = b.Commit(ctx, fmt.Sprintf("proj-%d", i%2), sampleAggregate())
		}(i)
	}
	wg.Wait()

	created := map[string]int{}
	for _, r := range results {
		require.True(t, r.Success, r.Error)
		created[r.ProjectName] += r.NodesCreated
	}
	// each project is created exactly once no matter how commits interleave
	assert.Equal(t, map[string]int{"proj-0": 5, "proj-1": 5}, created)
}

func TestBuilderWriteRate(t *testing.T) {
	b := NewBuilder(newBoltStore(t), fastRetries, logging.Discard(), WithWriteRate(1000))
	require.NotNil(t, b.limiter)

	res := b.Commit(context.Background(), "proj", sampleAggregate())
	assert.True(t, res.Success, res.Error)
}

func TestChunk(t *testing.T) {
	tests := []struct {
		name  string
		items []int
		size  int
		want  [][]int
	}{
		{"empty", nil, 3, nil},
		{"exact", []int{1, 2, 3, 4}, 2, [][]int{{1, 2}, {3, 4}}},
		{"remainder", []int{1, 2, 3}, 2, [][]int{{1, 2}, {3}}},
		{"zero size is one batch", []int{1, 2, 3}, 0, [][]int{{1, 2, 3}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, chunk(tt.items, tt.size))
		})
	}
}

func TestBatchConfigFor(t *testing.T) {
	tests := []struct {
		entities   int
		entityBase int
	}{
		{100, 200},
		{5000, 500},
		{200000, 2000},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.entities), func(t *testing.T) {
			assert.Equal(t, tt.entityBase, BatchConfigFor(tt.entities).EntityBatchSize)
			assert.Equal(t, tt.entityBase, BatchConfig{}.withDefaults(tt.entities).EntityBatchSize)
		})
	}

	explicit := BatchConfig{EntityBatchSize: 7, MaxRetries: -1}.withDefaults(100)
	assert.Equal(t, 7, explicit.EntityBatchSize)
	assert.Equal(t, 0, explicit.MaxRetries)
}
