package graph

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/codegraph/internal/logging"
	"github.com/rohankatakam/codegraph/internal/models"
)

func newBoltStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(filepath.Join(t.TempDir(), "graph", "ckg.db"), logging.Discard())
	require.NoError(t, err)
	require.NoError(t, s.EnsureSchema(context.Background()))
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func entity(qn string, t models.EntityType) models.CodeEntity {
	return models.CodeEntity{
		QualifiedName: qn,
		Name:          shortName(qn),
		EntityType:    t,
		Language:      "python",
		FilePath:      "pkg/mod.py",
		StartLine:     1,
		EndLine:       2,
		Visibility:    models.VisibilityPublic,
	}
}

func rel(src, dst string, t models.RelationshipType) models.Relationship {
	return models.Relationship{
		SourceQualifiedName: src,
		TargetQualifiedName: dst,
		RelationshipType:    t,
		Resolution:          models.ResolutionExact,
		Line:                3,
	}
}

func TestBoltStoreEntityUpsert(t *testing.T) {
	ctx := context.Background()
	s := newBoltStore(t)

	batch := []models.CodeEntity{entity("pkg.mod", models.EntityModule), entity("pkg.mod.f", models.EntityFunction)}
	counts, err := s.WriteEntities(ctx, "proj", batch)
	require.NoError(t, err)
	assert.Equal(t, BatchCounts{NodesCreated: 2}, counts)

	batch[1].EndLine = 9
	counts, err = s.WriteEntities(ctx, "proj", batch)
	require.NoError(t, err)
	assert.Equal(t, BatchCounts{NodesMatched: 2}, counts)

	got, ok, err := s.Lookup(ctx, "proj", "pkg.mod.f")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 9, got.EndLine)
	assert.Equal(t, "proj", got.ProjectName)

	all, err := s.Entities(ctx, "proj", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestBoltStorePlaceholders(t *testing.T) {
	ctx := context.Background()
	s := newBoltStore(t)

	_, err := s.WriteEntities(ctx, "proj", []models.CodeEntity{entity("a.caller", models.EntityFunction)})
	require.NoError(t, err)

	counts, err := s.WriteRelationships(ctx, "proj", []models.Relationship{rel("a.caller", "b.callee", models.RelCalls)})
	require.NoError(t, err)
	assert.Equal(t, BatchCounts{RelationshipsCreated: 1, PlaceholdersCreated: 1}, counts)

	ph, ok, err := s.Lookup(ctx, "proj", "b.callee")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, ph.IsPlaceholder())
	assert.Equal(t, "callee", ph.Name)

	// the real entity fills the placeholder in place
	counts, err = s.WriteEntities(ctx, "proj", []models.CodeEntity{entity("b.callee", models.EntityFunction)})
	require.NoError(t, err)
	assert.Equal(t, BatchCounts{NodesMatched: 1}, counts)

	all, err := s.Entities(ctx, "proj", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
	unknown, err := s.Entities(ctx, "proj", models.EntityUnknown)
	require.NoError(t, err)
	assert.Empty(t, unknown)

	counts, err = s.WriteRelationships(ctx, "proj", []models.Relationship{rel("a.caller", "b.callee", models.RelCalls)})
	require.NoError(t, err)
	assert.Equal(t, BatchCounts{RelationshipsMatched: 1}, counts)
}

func TestBoltStoreProjectsAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := newBoltStore(t)

	_, err := s.WriteEntities(ctx, "one", []models.CodeEntity{entity("pkg.mod", models.EntityModule)})
	require.NoError(t, err)

	_, ok, err := s.Lookup(ctx, "two", "pkg.mod")
	require.NoError(t, err)
	assert.False(t, ok)

	counts, err := s.WriteEntities(ctx, "two", []models.CodeEntity{entity("pkg.mod", models.EntityModule)})
	require.NoError(t, err)
	assert.Equal(t, 1, counts.NodesCreated)

	require.NoError(t, s.DropProject(ctx, "one"))
	snap, err := s.Snapshot(ctx, "one")
	require.NoError(t, err)
	assert.Empty(t, snap.Entities)
	snap, err = s.Snapshot(ctx, "two")
	require.NoError(t, err)
	assert.Len(t, snap.Entities, 1)
}

func TestBoltStoreNeighbors(t *testing.T) {
	ctx := context.Background()
	s := newBoltStore(t)

	_, err := s.WriteEntities(ctx, "proj", []models.CodeEntity{
		entity("m.a", models.EntityFunction),
		entity("m.b", models.EntityFunction),
		entity("m.c", models.EntityFunction),
	})
	require.NoError(t, err)
	_, err = s.WriteRelationships(ctx, "proj", []models.Relationship{
		rel("m.a", "m.b", models.RelCalls),
		rel("m.c", "m.a", models.RelCalls),
		rel("m.a", "m.c", models.RelImports),
	})
	require.NoError(t, err)

	names := func(es []models.CodeEntity) []string {
		out := []string{}
		for _, e := range es {
			out = append(out, e.QualifiedName)
		}
		return out
	}

	tests := []struct {
		name    string
		relType models.RelationshipType
		dir     Direction
		want    []string
	}{
		{"outgoing calls", models.RelCalls, Outgoing, []string{"m.b"}},
		{"incoming calls", models.RelCalls, Incoming, []string{"m.c"}},
		{"both calls", models.RelCalls, Both, []string{"m.b", "m.c"}},
		{"any type outgoing", "", Outgoing, []string{"m.b", "m.c"}},
		{"no matches", models.RelExtends, Both, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Neighbors(ctx, "proj", "m.a", tt.relType, tt.dir)
			require.NoError(t, err)
			assert.Equal(t, tt.want, names(got))
		})
	}

	_, err = s.Neighbors(ctx, "proj", "m.a", models.RelCalls, Direction("sideways"))
	assert.Error(t, err)
}

func TestBoltStoreRelationshipsFilter(t *testing.T) {
	ctx := context.Background()
	s := newBoltStore(t)

	_, err := s.WriteRelationships(ctx, "proj", []models.Relationship{
		rel("m.a", "m.b", models.RelCalls),
		rel("m", "m.a", models.RelDefines),
	})
	require.NoError(t, err)

	calls, err := s.Relationships(ctx, "proj", models.RelCalls)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, "proj", calls[0].ProjectName)
	assert.Equal(t, models.ResolutionExact, calls[0].Resolution)
	assert.Equal(t, 3, calls[0].Line)

	all, err := s.Relationships(ctx, "proj", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestBoltStoreRejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	s := newBoltStore(t)

	tests := []struct {
		name string
		run  func() error
	}{
		{"placeholder entity", func() error {
			_, err := s.WriteEntities(ctx, "proj", []models.CodeEntity{entity("x", models.EntityUnknown)})
			return err
		}},
		{"unknown entity type", func() error {
			_, err := s.WriteEntities(ctx, "proj", []models.CodeEntity{entity("x", "Struct")})
			return err
		}},
		{"unknown relationship type", func() error {
			_, err := s.WriteRelationships(ctx, "proj", []models.Relationship{rel("a", "b", "USES")})
			return err
		}},
		{"missing project", func() error {
			_, err := s.WriteEntities(ctx, "", []models.CodeEntity{entity("x", models.EntityModule)})
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.run())
		})
	}

	snap, err := s.Snapshot(ctx, "proj")
	require.NoError(t, err)
	assert.Empty(t, snap.Entities)
}

func TestBoltStoreClosed(t *testing.T) {
	ctx := context.Background()
	s := newBoltStore(t)
	require.NoError(t, s.Close(ctx))
	require.NoError(t, s.Close(ctx))

	_, err := s.WriteEntities(ctx, "proj", []models.CodeEntity{entity("x", models.EntityModule)})
	assert.ErrorIs(t, err, ErrStoreClosed)
	_, err = s.Snapshot(ctx, "proj")
	assert.ErrorIs(t, err, ErrStoreClosed)
}
