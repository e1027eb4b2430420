package analysis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/codegraph/internal/graph"
	"github.com/rohankatakam/codegraph/internal/models"
)

func entityOf(qn string, t models.EntityType, vis models.Visibility) models.CodeEntity {
	e := fn(qn, "m.py", vis)
	e.EntityType = t
	return e
}

// unusedFixture is a small module with every reachability case:
//
//	m.main -> m.helper            reached from an entry point
//	m.Api (public class) . run    reached through DEFINES
//	m._dead -> m._called_by_dead  dead, but its callee is referenced
//	m._Hidden . go                dead private class and its public method
//	m._Handler . handle           extends an external base
func unusedFixture() *graph.Snapshot {
	exported := entityOf("m.Exported", models.EntityFunction, models.VisibilityPackage)
	exported.Exported = true

	entities := []models.CodeEntity{
		entityOf("m", models.EntityModule, models.VisibilityPublic),
		entityOf("m.main", models.EntityFunction, models.VisibilityPrivate),
		entityOf("m.helper", models.EntityFunction, models.VisibilityPrivate),
		entityOf("m.Api", models.EntityClass, models.VisibilityPublic),
		entityOf("m.Api.run", models.EntityMethod, models.VisibilityPublic),
		entityOf("m._dead", models.EntityFunction, models.VisibilityPrivate),
		entityOf("m._called_by_dead", models.EntityFunction, models.VisibilityPrivate),
		entityOf("m._Hidden", models.EntityClass, models.VisibilityPrivate),
		entityOf("m._Hidden.go", models.EntityMethod, models.VisibilityPublic),
		entityOf("m._Handler", models.EntityClass, models.VisibilityPrivate),
		entityOf("m._Handler.handle", models.EntityMethod, models.VisibilityPrivate),
		entityOf("m.test_parse", models.EntityFunction, models.VisibilityPrivate),
		entityOf("m._CONST", models.EntityVariable, models.VisibilityPrivate),
		exported,
	}

	var rels []models.Relationship
	for _, e := range entities[1:] {
		if e.EntityType == models.EntityMethod {
			continue
		}
		rels = append(rels, link("m", e.QualifiedName, models.RelDefines))
	}
	rels = append(rels,
		link("m.Api", "m.Api.run", models.RelDefines),
		link("m._Hidden", "m._Hidden.go", models.RelDefines),
		link("m._Handler", "m._Handler.handle", models.RelDefines),
		link("m.main", "m.helper", models.RelCalls),
		link("m._dead", "m._called_by_dead", models.RelCalls),
		models.Relationship{
			SourceQualifiedName: "m._Handler",
			TargetQualifiedName: "ext.Base",
			RelationshipType:    models.RelExtends,
			Resolution:          models.ResolutionExternal,
		},
	)
	return &graph.Snapshot{ProjectName: "proj", Entities: entities, Relationships: rels}
}

func TestDetectUnusedElements(t *testing.T) {
	res := newAnalyzer(unusedFixture()).DetectUnusedElements(context.Background(), "proj")
	require.True(t, res.Success, res.Error)

	type want struct {
		qn             string
		severity       models.Severity
		classification string
		confidence     float64
	}
	expected := []want{
		{"m._Hidden.go", models.SeverityMedium, models.ClassificationUnused, 0.7},
		{"m._Handler", models.SeverityLow, models.ClassificationPossiblyUnused, 0.4},
		{"m._Handler.handle", models.SeverityLow, models.ClassificationPossiblyUnused, 0.4},
		{"m._Hidden", models.SeverityLow, models.ClassificationUnused, 0.9},
		{"m._dead", models.SeverityLow, models.ClassificationUnused, 0.9},
	}

	require.Len(t, res.Findings, len(expected))
	for i, w := range expected {
		f := res.Findings[i]
		t.Run(w.qn, func(t *testing.T) {
			assert.Equal(t, []string{w.qn}, f.AffectedEntities)
			assert.Equal(t, models.FindingUnusedElement, f.FindingType)
			assert.Equal(t, w.severity, f.Severity)
			assert.Equal(t, w.classification, f.Classification)
			assert.InDelta(t, w.confidence, f.ConfidenceScore, 1e-9)
			assert.NotEmpty(t, f.Recommendations)
		})
	}
}

func TestUnusedSkipsRootsAndReferenced(t *testing.T) {
	res := newAnalyzer(unusedFixture()).DetectUnusedElements(context.Background(), "proj")
	require.True(t, res.Success, res.Error)

	flagged := map[string]bool{}
	for _, f := range res.Findings {
		flagged[f.AffectedEntities[0]] = true
	}

	tests := []struct {
		qn     string
		reason string
	}{
		{"m.main", "entry point pattern"},
		{"m.test_parse", "test pattern"},
		{"m.Exported", "exported"},
		{"m.Api", "top-level public"},
		{"m.Api.run", "reached through DEFINES"},
		{"m.helper", "called from a root"},
		{"m._called_by_dead", "has an inbound reference"},
		{"m._CONST", "variables are not candidates"},
		{"m", "modules are not candidates"},
		{"ext.Base", "placeholders are not candidates"},
	}
	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			assert.False(t, flagged[tt.qn], tt.qn)
		})
	}
}

func TestUnusedCandidateTypesFromPolicy(t *testing.T) {
	p := DefaultPolicy()
	p.CandidateTypes = []models.EntityType{models.EntityFunction}

	a := NewAnalyzer(staticReader{snap: unusedFixture()}, p, nil)
	res := a.DetectUnusedElements(context.Background(), "proj")
	require.True(t, res.Success, res.Error)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, []string{"m._dead"}, res.Findings[0].AffectedEntities)
}

func TestUnusedPublicDiscount(t *testing.T) {
	tests := []struct {
		name     string
		discount float64
		expected float64
	}{
		{"default", 0.2, 0.7},
		{"none", 0, 0.9},
		{"clamped", 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy()
			p.PublicAPIConfidenceDiscount = tt.discount
			snap := &graph.Snapshot{
				Entities: []models.CodeEntity{
					entityOf("m.Outer", models.EntityClass, models.VisibilityPrivate),
					entityOf("m.Outer.visible", models.EntityMethod, models.VisibilityPublic),
				},
				Relationships: []models.Relationship{
					link("m.Outer", "m.Outer.visible", models.RelDefines),
				},
			}
			res := NewAnalyzer(staticReader{snap: snap}, p, nil).DetectUnusedElements(context.Background(), "proj")
			require.True(t, res.Success, res.Error)
			require.Len(t, res.Findings, 2)
			assert.Equal(t, "m.Outer.visible", res.Findings[0].AffectedEntities[0])
			assert.InDelta(t, tt.expected, res.Findings[0].ConfidenceScore, 1e-9)
		})
	}
}

func TestUnusedEmptyGraph(t *testing.T) {
	res := newAnalyzer(&graph.Snapshot{}).DetectUnusedElements(context.Background(), "proj")
	require.True(t, res.Success, res.Error)
	assert.NotNil(t, res.Findings)
	assert.Empty(t, res.Findings)
}
