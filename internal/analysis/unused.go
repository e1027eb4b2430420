package analysis

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/rohankatakam/codegraph/internal/models"
)

// unusedFindings reports candidates that are neither roots nor reachable from
// one and that nothing references. g must hold every edge type.
func unusedFindings(ctx context.Context, g *codeGraph, p Policy) ([]models.AnalysisFinding, error) {
	candidates := make(map[models.EntityType]bool, len(p.CandidateTypes))
	for _, t := range p.CandidateTypes {
		candidates[t] = true
	}
	traverse := make(map[models.RelationshipType]bool, len(p.TraversalTypes))
	for _, t := range p.TraversalTypes {
		traverse[t] = true
	}

	isCandidate := func(v int) bool {
		e := g.nodes[v]
		return !e.IsPlaceholder() && candidates[e.EntityType]
	}

	reached := make([]bool, len(g.nodes))
	roots := make([]bool, len(g.nodes))
	var stack []int
	for v := range g.nodes {
		if isCandidate(v) && isRoot(g, v, p) {
			roots[v], reached[v] = true, true
			stack = append(stack, v)
		}
	}

	for steps := 0; len(stack) > 0; steps++ {
		if steps%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range g.out[v] {
			if traverse[e.rel] && !reached[e.to] {
				reached[e.to] = true
				stack = append(stack, e.to)
			}
		}
	}

	var findings []models.AnalysisFinding
	for v := range g.nodes {
		if !isCandidate(v) || reached[v] || roots[v] || referenced(g, v) {
			continue
		}
		findings = append(findings, describeUnused(g, v, p))
	}
	sortFindings(findings)
	return findings, nil
}

// isRoot reports whether v is an entry point of the program
func isRoot(g *codeGraph, v int, p Policy) bool {
	e := g.nodes[v]
	if e.Exported || p.isEntryPoint(e.Name) {
		return true
	}
	return e.Visibility == models.VisibilityPublic && topLevel(g, v)
}

// topLevel reports whether v is only defined by files or modules
func topLevel(g *codeGraph, v int) bool {
	for _, e := range g.in[v] {
		if e.rel.IsStructural() && !g.nodes[e.to].EntityType.IsContainer() {
			return false
		}
	}
	return true
}

// referenced reports whether any non-structural edge points at v
func referenced(g *codeGraph, v int) bool {
	for _, e := range g.in[v] {
		if !e.rel.IsStructural() && e.to != v {
			return true
		}
	}
	return false
}

// externalBase returns the placeholder type v (or the class defining v)
// extends or implements, if any. Such entities are often invoked by
// frameworks the graph cannot see.
func externalBase(g *codeGraph, v int) (string, bool) {
	owners := []int{v}
	if g.nodes[v].EntityType == models.EntityMethod {
		for _, e := range g.in[v] {
			if e.rel == models.RelDefines {
				owners = append(owners, e.to)
			}
		}
	}
	for _, o := range owners {
		for _, e := range g.out[o] {
			if (e.rel == models.RelExtends || e.rel == models.RelImplements) && g.nodes[e.to].IsPlaceholder() {
				return g.nodes[e.to].QualifiedName, true
			}
		}
	}
	return "", false
}

func describeUnused(g *codeGraph, v int, p Policy) models.AnalysisFinding {
	e := g.nodes[v]
	public := e.Visibility == models.VisibilityPublic

	severity := models.SeverityLow
	if public {
		severity = models.SeverityMedium
	}

	location := e.FilePath
	if e.StartLine > 0 {
		location = fmt.Sprintf("%s:%d", e.FilePath, e.StartLine)
	}

	f := models.AnalysisFinding{
		ID:               uuid.NewString(),
		FindingType:      models.FindingUnusedElement,
		Severity:         severity,
		AffectedEntities: []string{e.QualifiedName},
	}

	if base, ok := externalBase(g, v); ok {
		f.Classification = models.ClassificationPossiblyUnused
		f.ConfidenceScore = clamp01(p.PossiblyUnusedConfidence)
		f.Description = fmt.Sprintf("%s %s at %s has no references but derives from external type %s",
			e.EntityType, e.QualifiedName, location, base)
		f.Recommendations = []string{
			fmt.Sprintf("check whether a framework calls %s through %s before removing it", e.Name, base),
		}
		return f
	}

	confidence := p.UnusedConfidence
	if public {
		confidence -= p.PublicAPIConfidenceDiscount
	}
	f.Classification = models.ClassificationUnused
	f.ConfidenceScore = clamp01(confidence)
	f.Description = fmt.Sprintf("%s %s at %s is not reachable from any entry point and has no references",
		e.EntityType, e.QualifiedName, location)
	f.Recommendations = []string{fmt.Sprintf("remove %s or add a caller", e.Name)}
	if public {
		f.Recommendations = append(f.Recommendations,
			"it is public, so confirm no external consumer imports it")
	}
	return f
}
