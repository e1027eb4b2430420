package analysis

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/rohankatakam/codegraph/internal/models"
)

// cycleFindings turns every strongly connected component of g into one
// CircularDependency finding
func cycleFindings(ctx context.Context, g *codeGraph, p Policy) ([]models.AnalysisFinding, error) {
	components, err := g.stronglyConnected(ctx)
	if err != nil {
		return nil, err
	}

	findings := make([]models.AnalysisFinding, 0, len(components))
	for _, comp := range components {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		findings = append(findings, describeCycle(g, comp, p))
	}
	sortFindings(findings)
	return findings, nil
}

func describeCycle(g *codeGraph, comp []int, p Policy) models.AnalysisFinding {
	sort.Slice(comp, func(i, j int) bool {
		return g.nodes[comp[i]].QualifiedName < g.nodes[comp[j]].QualifiedName
	})
	members := make(map[int]bool, len(comp))
	names := make([]string, len(comp))
	files := make(map[string]bool)
	for i, v := range comp {
		members[v] = true
		names[i] = g.nodes[v].QualifiedName
		if f := g.nodes[v].FilePath; f != "" {
			files[f] = true
		}
	}

	var (
		total, heuristic int
		inheritance      bool
		calls            bool
		weakest          [2]int
		weakestCost      = -1
	)
	for _, u := range comp {
		for _, e := range g.out[u] {
			if !members[e.to] || e.to == u {
				continue
			}
			total++
			if e.heuristic {
				heuristic++
			}
			switch e.rel {
			case models.RelExtends, models.RelImplements:
				inheritance = true
			case models.RelCalls:
				calls = true
			}
			cost := g.degree(u) + g.degree(e.to)
			if weakestCost < 0 || cost < weakestCost ||
				(cost == weakestCost && lessEdge(g, u, e.to, weakest[0], weakest[1])) {
				weakest, weakestCost = [2]int{u, e.to}, cost
			}
		}
	}

	severity := models.SeverityMedium
	switch {
	case inheritance:
		severity = models.SeverityCritical
	case calls && len(files) > 1:
		severity = models.SeverityHigh
	}

	fraction := 0.0
	if total > 0 {
		fraction = float64(heuristic) / float64(total)
	}
	confidence := clamp01(p.CycleBaseConfidence * (1 - p.HeuristicEdgeDiscount*fraction))

	path := g.shortestCycle(comp[0], members)
	hops := make([]string, len(path))
	for i, v := range path {
		hops[i] = g.nodes[v].QualifiedName
	}

	src, dst := g.nodes[weakest[0]].QualifiedName, g.nodes[weakest[1]].QualifiedName
	return models.AnalysisFinding{
		ID:               uuid.NewString(),
		FindingType:      models.FindingCircularDependency,
		Severity:         severity,
		ConfidenceScore:  confidence,
		AffectedEntities: names,
		Description: fmt.Sprintf("circular dependency between %d entities across %d file(s): %s",
			len(names), len(files), strings.Join(hops, " -> ")),
		Recommendations: []string{
			fmt.Sprintf("break the dependency %s -> %s, the least coupled edge in the cycle", src, dst),
			"move the shared code into a separate module that the cycle members depend on",
		},
		Classification: models.ClassificationCycle,
	}
}

func lessEdge(g *codeGraph, u1, v1, u2, v2 int) bool {
	a, b := g.nodes[u1].QualifiedName, g.nodes[u2].QualifiedName
	if a != b {
		return a < b
	}
	return g.nodes[v1].QualifiedName < g.nodes[v2].QualifiedName
}

// sortFindings orders by severity descending, then by first affected entity
func sortFindings(findings []models.AnalysisFinding) {
	sort.SliceStable(findings, func(i, j int) bool {
		ri, rj := findings[i].Severity.Rank(), findings[j].Severity.Rank()
		if ri != rj {
			return ri > rj
		}
		return first(findings[i].AffectedEntities) < first(findings[j].AffectedEntities)
	})
}

func first(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}
