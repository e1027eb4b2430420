package analysis

import (
	"path"
	"time"

	"github.com/rohankatakam/codegraph/internal/config"
	"github.com/rohankatakam/codegraph/internal/errors"
	"github.com/rohankatakam/codegraph/internal/models"
)

// Policy holds the thresholds both detectors use
type Policy struct {
	// Timeout bounds one detector call, snapshot load included
	Timeout time.Duration

	// CycleRelationshipTypes selects the edges considered for cycles
	CycleRelationshipTypes []models.RelationshipType
	// CycleBaseConfidence is the confidence of a cycle made only of exact edges
	CycleBaseConfidence float64
	// HeuristicEdgeDiscount scales down confidence by the share of heuristic edges
	HeuristicEdgeDiscount float64

	UnusedConfidence            float64
	PossiblyUnusedConfidence    float64
	PublicAPIConfidenceDiscount float64

	// EntryPointPatterns are path.Match globs on entity names
	EntryPointPatterns []string
	// TraversalTypes are followed from roots during reachability
	TraversalTypes []models.RelationshipType
	// CandidateTypes are the entity kinds that may be reported unused
	CandidateTypes []models.EntityType
}

// DefaultPolicy mirrors the analysis defaults of config.Default
func DefaultPolicy() Policy {
	p, err := PolicyFrom(config.Default().Analysis)
	if err != nil {
		panic(err) // defaults are static
	}
	return p
}

// PolicyFrom converts the analysis section of the application config
func PolicyFrom(c config.AnalysisConfig) (Policy, error) {
	p := Policy{
		Timeout:                     c.Timeout,
		CycleBaseConfidence:         c.CycleBaseConfidence,
		HeuristicEdgeDiscount:       c.HeuristicEdgeDiscount,
		UnusedConfidence:            c.UnusedConfidence,
		PossiblyUnusedConfidence:    c.PossiblyUnusedConfidence,
		PublicAPIConfidenceDiscount: c.PublicAPIConfidenceDiscount,
		EntryPointPatterns:          append([]string(nil), c.EntryPointPatterns...),
	}

	var err error
	if p.CycleRelationshipTypes, err = parseRelTypes(c.CycleRelationshipTypes); err != nil {
		return Policy{}, err
	}
	if p.TraversalTypes, err = parseRelTypes(c.TraversalTypes); err != nil {
		return Policy{}, err
	}
	for _, name := range c.CandidateTypes {
		t, err := models.ParseEntityType(name)
		if err != nil {
			return Policy{}, errors.ConfigErrorf("analysis.candidate_types: %v", err)
		}
		p.CandidateTypes = append(p.CandidateTypes, t)
	}
	return p, p.Validate()
}

func parseRelTypes(names []string) ([]models.RelationshipType, error) {
	out := make([]models.RelationshipType, 0, len(names))
	for _, name := range names {
		t, err := models.ParseRelationshipType(name)
		if err != nil {
			return nil, errors.ConfigErrorf("analysis: %v", err)
		}
		out = append(out, t)
	}
	return out, nil
}

// Validate checks ranges and patterns
func (p Policy) Validate() error {
	for name, v := range map[string]float64{
		"cycle_base_confidence":          p.CycleBaseConfidence,
		"heuristic_edge_discount":        p.HeuristicEdgeDiscount,
		"unused_confidence":              p.UnusedConfidence,
		"possibly_unused_confidence":     p.PossiblyUnusedConfidence,
		"public_api_confidence_discount": p.PublicAPIConfidenceDiscount,
	} {
		if v < 0 || v > 1 {
			return errors.ConfigErrorf("analysis.%s is out of range [0,1]: %.2f", name, v)
		}
	}
	for _, pattern := range p.EntryPointPatterns {
		if _, err := path.Match(pattern, ""); err != nil {
			return errors.ConfigErrorf("analysis.entry_point_patterns: bad pattern %q", pattern)
		}
	}
	if len(p.CycleRelationshipTypes) == 0 {
		return errors.ConfigErrorf("analysis.cycle_relationship_types must not be empty")
	}
	if len(p.CandidateTypes) == 0 {
		return errors.ConfigErrorf("analysis.candidate_types must not be empty")
	}
	return nil
}

// isEntryPoint reports whether name matches a conventional entry-point pattern
func (p Policy) isEntryPoint(name string) bool {
	for _, pattern := range p.EntryPointPatterns {
		if ok, _ := path.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
