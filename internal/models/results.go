package models

import (
	"fmt"
	"strings"
	"time"
)

// FindingType is the category of an analysis finding
type FindingType string

const (
	FindingCircularDependency FindingType = "CircularDependency"
	FindingUnusedElement      FindingType = "UnusedElement"
)

// Severity ranks how urgent a finding is
type Severity string

const (
	SeverityLow      Severity = "Low"
	SeverityMedium   Severity = "Medium"
	SeverityHigh     Severity = "High"
	SeverityCritical Severity = "Critical"
)

// Rank orders severities from Low (1) to Critical (4); unknown values rank 0
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// ParseSeverity converts a case-insensitive name into a Severity
func ParseSeverity(s string) (Severity, error) {
	for _, v := range []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical} {
		if strings.EqualFold(string(v), s) {
			return v, nil
		}
	}
	return "", fmt.Errorf("unknown severity %q", s)
}

// Finding classifications
const (
	ClassificationCycle          = "cycle"
	ClassificationUnused         = "unused"
	ClassificationPossiblyUnused = "possibly_unused"
)

// AnalysisFinding is a single result of a structural analysis. Findings are
// recomputed on every request and never persisted.
type AnalysisFinding struct {
	ID               string      `json:"id" yaml:"id"`
	FindingType      FindingType `json:"finding_type" yaml:"finding_type"`
	Severity         Severity    `json:"severity" yaml:"severity"`
	ConfidenceScore  float64     `json:"confidence_score" yaml:"confidence_score"`
	AffectedEntities []string    `json:"affected_entities" yaml:"affected_entities"`
	Description      string      `json:"description" yaml:"description"`
	Recommendations  []string    `json:"recommendations" yaml:"recommendations"`
	Classification   string      `json:"classification" yaml:"classification"`
}

// GraphOperationResult reports the outcome of committing a ParseResult
type GraphOperationResult struct {
	ProjectName          string        `json:"project_name" yaml:"project_name"`
	RunID                string        `json:"run_id" yaml:"run_id"`
	NodesCreated         int           `json:"nodes_created" yaml:"nodes_created"`
	NodesMatched         int           `json:"nodes_matched" yaml:"nodes_matched"`
	RelationshipsCreated int           `json:"relationships_created" yaml:"relationships_created"`
	RelationshipsMatched int           `json:"relationships_matched" yaml:"relationships_matched"`
	PlaceholdersCreated  int           `json:"placeholders_created" yaml:"placeholders_created"`
	BatchesCommitted     int           `json:"batches_committed" yaml:"batches_committed"`
	BatchesFailed        int           `json:"batches_failed" yaml:"batches_failed"`
	Retries              int           `json:"retries" yaml:"retries"`
	Duration             time.Duration `json:"duration" yaml:"duration"`
	Success              bool          `json:"success" yaml:"success"`
	Error                string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// AnalysisState is a step of the analyzer lifecycle
type AnalysisState string

const (
	StateRequested   AnalysisState = "REQUESTED"
	StateGraphLoaded AnalysisState = "GRAPH_LOADED"
	StateComputing   AnalysisState = "COMPUTING"
	StateCompleted   AnalysisState = "COMPLETED"
	StateFailed      AnalysisState = "FAILED"
)

// IsTerminal reports whether no further transitions are allowed
func (s AnalysisState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// AnalysisResult is the typed outcome of one detector run
type AnalysisResult struct {
	ProjectName string            `json:"project_name" yaml:"project_name"`
	Analysis    string            `json:"analysis" yaml:"analysis"`
	State       AnalysisState     `json:"state" yaml:"state"`
	Success     bool              `json:"success" yaml:"success"`
	Findings    []AnalysisFinding `json:"findings" yaml:"findings"`
	Error       string            `json:"error,omitempty" yaml:"error,omitempty"`
	Duration    time.Duration     `json:"duration" yaml:"duration"`
}
