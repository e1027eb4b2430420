package config

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/rohankatakam/codegraph/internal/errors"
	"github.com/rohankatakam/codegraph/internal/models"
)

// ValidationContext specifies what configuration is required
type ValidationContext string

const (
	// ValidationContextBuild - parsing and committing need a writable store
	ValidationContextBuild ValidationContext = "build"
	// ValidationContextAnalyze - analysis needs a readable store and sane thresholds
	ValidationContextAnalyze ValidationContext = "analyze"
	// ValidationContextAll - validate all configuration
	ValidationContextAll ValidationContext = "all"
)

// ValidationResult holds validation results
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// AddError adds an error to the validation result
func (vr *ValidationResult) AddError(format string, args ...any) {
	vr.Valid = false
	vr.Errors = append(vr.Errors, fmt.Sprintf(format, args...))
}

// AddWarning adds a warning to the validation result
func (vr *ValidationResult) AddWarning(format string, args ...any) {
	vr.Warnings = append(vr.Warnings, fmt.Sprintf(format, args...))
}

// HasErrors returns true if there are any errors
func (vr *ValidationResult) HasErrors() bool {
	return !vr.Valid || len(vr.Errors) > 0
}

// Error returns a formatted error message
func (vr *ValidationResult) Error() string {
	if !vr.HasErrors() {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range vr.Errors {
		fmt.Fprintf(&sb, "  - %s\n", err)
	}
	if len(vr.Warnings) > 0 {
		sb.WriteString("warnings:\n")
		for _, warn := range vr.Warnings {
			fmt.Fprintf(&sb, "  - %s\n", warn)
		}
	}
	return sb.String()
}

// Validate validates configuration for the given context
func (c *Config) Validate(ctx ValidationContext) *ValidationResult {
	result := &ValidationResult{Valid: true}

	switch ctx {
	case ValidationContextBuild:
		c.validateStorage(result)
		c.validateCache(result)
		c.validateParser(result)
		c.validateGraph(result)
	case ValidationContextAnalyze:
		c.validateStorage(result)
		c.validateAnalysis(result)
	default:
		c.validateStorage(result)
		c.validateCache(result)
		c.validateParser(result)
		c.validateGraph(result)
		c.validateAnalysis(result)
	}
	return result
}

// ValidateOrError returns a config error when validation fails
func (c *Config) ValidateOrError(ctx ValidationContext) error {
	result := c.Validate(ctx)
	if result.HasErrors() {
		return errors.ConfigError(result.Error())
	}
	return nil
}

func (c *Config) validateStorage(result *ValidationResult) {
	switch c.Storage.Backend {
	case "neo4j":
		c.validateNeo4j(result)
	case "bolt":
		if c.Storage.BoltPath == "" {
			result.AddError("storage.bolt_path is required for the bolt backend")
		}
	default:
		result.AddError("storage.backend must be neo4j or bolt, got %q", c.Storage.Backend)
	}
}

func (c *Config) validateNeo4j(result *ValidationResult) {
	if c.Neo4j.URI == "" {
		result.AddError("NEO4J_URI is required but not set")
	} else if u, err := url.Parse(c.Neo4j.URI); err != nil {
		result.AddError("NEO4J_URI is invalid: %v", err)
	} else if !strings.HasPrefix(u.Scheme, "bolt") && !strings.HasPrefix(u.Scheme, "neo4j") {
		result.AddError("NEO4J_URI scheme must be bolt or neo4j, got %q", u.Scheme)
	}

	if c.Neo4j.User == "" {
		result.AddError("NEO4J_USER is required but not set")
	}
	if c.Neo4j.Password == "" {
		result.AddError("NEO4J_PASSWORD is required but not set. Set it via environment variable or .env file.")
	} else if c.Neo4j.Password == "password" || c.Neo4j.Password == "neo4j" {
		result.AddWarning("NEO4J_PASSWORD is set to a very common password (%s)", c.Neo4j.Password)
	}
	if c.Neo4j.Database == "" {
		result.AddWarning("NEO4J_DATABASE is not set, will use the server default")
	}
}

func (c *Config) validateCache(result *ValidationResult) {
	if !c.Cache.Enabled {
		return
	}
	switch c.Cache.Driver {
	case "sqlite3":
	case "pgx":
		if !strings.HasPrefix(c.Cache.DSN, "postgres://") && !strings.HasPrefix(c.Cache.DSN, "postgresql://") {
			result.AddError("cache.dsn must start with postgres:// or postgresql:// for the pgx driver")
		}
	case "redis":
		if !strings.HasPrefix(c.Cache.DSN, "redis://") && !strings.HasPrefix(c.Cache.DSN, "rediss://") {
			result.AddError("cache.dsn must start with redis:// or rediss:// for the redis driver")
		}
		if c.Cache.TTL < 0 {
			result.AddError("cache.ttl cannot be negative")
		}
	default:
		result.AddError("cache.driver must be sqlite3, pgx or redis, got %q", c.Cache.Driver)
	}
	if c.Cache.DSN == "" {
		result.AddError("cache.dsn is required when the cache is enabled")
	}
}

func (c *Config) validateParser(result *ValidationResult) {
	if c.Parser.Workers <= 0 {
		result.AddError("parser.workers must be positive, got %d", c.Parser.Workers)
	}
	if c.Parser.FileTimeout <= 0 {
		result.AddWarning("parser.file_timeout is not set, files will not time out individually")
	}
	if c.Parser.MaxFileSize <= 0 {
		result.AddWarning("parser.max_file_size is not set, no file will be skipped for size")
	}
}

func (c *Config) validateGraph(result *ValidationResult) {
	if c.Graph.EntityBatchSize <= 0 {
		result.AddError("graph.entity_batch_size must be positive, got %d", c.Graph.EntityBatchSize)
	}
	if c.Graph.RelationshipBatchSize <= 0 {
		result.AddError("graph.relationship_batch_size must be positive, got %d", c.Graph.RelationshipBatchSize)
	}
	if c.Graph.MaxRetries < 0 {
		result.AddError("graph.max_retries cannot be negative, got %d", c.Graph.MaxRetries)
	}
	if c.Graph.MaxBackoff < c.Graph.InitialBackoff {
		result.AddError("graph.max_backoff (%s) is below graph.initial_backoff (%s)", c.Graph.MaxBackoff, c.Graph.InitialBackoff)
	}
	if c.Graph.WritesPerSecond < 0 {
		result.AddError("graph.writes_per_second cannot be negative")
	}
}

func (c *Config) validateAnalysis(result *ValidationResult) {
	a := c.Analysis
	unit := map[string]float64{
		"analysis.cycle_base_confidence":          a.CycleBaseConfidence,
		"analysis.heuristic_edge_discount":        a.HeuristicEdgeDiscount,
		"analysis.unused_confidence":              a.UnusedConfidence,
		"analysis.possibly_unused_confidence":     a.PossiblyUnusedConfidence,
		"analysis.public_api_confidence_discount": a.PublicAPIConfidenceDiscount,
	}
	for key, v := range unit {
		if v < 0 || v > 1 {
			result.AddError("%s is out of range [0,1]: %.2f", key, v)
		}
	}
	if a.PossiblyUnusedConfidence >= a.UnusedConfidence {
		result.AddWarning("analysis.possibly_unused_confidence should be below analysis.unused_confidence")
	}

	for _, name := range append(append([]string{}, a.CycleRelationshipTypes...), a.TraversalTypes...) {
		if _, err := models.ParseRelationshipType(name); err != nil {
			result.AddError("analysis: %v", err)
		}
	}
	for _, name := range a.CandidateTypes {
		if _, err := models.ParseEntityType(name); err != nil {
			result.AddError("analysis.candidate_types: %v", err)
		}
	}
	for _, pattern := range a.EntryPointPatterns {
		if _, err := path.Match(pattern, ""); err != nil {
			result.AddError("analysis.entry_point_patterns: bad pattern %q", pattern)
		}
	}
}
