package graph

import (
	"time"

	"github.com/rohankatakam/codegraph/internal/config"
)

// BatchConfig defines batch sizes and retry policy for commits
//
// Batch size guidance for UNWIND writes:
// - Entities carry ~10 properties: 200-2000 per batch
// - Relationships carry 3 properties: 500-5000 per batch
type BatchConfig struct {
	EntityBatchSize       int
	RelationshipBatchSize int

	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultBatchConfig returns batch sizes for medium projects (~5K files)
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		EntityBatchSize:       500,
		RelationshipBatchSize: 1000,
		MaxRetries:            3,
		InitialBackoff:        200 * time.Millisecond,
		MaxBackoff:            5 * time.Second,
	}
}

// SmallProjectBatchConfig for projects under 2K entities
// Uses smaller batches to reduce memory pressure
func SmallProjectBatchConfig() BatchConfig {
	c := DefaultBatchConfig()
	c.EntityBatchSize = 200
	c.RelationshipBatchSize = 500
	return c
}

// LargeProjectBatchConfig for projects over 100K entities
// Uses larger batches for maximum throughput
func LargeProjectBatchConfig() BatchConfig {
	c := DefaultBatchConfig()
	c.EntityBatchSize = 2000
	c.RelationshipBatchSize = 5000
	return c
}

// BatchConfigFor picks a preset by entity count
func BatchConfigFor(entityCount int) BatchConfig {
	switch {
	case entityCount < 2000:
		return SmallProjectBatchConfig()
	case entityCount > 100000:
		return LargeProjectBatchConfig()
	default:
		return DefaultBatchConfig()
	}
}

// BatchConfigFrom maps the graph section of the application config.
// Zero sizes are left for the builder to fill from BatchConfigFor.
func BatchConfigFrom(c config.GraphConfig) BatchConfig {
	return BatchConfig{
		EntityBatchSize:       c.EntityBatchSize,
		RelationshipBatchSize: c.RelationshipBatchSize,
		MaxRetries:            c.MaxRetries,
		InitialBackoff:        c.InitialBackoff,
		MaxBackoff:            c.MaxBackoff,
	}
}

// withDefaults fills unset fields from the preset for the given project size
func (bc BatchConfig) withDefaults(entityCount int) BatchConfig {
	preset := BatchConfigFor(entityCount)
	if bc.EntityBatchSize <= 0 {
		bc.EntityBatchSize = preset.EntityBatchSize
	}
	if bc.RelationshipBatchSize <= 0 {
		bc.RelationshipBatchSize = preset.RelationshipBatchSize
	}
	if bc.MaxRetries < 0 {
		bc.MaxRetries = 0
	}
	if bc.InitialBackoff <= 0 {
		bc.InitialBackoff = preset.InitialBackoff
	}
	if bc.MaxBackoff < bc.InitialBackoff {
		bc.MaxBackoff = bc.InitialBackoff
	}
	return bc
}
