package graph

import (
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Operation names used for transaction metadata and timeouts
const (
	OpEntityBatch       = "entity_batch"
	OpRelationshipBatch = "relationship_batch"
	OpSchema            = "schema"
	OpSnapshot          = "snapshot"
	OpQuery             = "query"
	OpHealthCheck       = "health_check"
	OpDropProject       = "drop_project"
)

// TransactionConfig defines timeout and metadata for transactions
//
// Transaction metadata is logged by Neo4j and visible in query.log,
// which lets slow batches be traced back to a project and run.
type TransactionConfig struct {
	Timeout  time.Duration
	Metadata map[string]any
}

// DefaultTransactionConfigs returns recommended configs per operation type
func DefaultTransactionConfigs() map[string]TransactionConfig {
	return map[string]TransactionConfig{
		OpEntityBatch: {
			Timeout: 3 * time.Minute,
			Metadata: map[string]any{
				"operation": OpEntityBatch,
				"type":      "write",
			},
		},
		OpRelationshipBatch: {
			Timeout: 3 * time.Minute, // placeholder MERGEs make these slower than entity batches
			Metadata: map[string]any{
				"operation": OpRelationshipBatch,
				"type":      "write",
			},
		},
		OpSchema: {
			Timeout: 5 * time.Minute,
			Metadata: map[string]any{
				"operation": OpSchema,
				"type":      "schema",
			},
		},
		OpSnapshot: {
			Timeout: 2 * time.Minute,
			Metadata: map[string]any{
				"operation": OpSnapshot,
				"type":      "read",
			},
		},
		OpQuery: {
			Timeout: 60 * time.Second,
			Metadata: map[string]any{
				"operation": OpQuery,
				"type":      "read",
			},
		},
		OpDropProject: {
			Timeout: 2 * time.Minute, // per chunk
			Metadata: map[string]any{
				"operation": OpDropProject,
				"type":      "write",
			},
		},
		OpHealthCheck: {
			Timeout: 5 * time.Second,
			Metadata: map[string]any{
				"operation": OpHealthCheck,
				"type":      "read",
			},
		},
	}
}

// AsNeo4jConfig converts to Neo4j transaction config functions
// Use with ExecuteRead/ExecuteWrite
func (tc TransactionConfig) AsNeo4jConfig() []func(*neo4j.TransactionConfig) {
	var configs []func(*neo4j.TransactionConfig)
	if tc.Timeout > 0 {
		configs = append(configs, neo4j.WithTxTimeout(tc.Timeout))
	}
	if len(tc.Metadata) > 0 {
		configs = append(configs, neo4j.WithTxMetadata(tc.Metadata))
	}
	return configs
}

// GetConfigForOperation retrieves the appropriate transaction config
// Returns a 60s default if the operation is not known
func GetConfigForOperation(operation string) TransactionConfig {
	if config, ok := DefaultTransactionConfigs()[operation]; ok {
		return config
	}
	return TransactionConfig{
		Timeout: 60 * time.Second,
		Metadata: map[string]any{
			"operation": operation,
			"type":      "unknown",
		},
	}
}

// WithCustomMetadata returns a copy with one extra metadata entry
func (tc TransactionConfig) WithCustomMetadata(key string, value any) TransactionConfig {
	md := make(map[string]any, len(tc.Metadata)+1)
	for k, v := range tc.Metadata {
		md[k] = v
	}
	md[key] = value
	return TransactionConfig{Timeout: tc.Timeout, Metadata: md}
}

// WithTimeout returns a copy with a custom timeout
func (tc TransactionConfig) WithTimeout(timeout time.Duration) TransactionConfig {
	return TransactionConfig{Timeout: timeout, Metadata: tc.Metadata}
}
