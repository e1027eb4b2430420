package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/codegraph/internal/config"
	"github.com/rohankatakam/codegraph/internal/models"
)

// ErrStoreClosed is returned by operations on a closed store
var ErrStoreClosed = errors.New("graph store is closed")

// Direction selects which edges GetNeighbors follows
type Direction string

const (
	Outgoing Direction = "out"
	Incoming Direction = "in"
	Both     Direction = "both"
)

// BatchCounts reports what one committed batch did to the store
type BatchCounts struct {
	NodesCreated         int
	NodesMatched         int
	RelationshipsCreated int
	RelationshipsMatched int
	PlaceholdersCreated  int
}

// Add accumulates another batch into c
func (c *BatchCounts) Add(o BatchCounts) {
	c.NodesCreated += o.NodesCreated
	c.NodesMatched += o.NodesMatched
	c.RelationshipsCreated += o.RelationshipsCreated
	c.RelationshipsMatched += o.RelationshipsMatched
	c.PlaceholdersCreated += o.PlaceholdersCreated
}

// Snapshot is a consistent read of one project's graph
type Snapshot struct {
	ProjectName   string
	Entities      []models.CodeEntity
	Relationships []models.Relationship
}

// Writer upserts batches. Every call is a single transaction: it either
// commits entirely or leaves the store unchanged.
type Writer interface {
	// EnsureSchema creates the identity constraint if missing
	EnsureSchema(ctx context.Context) error

	// WriteEntities upserts entities keyed by (project, qualified name),
	// overwriting attributes and promoting placeholders in place
	WriteEntities(ctx context.Context, project string, entities []models.CodeEntity) (BatchCounts, error)

	// WriteRelationships upserts edges keyed by (project, source, target, type),
	// creating placeholder nodes for endpoints that do not exist yet
	WriteRelationships(ctx context.Context, project string, rels []models.Relationship) (BatchCounts, error)
}

// Reader is the read side used by the query interface
type Reader interface {
	// Entities lists entities of a type; empty type means all, placeholders included
	Entities(ctx context.Context, project string, entityType models.EntityType) ([]models.CodeEntity, error)

	// Relationships lists edges of a type; empty type means all
	Relationships(ctx context.Context, project string, relType models.RelationshipType) ([]models.Relationship, error)

	// Neighbors returns entities adjacent to qualifiedName
	Neighbors(ctx context.Context, project, qualifiedName string, relType models.RelationshipType, dir Direction) ([]models.CodeEntity, error)

	// Lookup returns one entity, or ok=false if there is no node at all
	Lookup(ctx context.Context, project, qualifiedName string) (models.CodeEntity, bool, error)

	// Snapshot reads all entities and edges of a project in one read transaction
	Snapshot(ctx context.Context, project string) (*Snapshot, error)
}

// Store is a graph database backend
// Supports Neo4j (Cypher over bolt) and an embedded bbolt file
type Store interface {
	Reader
	Writer
	HealthCheck(ctx context.Context) error
	// DropProject deletes every entity and edge of a project
	DropProject(ctx context.Context, project string) error
	Close(ctx context.Context) error
}

// Open creates the store selected by the storage section of cfg
func Open(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (Store, error) {
	switch cfg.Storage.Backend {
	case "neo4j", "":
		return NewNeo4jStore(ctx, cfg.Neo4j, logger)
	case "bolt":
		return NewBoltStore(cfg.Storage.BoltPath, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

var (
	_ Store = (*Neo4jStore)(nil)
	_ Store = (*BoltStore)(nil)
)
