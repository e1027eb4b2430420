package graph

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/codegraph/internal/config"
	"github.com/rohankatakam/codegraph/internal/models"
)

// Neo4jStore implements Store over Cypher
type Neo4jStore struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *logrus.Entry
	closed   atomic.Bool
}

// NewNeo4jStore connects to Neo4j and verifies connectivity
func NewNeo4jStore(ctx context.Context, cfg config.Neo4jConfig, logger *logrus.Logger) (*Neo4jStore, error) {
	if cfg.URI == "" || cfg.User == "" || cfg.Password == "" {
		return nil, fmt.Errorf("neo4j credentials missing: uri=%s, user=%s", cfg.URI, cfg.User)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	poolSize := cfg.MaxConnectionPoolSize
	if poolSize <= 0 {
		poolSize = 50
	}
	acquireTimeout := cfg.ConnectionTimeout
	if acquireTimeout <= 0 {
		acquireTimeout = 60 * time.Second
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI,
		neo4j.BasicAuth(cfg.User, cfg.Password, ""),
		func(c *neo4j.Config) {
			c.MaxConnectionPoolSize = poolSize
			c.ConnectionAcquisitionTimeout = acquireTimeout
			c.MaxConnectionLifetime = time.Hour
			c.ConnectionLivenessCheckTimeout = 5 * time.Second
			c.SocketConnectTimeout = 5 * time.Second
			c.SocketKeepalive = true
		})
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	// fail fast on startup
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to connect to neo4j at %s: %w", cfg.URI, err)
	}

	entry := logger.WithField("component", "neo4j")
	entry.WithFields(logrus.Fields{
		"uri":           cfg.URI,
		"database":      cfg.Database,
		"max_pool_size": poolSize,
	}).Info("neo4j store connected")

	return &Neo4jStore{driver: driver, database: cfg.Database, logger: entry}, nil
}

// Close closes the Neo4j driver connection
func (s *Neo4jStore) Close(ctx context.Context) error {
	if s.closed.Swap(true) {
		return nil
	}
	if err := s.driver.Close(ctx); err != nil {
		return fmt.Errorf("failed to close neo4j driver: %w", err)
	}
	s.logger.Info("neo4j store closed")
	return nil
}

// HealthCheck verifies Neo4j connectivity
func (s *Neo4jStore) HealthCheck(ctx context.Context) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	ctx, cancel := context.WithTimeout(ctx, GetConfigForOperation(OpHealthCheck).Timeout)
	defer cancel()
	if err := s.driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("neo4j health check failed: %w", err)
	}
	return nil
}

func (s *Neo4jStore) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: s.database,
		AccessMode:   mode,
	})
}

func (s *Neo4jStore) EnsureSchema(ctx context.Context) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	// schema commands cannot share a transaction with each other
	txConfig := GetConfigForOperation(OpSchema)
	for _, stmt := range schemaStatements {
		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			result, err := tx.Run(ctx, stmt, nil)
			if err != nil {
				return nil, err
			}
			return result.Consume(ctx)
		}, txConfig.AsNeo4jConfig()...)
		if err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	s.logger.Debug("graph schema ensured")
	return nil
}

func (s *Neo4jStore) WriteEntities(ctx context.Context, project string, entities []models.CodeEntity) (BatchCounts, error) {
	var counts BatchCounts
	if s.closed.Load() {
		return counts, ErrStoreClosed
	}
	if len(entities) == 0 {
		return counts, nil
	}

	// labels cannot be parameterized, so the batch runs one statement per entity type
	groups := make(map[models.EntityType][]models.CodeEntity)
	for _, e := range entities {
		if err := validEntityLabel(e.EntityType); err != nil || e.IsPlaceholder() {
			return counts, fmt.Errorf("cannot write entity %s of type %q", e.QualifiedName, e.EntityType)
		}
		groups[e.EntityType] = append(groups[e.EntityType], e)
	}
	var stmts []preparedStatement
	for _, t := range models.EntityTypes {
		group, ok := groups[t]
		if !ok {
			continue
		}
		b := NewCypherBuilder()
		query, err := b.BuildUpsertEntities(project, t, group)
		if err != nil {
			return counts, err
		}
		stmts = append(stmts, preparedStatement{query: query, params: b.Params(), rows: len(group)})
	}

	err := s.write(ctx, OpEntityBatch, project, stmts, func(st preparedStatement, c neo4j.Counters) {
		counts.NodesCreated += c.NodesCreated()
		counts.NodesMatched += st.rows - c.NodesCreated()
	})
	if err != nil {
		return BatchCounts{}, err
	}
	return counts, nil
}

func (s *Neo4jStore) WriteRelationships(ctx context.Context, project string, rels []models.Relationship) (BatchCounts, error) {
	var counts BatchCounts
	if s.closed.Load() {
		return counts, ErrStoreClosed
	}
	if len(rels) == 0 {
		return counts, nil
	}

	groups := make(map[models.RelationshipType][]models.Relationship)
	for _, r := range rels {
		if err := validRelationshipType(r.RelationshipType); err != nil {
			return counts, err
		}
		groups[r.RelationshipType] = append(groups[r.RelationshipType], r)
	}
	var stmts []preparedStatement
	for _, t := range models.RelationshipTypes {
		group, ok := groups[t]
		if !ok {
			continue
		}
		b := NewCypherBuilder()
		query, err := b.BuildUpsertRelationships(project, t, group)
		if err != nil {
			return counts, err
		}
		stmts = append(stmts, preparedStatement{query: query, params: b.Params(), rows: len(group)})
	}

	err := s.write(ctx, OpRelationshipBatch, project, stmts, func(st preparedStatement, c neo4j.Counters) {
		counts.PlaceholdersCreated += c.NodesCreated()
		counts.RelationshipsCreated += c.RelationshipsCreated()
		counts.RelationshipsMatched += st.rows - c.RelationshipsCreated()
	})
	if err != nil {
		return BatchCounts{}, err
	}
	return counts, nil
}

type preparedStatement struct {
	query  string
	params map[string]any
	rows   int
}

// write runs all statements in one managed write transaction.
// The driver retries transient errors itself; anything left is returned to the builder.
func (s *Neo4jStore) write(ctx context.Context, op, project string, stmts []preparedStatement, tally func(preparedStatement, neo4j.Counters)) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	txConfig := GetConfigForOperation(op).WithCustomMetadata("project", project)
	summaries, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		// a retried transaction function must not leak counts from the failed attempt
		out := make([]neo4j.Counters, 0, len(stmts))
		for _, st := range stmts {
			result, err := tx.Run(ctx, st.query, st.params)
			if err != nil {
				return nil, err
			}
			summary, err := result.Consume(ctx)
			if err != nil {
				return nil, err
			}
			out = append(out, summary.Counters())
		}
		return out, nil
	}, txConfig.AsNeo4jConfig()...)
	if err != nil {
		return fmt.Errorf("%s failed: %w", op, err)
	}

	for i, c := range summaries.([]neo4j.Counters) {
		tally(stmts[i], c)
	}
	return nil
}

func (s *Neo4jStore) read(ctx context.Context, op, query string, params map[string]any) ([]*neo4j.Record, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	result, err := neo4j.ExecuteQuery(ctx, s.driver, query, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(s.database),
		neo4j.ExecuteQueryWithReadersRouting())
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	return result.Records, nil
}

func (s *Neo4jStore) Entities(ctx context.Context, project string, entityType models.EntityType) ([]models.CodeEntity, error) {
	b := NewCypherBuilder()
	query, err := b.BuildMatchEntities(project, entityType)
	if err != nil {
		return nil, err
	}
	records, err := s.read(ctx, OpQuery, query, b.Params())
	if err != nil {
		return nil, err
	}
	return entitiesFromRecords(records)
}

func (s *Neo4jStore) Relationships(ctx context.Context, project string, relType models.RelationshipType) ([]models.Relationship, error) {
	b := NewCypherBuilder()
	query, err := b.BuildMatchRelationships(project, relType)
	if err != nil {
		return nil, err
	}
	records, err := s.read(ctx, OpQuery, query, b.Params())
	if err != nil {
		return nil, err
	}
	return relationshipsFromRecords(project, records)
}

func (s *Neo4jStore) Neighbors(ctx context.Context, project, qualifiedName string, relType models.RelationshipType, dir Direction) ([]models.CodeEntity, error) {
	b := NewCypherBuilder()
	query, err := b.BuildMatchNeighbors(project, qualifiedName, relType, dir)
	if err != nil {
		return nil, err
	}
	records, err := s.read(ctx, OpQuery, query, b.Params())
	if err != nil {
		return nil, err
	}
	return entitiesFromRecords(records)
}

func (s *Neo4jStore) Lookup(ctx context.Context, project, qualifiedName string) (models.CodeEntity, bool, error) {
	b := NewCypherBuilder()
	query := b.BuildLookupEntity(project, qualifiedName)
	records, err := s.read(ctx, OpQuery, query, b.Params())
	if err != nil {
		return models.CodeEntity{}, false, err
	}
	if len(records) == 0 {
		return models.CodeEntity{}, false, nil
	}
	entities, err := entitiesFromRecords(records[:1])
	if err != nil {
		return models.CodeEntity{}, false, err
	}
	return entities[0], true, nil
}

// Snapshot reads entities and edges in a single read transaction so the
// analyzer never sees edges whose endpoints were written after the node read
func (s *Neo4jStore) Snapshot(ctx context.Context, project string) (*Snapshot, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	nb := NewCypherBuilder()
	nodeQuery, err := nb.BuildMatchEntities(project, "")
	if err != nil {
		return nil, err
	}
	rb := NewCypherBuilder()
	relQuery, err := rb.BuildMatchRelationships(project, "")
	if err != nil {
		return nil, err
	}

	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	snap, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		nodes, err := tx.Run(ctx, nodeQuery, nb.Params())
		if err != nil {
			return nil, err
		}
		nodeRecords, err := nodes.Collect(ctx)
		if err != nil {
			return nil, err
		}
		rels, err := tx.Run(ctx, relQuery, rb.Params())
		if err != nil {
			return nil, err
		}
		relRecords, err := rels.Collect(ctx)
		if err != nil {
			return nil, err
		}

		out := &Snapshot{ProjectName: project}
		if out.Entities, err = entitiesFromRecords(nodeRecords); err != nil {
			return nil, err
		}
		if out.Relationships, err = relationshipsFromRecords(project, relRecords); err != nil {
			return nil, err
		}
		return out, nil
	}, GetConfigForOperation(OpSnapshot).WithCustomMetadata("project", project).AsNeo4jConfig()...)
	if err != nil {
		return nil, fmt.Errorf("snapshot failed for %s: %w", project, err)
	}
	return snap.(*Snapshot), nil
}

func entitiesFromRecords(records []*neo4j.Record) ([]models.CodeEntity, error) {
	out := make([]models.CodeEntity, 0, len(records))
	for _, record := range records {
		raw, ok := record.Get("props")
		if !ok {
			return nil, fmt.Errorf("entity query returned no props")
		}
		props, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("unexpected type for props: %T (expected map)", raw)
		}
		out = append(out, entityFromProps(props))
	}
	return out, nil
}

func relationshipsFromRecords(project string, records []*neo4j.Record) ([]models.Relationship, error) {
	out := make([]models.Relationship, 0, len(records))
	for _, record := range records {
		m := record.AsMap()
		source, _ := m["source"].(string)
		target, _ := m["target"].(string)
		relType, _ := m["rel_type"].(string)
		if source == "" || target == "" || relType == "" {
			return nil, fmt.Errorf("relationship query returned incomplete record: %v", m)
		}
		resolution, _ := m["resolution"].(string)
		line, _ := m["line"].(int64)
		out = append(out, models.Relationship{
			SourceQualifiedName: source,
			TargetQualifiedName: target,
			RelationshipType:    models.RelationshipType(relType),
			ProjectName:         project,
			Resolution:          models.Resolution(resolution),
			Line:                int(line),
		})
	}
	return out, nil
}

// DropProject deletes every node and edge of a project, in chunks so one
// huge project cannot exhaust the transaction memory
func (s *Neo4jStore) DropProject(ctx context.Context, project string) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	if project == "" {
		return fmt.Errorf("project name is required")
	}
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	b := NewCypherBuilder()
	query := b.BuildDropProjectChunk(project)
	params := b.Params()
	txConfig := GetConfigForOperation(OpDropProject).WithCustomMetadata("project", project)

	total := 0
	for {
		deleted, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			result, err := tx.Run(ctx, query, params)
			if err != nil {
				return nil, err
			}
			record, err := result.Single(ctx)
			if err != nil {
				return nil, err
			}
			n, _, err := neo4j.GetRecordValue[int64](record, "deleted")
			return n, err
		}, txConfig.AsNeo4jConfig()...)
		if err != nil {
			return fmt.Errorf("failed to drop project %s: %w", project, err)
		}
		n := deleted.(int64)
		total += int(n)
		if n < dropChunkSize {
			break
		}
	}
	s.logger.WithFields(logrus.Fields{"project": project, "nodes": total}).Info("project dropped")
	return nil
}
