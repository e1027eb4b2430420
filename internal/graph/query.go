package graph

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/codegraph/internal/errors"
	"github.com/rohankatakam/codegraph/internal/models"
)

// QueryInterface is the read path over a graph store. Every call runs under
// its own timeout.
type QueryInterface struct {
	store   Reader
	timeout time.Duration
	logger  *logrus.Entry
	monitor *TimeoutMonitor
}

// NewQueryInterface wraps a store; timeout <= 0 falls back to the query default
func NewQueryInterface(store Reader, timeout time.Duration, logger *logrus.Logger) *QueryInterface {
	if timeout <= 0 {
		timeout = GetConfigForOperation(OpQuery).Timeout
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	entry := logger.WithField("component", "graph_query")
	return &QueryInterface{
		store:   store,
		timeout: timeout,
		logger:  entry,
		monitor: NewTimeoutMonitor(entry),
	}
}

// TimeoutStats reports per-operation latency and timeout counts
func (q *QueryInterface) TimeoutStats() []TimeoutStats {
	return q.monitor.Stats()
}

func (q *QueryInterface) wrap(err error, op, project string) error {
	if err == nil {
		return nil
	}
	q.logger.WithError(err).WithFields(logrus.Fields{"op": op, "project": project}).Debug("graph query failed")
	return errors.Wrap(err, errors.ErrorTypeDatabase, errors.SeverityHigh, op+" failed").
		WithContext("project", project)
}

// GetEntities lists materialized entities of a project. An empty type means
// every materialized type; pass models.EntityUnknown to list placeholders.
func (q *QueryInterface) GetEntities(ctx context.Context, project string, entityType models.EntityType) ([]models.CodeEntity, error) {
	if project == "" {
		return nil, errors.ValidationErrorf("project name is required")
	}
	var entities []models.CodeEntity
	err := q.monitor.Run(ctx, "get_entities", q.timeout, func(ctx context.Context) error {
		var err error
		entities, err = q.store.Entities(ctx, project, entityType)
		return err
	})
	if err != nil {
		return nil, q.wrap(err, "get entities", project)
	}
	if entityType != "" {
		return entities, nil
	}
	out := entities[:0]
	for _, e := range entities {
		if !e.IsPlaceholder() {
			out = append(out, e)
		}
	}
	return out, nil
}

// GetRelationships lists edges of a project; an empty type means all
func (q *QueryInterface) GetRelationships(ctx context.Context, project string, relType models.RelationshipType) ([]models.Relationship, error) {
	if project == "" {
		return nil, errors.ValidationErrorf("project name is required")
	}
	var rels []models.Relationship
	err := q.monitor.Run(ctx, "get_relationships", q.timeout, func(ctx context.Context) error {
		var err error
		rels, err = q.store.Relationships(ctx, project, relType)
		return err
	})
	if err != nil {
		return nil, q.wrap(err, "get relationships", project)
	}
	return rels, nil
}

// GetNeighbors returns the entities adjacent to qualifiedName, placeholders included
func (q *QueryInterface) GetNeighbors(ctx context.Context, project, qualifiedName string, relType models.RelationshipType, dir Direction) ([]models.CodeEntity, error) {
	if project == "" || qualifiedName == "" {
		return nil, errors.ValidationErrorf("project and qualified name are required")
	}
	var neighbors []models.CodeEntity
	err := q.monitor.Run(ctx, "get_neighbors", q.timeout, func(ctx context.Context) error {
		var err error
		neighbors, err = q.store.Neighbors(ctx, project, qualifiedName, relType, dir)
		return err
	})
	if err != nil {
		return nil, q.wrap(err, "get neighbors", project)
	}
	return neighbors, nil
}

// Exists reports whether a materialized entity exists; placeholders do not count
func (q *QueryInterface) Exists(ctx context.Context, project, qualifiedName string) (bool, error) {
	if project == "" || qualifiedName == "" {
		return false, errors.ValidationErrorf("project and qualified name are required")
	}
	var (
		e  models.CodeEntity
		ok bool
	)
	err := q.monitor.Run(ctx, "exists", q.timeout, func(ctx context.Context) error {
		var err error
		e, ok, err = q.store.Lookup(ctx, project, qualifiedName)
		return err
	})
	if err != nil {
		return false, q.wrap(err, "exists", project)
	}
	return ok && !e.IsPlaceholder(), nil
}

// Snapshot reads the whole project graph in one read transaction
func (q *QueryInterface) Snapshot(ctx context.Context, project string) (*Snapshot, error) {
	if project == "" {
		return nil, errors.ValidationErrorf("project name is required")
	}
	var snap *Snapshot
	err := q.monitor.Run(ctx, "snapshot", q.timeout, func(ctx context.Context) error {
		var err error
		snap, err = q.store.Snapshot(ctx, project)
		return err
	})
	if err != nil {
		return nil, q.wrap(err, "snapshot", project)
	}
	q.logger.WithFields(logrus.Fields{
		"project":       project,
		"entities":      len(snap.Entities),
		"relationships": len(snap.Relationships),
	}).Debug("graph snapshot loaded")
	return snap, nil
}
