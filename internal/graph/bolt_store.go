package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"github.com/rohankatakam/codegraph/internal/models"
)

var (
	projectsBucket      = []byte("projects")
	entitiesBucket      = []byte("entities")
	relationshipsBucket = []byte("relationships")
)

// BoltStore is an embedded graph store backed by a bbolt file.
//
// Layout: projects/<project>/entities holds JSON entities keyed by qualified
// name; projects/<project>/relationships holds JSON edges keyed by
// Relationship.Key(). Every write batch is one bbolt Update.
type BoltStore struct {
	db     *bolt.DB
	logger *logrus.Entry
	closed atomic.Bool
}

// NewBoltStore opens or creates the store file
func NewBoltStore(path string, logger *logrus.Logger) (*BoltStore, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create graph directory: %w", err)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt graph store %s: %w", path, err)
	}
	entry := logger.WithField("component", "bolt")
	entry.WithField("path", path).Debug("bolt store opened")
	return &BoltStore{db: db, logger: entry}, nil
}

// Close closes the database file
func (s *BoltStore) Close(ctx context.Context) error {
	if s.closed.Swap(true) {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close bolt store: %w", err)
	}
	return nil
}

// HealthCheck runs an empty read transaction
func (s *BoltStore) HealthCheck(ctx context.Context) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	return s.db.View(func(*bolt.Tx) error { return nil })
}

func (s *BoltStore) EnsureSchema(ctx context.Context) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(projectsBucket)
		return err
	})
}

// projectBuckets returns the entity and relationship buckets of a project,
// creating them when create is set. Both are nil if the project is unknown.
func projectBuckets(tx *bolt.Tx, project string, create bool) (*bolt.Bucket, *bolt.Bucket, error) {
	if project == "" {
		return nil, nil, fmt.Errorf("project name is required")
	}
	if !create {
		root := tx.Bucket(projectsBucket)
		if root == nil {
			return nil, nil, nil
		}
		pb := root.Bucket([]byte(project))
		if pb == nil {
			return nil, nil, nil
		}
		return pb.Bucket(entitiesBucket), pb.Bucket(relationshipsBucket), nil
	}

	root, err := tx.CreateBucketIfNotExists(projectsBucket)
	if err != nil {
		return nil, nil, err
	}
	pb, err := root.CreateBucketIfNotExists([]byte(project))
	if err != nil {
		return nil, nil, err
	}
	eb, err := pb.CreateBucketIfNotExists(entitiesBucket)
	if err != nil {
		return nil, nil, err
	}
	rb, err := pb.CreateBucketIfNotExists(relationshipsBucket)
	if err != nil {
		return nil, nil, err
	}
	return eb, rb, nil
}

func (s *BoltStore) WriteEntities(ctx context.Context, project string, entities []models.CodeEntity) (BatchCounts, error) {
	var counts BatchCounts
	if s.closed.Load() {
		return counts, ErrStoreClosed
	}
	if err := ctx.Err(); err != nil {
		return counts, err
	}
	if len(entities) == 0 {
		return counts, nil
	}
	for _, e := range entities {
		if err := validEntityLabel(e.EntityType); err != nil || e.IsPlaceholder() {
			return counts, fmt.Errorf("cannot write entity %s of type %q", e.QualifiedName, e.EntityType)
		}
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		eb, _, err := projectBuckets(tx, project, true)
		if err != nil {
			return err
		}
		for _, e := range entities {
			key := []byte(e.QualifiedName)
			if eb.Get(key) == nil {
				counts.NodesCreated++
			} else {
				counts.NodesMatched++
			}
			e.ProjectName = project
			data, err := json.Marshal(e)
			if err != nil {
				return err
			}
			if err := eb.Put(key, data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return BatchCounts{}, fmt.Errorf("%s failed: %w", OpEntityBatch, err)
	}
	return counts, nil
}

func (s *BoltStore) WriteRelationships(ctx context.Context, project string, rels []models.Relationship) (BatchCounts, error) {
	var counts BatchCounts
	if s.closed.Load() {
		return counts, ErrStoreClosed
	}
	if err := ctx.Err(); err != nil {
		return counts, err
	}
	if len(rels) == 0 {
		return counts, nil
	}
	for _, r := range rels {
		if err := validRelationshipType(r.RelationshipType); err != nil {
			return counts, err
		}
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		eb, rb, err := projectBuckets(tx, project, true)
		if err != nil {
			return err
		}
		ensure := func(qn string) error {
			if eb.Get([]byte(qn)) != nil {
				return nil
			}
			data, err := json.Marshal(placeholder(project, qn))
			if err != nil {
				return err
			}
			counts.PlaceholdersCreated++
			return eb.Put([]byte(qn), data)
		}

		for _, r := range rels {
			if err := ensure(r.SourceQualifiedName); err != nil {
				return err
			}
			if err := ensure(r.TargetQualifiedName); err != nil {
				return err
			}
			key := []byte(r.Key())
			if rb.Get(key) == nil {
				counts.RelationshipsCreated++
			} else {
				counts.RelationshipsMatched++
			}
			r.ProjectName = project
			data, err := json.Marshal(r)
			if err != nil {
				return err
			}
			if err := rb.Put(key, data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return BatchCounts{}, fmt.Errorf("%s failed: %w", OpRelationshipBatch, err)
	}
	return counts, nil
}

func (s *BoltStore) view(ctx context.Context, fn func(tx *bolt.Tx) error) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(fn)
}

func readEntities(eb *bolt.Bucket, entityType models.EntityType) ([]models.CodeEntity, error) {
	out := []models.CodeEntity{}
	if eb == nil {
		return out, nil
	}
	err := eb.ForEach(func(k, v []byte) error {
		var e models.CodeEntity
		if err := json.Unmarshal(v, &e); err != nil {
			return fmt.Errorf("decode entity %s: %w", k, err)
		}
		if entityType == "" || e.EntityType == entityType {
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

func readRelationships(rb *bolt.Bucket, relType models.RelationshipType) ([]models.Relationship, error) {
	out := []models.Relationship{}
	if rb == nil {
		return out, nil
	}
	err := rb.ForEach(func(k, v []byte) error {
		var r models.Relationship
		if err := json.Unmarshal(v, &r); err != nil {
			return fmt.Errorf("decode relationship: %w", err)
		}
		if relType == "" || r.RelationshipType == relType {
			out = append(out, r)
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) Entities(ctx context.Context, project string, entityType models.EntityType) ([]models.CodeEntity, error) {
	if entityType != "" {
		if err := validEntityLabel(entityType); err != nil {
			return nil, err
		}
	}
	var out []models.CodeEntity
	err := s.view(ctx, func(tx *bolt.Tx) error {
		eb, _, err := projectBuckets(tx, project, false)
		if err != nil {
			return err
		}
		out, err = readEntities(eb, entityType)
		return err
	})
	return out, err
}

func (s *BoltStore) Relationships(ctx context.Context, project string, relType models.RelationshipType) ([]models.Relationship, error) {
	if relType != "" {
		if err := validRelationshipType(relType); err != nil {
			return nil, err
		}
	}
	var out []models.Relationship
	err := s.view(ctx, func(tx *bolt.Tx) error {
		_, rb, err := projectBuckets(tx, project, false)
		if err != nil {
			return err
		}
		out, err = readRelationships(rb, relType)
		return err
	})
	return out, err
}

func (s *BoltStore) Neighbors(ctx context.Context, project, qualifiedName string, relType models.RelationshipType, dir Direction) ([]models.CodeEntity, error) {
	if relType != "" {
		if err := validRelationshipType(relType); err != nil {
			return nil, err
		}
	}
	switch dir {
	case Outgoing, Incoming, Both, "":
	default:
		return nil, fmt.Errorf("invalid direction %q", dir)
	}

	out := []models.CodeEntity{}
	err := s.view(ctx, func(tx *bolt.Tx) error {
		eb, rb, err := projectBuckets(tx, project, false)
		if err != nil || eb == nil || eb.Get([]byte(qualifiedName)) == nil {
			return err
		}
		rels, err := readRelationships(rb, relType)
		if err != nil {
			return err
		}

		seen := make(map[string]bool)
		for _, r := range rels {
			if dir != Incoming && r.SourceQualifiedName == qualifiedName {
				seen[r.TargetQualifiedName] = true
			}
			if dir != Outgoing && r.TargetQualifiedName == qualifiedName {
				seen[r.SourceQualifiedName] = true
			}
		}
		names := make([]string, 0, len(seen))
		for qn := range seen {
			names = append(names, qn)
		}
		sort.Strings(names)

		for _, qn := range names {
			data := eb.Get([]byte(qn))
			if data == nil {
				continue
			}
			var e models.CodeEntity
			if err := json.Unmarshal(data, &e); err != nil {
				return fmt.Errorf("decode entity %s: %w", qn, err)
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) Lookup(ctx context.Context, project, qualifiedName string) (models.CodeEntity, bool, error) {
	var (
		e     models.CodeEntity
		found bool
	)
	err := s.view(ctx, func(tx *bolt.Tx) error {
		eb, _, err := projectBuckets(tx, project, false)
		if err != nil || eb == nil {
			return err
		}
		data := eb.Get([]byte(qualifiedName))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &e)
	})
	return e, found, err
}

func (s *BoltStore) Snapshot(ctx context.Context, project string) (*Snapshot, error) {
	snap := &Snapshot{ProjectName: project}
	err := s.view(ctx, func(tx *bolt.Tx) error {
		eb, rb, err := projectBuckets(tx, project, false)
		if err != nil {
			return err
		}
		if snap.Entities, err = readEntities(eb, ""); err != nil {
			return err
		}
		snap.Relationships, err = readRelationships(rb, "")
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot failed for %s: %w", project, err)
	}
	return snap, nil
}

// DropProject deletes every entity and edge of a project
func (s *BoltStore) DropProject(ctx context.Context, project string) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(projectsBucket)
		if root == nil || root.Bucket([]byte(project)) == nil {
			return nil
		}
		return root.DeleteBucket([]byte(project))
	})
}
