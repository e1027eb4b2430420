package graph

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/rohankatakam/codegraph/internal/errors"
	"github.com/rohankatakam/codegraph/internal/metrics"
	"github.com/rohankatakam/codegraph/internal/models"
)

const (
	kindEntity       = "entity"
	kindRelationship = "relationship"
)

// Builder commits aggregate parse results into a graph store.
// Entities are written before relationships so most edges find both
// endpoints; the rest get placeholder nodes that later commits fill in.
type Builder struct {
	store         Writer
	batch         BatchConfig
	commitTimeout time.Duration
	limiter       *rate.Limiter
	metrics       *metrics.Collector
	logger        *logrus.Entry

	// one mutex per project; batches of a project never interleave
	locks sync.Map

	schemaMu    sync.Mutex
	schemaReady bool
}

// BuilderOption customizes a Builder
type BuilderOption func(*Builder)

// WithCommitTimeout bounds a whole Commit call
func WithCommitTimeout(d time.Duration) BuilderOption {
	return func(b *Builder) { b.commitTimeout = d }
}

// WithWriteRate throttles batch writes; zero or negative disables throttling
func WithWriteRate(perSecond float64) BuilderOption {
	return func(b *Builder) {
		if perSecond > 0 {
			b.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		} else {
			b.limiter = nil
		}
	}
}

// WithBuilderMetrics attaches a metrics collector
func WithBuilderMetrics(m *metrics.Collector) BuilderOption {
	return func(b *Builder) { b.metrics = m }
}

// NewBuilder creates a graph builder instance
func NewBuilder(store Writer, batch BatchConfig, logger *logrus.Logger, opts ...BuilderOption) *Builder {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	b := &Builder{
		store:         store,
		batch:         batch,
		commitTimeout: 10 * time.Minute,
		logger:        logger.WithField("component", "graph_builder"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Builder) projectLock(project string) *sync.Mutex {
	mu, _ := b.locks.LoadOrStore(project, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// ensureSchema applies the schema once per builder; a failure is retried on the next commit
func (b *Builder) ensureSchema(ctx context.Context) error {
	b.schemaMu.Lock()
	defer b.schemaMu.Unlock()
	if b.schemaReady {
		return nil
	}
	if err := b.store.EnsureSchema(ctx); err != nil {
		return err
	}
	b.schemaReady = true
	return nil
}

// Commit upserts every entity and relationship of result under project.
// On failure the returned counts reflect exactly the batches that committed.
func (b *Builder) Commit(ctx context.Context, project string, result *models.ParseResult) *models.GraphOperationResult {
	start := time.Now()
	res := &models.GraphOperationResult{
		ProjectName: project,
		RunID:       uuid.New().String(),
	}
	log := b.logger.WithFields(logrus.Fields{"project": project, "run_id": res.RunID})
	fail := func(err error) *models.GraphOperationResult {
		res.Success = false
		res.Error = err.Error()
		res.Duration = time.Since(start)
		log.WithError(err).WithFields(logrus.Fields{
			"batches_committed": res.BatchesCommitted,
			"retries":           res.Retries,
		}).Error("graph commit failed")
		return res
	}

	if project == "" {
		return fail(errors.ValidationErrorf("project name is required"))
	}
	if result == nil {
		return fail(errors.ValidationErrorf("parse result is required"))
	}

	mu := b.projectLock(project)
	mu.Lock()
	defer mu.Unlock()

	if b.commitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.commitTimeout)
		defer cancel()
	}

	if err := b.ensureSchema(ctx); err != nil {
		return fail(errors.DatabaseError(err, "failed to ensure graph schema"))
	}

	cfg := b.batch.withDefaults(len(result.Entities))
	log.WithFields(logrus.Fields{
		"entities":      len(result.Entities),
		"relationships": len(result.Relationships),
		"entity_batch":  cfg.EntityBatchSize,
		"rel_batch":     cfg.RelationshipBatchSize,
	}).Info("committing graph")

	entityBatches := chunk(result.Entities, cfg.EntityBatchSize)
	for i, batch := range entityBatches {
		counts, err := b.commitBatch(ctx, cfg, kindEntity, res, log, func(ctx context.Context) (BatchCounts, error) {
			return b.store.WriteEntities(ctx, project, batch)
		})
		if err != nil {
			return fail(errors.CommitError(err,
				fmt.Sprintf("entity batch %d/%d failed", i+1, len(entityBatches))))
		}
		res.NodesCreated += counts.NodesCreated
		res.NodesMatched += counts.NodesMatched
		b.metrics.GraphWrites("node", "created", counts.NodesCreated)
		b.metrics.GraphWrites("node", "matched", counts.NodesMatched)
	}

	relBatches := chunk(result.Relationships, cfg.RelationshipBatchSize)
	for i, batch := range relBatches {
		counts, err := b.commitBatch(ctx, cfg, kindRelationship, res, log, func(ctx context.Context) (BatchCounts, error) {
			return b.store.WriteRelationships(ctx, project, batch)
		})
		if err != nil {
			return fail(errors.CommitError(err,
				fmt.Sprintf("relationship batch %d/%d failed", i+1, len(relBatches))))
		}
		res.RelationshipsCreated += counts.RelationshipsCreated
		res.RelationshipsMatched += counts.RelationshipsMatched
		res.PlaceholdersCreated += counts.PlaceholdersCreated
		b.metrics.GraphWrites("relationship", "created", counts.RelationshipsCreated)
		b.metrics.GraphWrites("relationship", "matched", counts.RelationshipsMatched)
		b.metrics.GraphWrites("placeholder", "created", counts.PlaceholdersCreated)
	}

	res.Success = true
	res.Duration = time.Since(start)
	log.WithFields(logrus.Fields{
		"nodes_created":         res.NodesCreated,
		"nodes_matched":         res.NodesMatched,
		"relationships_created": res.RelationshipsCreated,
		"relationships_matched": res.RelationshipsMatched,
		"placeholders":          res.PlaceholdersCreated,
		"batches":               res.BatchesCommitted,
		"retries":               res.Retries,
		"duration":              res.Duration.String(),
	}).Info("graph commit complete")
	return res
}

// commitBatch runs one batch with bounded exponential backoff.
// Cancellation and a closed store end the batch without further attempts.
func (b *Builder) commitBatch(ctx context.Context, cfg BatchConfig, kind string, res *models.GraphOperationResult, log *logrus.Entry, write func(context.Context) (BatchCounts, error)) (BatchCounts, error) {
	start := time.Now()

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = cfg.InitialBackoff
	expo.MaxInterval = cfg.MaxBackoff
	expo.Multiplier = 2
	expo.RandomizationFactor = 0

	attempt := func() (BatchCounts, error) {
		if b.limiter != nil {
			if err := b.limiter.Wait(ctx); err != nil {
				return BatchCounts{}, backoff.Permanent(err)
			}
		}
		counts, err := write(ctx)
		if err == nil {
			return counts, nil
		}
		if ctx.Err() != nil || stderrors.Is(err, ErrStoreClosed) ||
			stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
			return BatchCounts{}, backoff.Permanent(err)
		}
		return BatchCounts{}, err
	}

	counts, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(uint(cfg.MaxRetries+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			res.Retries++
			b.metrics.BatchRetried(kind)
			log.WithError(err).WithFields(logrus.Fields{
				"kind":  kind,
				"batch": res.BatchesCommitted + 1,
				"wait":  wait.String(),
			}).Warn("graph batch failed, retrying")
		}),
	)
	if err != nil {
		res.BatchesFailed++
		b.metrics.BatchFailed(kind)
		return BatchCounts{}, err
	}

	res.BatchesCommitted++
	b.metrics.BatchCommitted(kind, time.Since(start))
	return counts, nil
}

func chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = len(items)
	}
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end])
	}
	return out
}
