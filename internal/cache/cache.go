// Package cache keeps per-file parse results between runs so unchanged files
// are not re-parsed. Entries are keyed by (project, file path) and are only
// served when both the content hash and the parser version still match.
package cache

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/codegraph/internal/config"
	"github.com/rohankatakam/codegraph/internal/models"
)

// Cache is a parse-result cache backend
type Cache interface {
	// Lookup returns the cached result, or ok=false on a miss or a stale entry
	Lookup(ctx context.Context, project, filePath, contentHash, parserVersion string) (*models.ParseResult, bool, error)
	// Store saves a successful parse result; results with errors are ignored
	Store(ctx context.Context, project string, result *models.ParseResult) error
	// Invalidate drops every entry of a project
	Invalidate(ctx context.Context, project string) error
	Close() error
}

// Open creates the backend selected by cfg.Driver
func Open(ctx context.Context, cfg config.CacheConfig, logger *logrus.Logger) (Cache, error) {
	switch cfg.Driver {
	case "sqlite3":
		return NewSQLiteCache(cfg.DSN, logger)
	case "pgx":
		return NewPostgresCache(cfg.DSN, logger)
	case "redis":
		return NewRedisCache(ctx, cfg.DSN, cfg.TTL, logger)
	default:
		return nil, fmt.Errorf("unknown cache driver %q", cfg.Driver)
	}
}

// cacheable reports whether a result may be stored
func cacheable(result *models.ParseResult) bool {
	return result != nil &&
		!result.HasErrors() &&
		result.Metadata[models.MetaContentHash] != "" &&
		result.Metadata[models.MetaParserVersion] != ""
}
