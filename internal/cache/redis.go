package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/codegraph/internal/models"
)

// RedisCache shares parse results between machines through Redis
type RedisCache struct {
	client *redis.Client
	logger *logrus.Logger
	ttl    time.Duration
}

type redisEntry struct {
	ContentHash   string              `json:"content_hash"`
	ParserVersion string              `json:"parser_version"`
	Result        *models.ParseResult `json:"result"`
}

// NewRedisCache connects using a redis:// URL and verifies connectivity
func NewRedisCache(ctx context.Context, url string, ttl time.Duration, logger *logrus.Logger) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return newRedisCache(ctx, redis.NewClient(opts), ttl, logger)
}

func newRedisCache(ctx context.Context, client *redis.Client, ttl time.Duration, logger *logrus.Logger) (*RedisCache, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	// fail fast on startup
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", client.Options().Addr, err)
	}
	logger.WithField("addr", client.Options().Addr).Info("redis parse cache connected")
	return &RedisCache{client: client, logger: logger, ttl: ttl}, nil
}

// Key generates the cache key for one file: "ckg:parse:<project>:<path>"
func Key(project, filePath string) string {
	return fmt.Sprintf("ckg:parse:%s:%s", project, filePath)
}

func (c *RedisCache) Lookup(ctx context.Context, project, filePath, contentHash, parserVersion string) (*models.ParseResult, bool, error) {
	key := Key(project, filePath)
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get failed for key %s: %w", key, err)
	}

	var entry redisEntry
	if err := json.Unmarshal(val, &entry); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cached value for key %s: %w", key, err)
	}
	if entry.ContentHash != contentHash || entry.ParserVersion != parserVersion || entry.Result == nil {
		return nil, false, nil
	}
	if entry.Result.Metadata == nil {
		entry.Result.Metadata = map[string]string{}
	}
	return entry.Result, true, nil
}

func (c *RedisCache) Store(ctx context.Context, project string, result *models.ParseResult) error {
	if !cacheable(result) {
		return nil
	}
	key := Key(project, result.FilePath)
	data, err := json.Marshal(redisEntry{
		ContentHash:   result.Metadata[models.MetaContentHash],
		ParserVersion: result.Metadata[models.MetaParserVersion],
		Result:        result,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal value for key %s: %w", key, err)
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed for key %s: %w", key, err)
	}
	return nil
}

// Invalidate deletes every key of the project, scanning in pages of 100
func (c *RedisCache) Invalidate(ctx context.Context, project string) error {
	pattern := Key(project, "*")
	var cursor uint64
	var keys []string
	for {
		batch, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("redis scan failed for pattern %s: %w", pattern, err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if len(keys) == 0 {
		return nil
	}

	deleted, err := c.client.Del(ctx, keys...).Result()
	if err != nil {
		return fmt.Errorf("redis delete failed for pattern %s: %w", pattern, err)
	}
	c.logger.WithFields(logrus.Fields{"project": project, "entries": deleted}).Info("parse cache invalidated")
	return nil
}

// Close closes the Redis client connection
func (c *RedisCache) Close() error {
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}
	return nil
}
