package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/codegraph/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS parse_cache (
	project_name TEXT NOT NULL,
	file_path TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	parser_version TEXT NOT NULL,
	language TEXT NOT NULL,
	payload TEXT NOT NULL,
	updated_at BIGINT NOT NULL,
	PRIMARY KEY (project_name, file_path)
)`

type cacheRow struct {
	ProjectName   string `db:"project_name"`
	FilePath      string `db:"file_path"`
	ContentHash   string `db:"content_hash"`
	ParserVersion string `db:"parser_version"`
	Language      string `db:"language"`
	Payload       string `db:"payload"`
	UpdatedAt     int64  `db:"updated_at"`
}

// SQLCache stores parse results in SQLite (local) or PostgreSQL (shared)
type SQLCache struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewSQLiteCache opens or creates a SQLite cache file
func NewSQLiteCache(path string, logger *logrus.Logger) (*SQLCache, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}

	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("connect to sqlite: %w", err)
	}
	// one writer; coordinator workers share the handle
	db.SetMaxOpenConns(1)
	db.Exec("PRAGMA journal_mode = WAL")

	return newSQLCache(db, logger)
}

// NewPostgresCache connects to PostgreSQL through the pgx stdlib driver
func NewPostgresCache(dsn string, logger *logrus.Logger) (*SQLCache, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	return newSQLCache(db, logger)
}

func newSQLCache(db *sqlx.DB, logger *logrus.Logger) (*SQLCache, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLCache{db: db, logger: logger}, nil
}

// Close closes the database connection
func (c *SQLCache) Close() error {
	return c.db.Close()
}

func (c *SQLCache) Lookup(ctx context.Context, project, filePath, contentHash, parserVersion string) (*models.ParseResult, bool, error) {
	var row cacheRow
	query := c.db.Rebind(`SELECT * FROM parse_cache WHERE project_name = ? AND file_path = ?`)
	if err := c.db.GetContext(ctx, &row, query, project, filePath); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get cache entry: %w", err)
	}

	if row.ContentHash != contentHash || row.ParserVersion != parserVersion {
		c.logger.WithFields(logrus.Fields{
			"project": project,
			"file":    filePath,
		}).Debug("stale parse cache entry")
		return nil, false, nil
	}

	var result models.ParseResult
	if err := json.Unmarshal([]byte(row.Payload), &result); err != nil {
		return nil, false, fmt.Errorf("decode cache entry for %s: %w", filePath, err)
	}
	if result.Metadata == nil {
		result.Metadata = map[string]string{}
	}
	return &result, true, nil
}

func (c *SQLCache) Store(ctx context.Context, project string, result *models.ParseResult) error {
	if !cacheable(result) {
		return nil
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode cache entry for %s: %w", result.FilePath, err)
	}

	query := `
		INSERT INTO parse_cache (project_name, file_path, content_hash, parser_version,
			language, payload, updated_at)
		VALUES (:project_name, :file_path, :content_hash, :parser_version,
			:language, :payload, :updated_at)
		ON CONFLICT (project_name, file_path) DO UPDATE SET
			content_hash = excluded.content_hash,
			parser_version = excluded.parser_version,
			language = excluded.language,
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`
	row := cacheRow{
		ProjectName:   project,
		FilePath:      result.FilePath,
		ContentHash:   result.Metadata[models.MetaContentHash],
		ParserVersion: result.Metadata[models.MetaParserVersion],
		Language:      result.Language,
		Payload:       string(payload),
		UpdatedAt:     time.Now().Unix(),
	}
	if _, err := c.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("save cache entry: %w", err)
	}
	return nil
}

func (c *SQLCache) Invalidate(ctx context.Context, project string) error {
	query := c.db.Rebind(`DELETE FROM parse_cache WHERE project_name = ?`)
	res, err := c.db.ExecContext(ctx, query, project)
	if err != nil {
		return fmt.Errorf("invalidate cache: %w", err)
	}
	n, _ := res.RowsAffected()
	c.logger.WithFields(logrus.Fields{"project": project, "entries": n}).Info("parse cache invalidated")
	return nil
}

// Len returns the number of entries for a project
func (c *SQLCache) Len(ctx context.Context, project string) (int, error) {
	var n int
	query := c.db.Rebind(`SELECT COUNT(*) FROM parse_cache WHERE project_name = ?`)
	if err := c.db.GetContext(ctx, &n, query, project); err != nil {
		return 0, fmt.Errorf("count cache entries: %w", err)
	}
	return n, nil
}
