package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rohankatakam/codegraph/internal/errors"
)

// Config holds all configuration settings
type Config struct {
	Neo4j    Neo4jConfig    `yaml:"neo4j" mapstructure:"neo4j"`
	Storage  StorageConfig  `yaml:"storage" mapstructure:"storage"`
	Cache    CacheConfig    `yaml:"cache" mapstructure:"cache"`
	Parser   ParserConfig   `yaml:"parser" mapstructure:"parser"`
	Graph    GraphConfig    `yaml:"graph" mapstructure:"graph"`
	Analysis AnalysisConfig `yaml:"analysis" mapstructure:"analysis"`
	Logging  LoggingConfig  `yaml:"logging" mapstructure:"logging"`
}

type Neo4jConfig struct {
	URI                   string        `yaml:"uri" mapstructure:"uri"`
	User                  string        `yaml:"user" mapstructure:"user"`
	Password              string        `yaml:"password" mapstructure:"password"`
	Database              string        `yaml:"database" mapstructure:"database"`
	MaxConnectionPoolSize int           `yaml:"max_connection_pool_size" mapstructure:"max_connection_pool_size"`
	ConnectionTimeout     time.Duration `yaml:"connection_timeout" mapstructure:"connection_timeout"`
}

type StorageConfig struct {
	Backend  string `yaml:"backend" mapstructure:"backend"` // "neo4j", "bolt"
	BoltPath string `yaml:"bolt_path" mapstructure:"bolt_path"`
}

type CacheConfig struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	Driver  string        `yaml:"driver" mapstructure:"driver"` // "sqlite3", "pgx", "redis"
	DSN     string        `yaml:"dsn" mapstructure:"dsn"`
	TTL     time.Duration `yaml:"ttl" mapstructure:"ttl"` // redis only; 0 = no expiry
}

type ParserConfig struct {
	Workers     int           `yaml:"workers" mapstructure:"workers"`
	FileTimeout time.Duration `yaml:"file_timeout" mapstructure:"file_timeout"`
	Deadline    time.Duration `yaml:"deadline" mapstructure:"deadline"`
	MaxFileSize int64         `yaml:"max_file_size" mapstructure:"max_file_size"`
	Languages   []string      `yaml:"languages" mapstructure:"languages"`
	ExcludeDirs []string      `yaml:"exclude_dirs" mapstructure:"exclude_dirs"`
}

type GraphConfig struct {
	EntityBatchSize       int           `yaml:"entity_batch_size" mapstructure:"entity_batch_size"`
	RelationshipBatchSize int           `yaml:"relationship_batch_size" mapstructure:"relationship_batch_size"`
	MaxRetries            int           `yaml:"max_retries" mapstructure:"max_retries"`
	InitialBackoff        time.Duration `yaml:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff            time.Duration `yaml:"max_backoff" mapstructure:"max_backoff"`
	CommitTimeout         time.Duration `yaml:"commit_timeout" mapstructure:"commit_timeout"`
	QueryTimeout          time.Duration `yaml:"query_timeout" mapstructure:"query_timeout"`
	WritesPerSecond       float64       `yaml:"writes_per_second" mapstructure:"writes_per_second"` // 0 = unthrottled
}

type AnalysisConfig struct {
	Timeout                     time.Duration `yaml:"timeout" mapstructure:"timeout"`
	CycleRelationshipTypes      []string      `yaml:"cycle_relationship_types" mapstructure:"cycle_relationship_types"`
	CycleBaseConfidence         float64       `yaml:"cycle_base_confidence" mapstructure:"cycle_base_confidence"`
	HeuristicEdgeDiscount       float64       `yaml:"heuristic_edge_discount" mapstructure:"heuristic_edge_discount"`
	UnusedConfidence            float64       `yaml:"unused_confidence" mapstructure:"unused_confidence"`
	PossiblyUnusedConfidence    float64       `yaml:"possibly_unused_confidence" mapstructure:"possibly_unused_confidence"`
	PublicAPIConfidenceDiscount float64       `yaml:"public_api_confidence_discount" mapstructure:"public_api_confidence_discount"`
	EntryPointPatterns          []string      `yaml:"entry_point_patterns" mapstructure:"entry_point_patterns"`
	TraversalTypes              []string      `yaml:"traversal_types" mapstructure:"traversal_types"`
	CandidateTypes              []string      `yaml:"candidate_types" mapstructure:"candidate_types"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // "text", "json", "auto"
	File   string `yaml:"file" mapstructure:"file"`
}

// Default returns default configuration
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Neo4j: Neo4jConfig{
			URI:                   "bolt://localhost:7687",
			User:                  "neo4j",
			Database:              "neo4j",
			MaxConnectionPoolSize: 50,
			ConnectionTimeout:     30 * time.Second,
		},
		Storage: StorageConfig{
			Backend:  "neo4j",
			BoltPath: filepath.Join(homeDir, ".ckg", "graph.db"),
		},
		Cache: CacheConfig{
			Enabled: false,
			Driver:  "sqlite3",
			DSN:     filepath.Join(homeDir, ".ckg", "parse_cache.db"),
			TTL:     7 * 24 * time.Hour,
		},
		Parser: ParserConfig{
			Workers:     20,
			FileTimeout: 30 * time.Second,
			Deadline:    10 * time.Minute,
			MaxFileSize: 2 * 1024 * 1024,
		},
		Graph: GraphConfig{
			EntityBatchSize:       500,
			RelationshipBatchSize: 1000,
			MaxRetries:            3,
			InitialBackoff:        200 * time.Millisecond,
			MaxBackoff:            5 * time.Second,
			CommitTimeout:         10 * time.Minute,
			QueryTimeout:          60 * time.Second,
		},
		Analysis: AnalysisConfig{
			Timeout:                     2 * time.Minute,
			CycleRelationshipTypes:      []string{"CONTAINS", "IMPORTS", "CALLS", "EXTENDS", "IMPLEMENTS"},
			CycleBaseConfidence:         1.0,
			HeuristicEdgeDiscount:       0.3,
			UnusedConfidence:            0.9,
			PossiblyUnusedConfidence:    0.4,
			PublicAPIConfidenceDiscount: 0.2,
			EntryPointPatterns:          []string{"main", "__main__", "__init__", "__*__", "constructor", "test*", "Test*"},
			TraversalTypes:              []string{"CALLS", "DEFINES", "IMPLEMENTS"},
			CandidateTypes:              []string{"Class", "Interface", "Function", "Method"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load loads configuration from file, .env files and CKG_* environment variables
func Load(path string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v, Default())

	// CKG_GRAPH_MAX_RETRIES -> graph.max_retries
	v.SetEnvPrefix("CKG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".ckg")
		v.AddConfigPath(".")
		homeDir, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(homeDir, ".ckg"))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, errors.SeverityCritical, "failed to read config")
		}
		// Config file not found is OK, use defaults
	}

	// decode into a zero value: mapstructure appends file lists onto pre-filled slices
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, errors.SeverityCritical, "failed to unmarshal config")
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// setDefaults registers every leaf key so AutomaticEnv can see it
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("neo4j.uri", cfg.Neo4j.URI)
	v.SetDefault("neo4j.user", cfg.Neo4j.User)
	v.SetDefault("neo4j.password", cfg.Neo4j.Password)
	v.SetDefault("neo4j.database", cfg.Neo4j.Database)
	v.SetDefault("neo4j.max_connection_pool_size", cfg.Neo4j.MaxConnectionPoolSize)
	v.SetDefault("neo4j.connection_timeout", cfg.Neo4j.ConnectionTimeout)

	v.SetDefault("storage.backend", cfg.Storage.Backend)
	v.SetDefault("storage.bolt_path", cfg.Storage.BoltPath)

	v.SetDefault("cache.enabled", cfg.Cache.Enabled)
	v.SetDefault("cache.driver", cfg.Cache.Driver)
	v.SetDefault("cache.dsn", cfg.Cache.DSN)
	v.SetDefault("cache.ttl", cfg.Cache.TTL)

	v.SetDefault("parser.workers", cfg.Parser.Workers)
	v.SetDefault("parser.file_timeout", cfg.Parser.FileTimeout)
	v.SetDefault("parser.deadline", cfg.Parser.Deadline)
	v.SetDefault("parser.max_file_size", cfg.Parser.MaxFileSize)
	v.SetDefault("parser.languages", cfg.Parser.Languages)
	v.SetDefault("parser.exclude_dirs", cfg.Parser.ExcludeDirs)

	v.SetDefault("graph.entity_batch_size", cfg.Graph.EntityBatchSize)
	v.SetDefault("graph.relationship_batch_size", cfg.Graph.RelationshipBatchSize)
	v.SetDefault("graph.max_retries", cfg.Graph.MaxRetries)
	v.SetDefault("graph.initial_backoff", cfg.Graph.InitialBackoff)
	v.SetDefault("graph.max_backoff", cfg.Graph.MaxBackoff)
	v.SetDefault("graph.commit_timeout", cfg.Graph.CommitTimeout)
	v.SetDefault("graph.query_timeout", cfg.Graph.QueryTimeout)
	v.SetDefault("graph.writes_per_second", cfg.Graph.WritesPerSecond)

	v.SetDefault("analysis.timeout", cfg.Analysis.Timeout)
	v.SetDefault("analysis.cycle_relationship_types", cfg.Analysis.CycleRelationshipTypes)
	v.SetDefault("analysis.cycle_base_confidence", cfg.Analysis.CycleBaseConfidence)
	v.SetDefault("analysis.heuristic_edge_discount", cfg.Analysis.HeuristicEdgeDiscount)
	v.SetDefault("analysis.unused_confidence", cfg.Analysis.UnusedConfidence)
	v.SetDefault("analysis.possibly_unused_confidence", cfg.Analysis.PossiblyUnusedConfidence)
	v.SetDefault("analysis.public_api_confidence_discount", cfg.Analysis.PublicAPIConfidenceDiscount)
	v.SetDefault("analysis.entry_point_patterns", cfg.Analysis.EntryPointPatterns)
	v.SetDefault("analysis.traversal_types", cfg.Analysis.TraversalTypes)
	v.SetDefault("analysis.candidate_types", cfg.Analysis.CandidateTypes)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.file", cfg.Logging.File)
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigType("yaml")

	v.Set("neo4j", c.Neo4j)
	v.Set("storage", c.Storage)
	v.Set("cache", c.Cache)
	v.Set("parser", c.Parser)
	v.Set("graph", c.Graph)
	v.Set("analysis", c.Analysis)
	v.Set("logging", c.Logging)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
