package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// loadEnvFiles loads .env files in order of precedence. godotenv never
// overwrites a variable that is already set, so earlier files win.
func loadEnvFiles() {
	envFiles := []string{
		".env.local",
		".env",
	}

	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			godotenv.Load(file)
		}
	}

	homeDir, _ := os.UserHomeDir()
	homeEnvFile := filepath.Join(homeDir, ".ckg", ".env")
	if _, err := os.Stat(homeEnvFile); err == nil {
		godotenv.Load(homeEnvFile)
	}
}

// applyEnvOverrides applies the conventional unprefixed variables on top of
// file and CKG_* settings
func applyEnvOverrides(cfg *Config) {
	if uri := os.Getenv("NEO4J_URI"); uri != "" {
		cfg.Neo4j.URI = uri
	}
	if user := os.Getenv("NEO4J_USER"); user != "" {
		cfg.Neo4j.User = user
	}
	if password := os.Getenv("NEO4J_PASSWORD"); password != "" {
		cfg.Neo4j.Password = password
	}
	if db := os.Getenv("NEO4J_DATABASE"); db != "" {
		cfg.Neo4j.Database = db
	}
	if size := os.Getenv("NEO4J_MAX_POOL_SIZE"); size != "" {
		if n, err := strconv.Atoi(size); err == nil {
			cfg.Neo4j.MaxConnectionPoolSize = n
		}
	}

	if path := os.Getenv("CKG_BOLT_PATH"); path != "" {
		cfg.Storage.BoltPath = expandPath(path)
	}
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" && cfg.Cache.Driver == "pgx" {
		cfg.Cache.DSN = dsn
	}
	if url := os.Getenv("REDIS_URL"); url != "" && cfg.Cache.Driver == "redis" {
		cfg.Cache.DSN = url
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}

	if cfg.Cache.Driver == "sqlite3" {
		cfg.Cache.DSN = expandPath(cfg.Cache.DSN)
	}
	cfg.Storage.BoltPath = expandPath(cfg.Storage.BoltPath)
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}
