package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"
)

// Config is the top-level configuration structure.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Cache    CacheConfig    `json:"cache"`
	Catalog  CatalogConfig  `json:"catalog"`
	Budget   BudgetConfig   `json:"budget"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
	Neo4j    Neo4jConfig    `json:"neo4j"`
}

type PostgresConfig struct {
	DSN           string `json:"dsn"`
	MigrationsDir string `json:"migrations_dir"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type Neo4jConfig struct {
	URI      string `json:"uri"`
	User     string `json:"user"`
	Password string `json:"password"`
}

// CacheConfig controls aggregation result caching.
type CacheConfig struct {
	Enabled        bool `json:"enabled"`
	TTLSeconds     int  `json:"ttl_seconds"`
	WriteTimeoutMS int  `json:"write_timeout_ms"`
}

// TTL returns the entry lifetime.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// WriteTimeout returns the background write deadline.
func (c CacheConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutMS) * time.Millisecond
}

// CatalogConfig points at an alternative artifact catalog. Empty uses the
// catalog compiled into the binary.
type CatalogConfig struct {
	Path string `json:"path"`
}

// BudgetConfig tunes the size heuristics.
type BudgetConfig struct {
	CharsPerToken       int `json:"chars_per_token"`
	SummaryTargetTokens int `json:"summary_target_tokens"`
	MaxSummaryFields    int `json:"max_summary_fields"`
	MaxStringChars      int `json:"max_string_chars"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{Cache: CacheConfig{Enabled: true}}
	cfg.WithDefaults()
	return cfg
}

// WithDefaults fills zero values with sensible defaults.
func (c *Config) WithDefaults() *Config {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Cache.TTLSeconds == 0 {
		c.Cache.TTLSeconds = 3600
	}
	if c.Cache.WriteTimeoutMS == 0 {
		c.Cache.WriteTimeoutMS = 2000
	}
	if c.Budget.CharsPerToken == 0 {
		c.Budget.CharsPerToken = 4
	}
	if c.Budget.SummaryTargetTokens == 0 {
		c.Budget.SummaryTargetTokens = 200
	}
	if c.Budget.MaxSummaryFields == 0 {
		c.Budget.MaxSummaryFields = 5
	}
	if c.Budget.MaxStringChars == 0 {
		c.Budget.MaxStringChars = 100
	}
	return c
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg.WithDefaults(), nil
}
