package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"mnemos/internal/logging"
)

// Config holds all mnemos configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Data directory for warm db, cold shards, backups, logs
	DataDir string `yaml:"data_dir"`

	// Storage tiers
	Storage StorageConfig `yaml:"storage"`

	// Index layer
	Index IndexConfig `yaml:"index"`

	// Embedding engine
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Profile synthesis
	Profile ProfileConfig `yaml:"profile"`

	// Governed writes
	Write WriteConfig `yaml:"write"`

	// Permission defaults
	Permission PermissionConfig `yaml:"permission"`

	// Ingestion limits and backpressure
	Limits LimitsConfig `yaml:"limits"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// StorageConfig configures the tiered store.
type StorageConfig struct {
	// Hot tier (redis)
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	HotTTLSec     int    `yaml:"hot_ttl_sec"`      // Hot record TTL, default 7 days
	HotCapacity   int    `yaml:"hot_capacity"`     // Max records per user in hot tier
	CacheTTLSec   int    `yaml:"cache_ttl_sec"`    // In-memory record cache TTL
	CacheCapacity int    `yaml:"cache_capacity"`   // In-memory record cache entries

	// Tier routing thresholds
	MinInfluenceHot  float64 `yaml:"min_influence_hot"`  // default 0.7
	MinInfluenceWarm float64 `yaml:"min_influence_warm"` // default 0.3
	RecencyHotDays   int     `yaml:"recency_hot_days"`   // default 7
	RecencyWarmDays  int     `yaml:"recency_warm_days"`  // default 30

	// Warm tier (sqlite)
	WarmPath string `yaml:"warm_path"` // default <data_dir>/warm.db

	// Cold tier (compressed shards)
	ColdPath string `yaml:"cold_path"` // default <data_dir>/cold
}

// IndexConfig configures the index layer.
type IndexConfig struct {
	EnableVector   bool    `yaml:"enable_vector"`
	EnableFulltext bool    `yaml:"enable_fulltext"`
	RetryMax       int     `yaml:"retry_max"`       // Index maintenance retries
	RetryBaseMs    int     `yaml:"retry_base_ms"`   // Exponential backoff base
	MinRelevance   float64 `yaml:"min_relevance"`   // Not read at runtime; searches use the request's floor
	SourcePrefault float64 `yaml:"source_pref"`     // Default source preference
}

// EmbeddingConfig holds embedding engine configuration.
type EmbeddingConfig struct {
	// Provider: "local", "ollama" or "genai"
	Provider string `yaml:"provider"`

	// Local deterministic engine
	LocalDimensions int `yaml:"local_dimensions"` // default 256

	// Ollama configuration
	OllamaEndpoint string `yaml:"ollama_endpoint"` // default http://localhost:11434
	OllamaModel    string `yaml:"ollama_model"`    // default embeddinggemma

	// GenAI configuration
	GenAIAPIKey string `yaml:"genai_api_key"`
	GenAIModel  string `yaml:"genai_model"` // default gemini-embedding-001

	// Worker pool bound for embedding calls
	MaxInflight int `yaml:"max_inflight"` // default 8
}

// ProfileConfig configures the synthesis engine.
type ProfileConfig struct {
	CacheTTLSec      int     `yaml:"cache_ttl_sec"`      // default 3600
	MatchThreshold   float64 `yaml:"match_threshold"`    // default 0.7
	ArchiveFloor     float64 `yaml:"archive_floor"`      // normalized weight floor
	ArchiveAfterDays int     `yaml:"archive_after_days"` // days without update before a below-floor component is archived
}

// WriteConfig configures the governed write path.
type WriteConfig struct {
	BatchSizeDefault     int `yaml:"batch_size_default"`     // default 100
	BatchSizeHardCap     int `yaml:"batch_size_hard_cap"`    // default 1000
	BackupRetentionHours int `yaml:"backup_retention_hours"` // default 24
	SessionTTLSec        int `yaml:"session_ttl_sec"`        // conversational confirm window
}

// PermissionConfig configures default permission profiles.
type PermissionConfig struct {
	DailyOpDefault int    `yaml:"daily_op_default"` // default 100
	DefaultLevel   string `yaml:"default_level"`    // default write_limited
	AuditPath      string `yaml:"audit_path"`       // default <data_dir>/audit
}

// LimitsConfig bounds ingestion concurrency.
type LimitsConfig struct {
	MaxBatchRecords  int `yaml:"max_batch_records"`  // default 100
	MaxInflightBatch int `yaml:"max_inflight_batch"` // default 16
	UserQueueDepth   int `yaml:"user_queue_depth"`   // default 4
	DeadlineSec      int `yaml:"deadline_sec"`       // default 30
}

// LoggingConfig mirrors logging.Options.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "mnemos",
		Version: "0.9.0",
		DataDir: ".mnemos",
		Storage: StorageConfig{
			RedisAddr:        "localhost:6379",
			HotTTLSec:        7 * 24 * 3600,
			HotCapacity:      10000,
			CacheTTLSec:      30,
			CacheCapacity:    4096,
			MinInfluenceHot:  0.7,
			MinInfluenceWarm: 0.3,
			RecencyHotDays:   7,
			RecencyWarmDays:  30,
		},
		Index: IndexConfig{
			EnableVector:   true,
			EnableFulltext: true,
			RetryMax:       3,
			RetryBaseMs:    100,
			MinRelevance:   0.5,
			SourcePrefault: 0.5,
		},
		Embedding: EmbeddingConfig{
			Provider:        "local",
			LocalDimensions: 256,
			OllamaEndpoint:  "http://localhost:11434",
			OllamaModel:     "embeddinggemma",
			GenAIModel:      "gemini-embedding-001",
			MaxInflight:     8,
		},
		Profile: ProfileConfig{
			CacheTTLSec:      3600,
			MatchThreshold:   0.7,
			ArchiveFloor:     0.01,
			ArchiveAfterDays: 30,
		},
		Write: WriteConfig{
			BatchSizeDefault:     100,
			BatchSizeHardCap:     1000,
			BackupRetentionHours: 24,
			SessionTTLSec:        300,
		},
		Permission: PermissionConfig{
			DailyOpDefault: 100,
			DefaultLevel:   "write_limited",
		},
		Limits: LimitsConfig{
			MaxBatchRecords:  100,
			MaxInflightBatch: 16,
			UserQueueDepth:   4,
			DeadlineSec:      30,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads config from path, layering over defaults. A missing file is not
// an error; defaults plus env overrides are returned.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			cfg.resolvePaths()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	cfg.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolvePaths fills in derived paths relative to DataDir.
func (c *Config) resolvePaths() {
	if c.Storage.WarmPath == "" {
		c.Storage.WarmPath = filepath.Join(c.DataDir, "warm.db")
	}
	if c.Storage.ColdPath == "" {
		c.Storage.ColdPath = filepath.Join(c.DataDir, "cold")
	}
	if c.Permission.AuditPath == "" {
		c.Permission.AuditPath = filepath.Join(c.DataDir, "audit")
	}
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if c.Storage.MinInfluenceHot <= c.Storage.MinInfluenceWarm {
		return fmt.Errorf("min_influence_hot (%v) must exceed min_influence_warm (%v)",
			c.Storage.MinInfluenceHot, c.Storage.MinInfluenceWarm)
	}
	if c.Write.BatchSizeDefault > c.Write.BatchSizeHardCap {
		return fmt.Errorf("batch_size_default (%d) exceeds batch_size_hard_cap (%d)",
			c.Write.BatchSizeDefault, c.Write.BatchSizeHardCap)
	}
	if c.Limits.MaxBatchRecords <= 0 {
		return fmt.Errorf("max_batch_records must be positive")
	}
	switch c.Embedding.Provider {
	case "local", "ollama", "genai":
	default:
		return fmt.Errorf("unsupported embedding provider: %s", c.Embedding.Provider)
	}
	return nil
}

// LoggingOptions converts the logging section for logging.Initialize.
func (c *Config) LoggingOptions() logging.Options {
	return logging.Options{
		DebugMode:  c.Logging.DebugMode,
		Level:      c.Logging.Level,
		JSONFormat: c.Logging.JSONFormat,
		Categories: c.Logging.Categories,
	}
}

// Durations derived from integer-second settings.

func (c *Config) HotTTL() time.Duration      { return time.Duration(c.Storage.HotTTLSec) * time.Second }
func (c *Config) CacheTTL() time.Duration    { return time.Duration(c.Storage.CacheTTLSec) * time.Second }
func (c *Config) ProfileTTL() time.Duration  { return time.Duration(c.Profile.CacheTTLSec) * time.Second }
func (c *Config) Deadline() time.Duration    { return time.Duration(c.Limits.DeadlineSec) * time.Second }
func (c *Config) SessionTTL() time.Duration  { return time.Duration(c.Write.SessionTTLSec) * time.Second }

// applyEnvOverrides layers MNEMOS_* environment variables over the config.
func applyEnvOverrides(c *Config) {
	if v := os.Getenv("MNEMOS_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("MNEMOS_REDIS_ADDR"); v != "" {
		c.Storage.RedisAddr = v
	}
	if v := os.Getenv("MNEMOS_REDIS_PASSWORD"); v != "" {
		c.Storage.RedisPassword = v
	}
	if v := os.Getenv("MNEMOS_EMBEDDING_PROVIDER"); v != "" {
		c.Embedding.Provider = v
	}
	if v := os.Getenv("MNEMOS_GENAI_API_KEY"); v != "" {
		c.Embedding.GenAIAPIKey = v
	}
	if v := os.Getenv("MNEMOS_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Logging.DebugMode = b
		}
	}
}
