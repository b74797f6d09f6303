package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-pkgz/lgr"
	"gopkg.in/yaml.v3"
)

//go:generate go run ../../cmd/schema/main.go schema.json

// merge modes for combining content and popularity candidates
const (
	MergeRaw        = "raw"
	MergeNormalized = "normalized"
)

// source types
const (
	SourceCSV    = "csv"
	SourceSQLite = "sqlite"
)

// Config holds the application configuration
type Config struct {
	Engine EngineConfig `yaml:"engine" json:"engine" jsonschema:"description=Recommendation engine configuration"`

	Source struct {
		Type       string   `yaml:"type" json:"type" jsonschema:"default=csv,enum=csv,enum=sqlite,description=Where training tables are loaded from"`
		News       []string `yaml:"news" json:"news" jsonschema:"description=Glob patterns of news CSV parts"`
		Users      []string `yaml:"users" json:"users" jsonschema:"description=Glob patterns of user history CSV parts"`
		MaxWorkers int      `yaml:"max_workers" json:"max_workers" jsonschema:"default=4,minimum=1,description=Maximum concurrent CSV parsers"`
	} `yaml:"source" json:"source" jsonschema:"description=Source tables configuration"`

	Database struct {
		DSN             string `yaml:"dsn" json:"dsn" jsonschema:"default=file:newsrec.db?cache=shared&mode=rwc,description=Database connection string"`
		MaxOpenConns    int    `yaml:"max_open_conns" json:"max_open_conns" jsonschema:"default=10,description=Maximum number of open connections"`
		MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns" jsonschema:"default=5,description=Maximum number of idle connections"`
		ConnMaxLifetime int    `yaml:"conn_max_lifetime" json:"conn_max_lifetime" jsonschema:"default=3600,description=Connection maximum lifetime in seconds"`
	} `yaml:"database" json:"database" jsonschema:"description=SQLite store configuration"`

	Snapshot SnapshotConfig `yaml:"snapshot" json:"snapshot" jsonschema:"description=Model snapshot configuration"`

	Embedding EmbeddingConfig `yaml:"embedding" json:"embedding" jsonschema:"description=Embedding provider for cold-start similarity"`

	Watch WatchConfig `yaml:"watch" json:"watch" jsonschema:"description=Periodic feed import and retraining"`
}

// EngineConfig holds recommendation engine settings
type EngineConfig struct {
	MaxFeatures   int           `yaml:"max_features" json:"max_features" jsonschema:"default=5000,minimum=1,description=Maximum TF-IDF vocabulary size"`
	DecayRate     float64       `yaml:"decay_rate" json:"decay_rate" jsonschema:"default=0.1,minimum=0,description=Popularity decay per day since publish"`
	RecencyWindow time.Duration `yaml:"recency_window" json:"recency_window" jsonschema:"default=48h,description=Window for recent news"`
	MergeMode     string        `yaml:"merge_mode" json:"merge_mode" jsonschema:"default=raw,enum=raw,enum=normalized,description=How content and popularity scores are merged"`
}

// SnapshotConfig holds model snapshot location
type SnapshotConfig struct {
	Path string `yaml:"path" json:"path" jsonschema:"default=models/newsrec.snapshot,description=Local snapshot file"`
	S3   struct {
		Bucket    string `yaml:"bucket" json:"bucket" jsonschema:"description=S3 bucket (empty disables remote snapshots)"`
		Key       string `yaml:"key" json:"key" jsonschema:"default=newsrec.snapshot,description=Object key"`
		Region    string `yaml:"region" json:"region" jsonschema:"description=AWS region"`
		Endpoint  string `yaml:"endpoint" json:"endpoint" jsonschema:"description=Custom endpoint for S3-compatible storage"`
		PathStyle bool   `yaml:"path_style" json:"path_style" jsonschema:"default=false,description=Force path-style addressing"`
	} `yaml:"s3" json:"s3" jsonschema:"description=Remote snapshot storage"`
}

// BreakerConfig holds circuit breaker settings for embedding calls
type BreakerConfig struct {
	Failures uint32        `yaml:"failures" json:"failures" jsonschema:"default=5,description=Consecutive failures to open the breaker (0 disables it)"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=Time the breaker stays open"`
}

// EmbeddingConfig holds embedding provider configuration
type EmbeddingConfig struct {
	Provider  string        `yaml:"provider" json:"provider" jsonschema:"description=Embedding provider (openai or cohere) or empty to disable cold-start similarity"`
	Endpoint  string        `yaml:"endpoint" json:"endpoint" jsonschema:"description=OpenAI-compatible API endpoint"`
	APIKey    string        `yaml:"api_key" json:"api_key" jsonschema:"description=API key (can use environment variable)"`
	Model     string        `yaml:"model" json:"model" jsonschema:"description=Embedding model name"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=Request timeout"`
	BatchSize int           `yaml:"batch_size" json:"batch_size" jsonschema:"default=96,minimum=1,description=Titles per embedding request"`
	CacheSize int           `yaml:"cache_size" json:"cache_size" jsonschema:"default=10000,description=In-memory embedding cache size"`
	RedisAddr string        `yaml:"redis_addr" json:"redis_addr" jsonschema:"description=Redis address for a shared embedding cache"`
	CacheTTL  time.Duration `yaml:"cache_ttl" json:"cache_ttl" jsonschema:"default=168h,description=TTL of embeddings cached in redis"`
	Breaker   BreakerConfig `yaml:"breaker" json:"breaker" jsonschema:"description=Circuit breaker for embedding calls"`
}

// WatchConfig holds settings of the watch command
type WatchConfig struct {
	Feeds          []string      `yaml:"feeds" json:"feeds" jsonschema:"description=Feed URLs or files imported as pending news"`
	ImportInterval time.Duration `yaml:"import_interval" json:"import_interval" jsonschema:"default=30m,description=Interval between feed imports"`
	TrainInterval  time.Duration `yaml:"train_interval" json:"train_interval" jsonschema:"default=6h,description=Interval between retrains (negative disables retraining)"`
	Timeout        time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=Feed fetch timeout"`
	MaxWorkers     int           `yaml:"max_workers" json:"max_workers" jsonschema:"default=4,minimum=1,description=Feeds fetched concurrently"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // file path comes from CLI flag
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.SetDefaults()

	// validate configuration
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	// verify against embedded schema
	if err := VerifyAgainstEmbeddedSchema(&cfg); err != nil {
		// log warning but don't fail - schema validation is supplementary
		lgr.Printf("[WARN] schema validation failed: %v", err)
	}

	return &cfg, nil
}

// SetDefaults fills unset values
func (c *Config) SetDefaults() {
	// set defaults for engine
	if c.Engine.DecayRate == 0 {
		c.Engine.DecayRate = 0.1
	}
	if c.Engine.MaxFeatures == 0 {
		c.Engine.MaxFeatures = 5000
	}
	if c.Engine.RecencyWindow == 0 {
		c.Engine.RecencyWindow = 48 * time.Hour
	}
	if c.Engine.MergeMode == "" {
		c.Engine.MergeMode = MergeRaw
	}

	// set defaults for source
	if c.Source.Type == "" {
		c.Source.Type = SourceCSV
	}
	if len(c.Source.News) == 0 {
		c.Source.News = []string{"data/itens/itens-parte*.csv"}
	}
	if len(c.Source.Users) == 0 {
		c.Source.Users = []string{"data/files/treino/treino_parte*.csv"}
	}
	if c.Source.MaxWorkers == 0 {
		c.Source.MaxWorkers = 4
	}

	// set defaults for database
	if c.Database.DSN == "" {
		c.Database.DSN = "file:newsrec.db?cache=shared&mode=rwc&_txlock=immediate"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 3600
	}

	// set defaults for snapshot
	if c.Snapshot.Path == "" {
		c.Snapshot.Path = "models/newsrec.snapshot"
	}
	if c.Snapshot.S3.Key == "" {
		c.Snapshot.S3.Key = "newsrec.snapshot"
	}

	// set defaults for embedding
	if c.Embedding.Timeout == 0 {
		c.Embedding.Timeout = 30 * time.Second
	}
	if c.Embedding.BatchSize == 0 {
		c.Embedding.BatchSize = 96
	}
	if c.Embedding.CacheSize == 0 {
		c.Embedding.CacheSize = 10000
	}
	if c.Embedding.CacheTTL == 0 {
		c.Embedding.CacheTTL = 7 * 24 * time.Hour
	}
	if c.Embedding.Breaker.Timeout == 0 {
		c.Embedding.Breaker.Timeout = 30 * time.Second
	}

	// set defaults for watch
	if c.Watch.ImportInterval == 0 {
		c.Watch.ImportInterval = 30 * time.Minute
	}
	if c.Watch.TrainInterval == 0 {
		c.Watch.TrainInterval = 6 * time.Hour
	}
	if c.Watch.Timeout == 0 {
		c.Watch.Timeout = 30 * time.Second
	}
	if c.Watch.MaxWorkers == 0 {
		c.Watch.MaxWorkers = 4
	}
}

// validate checks configuration for correctness
func validate(cfg *Config) error {
	// validate engine config
	if cfg.Engine.MaxFeatures < 1 {
		return fmt.Errorf("engine.max_features must be at least 1")
	}
	if cfg.Engine.DecayRate < 0 {
		return fmt.Errorf("engine.decay_rate must be non-negative")
	}
	if cfg.Engine.RecencyWindow < 0 {
		return fmt.Errorf("engine.recency_window must be non-negative")
	}
	if cfg.Engine.MergeMode != MergeRaw && cfg.Engine.MergeMode != MergeNormalized {
		return fmt.Errorf("engine.merge_mode must be %q or %q", MergeRaw, MergeNormalized)
	}

	// validate source config
	switch cfg.Source.Type {
	case SourceCSV:
		if cfg.Source.MaxWorkers < 1 {
			return fmt.Errorf("source.max_workers must be at least 1")
		}
	case SourceSQLite:
		if cfg.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for sqlite source")
		}
	default:
		return fmt.Errorf("unknown source.type %q", cfg.Source.Type)
	}

	// validate embedding config
	switch cfg.Embedding.Provider {
	case "":
	case "openai", "cohere":
		if cfg.Embedding.BatchSize < 1 {
			return fmt.Errorf("embedding.batch_size must be at least 1")
		}
	default:
		return fmt.Errorf("unknown embedding.provider %q", cfg.Embedding.Provider)
	}

	if cfg.Watch.ImportInterval < 0 {
		return fmt.Errorf("watch.import_interval must be positive")
	}

	return nil
}
