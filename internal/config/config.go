// Package config loads and validates Candlekeep configuration.
//
// Configuration is resolved in priority order:
//  1. Environment variables (CANDLEKEEP_*) - highest priority
//  2. Config file (candlekeep.yaml)
//  3. Built-in defaults
//
// The resulting Config is read-only after Load and passed explicitly into
// each component's constructor; there is no process-wide settings singleton.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/candlekeep/candlekeep/internal/kberr"
)

// Config represents the complete Candlekeep configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" json:"store"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Queue      QueueConfig      `yaml:"queue" json:"queue"`
	Ingest     IngestConfig     `yaml:"ingest" json:"ingest"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Readings   ReadingsConfig   `yaml:"readings" json:"readings"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// StoreConfig configures the backing document store.
type StoreConfig struct {
	// URI is the Postgres connection string.
	URI string `yaml:"uri" json:"uri"`
	// Database is the database name (informational; the URI governs).
	Database string `yaml:"database" json:"database"`
	// DocumentsTable is the documents relation name (default: documents).
	DocumentsTable string `yaml:"documents_table" json:"documents_table"`
	// ChunksTable is the chunks relation name (default: chunks).
	ChunksTable string `yaml:"chunks_table" json:"chunks_table"`
	// VectorIndexName is the pgvector index the operator must create.
	VectorIndexName string `yaml:"vector_index_name" json:"vector_index_name"`
	// TextIndexName is the tsvector GIN index the operator must create.
	TextIndexName string `yaml:"text_index_name" json:"text_index_name"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider selects the embedder backend: "ollama" or "openai".
	Provider string `yaml:"provider" json:"provider"`
	// BaseURL overrides the provider endpoint
	// (Ollama default http://localhost:11434, OpenAI-compatible servers).
	BaseURL string `yaml:"base_url" json:"base_url"`
	// APIKey authenticates against OpenAI-compatible providers.
	APIKey string `yaml:"api_key" json:"api_key"`
	// Model is the embedding model identifier.
	Model string `yaml:"model" json:"model"`
	// Dimensions is the fixed embedding dimension D.
	Dimensions int `yaml:"dimensions" json:"dimensions"`
	// BatchSize is the maximum texts per provider call (default: 100).
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// CacheSize is the query-embedding LRU size (default: 1000).
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// QueueConfig configures the durable job queue.
type QueueConfig struct {
	// URL is the Redis connection URL.
	URL string `yaml:"url" json:"url"`
	// Name is the logical queue name (default: ingest).
	Name string `yaml:"name" json:"name"`
	// DepthCeiling rejects enqueue above this many pending jobs (default: 10000).
	DepthCeiling int `yaml:"depth_ceiling" json:"depth_ceiling"`
	// VisibilityTimeout reclaims abandoned claims after this long (default: 15m).
	VisibilityTimeout time.Duration `yaml:"visibility_timeout" json:"visibility_timeout"`
	// JobTimeout bounds one job's pipeline execution (default: 30m).
	JobTimeout time.Duration `yaml:"job_timeout" json:"job_timeout"`
}

// IngestConfig configures the ingestion pipeline.
type IngestConfig struct {
	// MaxTokensPerChunk bounds chunk size (default: 512).
	MaxTokensPerChunk int `yaml:"max_tokens_per_chunk" json:"max_tokens_per_chunk"`
	// UpsertConcurrency bounds parallel chunk upserts per document (default: 4).
	UpsertConcurrency int `yaml:"upsert_concurrency" json:"upsert_concurrency"`
	// BrowserEnabled allows chromedp rendering for JS-heavy pages.
	BrowserEnabled bool `yaml:"browser_enabled" json:"browser_enabled"`
	// TranscriberURL is the speech-to-text service endpoint (whisper-server).
	TranscriberURL string `yaml:"transcriber_url" json:"transcriber_url"`
	// DriveCredentialsFile is the Google service-account JSON path.
	DriveCredentialsFile string `yaml:"drive_credentials_file" json:"drive_credentials_file"`
	// MaxCrawlDepth caps web crawl depth regardless of request (default: 3).
	MaxCrawlDepth int `yaml:"max_crawl_depth" json:"max_crawl_depth"`
}

// SearchConfig configures hybrid retrieval.
type SearchConfig struct {
	// RRFConstant is the fusion smoothing constant C (default: 60).
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`
	// DefaultMatchCount is k when the caller omits it (default: 5).
	DefaultMatchCount int `yaml:"default_match_count" json:"default_match_count"`
	// MaxMatchCount caps k (default: 50).
	MaxMatchCount int `yaml:"max_match_count" json:"max_match_count"`
	// QueryTimeout bounds one retrieval call (default: 30s).
	QueryTimeout time.Duration `yaml:"query_timeout" json:"query_timeout"`
}

// ReadingsConfig configures the readings-save workflow.
type ReadingsConfig struct {
	// MetasearchURL is the SearxNG-compatible endpoint for related links.
	// Empty disables related-link lookup (degraded, not fatal).
	MetasearchURL string `yaml:"metasearch_url" json:"metasearch_url"`
	// LLMBaseURL is the OpenAI-compatible endpoint for summarisation.
	LLMBaseURL string `yaml:"llm_base_url" json:"llm_base_url"`
	// LLMAPIKey authenticates the summarisation endpoint.
	LLMAPIKey string `yaml:"llm_api_key" json:"llm_api_key"`
	// LLMModel is the reasoning model identifier.
	LLMModel string `yaml:"llm_model" json:"llm_model"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// Addr is the listen address (default: :8080).
	Addr string `yaml:"addr" json:"addr"`
	// RequestTimeout bounds one HTTP request (default: 30s).
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

// Default returns the built-in default configuration.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			URI:             "postgres://localhost:5432/candlekeep",
			Database:        "candlekeep",
			DocumentsTable:  "documents",
			ChunksTable:     "chunks",
			VectorIndexName: "chunks_embedding_idx",
			TextIndexName:   "chunks_content_fts_idx",
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "ollama",
			BaseURL:    "http://localhost:11434",
			Model:      "nomic-embed-text",
			Dimensions: 768,
			BatchSize:  100,
			CacheSize:  1000,
		},
		Queue: QueueConfig{
			URL:               "redis://localhost:6379/0",
			Name:              "ingest",
			DepthCeiling:      10000,
			VisibilityTimeout: 15 * time.Minute,
			JobTimeout:        30 * time.Minute,
		},
		Ingest: IngestConfig{
			MaxTokensPerChunk: 512,
			UpsertConcurrency: 4,
			MaxCrawlDepth:     3,
		},
		Search: SearchConfig{
			RRFConstant:       60,
			DefaultMatchCount: 5,
			MaxMatchCount:     50,
			QueryTimeout:      30 * time.Second,
		},
		Server: ServerConfig{
			Addr:           ":8080",
			RequestTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the given YAML file (optional), applies
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	// .env is a developer convenience; missing file is fine.
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, kberr.Wrap(kberr.CodeConfigNotFound, err).
					WithDetail("path", path)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, kberr.Wrap(kberr.CodeConfigInvalid, err).
				WithDetail("path", path).
				WithSuggestion("fix the YAML syntax in " + path)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies CANDLEKEEP_* environment variables.
func (c *Config) applyEnvOverrides() {
	setStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	setDurSecs := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = time.Duration(n) * time.Second
			}
		}
	}

	setStr("CANDLEKEEP_STORE_URI", &c.Store.URI)
	setStr("CANDLEKEEP_STORE_DATABASE", &c.Store.Database)
	setStr("CANDLEKEEP_DOCUMENTS_TABLE", &c.Store.DocumentsTable)
	setStr("CANDLEKEEP_CHUNKS_TABLE", &c.Store.ChunksTable)
	setStr("CANDLEKEEP_VECTOR_INDEX_NAME", &c.Store.VectorIndexName)
	setStr("CANDLEKEEP_TEXT_INDEX_NAME", &c.Store.TextIndexName)

	setStr("CANDLEKEEP_EMBEDDER_PROVIDER", &c.Embeddings.Provider)
	setStr("CANDLEKEEP_EMBEDDER_BASE_URL", &c.Embeddings.BaseURL)
	setStr("CANDLEKEEP_EMBEDDER_API_KEY", &c.Embeddings.APIKey)
	setStr("CANDLEKEEP_EMBEDDER_MODEL", &c.Embeddings.Model)
	setInt("CANDLEKEEP_EMBEDDER_DIMENSION", &c.Embeddings.Dimensions)

	setStr("CANDLEKEEP_QUEUE_URL", &c.Queue.URL)
	setStr("CANDLEKEEP_QUEUE_NAME", &c.Queue.Name)
	setInt("CANDLEKEEP_QUEUE_DEPTH_CEILING", &c.Queue.DepthCeiling)
	setDurSecs("CANDLEKEEP_PER_JOB_TIMEOUT_SECONDS", &c.Queue.JobTimeout)

	setInt("CANDLEKEEP_MAX_TOKENS_PER_CHUNK", &c.Ingest.MaxTokensPerChunk)
	setBool("CANDLEKEEP_BROWSER_ENABLED", &c.Ingest.BrowserEnabled)
	setStr("CANDLEKEEP_TRANSCRIBER_URL", &c.Ingest.TranscriberURL)
	setStr("CANDLEKEEP_DRIVE_CREDENTIALS_FILE", &c.Ingest.DriveCredentialsFile)

	setInt("CANDLEKEEP_RRF_CONSTANT", &c.Search.RRFConstant)
	setInt("CANDLEKEEP_DEFAULT_MATCH_COUNT", &c.Search.DefaultMatchCount)
	setInt("CANDLEKEEP_MAX_MATCH_COUNT", &c.Search.MaxMatchCount)
	setDurSecs("CANDLEKEEP_PER_QUERY_TIMEOUT_SECONDS", &c.Search.QueryTimeout)

	setStr("CANDLEKEEP_METASEARCH_URL", &c.Readings.MetasearchURL)
	setStr("CANDLEKEEP_LLM_BASE_URL", &c.Readings.LLMBaseURL)
	setStr("CANDLEKEEP_LLM_API_KEY", &c.Readings.LLMAPIKey)
	setStr("CANDLEKEEP_LLM_MODEL", &c.Readings.LLMModel)

	setStr("CANDLEKEEP_SERVER_ADDR", &c.Server.Addr)
	setStr("CANDLEKEEP_LOG_LEVEL", &c.Logging.Level)
}

// Validate checks the configuration for internal consistency.
// Returns a config_invalid error naming every problem found.
func (c *Config) Validate() error {
	var problems []string

	if c.Store.URI == "" {
		problems = append(problems, "store.uri is required")
	}
	if !strings.HasPrefix(c.Store.URI, "postgres://") && !strings.HasPrefix(c.Store.URI, "postgresql://") {
		problems = append(problems, "store.uri must be a postgres:// URL")
	}
	switch c.Embeddings.Provider {
	case "ollama", "openai":
	default:
		problems = append(problems, fmt.Sprintf("embeddings.provider %q is not one of ollama, openai", c.Embeddings.Provider))
	}
	if c.Embeddings.Dimensions <= 0 {
		problems = append(problems, "embeddings.dimensions must be positive")
	}
	if c.Embeddings.BatchSize <= 0 {
		problems = append(problems, "embeddings.batch_size must be positive")
	}
	if c.Queue.URL == "" {
		problems = append(problems, "queue.url is required")
	}
	if c.Queue.DepthCeiling <= 0 {
		problems = append(problems, "queue.depth_ceiling must be positive")
	}
	if c.Ingest.MaxTokensPerChunk <= 0 {
		problems = append(problems, "ingest.max_tokens_per_chunk must be positive")
	}
	if c.Ingest.UpsertConcurrency <= 0 {
		problems = append(problems, "ingest.upsert_concurrency must be positive")
	}
	if c.Search.RRFConstant <= 0 {
		problems = append(problems, "search.rrf_constant must be positive")
	}
	if c.Search.MaxMatchCount < c.Search.DefaultMatchCount {
		problems = append(problems, "search.max_match_count must be >= search.default_match_count")
	}

	if len(problems) > 0 {
		return kberr.Newf(kberr.CodeConfigInvalid, "invalid configuration: %s", strings.Join(problems, "; ")).
			WithSuggestion("review candlekeep.yaml and CANDLEKEEP_* environment variables")
	}
	return nil
}
