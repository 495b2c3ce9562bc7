package config

import (
	"context"
	"time"
)

// Config represents the complete configuration for the policy chatbot.
// It is built once at startup and passed to every component that needs it.
type Config struct {
	Server     ServerConfig     `koanf:"server"     validate:"required"`
	Embedder   EmbedderConfig   `koanf:"embedder"   validate:"required"`
	Chat       ChatConfig       `koanf:"chat"       validate:"required"`
	VectorDB   VectorDBConfig   `koanf:"vector_db"  validate:"required"`
	Ingest     IngestConfig     `koanf:"ingest"     validate:"required"`
	Retrieval  RetrievalConfig  `koanf:"retrieval"  validate:"required"`
	RateLimit  RateLimitConfig  `koanf:"ratelimit"`
	Monitoring MonitoringConfig `koanf:"monitoring"`
	Runtime    RuntimeConfig    `koanf:"runtime"    validate:"required"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host        string        `koanf:"host"          validate:"required"        env:"SERVER_HOST"`
	Port        int           `koanf:"port"          validate:"min=1,max=65535" env:"SERVER_PORT"`
	CORSEnabled bool          `koanf:"cors_enabled"                             env:"SERVER_CORS_ENABLED"`
	CORS        CORSConfig    `koanf:"cors"`
	Timeout     time.Duration `koanf:"timeout"                                  env:"SERVER_TIMEOUT"`
	MaxBodySize int64         `koanf:"max_body_size" validate:"min=0"           env:"SERVER_MAX_BODY_SIZE"`
}

// CORSConfig contains CORS configuration.
type CORSConfig struct {
	AllowedOrigins   []string `koanf:"allowed_origins"   env:"SERVER_CORS_ALLOWED_ORIGINS"`
	AllowCredentials bool     `koanf:"allow_credentials" env:"SERVER_CORS_ALLOW_CREDENTIALS"`
	MaxAge           int      `koanf:"max_age"           env:"SERVER_CORS_MAX_AGE"`
}

// EmbedderConfig describes the external embedding service.
type EmbedderConfig struct {
	Provider   string          `koanf:"provider"    validate:"oneof=openai azure ollama mock" env:"EMBEDDER_PROVIDER"`
	Model      string          `koanf:"model"       validate:"required"                env:"EMBEDDER_MODEL"`
	BaseURL    string          `koanf:"base_url"                                       env:"EMBEDDER_BASE_URL"`
	APIKey     SensitiveString `koanf:"api_key"                                        env:"EMBEDDER_API_KEY"    sensitive:"true"`
	APIVersion string          `koanf:"api_version"                                    env:"EMBEDDER_API_VERSION"`
	Dimension  int             `koanf:"dimension"   validate:"min=1"                   env:"EMBEDDER_DIMENSION"`
	BatchSize  int             `koanf:"batch_size"  validate:"min=1"                   env:"EMBEDDER_BATCH_SIZE"`
	CacheSize  int             `koanf:"cache_size"  validate:"min=0"                   env:"EMBEDDER_CACHE_SIZE"`
}

// ChatConfig describes the external chat completion service.
// Empty endpoint fields inherit from the embedder section.
type ChatConfig struct {
	Provider    string          `koanf:"provider"    validate:"oneof=openai azure ollama mock" env:"CHAT_PROVIDER"`
	Model       string          `koanf:"model"       validate:"required"                env:"CHAT_MODEL"`
	BaseURL     string          `koanf:"base_url"                                       env:"CHAT_BASE_URL"`
	APIKey      SensitiveString `koanf:"api_key"                                        env:"CHAT_API_KEY"     sensitive:"true"`
	APIVersion  string          `koanf:"api_version"                                    env:"CHAT_API_VERSION"`
	Temperature float64         `koanf:"temperature" validate:"min=0,max=2"             env:"CHAT_TEMPERATURE"`
	Timeout     time.Duration   `koanf:"timeout"                                        env:"CHAT_TIMEOUT"`
	// MaxConcurrency caps in-flight completions; zero disables the cap.
	MaxConcurrency    int `koanf:"max_concurrency"     validate:"min=0" env:"CHAT_MAX_CONCURRENCY"`
	RequestsPerMinute int `koanf:"requests_per_minute" validate:"min=0" env:"CHAT_REQUESTS_PER_MINUTE"`

	CircuitBreaker CircuitBreakerConfig `koanf:"circuit_breaker"`
}

// CircuitBreakerConfig stops calling a failing chat provider for a while.
type CircuitBreakerConfig struct {
	Enabled               bool          `koanf:"enabled"                 env:"CHAT_CIRCUIT_BREAKER_ENABLED"`
	ErrorPercentThreshold int           `koanf:"error_percent_threshold" env:"CHAT_CIRCUIT_BREAKER_ERROR_PERCENT" validate:"min=0,max=100"`
	MinimumRequests       int           `koanf:"minimum_requests"        env:"CHAT_CIRCUIT_BREAKER_MIN_REQUESTS"  validate:"min=0"`
	OpenDuration          time.Duration `koanf:"open_duration"           env:"CHAT_CIRCUIT_BREAKER_OPEN_DURATION"`
}

// VectorDBConfig selects and configures the vector index backend.
type VectorDBConfig struct {
	Provider string          `koanf:"provider" validate:"oneof=pgvector qdrant redis filesystem memory" env:"VECTOR_DB_PROVIDER"`
	Index    string          `koanf:"index"    validate:"required,index_name"                           env:"VECTOR_DB_INDEX"`
	DSN      SensitiveString `koanf:"dsn"                                                               env:"VECTOR_DB_DSN"      sensitive:"true"`
	URL      string          `koanf:"url"                                                               env:"VECTOR_DB_URL"`
	APIKey   SensitiveString `koanf:"api_key"                                                           env:"VECTOR_DB_API_KEY"  sensitive:"true"`
	Path     string          `koanf:"path"                                                              env:"VECTOR_DB_PATH"`
	Metric   string          `koanf:"metric"   validate:"oneof=cosine dot l2"                           env:"VECTOR_DB_METRIC"`
	Timeout  time.Duration   `koanf:"timeout"                                                           env:"VECTOR_DB_TIMEOUT"`
	PGVector PGVectorConfig  `koanf:"pgvector"`
	Redis    RedisConfig     `koanf:"redis"`
	Connect  ConnectConfig   `koanf:"connect"`
}

// PGVectorConfig tunes the HNSW index and pool of the Postgres backend.
type PGVectorConfig struct {
	M              int `koanf:"m"               validate:"min=2"  env:"VECTOR_DB_PGVECTOR_M"`
	EFConstruction int `koanf:"ef_construction" validate:"min=4"  env:"VECTOR_DB_PGVECTOR_EF_CONSTRUCTION"`
	EFSearch       int `koanf:"ef_search"       validate:"min=0"  env:"VECTOR_DB_PGVECTOR_EF_SEARCH"`
	MaxConns       int `koanf:"max_conns"       validate:"min=0"  env:"VECTOR_DB_PGVECTOR_MAX_CONNS"`
}

// RedisConfig configures the Redis vector-set backend.
type RedisConfig struct {
	Addr     string          `koanf:"addr"     env:"VECTOR_DB_REDIS_ADDR"`
	Password SensitiveString `koanf:"password" env:"VECTOR_DB_REDIS_PASSWORD" sensitive:"true"`
	DB       int             `koanf:"db"       env:"VECTOR_DB_REDIS_DB"`
}

// ConnectConfig bounds the startup retry when opening the vector index.
type ConnectConfig struct {
	Attempts uint64        `koanf:"attempts" env:"VECTOR_DB_CONNECT_ATTEMPTS"`
	Backoff  time.Duration `koanf:"backoff"  env:"VECTOR_DB_CONNECT_BACKOFF"`
}

// IngestConfig controls the offline ingestion job.
type IngestConfig struct {
	Dir              string        `koanf:"dir"               validate:"required"             env:"INGEST_DIR"`
	Pattern          string        `koanf:"pattern"           validate:"required"             env:"INGEST_PATTERN"`
	ChunkSize        int           `koanf:"chunk_size"        validate:"min=1"                env:"INGEST_CHUNK_SIZE"`
	ChunkOverlap     int           `koanf:"chunk_overlap"     validate:"min=0"                env:"INGEST_CHUNK_OVERLAP"`
	UploadBatchSize  int           `koanf:"upload_batch_size" validate:"min=1"                env:"INGEST_UPLOAD_BATCH_SIZE"`
	EmbedConcurrency int           `koanf:"embed_concurrency" validate:"min=1"                env:"INGEST_EMBED_CONCURRENCY"`
	LockDir          string        `koanf:"lock_dir"                                          env:"INGEST_LOCK_DIR"`
	WatchDebounce    time.Duration `koanf:"watch_debounce"                                    env:"INGEST_WATCH_DEBOUNCE"`
}

// RetrievalConfig controls query-time search.
type RetrievalConfig struct {
	TopK int `koanf:"top_k" validate:"min=1" env:"RETRIEVAL_TOP_K"`
}

// RateLimitConfig contains rate limiting configuration for the chat endpoint.
type RateLimitConfig struct {
	Enabled       bool            `koanf:"enabled"        env:"RATELIMIT_ENABLED"`
	ChatRate      RateConfig      `koanf:"chat_rate"`
	RedisAddr     string          `koanf:"redis_addr"     env:"RATELIMIT_REDIS_ADDR"`
	RedisPassword SensitiveString `koanf:"redis_password" env:"RATELIMIT_REDIS_PASSWORD" sensitive:"true"`
	RedisDB       int             `koanf:"redis_db"       env:"RATELIMIT_REDIS_DB"`
	Prefix        string          `koanf:"prefix"         env:"RATELIMIT_PREFIX"`
	MaxRetry      int             `koanf:"max_retry"      env:"RATELIMIT_MAX_RETRY"`
}

// RateConfig represents a single rate limit configuration.
type RateConfig struct {
	Limit  int64         `koanf:"limit"  env:"RATELIMIT_CHAT_LIMIT"`
	Period time.Duration `koanf:"period" env:"RATELIMIT_CHAT_PERIOD"`
}

// MonitoringConfig toggles the Prometheus exporter.
type MonitoringConfig struct {
	Enabled bool   `koanf:"enabled" env:"MONITORING_ENABLED"`
	Path    string `koanf:"path"    env:"MONITORING_PATH"`
}

// RuntimeConfig contains runtime behavior configuration.
type RuntimeConfig struct {
	Environment string `koanf:"environment" validate:"oneof=development staging production" env:"RUNTIME_ENVIRONMENT"`
	LogLevel    string `koanf:"log_level"   validate:"oneof=debug info warn error"          env:"RUNTIME_LOG_LEVEL"`
}

// Service defines the configuration loading and validation contract.
type Service interface {
	// Load applies defaults, the given sources and the environment, in that order of precedence.
	Load(ctx context.Context, sources ...Source) (*Config, error)
	// Validate checks struct tags and cross-field rules.
	Validate(config *Config) error
	// GetSource reports which source provided a configuration key.
	GetSource(key string) SourceType
}

// Source defines the interface for configuration sources.
type Source interface {
	Load() (map[string]any, error)
	Type() SourceType
	Close() error
}

// SourceType identifies the type of configuration source.
type SourceType string

const (
	SourceCLI     SourceType = "cli"
	SourceYAML    SourceType = "yaml"
	SourceEnv     SourceType = "env"
	SourceDefault SourceType = "default"
)

// Metadata contains metadata about configuration sources.
type Metadata struct {
	Sources  map[string]SourceType `json:"sources"`
	LoadedAt time.Time             `json:"loaded_at"`
}

// Load loads configuration from defaults and the environment.
func Load(ctx context.Context, sources ...Source) (*Config, error) {
	return NewService().Load(ctx, sources...)
}

// Default returns a Config with default values for development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8001,
			CORSEnabled: true,
			CORS: CORSConfig{
				AllowedOrigins:   []string{"*"},
				AllowCredentials: true,
				MaxAge:           86400,
			},
			Timeout:     60 * time.Second,
			MaxBodySize: 1 << 20,
		},
		Embedder: EmbedderConfig{
			Provider:   "azure",
			Model:      "text-embedding-3-large",
			APIVersion: "2024-02-15-preview",
			Dimension:  3072,
			BatchSize:  16,
			CacheSize:  512,
		},
		Chat: ChatConfig{
			Provider:       "azure",
			Model:          "gpt-4o",
			Temperature:    0,
			Timeout:        60 * time.Second,
			MaxConcurrency: 8,
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:               true,
				ErrorPercentThreshold: 50,
				MinimumRequests:       10,
				OpenDuration:          30 * time.Second,
			},
		},
		VectorDB: VectorDBConfig{
			Provider: "pgvector",
			Index:    "policy-documents",
			Metric:   "cosine",
			Timeout:  30 * time.Second,
			PGVector: PGVectorConfig{M: 16, EFConstruction: 64, EFSearch: 40, MaxConns: 10},
			Redis:    RedisConfig{Addr: "localhost:6379"},
			Connect:  ConnectConfig{Attempts: 5, Backoff: 500 * time.Millisecond},
		},
		Ingest: IngestConfig{
			Dir:              "./data",
			Pattern:          "*.pdf",
			ChunkSize:        1000,
			ChunkOverlap:     200,
			UploadBatchSize:  100,
			EmbedConcurrency: 4,
			WatchDebounce:    2 * time.Second,
		},
		Retrieval: RetrievalConfig{TopK: 3},
		RateLimit: RateLimitConfig{
			Enabled:  false,
			ChatRate: RateConfig{Limit: 60, Period: time.Minute},
			Prefix:   "policychat:ratelimit:",
			MaxRetry: 3,
		},
		Monitoring: MonitoringConfig{Enabled: false, Path: "/metrics"},
		Runtime:    RuntimeConfig{Environment: "development", LogLevel: "info"},
	}
}

// inheritChatEndpoint copies endpoint settings from the embedder when the chat section omits them.
func inheritChatEndpoint(cfg *Config) {
	if cfg.Chat.BaseURL == "" {
		cfg.Chat.BaseURL = cfg.Embedder.BaseURL
	}
	if cfg.Chat.APIKey == "" {
		cfg.Chat.APIKey = cfg.Embedder.APIKey
	}
	if cfg.Chat.APIVersion == "" {
		cfg.Chat.APIVersion = cfg.Embedder.APIVersion
	}
}
