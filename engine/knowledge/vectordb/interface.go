package vectordb

import (
	"context"
	"time"

	"github.com/compozy/policychat/engine/knowledge"
	appconfig "github.com/compozy/policychat/pkg/config"
)

// Provider enumerates supported vector database backends.
type Provider string

const (
	ProviderPGVector Provider = "pgvector"
	ProviderQdrant   Provider = "qdrant"
	ProviderRedis    Provider = "redis"
	// ProviderFilesystem persists embeddings to a local JSON snapshot.
	ProviderFilesystem Provider = "filesystem"
	// ProviderMemory keeps embeddings in process memory only.
	ProviderMemory Provider = "memory"
)

const (
	MetricCosine = "cosine"
	MetricDot    = "dot"
	MetricL2     = "l2"
)

const defaultTopK = 3

// SearchOptions controls similarity search execution.
type SearchOptions struct {
	TopK int
}

// Match captures a similarity search result. Chunk carries no vector.
type Match struct {
	Chunk knowledge.DocumentChunk
	Score float64
}

// RecordFailure describes a chunk rejected by the index while the rest of its batch succeeded.
type RecordFailure struct {
	ID     string
	Reason string
}

// UpsertResult reports per-record outcomes of one upsert batch.
type UpsertResult struct {
	Succeeded int
	Failed    []RecordFailure
}

// Store exposes the index contract used by ingestion and retrieval.
type Store interface {
	// Recreate drops the index when present and declares it again from scratch.
	// Errors after the drop wrap core.ErrIndexState.
	Recreate(ctx context.Context) error
	// Upsert writes chunks keyed by ID. A returned error means the whole batch failed;
	// individual rejections are reported through UpsertResult.Failed.
	Upsert(ctx context.Context, chunks []knowledge.DocumentChunk) (*UpsertResult, error)
	Search(ctx context.Context, query []float32, opts SearchOptions) ([]Match, error)
	Count(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Config captures normalized connection details for a vector database.
type Config struct {
	Provider  Provider
	Index     string
	DSN       string
	URL       string
	APIKey    string
	Path      string
	Metric    string
	Dimension int
	Timeout   time.Duration
	PGVector  PGVectorOptions
	Redis     RedisOptions
}

// PGVectorOptions tunes the HNSW index and the connection pool.
type PGVectorOptions struct {
	M              int
	EFConstruction int
	EFSearch       int
	MaxConns       int32
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// ConfigFromApp normalizes the application configuration for the store factory.
// The dimension comes from the embedder so both sides agree on vector length.
func ConfigFromApp(cfg *appconfig.Config) *Config {
	if cfg == nil {
		return nil
	}
	vdb := cfg.VectorDB
	return &Config{
		Provider:  Provider(vdb.Provider),
		Index:     vdb.Index,
		DSN:       vdb.DSN.Value(),
		URL:       vdb.URL,
		APIKey:    vdb.APIKey.Value(),
		Path:      vdb.Path,
		Metric:    vdb.Metric,
		Dimension: cfg.Embedder.Dimension,
		Timeout:   vdb.Timeout,
		PGVector: PGVectorOptions{
			M:              vdb.PGVector.M,
			EFConstruction: vdb.PGVector.EFConstruction,
			EFSearch:       vdb.PGVector.EFSearch,
			MaxConns:       int32(vdb.PGVector.MaxConns),
		},
		Redis: RedisOptions{
			Addr:     vdb.Redis.Addr,
			Password: vdb.Redis.Password.Value(),
			DB:       vdb.Redis.DB,
		},
	}
}
