package vectordb

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/compozy/policychat/engine/core"
	"github.com/compozy/policychat/engine/knowledge"
)

var (
	errMissingIndex     = errors.New("vector_db index is required")
	errMissingProvider  = errors.New("vector_db provider is required")
	errMissingDSN       = errors.New("vector_db dsn is required")
	errMissingURL       = errors.New("vector_db url is required")
	errMissingAddr      = errors.New("vector_db redis addr is required")
	errMissingPath      = errors.New("vector_db path is required")
	errInvalidDimension = errors.New("vector_db dimension must be greater than zero")

	// ErrQueryDimension marks a query vector whose length differs from the index dimension.
	ErrQueryDimension = errors.New("query dimension mismatch")
)

// New instantiates a vector store backed by the requested provider.
func New(ctx context.Context, cfg *Config) (Store, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return instantiateStore(ctx, cfg)
}

func instantiateStore(ctx context.Context, cfg *Config) (Store, error) {
	switch cfg.Provider {
	case ProviderPGVector:
		return newPGStore(ctx, cfg)
	case ProviderQdrant:
		return newQdrantStore(ctx, cfg)
	case ProviderRedis:
		return newRedisStore(ctx, cfg)
	case ProviderFilesystem:
		return newFileStore(cfg)
	case ProviderMemory:
		return newMemoryStore(cfg), nil
	default:
		return nil, fmt.Errorf("vector_db %q: provider %q is not supported", cfg.Index, cfg.Provider)
	}
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("vector_db config is required")
	}
	cfg.Index = strings.TrimSpace(cfg.Index)
	cfg.DSN = strings.TrimSpace(cfg.DSN)
	cfg.URL = strings.TrimSpace(cfg.URL)
	cfg.Path = strings.TrimSpace(cfg.Path)
	if cfg.Index == "" {
		return errMissingIndex
	}
	if strings.TrimSpace(string(cfg.Provider)) == "" {
		return fmt.Errorf("vector_db %q: %w", cfg.Index, errMissingProvider)
	}
	var missing error
	switch cfg.Provider {
	case ProviderPGVector:
		if cfg.DSN == "" {
			missing = errMissingDSN
		}
	case ProviderQdrant:
		if cfg.URL == "" {
			missing = errMissingURL
		}
	case ProviderRedis:
		if strings.TrimSpace(cfg.Redis.Addr) == "" {
			missing = errMissingAddr
		}
	case ProviderFilesystem:
		if cfg.Path == "" {
			missing = errMissingPath
		}
	}
	if missing != nil {
		return fmt.Errorf("vector_db %q: %w", cfg.Index, missing)
	}
	if cfg.Dimension <= 0 {
		return fmt.Errorf("vector_db %q: %w", cfg.Index, errInvalidDimension)
	}
	if cfg.Metric == "" {
		cfg.Metric = MetricCosine
	}
	return nil
}

// checkDimensions rejects the whole batch before any write when one vector has the wrong length.
func checkDimensions(chunks []knowledge.DocumentChunk, dimension int) error {
	for i := range chunks {
		if got := len(chunks[i].ContentVector); got != dimension {
			return fmt.Errorf(
				"%w: chunk %q has dimension %d, index expects %d",
				core.ErrInvalidInput,
				chunks[i].ID,
				got,
				dimension,
			)
		}
	}
	return nil
}

func checkQueryDimension(query []float32, dimension int) error {
	if len(query) != dimension {
		return fmt.Errorf(
			"%w: %w: query dimension %d does not match index dimension %d",
			core.ErrInvalidInput,
			ErrQueryDimension,
			len(query),
			dimension,
		)
	}
	return nil
}

func resolveTopK(topK int) int {
	if topK <= 0 {
		return defaultTopK
	}
	return topK
}

// backendFailure marks a failure talking to the index backend as service unavailability.
// Errors that already carry a kind keep it.
func backendFailure(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	if core.KindOf(err) != core.KindInternal {
		return err
	}
	return fmt.Errorf("%w: %w", core.ErrServiceUnavailable, err)
}

// SortMatches orders matches by descending score, breaking ties by chunk id.
func SortMatches(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].Chunk.ID < matches[j].Chunk.ID
		}
		return matches[i].Score > matches[j].Score
	})
}

// similarity returns a higher-is-better score for the configured metric.
func similarity(metric string, a, b []float32) float64 {
	switch metric {
	case MetricDot:
		return dotProduct(a, b)
	case MetricL2:
		return 1 / (1 + euclideanDistance(a, b))
	default:
		return cosineSimilarity(a, b)
	}
}

func dotProduct(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func euclideanDistance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func cloneChunk(chunk *knowledge.DocumentChunk, withVector bool) knowledge.DocumentChunk {
	out := knowledge.DocumentChunk{
		ID:         chunk.ID,
		Content:    chunk.Content,
		SourceFile: chunk.SourceFile,
		CreatedAt:  chunk.CreatedAt,
	}
	if chunk.PageNumber != nil {
		out.PageNumber = knowledge.Page(*chunk.PageNumber)
	}
	if withVector {
		out.ContentVector = append([]float32(nil), chunk.ContentVector...)
	}
	return out
}

// withTimeout bounds a remote call when the store has a configured timeout.
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// normalizeIndexName derives a storage identifier from an index name.
func normalizeIndexName(index string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(index)), "-", "_")
}
