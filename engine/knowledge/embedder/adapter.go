package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/compozy/policychat/engine/core"
	llmadapter "github.com/compozy/policychat/engine/llm/adapter"
	appconfig "github.com/compozy/policychat/pkg/config"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tmc/langchaingo/embeddings"
)

// Embedder turns text into fixed-length vectors.
// Implementations preserve input order and return exactly one vector per text.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Adapter wraps a langchaingo embedder, enforces the vector contract and
// maps provider failures onto the error taxonomy.
type Adapter struct {
	provider  string
	model     string
	dimension int
	batchSize int
	impl      embeddings.Embedder
	cacheMu   sync.Mutex
	cache     *lru.Cache[string, []float32]
}

var _ Embedder = (*Adapter)(nil)

// ErrVectorContract marks vectors that break the one-per-text, fixed-dimension contract.
// It is always reported together with core.ErrInvalidInput.
var ErrVectorContract = errors.New("embedding contract violated")

var (
	errMissingProvider  = errors.New("embedder provider is required")
	errMissingModel     = errors.New("embedder model is required")
	errInvalidDimension = errors.New("embedder dimension must be greater than zero")
	errInvalidBatchSize = errors.New("embedder batch size must be greater than zero")
)

// New constructs a provider-backed embedder adapter.
func New(cfg *appconfig.EmbedderConfig) (*Adapter, error) {
	if cfg == nil {
		return nil, errors.New("embedder config is required")
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	client, err := llmadapter.NewEmbedderClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("embedder %s: %w", cfg.Provider, err)
	}
	impl, err := embeddings.NewEmbedder(client,
		embeddings.WithBatchSize(cfg.BatchSize),
		embeddings.WithStripNewLines(false),
	)
	if err != nil {
		return nil, fmt.Errorf("embedder %s: failed to construct embedder: %w", cfg.Provider, err)
	}
	adapter, err := Wrap(cfg, impl)
	if err != nil {
		return nil, err
	}
	if cfg.CacheSize > 0 {
		if err := adapter.EnableCache(cfg.CacheSize); err != nil {
			return nil, err
		}
	}
	return adapter, nil
}

// Wrap constructs an adapter around an existing langchaingo embedder.
func Wrap(cfg *appconfig.EmbedderConfig, impl embeddings.Embedder) (*Adapter, error) {
	if cfg == nil {
		return nil, errors.New("embedder config is required")
	}
	if impl == nil {
		return nil, fmt.Errorf("embedder %s: implementation is required", cfg.Provider)
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return &Adapter{
		provider:  cfg.Provider,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		batchSize: cfg.BatchSize,
		impl:      impl,
	}, nil
}

// Dimension returns the configured vector dimension.
func (a *Adapter) Dimension() int {
	return a.dimension
}

// BatchSize returns the configured batch size.
func (a *Adapter) BatchSize() int {
	return a.batchSize
}

// EnableCache initializes an LRU cache for embeddings.
func (a *Adapter) EnableCache(size int) error {
	if size <= 0 {
		return fmt.Errorf("embedder %s: cache size must be greater than zero", a.provider)
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return fmt.Errorf("embedder %s: init cache: %w", a.provider, err)
	}
	a.cacheMu.Lock()
	a.cache = cache
	a.cacheMu.Unlock()
	return nil
}

// EmbedDocuments embeds texts in order, one vector per text.
func (a *Adapter) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if cache := a.getCache(); cache != nil {
		return a.cachedEmbedDocuments(ctx, cache, texts)
	}
	return a.embed(ctx, texts)
}

// EmbedQuery embeds a single text.
func (a *Adapter) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := a.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (a *Adapter) embed(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	vectors, err := a.impl.EmbedDocuments(ctx, texts)
	if err != nil {
		err = llmadapter.Classify(a.provider, err)
		recordError(ctx, a.provider, a.model, err)
		return nil, a.withContext(err)
	}
	if err := a.checkVectors(texts, vectors); err != nil {
		recordError(ctx, a.provider, a.model, err)
		return nil, a.withContext(err)
	}
	recordGeneration(ctx, a.provider, a.model, len(texts), time.Since(start))
	return vectors, nil
}

// checkVectors enforces one vector per text at the configured dimension.
func (a *Adapter) checkVectors(texts []string, vectors [][]float32) error {
	if len(vectors) != len(texts) {
		return fmt.Errorf(
			"%w: %w: received %d embeddings for %d texts",
			core.ErrInvalidInput, ErrVectorContract, len(vectors), len(texts),
		)
	}
	for i, vec := range vectors {
		if len(vec) != a.dimension {
			return fmt.Errorf(
				"%w: %w: embedding %d has dimension %d, expected %d",
				core.ErrInvalidInput, ErrVectorContract, i, len(vec), a.dimension,
			)
		}
	}
	return nil
}

func (a *Adapter) cachedEmbedDocuments(
	ctx context.Context,
	cache *lru.Cache[string, []float32],
	texts []string,
) ([][]float32, error) {
	results := make([][]float32, len(texts))
	missingIdxMap := make(map[string][]int)
	uniqueMissing := make([]string, 0, len(texts))
	for i, text := range texts {
		if vector, ok := a.lookupCache(cache, text); ok {
			recordCacheHit(ctx, a.provider)
			results[i] = vector
			continue
		}
		recordCacheMiss(ctx, a.provider)
		if _, seen := missingIdxMap[text]; !seen {
			uniqueMissing = append(uniqueMissing, text)
		}
		missingIdxMap[text] = append(missingIdxMap[text], i)
	}
	if len(uniqueMissing) == 0 {
		return results, nil
	}
	embedded, err := a.embed(ctx, uniqueMissing)
	if err != nil {
		return nil, err
	}
	for i, text := range uniqueMissing {
		for _, idx := range missingIdxMap[text] {
			results[idx] = cloneVector(embedded[i])
		}
		a.storeCache(cache, text, embedded[i])
	}
	return results, nil
}

func (a *Adapter) getCache() *lru.Cache[string, []float32] {
	a.cacheMu.Lock()
	cache := a.cache
	a.cacheMu.Unlock()
	return cache
}

func (a *Adapter) lookupCache(cache *lru.Cache[string, []float32], text string) ([]float32, bool) {
	if cache == nil {
		return nil, false
	}
	value, ok := cache.Get(cacheKey(text))
	if !ok {
		return nil, false
	}
	return cloneVector(value), true
}

func (a *Adapter) storeCache(cache *lru.Cache[string, []float32], text string, vector []float32) {
	if cache == nil || len(vector) == 0 {
		return
	}
	cache.Add(cacheKey(text), cloneVector(vector))
}

func (a *Adapter) withContext(err error) error {
	return fmt.Errorf("embedder %s: %w", a.provider, err)
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func cloneVector(src []float32) []float32 {
	if len(src) == 0 {
		return nil
	}
	dst := make([]float32, len(src))
	copy(dst, src)
	return dst
}

func validateConfig(cfg *appconfig.EmbedderConfig) error {
	if strings.TrimSpace(cfg.Provider) == "" {
		return errMissingProvider
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return fmt.Errorf("embedder %s: %w", cfg.Provider, errMissingModel)
	}
	if cfg.Dimension <= 0 {
		return fmt.Errorf("embedder %s: %w", cfg.Provider, errInvalidDimension)
	}
	if cfg.BatchSize <= 0 {
		return fmt.Errorf("embedder %s: %w", cfg.Provider, errInvalidBatchSize)
	}
	return nil
}
