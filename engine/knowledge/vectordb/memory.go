package vectordb

import (
	"context"
	"sync"
	"time"

	"github.com/compozy/policychat/engine/knowledge"
)

// memoryStore keeps chunks in process memory. It backs tests and single-process demos.
type memoryStore struct {
	mu        sync.RWMutex
	dimension int
	metric    string
	backend   string
	records   map[string]knowledge.DocumentChunk
}

func newMemoryStore(cfg *Config) *memoryStore {
	metric := MetricCosine
	if cfg.Metric != "" {
		metric = cfg.Metric
	}
	return &memoryStore{
		dimension: cfg.Dimension,
		metric:    metric,
		backend:   string(ProviderMemory),
		records:   make(map[string]knowledge.DocumentChunk),
	}
}

func (m *memoryStore) Recreate(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string]knowledge.DocumentChunk)
	return nil
}

func (m *memoryStore) Upsert(ctx context.Context, chunks []knowledge.DocumentChunk) (*UpsertResult, error) {
	if err := checkDimensions(chunks, m.dimension); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putLocked(chunks)
	recordVectorUpsert(ctx, m.backend, len(chunks))
	return &UpsertResult{Succeeded: len(chunks)}, nil
}

func (m *memoryStore) putLocked(chunks []knowledge.DocumentChunk) {
	for i := range chunks {
		m.records[chunks[i].ID] = cloneChunk(&chunks[i], true)
	}
}

func (m *memoryStore) Search(ctx context.Context, query []float32, opts SearchOptions) ([]Match, error) {
	if err := checkQueryDimension(query, m.dimension); err != nil {
		return nil, err
	}
	topK := resolveTopK(opts.TopK)
	start := time.Now()
	m.mu.RLock()
	matches := make([]Match, 0, len(m.records))
	for id := range m.records {
		rec := m.records[id]
		matches = append(matches, Match{
			Chunk: cloneChunk(&rec, false),
			Score: similarity(m.metric, query, rec.ContentVector),
		})
	}
	m.mu.RUnlock()
	SortMatches(matches)
	if len(matches) > topK {
		matches = matches[:topK]
	}
	recordVectorSearch(ctx, m.backend, topK, time.Since(start), matches)
	return matches, nil
}

func (m *memoryStore) Count(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records), nil
}

func (m *memoryStore) Ping(context.Context) error {
	return nil
}

func (m *memoryStore) Close(context.Context) error {
	return nil
}
