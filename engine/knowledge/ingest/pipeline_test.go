package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/compozy/policychat/engine/core"
	"github.com/compozy/policychat/engine/knowledge"
	"github.com/compozy/policychat/engine/knowledge/chunk"
	"github.com/compozy/policychat/engine/knowledge/vectordb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDim = 4

type fakeLoader struct {
	docs  []Document
	err   error
	calls int
}

func (l *fakeLoader) Load(context.Context, string, string) ([]Document, error) {
	l.calls++
	return l.docs, l.err
}

// contentEmbedder derives each vector from its text so misordered vectors are detectable.
type contentEmbedder struct {
	mu    sync.Mutex
	calls int
	drop  bool
	err   error
}

func contentVector(text string) []float32 {
	return []float32{float32(len(text)), float32(text[0]), float32(text[len(text)-1]), 1}
}

func (e *contentEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		out = append(out, contentVector(text))
	}
	if e.drop {
		out = out[:len(out)-1]
	}
	return out, nil
}

func (e *contentEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *contentEmbedder) Dimension() int { return testDim }

// recordingStore wraps a memory store, rejecting selected ids and failing selected batches.
type recordingStore struct {
	vectordb.Store
	recreateErr error
	rejectIDs   map[string]bool
	failBatch   int
	batches     [][]knowledge.DocumentChunk
	recreated   int
}

func (s *recordingStore) Recreate(ctx context.Context) error {
	s.recreated++
	if s.recreateErr != nil {
		return s.recreateErr
	}
	return s.Store.Recreate(ctx)
}

func (s *recordingStore) Upsert(ctx context.Context, chunks []knowledge.DocumentChunk) (*vectordb.UpsertResult, error) {
	s.batches = append(s.batches, chunks)
	if s.failBatch == len(s.batches) {
		return nil, fmt.Errorf("%w: connection reset", core.ErrServiceUnavailable)
	}
	accepted := make([]knowledge.DocumentChunk, 0, len(chunks))
	var failed []vectordb.RecordFailure
	for i := range chunks {
		if s.rejectIDs[chunks[i].ID] {
			failed = append(failed, vectordb.RecordFailure{ID: chunks[i].ID, Reason: "rejected"})
			continue
		}
		accepted = append(accepted, chunks[i])
	}
	res, err := s.Store.Upsert(ctx, accepted)
	if err != nil {
		return nil, err
	}
	res.Failed = append(res.Failed, failed...)
	return res, nil
}

func newRecordingStore(t *testing.T) *recordingStore {
	t.Helper()
	store, err := vectordb.New(t.Context(), &vectordb.Config{
		Provider:  vectordb.ProviderMemory,
		Index:     "policies",
		Dimension: testDim,
	})
	require.NoError(t, err)
	return &recordingStore{Store: store, rejectIDs: map[string]bool{}}
}

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("w%03d", i)
	}
	return strings.Join(parts, " ")
}

func handbook() []Document {
	return []Document{{
		Name: "handbook.pdf",
		Pages: []chunk.Page{
			{SourceFile: "handbook.pdf", PageNumber: knowledge.Page(1), Text: words(300)},
			{SourceFile: "handbook.pdf", PageNumber: knowledge.Page(2), Text: words(100)},
		},
	}}
}

func manyPages(n int) []Document {
	pages := make([]chunk.Page, n)
	for i := range pages {
		pages[i] = chunk.Page{
			SourceFile: "policies.pdf",
			PageNumber: knowledge.Page(i + 1),
			Text:       fmt.Sprintf("page %d says %s", i+1, strings.Repeat("x", i+1)),
		}
	}
	return []Document{{Name: "policies.pdf", Pages: pages}}
}

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))

func testOptions() Options {
	return Options{
		Dir:   "./data",
		Index: "policies",
		Now:   func() time.Time { return fixedNow },
	}
}

func TestPipeline_Run(t *testing.T) {
	t.Run("Should ingest a two page handbook into three chunks", func(t *testing.T) {
		store := newRecordingStore(t)
		pipeline, err := NewPipeline(&fakeLoader{docs: handbook()}, &contentEmbedder{}, store, testOptions())
		require.NoError(t, err)
		result, err := pipeline.Run(t.Context())
		require.NoError(t, err)
		assert.Equal(t, 1, result.Files)
		assert.Equal(t, 2, result.Pages)
		assert.Equal(t, 3, result.Chunks)
		assert.Equal(t, 3, result.Uploaded)
		assert.Equal(t, 0, result.Failed)
		assert.Equal(t, 1, result.Batches)
		assert.Equal(t, "policies", result.Index)
		count, err := store.Count(t.Context())
		require.NoError(t, err)
		assert.Equal(t, 3, count)
		require.Len(t, store.batches, 1)
		for _, c := range store.batches[0] {
			assert.Equal(t, fixedNow.UTC(), c.CreatedAt)
			assert.Equal(t, time.UTC, c.CreatedAt.Location())
		}
	})
	t.Run("Should upload in batches and keep vectors aligned with chunks", func(t *testing.T) {
		store := newRecordingStore(t)
		opts := testOptions()
		opts.UploadBatchSize = 2
		opts.EmbedBatchSize = 1
		opts.EmbedConcurrency = 4
		emb := &contentEmbedder{}
		pipeline, err := NewPipeline(&fakeLoader{docs: manyPages(5)}, emb, store, opts)
		require.NoError(t, err)
		result, err := pipeline.Run(t.Context())
		require.NoError(t, err)
		assert.Equal(t, 5, result.Chunks)
		assert.Equal(t, 3, result.Batches)
		assert.Equal(t, 5, emb.calls)
		require.Len(t, store.batches, 3)
		assert.Len(t, store.batches[2], 1)
		index := 0
		for _, batch := range store.batches {
			for _, c := range batch {
				assert.Equal(t, fmt.Sprintf("chunk_%d", index), c.ID)
				assert.Equal(t, contentVector(c.Content), c.ContentVector)
				index++
			}
		}
	})
	t.Run("Should count per-record rejections without aborting", func(t *testing.T) {
		store := newRecordingStore(t)
		store.rejectIDs["chunk_1"] = true
		pipeline, err := NewPipeline(&fakeLoader{docs: handbook()}, &contentEmbedder{}, store, testOptions())
		require.NoError(t, err)
		result, err := pipeline.Run(t.Context())
		require.NoError(t, err)
		assert.Equal(t, 2, result.Uploaded)
		assert.Equal(t, 1, result.Failed)
		require.Len(t, result.Failures, 1)
		assert.Equal(t, "chunk_1", result.Failures[0].ID)
	})
	t.Run("Should abort on a batch transport error and report partial progress", func(t *testing.T) {
		store := newRecordingStore(t)
		store.failBatch = 2
		opts := testOptions()
		opts.UploadBatchSize = 2
		pipeline, err := NewPipeline(&fakeLoader{docs: manyPages(5)}, &contentEmbedder{}, store, opts)
		require.NoError(t, err)
		result, err := pipeline.Run(t.Context())
		require.Error(t, err)
		assert.ErrorIs(t, err, core.ErrServiceUnavailable)
		assert.ErrorContains(t, err, "upload batch 2")
		assert.Equal(t, 2, result.Uploaded)
		assert.Equal(t, 1, result.Batches)
		assert.Len(t, store.batches, 2)
	})
	t.Run("Should stop before loading when recreate fails", func(t *testing.T) {
		store := newRecordingStore(t)
		store.recreateErr = fmt.Errorf("%w: create failed", core.ErrIndexState)
		loader := &fakeLoader{docs: handbook()}
		pipeline, err := NewPipeline(loader, &contentEmbedder{}, store, testOptions())
		require.NoError(t, err)
		result, err := pipeline.Run(t.Context())
		assert.ErrorIs(t, err, core.ErrIndexState)
		assert.Zero(t, loader.calls)
		assert.Zero(t, result.Chunks)
	})
	t.Run("Should reject an embedder that drops vectors", func(t *testing.T) {
		store := newRecordingStore(t)
		pipeline, err := NewPipeline(&fakeLoader{docs: handbook()}, &contentEmbedder{drop: true}, store, testOptions())
		require.NoError(t, err)
		result, err := pipeline.Run(t.Context())
		assert.ErrorIs(t, err, core.ErrInvalidInput)
		assert.Equal(t, 3, result.Chunks)
		assert.Empty(t, store.batches)
	})
	t.Run("Should surface embedding failures", func(t *testing.T) {
		store := newRecordingStore(t)
		emb := &contentEmbedder{err: fmt.Errorf("%w: 503", core.ErrServiceUnavailable)}
		pipeline, err := NewPipeline(&fakeLoader{docs: handbook()}, emb, store, testOptions())
		require.NoError(t, err)
		_, err = pipeline.Run(t.Context())
		assert.ErrorIs(t, err, core.ErrServiceUnavailable)
		assert.Empty(t, store.batches)
	})
	t.Run("Should wrap loader failures", func(t *testing.T) {
		pipeline, err := NewPipeline(
			&fakeLoader{err: errors.New("disk gone")},
			&contentEmbedder{},
			newRecordingStore(t),
			testOptions(),
		)
		require.NoError(t, err)
		_, err = pipeline.Run(t.Context())
		assert.ErrorContains(t, err, "load documents: disk gone")
	})
	t.Run("Should recreate an empty index when no documents exist", func(t *testing.T) {
		store := newRecordingStore(t)
		pipeline, err := NewPipeline(&fakeLoader{}, &contentEmbedder{}, store, testOptions())
		require.NoError(t, err)
		result, err := pipeline.Run(t.Context())
		require.NoError(t, err)
		assert.Equal(t, 1, store.recreated)
		assert.Zero(t, result.Files)
		assert.Zero(t, result.Uploaded)
	})
	t.Run("Should produce the same chunk count on repeated runs", func(t *testing.T) {
		store := newRecordingStore(t)
		pipeline, err := NewPipeline(&fakeLoader{docs: handbook()}, &contentEmbedder{}, store, testOptions())
		require.NoError(t, err)
		first, err := pipeline.Run(t.Context())
		require.NoError(t, err)
		second, err := pipeline.Run(t.Context())
		require.NoError(t, err)
		assert.Equal(t, first.Chunks, second.Chunks)
		count, err := store.Count(t.Context())
		require.NoError(t, err)
		assert.Equal(t, 3, count)
	})
}

func TestNewPipeline(t *testing.T) {
	t.Run("Should require collaborators and a directory", func(t *testing.T) {
		store := newRecordingStore(t)
		_, err := NewPipeline(nil, &contentEmbedder{}, store, testOptions())
		assert.ErrorContains(t, err, "loader is required")
		_, err = NewPipeline(&fakeLoader{}, nil, store, testOptions())
		assert.ErrorContains(t, err, "embedder implementation is required")
		_, err = NewPipeline(&fakeLoader{}, &contentEmbedder{}, nil, testOptions())
		assert.ErrorContains(t, err, "vector store is required")
		_, err = NewPipeline(&fakeLoader{}, &contentEmbedder{}, store, Options{})
		assert.ErrorContains(t, err, "source directory is required")
	})
	t.Run("Should reject invalid chunk settings", func(t *testing.T) {
		opts := testOptions()
		opts.Chunking = chunk.Settings{Size: 10, Overlap: 10}
		_, err := NewPipeline(&fakeLoader{}, &contentEmbedder{}, newRecordingStore(t), opts)
		assert.Error(t, err)
	})
}
