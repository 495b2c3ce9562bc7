package vectordb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/compozy/policychat/engine/core"
	"github.com/compozy/policychat/engine/knowledge"
)

// fileStore persists the index to a JSON snapshot and serves searches from memory.
type fileStore struct {
	*memoryStore
	path  string
	index string
}

func newFileStore(cfg *Config) (*fileStore, error) {
	if cfg == nil {
		return nil, errors.New("filesystem: config is required")
	}
	storePath := filepath.Clean(cfg.Path)
	dir := filepath.Dir(storePath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("filesystem: ensure directory %q: %w", dir, err)
	}
	mem := newMemoryStore(cfg)
	mem.backend = string(ProviderFilesystem)
	fs := &fileStore{
		memoryStore: mem,
		path:        storePath,
		index:       cfg.Index,
	}
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (s *fileStore) Recreate(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return backendFailure("filesystem: remove snapshot %q: %w", s.path, err)
	}
	s.records = make(map[string]knowledge.DocumentChunk)
	if err := s.persistLocked(); err != nil {
		return fmt.Errorf("%w: filesystem: create snapshot: %w", core.ErrIndexState, err)
	}
	return nil
}

func (s *fileStore) Upsert(ctx context.Context, chunks []knowledge.DocumentChunk) (*UpsertResult, error) {
	if err := checkDimensions(chunks, s.dimension); err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return &UpsertResult{}, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(chunks)
	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	recordVectorUpsert(ctx, s.backend, len(chunks))
	return &UpsertResult{Succeeded: len(chunks)}, nil
}

func (s *fileStore) Ping(context.Context) error {
	if _, err := os.Stat(filepath.Dir(s.path)); err != nil {
		return backendFailure("filesystem: stat %q: %w", filepath.Dir(s.path), err)
	}
	return nil
}

func (s *fileStore) load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return backendFailure("filesystem: read %q: %w", s.path, err)
	}
	var payload fileStorePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("filesystem: decode %q: %w", s.path, err)
	}
	if payload.Dimension > 0 && s.dimension != payload.Dimension {
		return fmt.Errorf(
			"%w: filesystem: stored dimension %d does not match config %d for %q",
			core.ErrIndexState,
			payload.Dimension,
			s.dimension,
			s.path,
		)
	}
	for i := range payload.Records {
		rec := payload.Records[i]
		s.records[rec.ID] = knowledge.DocumentChunk{
			ID:            rec.ID,
			Content:       rec.Content,
			ContentVector: rec.Embedding,
			SourceFile:    rec.SourceFile,
			PageNumber:    rec.PageNumber,
			CreatedAt:     rec.CreatedAt,
		}
	}
	return nil
}

func (s *fileStore) persistLocked() error {
	payload := fileStorePayload{
		Index:     s.index,
		Dimension: s.dimension,
		Records:   make([]fileStoreRecord, 0, len(s.records)),
	}
	for id := range s.records {
		rec := s.records[id]
		payload.Records = append(payload.Records, fileStoreRecord{
			ID:         rec.ID,
			Content:    rec.Content,
			Embedding:  rec.ContentVector,
			SourceFile: rec.SourceFile,
			PageNumber: rec.PageNumber,
			CreatedAt:  rec.CreatedAt,
		})
	}
	sort.Slice(payload.Records, func(i, j int) bool {
		return payload.Records[i].ID < payload.Records[j].ID
	})
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("filesystem: encode snapshot: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return backendFailure("filesystem: write snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return backendFailure("filesystem: commit snapshot: %w", err)
	}
	return nil
}

type fileStorePayload struct {
	Index     string            `json:"index"`
	Dimension int               `json:"dimension"`
	Records   []fileStoreRecord `json:"records"`
}

type fileStoreRecord struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	Embedding  []float32 `json:"embedding"`
	SourceFile string    `json:"source_file"`
	PageNumber *int      `json:"page_number,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
