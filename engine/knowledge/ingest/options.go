package ingest

import (
	"errors"
	"time"

	"github.com/compozy/policychat/engine/knowledge/chunk"
	appconfig "github.com/compozy/policychat/pkg/config"
)

const (
	defaultPattern          = "*.pdf"
	defaultUploadBatchSize  = 100
	defaultEmbedBatchSize   = 16
	defaultEmbedConcurrency = 1
)

// Options controls ingestion execution details provided by callers.
type Options struct {
	Dir              string
	Pattern          string
	Index            string
	UploadBatchSize  int
	EmbedBatchSize   int
	EmbedConcurrency int
	Chunking         chunk.Settings
	// Now stamps created_at; defaults to time.Now.
	Now func() time.Time
}

// OptionsFromConfig derives pipeline options from the application configuration.
func OptionsFromConfig(cfg *appconfig.Config) Options {
	if cfg == nil {
		return Options{}
	}
	return Options{
		Dir:              cfg.Ingest.Dir,
		Pattern:          cfg.Ingest.Pattern,
		Index:            cfg.VectorDB.Index,
		UploadBatchSize:  cfg.Ingest.UploadBatchSize,
		EmbedBatchSize:   cfg.Embedder.BatchSize,
		EmbedConcurrency: cfg.Ingest.EmbedConcurrency,
		Chunking: chunk.Settings{
			Size:              cfg.Ingest.ChunkSize,
			Overlap:           cfg.Ingest.ChunkOverlap,
			NormalizeNewlines: true,
		},
	}
}

func (o *Options) normalize() error {
	if o.Dir == "" {
		return errors.New("knowledge: source directory is required")
	}
	if o.Pattern == "" {
		o.Pattern = defaultPattern
	}
	if o.UploadBatchSize <= 0 {
		o.UploadBatchSize = defaultUploadBatchSize
	}
	if o.EmbedBatchSize <= 0 {
		o.EmbedBatchSize = defaultEmbedBatchSize
	}
	if o.EmbedConcurrency <= 0 {
		o.EmbedConcurrency = defaultEmbedConcurrency
	}
	if o.Chunking.Size == 0 {
		o.Chunking = chunk.DefaultSettings()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return nil
}
