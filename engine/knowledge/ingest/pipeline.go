package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/compozy/policychat/engine/core"
	"github.com/compozy/policychat/engine/knowledge"
	"github.com/compozy/policychat/engine/knowledge/chunk"
	"github.com/compozy/policychat/engine/knowledge/embedder"
	"github.com/compozy/policychat/engine/knowledge/vectordb"
	"github.com/compozy/policychat/pkg/logger"
)

const (
	outcomeSuccess = "success"
	outcomeError   = "error"
)

// Pipeline rebuilds one index from the documents of a directory:
// recreate, load, chunk, embed, upload, strictly in that order.
type Pipeline struct {
	loader   Loader
	embedder embedder.Embedder
	store    vectordb.Store
	chunker  *chunk.Processor
	options  Options
}

// Result summarizes a run. On failure it holds the progress made before the failing stage.
type Result struct {
	Index    string
	Files    int
	Pages    int
	Chunks   int
	Uploaded int
	Failed   int
	Batches  int
	Failures []vectordb.RecordFailure
	Duration time.Duration
}

func NewPipeline(loader Loader, emb embedder.Embedder, store vectordb.Store, opts Options) (*Pipeline, error) {
	if loader == nil {
		return nil, errors.New("knowledge: document loader is required")
	}
	if emb == nil {
		return nil, errors.New("knowledge: embedder implementation is required")
	}
	if store == nil {
		return nil, errors.New("knowledge: vector store is required")
	}
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	chunker, err := chunk.NewProcessor(opts.Chunking)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		loader:   loader,
		embedder: emb,
		store:    store,
		chunker:  chunker,
		options:  opts,
	}, nil
}

// Run executes the pipeline. The returned Result is never nil.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	result := &Result{Index: p.options.Index}
	err := p.run(ctx, result)
	result.Duration = time.Since(start)
	outcome := outcomeSuccess
	if err != nil {
		outcome = outcomeError
	}
	knowledge.RecordIngestDuration(ctx, p.options.Index, result.Duration, outcome)
	knowledge.RecordIngestChunks(ctx, p.options.Index, result.Uploaded)
	knowledge.RecordUploadFailures(ctx, p.options.Index, result.Failed)
	return result, err
}

func (p *Pipeline) run(ctx context.Context, result *Result) error {
	log := logger.FromContext(ctx).With("index", p.options.Index)
	if err := p.store.Recreate(ctx); err != nil {
		return fmt.Errorf("knowledge: recreate index: %w", err)
	}
	log.Info("Recreated index")
	docs, err := p.loader.Load(ctx, p.options.Dir, p.options.Pattern)
	if err != nil {
		return fmt.Errorf("knowledge: load documents: %w", err)
	}
	pages := make([]chunk.Page, 0, len(docs))
	for i := range docs {
		pages = append(pages, docs[i].Pages...)
	}
	result.Files = len(docs)
	result.Pages = len(pages)
	if len(docs) == 0 {
		log.Warn("No documents found", "dir", p.options.Dir, "pattern", p.options.Pattern)
		return nil
	}
	chunks, err := p.chunker.Process(pages)
	if err != nil {
		return fmt.Errorf("knowledge: chunk documents: %w", err)
	}
	result.Chunks = len(chunks)
	log.Info("Chunked documents", "files", result.Files, "pages", result.Pages, "chunks", result.Chunks)
	if len(chunks) == 0 {
		return nil
	}
	if err := p.embedChunks(ctx, chunks); err != nil {
		return fmt.Errorf("knowledge: embed chunks: %w", err)
	}
	log.Info("Generated embeddings", "chunks", len(chunks))
	return p.upload(ctx, log, chunks, result)
}

// embedChunks fills ContentVector positionally. Batches run concurrently but
// each writes only its own slice range, so order is preserved.
func (p *Pipeline) embedChunks(ctx context.Context, chunks []knowledge.DocumentChunk) error {
	createdAt := p.options.Now().UTC()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.options.EmbedConcurrency)
	for start := 0; start < len(chunks); start += p.options.EmbedBatchSize {
		end := min(start+p.options.EmbedBatchSize, len(chunks))
		batch := chunks[start:end]
		g.Go(func() error {
			texts := make([]string, len(batch))
			for i := range batch {
				texts[i] = batch[i].Content
			}
			vectors, err := p.embedder.EmbedDocuments(gctx, texts)
			if err != nil {
				return err
			}
			if len(vectors) != len(batch) {
				return fmt.Errorf(
					"%w: embedder returned %d vectors for %d chunks",
					core.ErrInvalidInput, len(vectors), len(batch),
				)
			}
			for i := range batch {
				batch[i].ContentVector = vectors[i]
				batch[i].CreatedAt = createdAt
			}
			return nil
		})
	}
	return g.Wait()
}

func (p *Pipeline) upload(
	ctx context.Context,
	log logger.Logger,
	chunks []knowledge.DocumentChunk,
	result *Result,
) error {
	size := p.options.UploadBatchSize
	for start := 0; start < len(chunks); start += size {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+size, len(chunks))
		batch := chunks[start:end]
		number := result.Batches + 1
		res, err := p.store.Upsert(ctx, batch)
		if err != nil {
			return fmt.Errorf(
				"knowledge: upload batch %d aborted after %d uploaded chunks: %w",
				number, result.Uploaded, err,
			)
		}
		result.Batches = number
		result.Uploaded += res.Succeeded
		result.Failed += len(res.Failed)
		result.Failures = append(result.Failures, res.Failed...)
		for _, failure := range res.Failed {
			log.Warn("Chunk rejected by index", "batch", number, "chunk_id", failure.ID, "reason", failure.Reason)
		}
		log.Info(fmt.Sprintf("uploaded batch %d: %d/%d succeeded", number, res.Succeeded, len(batch)))
	}
	return nil
}
