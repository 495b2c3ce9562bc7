package retriever

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/compozy/policychat/engine/core"
	"github.com/compozy/policychat/engine/knowledge"
	"github.com/compozy/policychat/engine/knowledge/embedder"
	"github.com/compozy/policychat/engine/knowledge/vectordb"
	"github.com/compozy/policychat/pkg/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultTopK is used when the caller does not configure a result count.
const DefaultTopK = 3

type Service struct {
	embedder embedder.Embedder
	store    vectordb.Store
	topK     int
	tracer   trace.Tracer
}

func NewService(emb embedder.Embedder, store vectordb.Store, topK int) (*Service, error) {
	if emb == nil {
		return nil, errors.New("knowledge: retriever embedder is required")
	}
	if store == nil {
		return nil, errors.New("knowledge: retriever vector store is required")
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Service{
		embedder: emb,
		store:    store,
		topK:     topK,
		tracer:   otel.Tracer("policychat.knowledge.retriever"),
	}, nil
}

// Search embeds the question once and returns at most top-K sources ordered by
// descending score. No hits yields an empty slice rather than an error.
func (s *Service) Search(ctx context.Context, question string) (sources []knowledge.SourceDocument, err error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("%w: question must not be empty", core.ErrInvalidInput)
	}
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "policychat.knowledge.retriever.search", trace.WithAttributes(
		attribute.Int("top_k", s.topK),
		attribute.Int("question_length", len(question)),
	))
	defer s.finishSearch(ctx, span, start, &sources, &err)

	vector, err := s.embedQueryWithSpan(ctx, question)
	if err != nil {
		return nil, queryFailure(err)
	}
	matches, err := s.searchMatches(ctx, vector)
	if err != nil {
		return nil, queryFailure(err)
	}
	vectordb.SortMatches(matches)
	if len(matches) > s.topK {
		matches = matches[:s.topK]
	}
	return buildSources(matches), nil
}

func (s *Service) embedQueryWithSpan(ctx context.Context, question string) ([]float32, error) {
	spanCtx, span := s.tracer.Start(ctx, "policychat.knowledge.retriever.embed_query", trace.WithAttributes(
		attribute.Int("dimension", s.embedder.Dimension()),
	))
	defer span.End()
	start := time.Now()
	vector, err := s.embedder.EmbedQuery(spanCtx, question)
	knowledge.RecordQueryLatency(ctx, "embed", time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return vector, nil
}

func (s *Service) searchMatches(ctx context.Context, vector []float32) ([]vectordb.Match, error) {
	spanCtx, span := s.tracer.Start(ctx, "policychat.knowledge.retriever.vector_search", trace.WithAttributes(
		attribute.Int("top_k", s.topK),
	))
	defer span.End()
	start := time.Now()
	matches, err := s.store.Search(spanCtx, vector, vectordb.SearchOptions{TopK: s.topK})
	knowledge.RecordQueryLatency(ctx, "search", time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("matches", len(matches)))
	return matches, nil
}

// queryFailure turns vector contract violations into internal errors. The question was
// already validated, so a malformed query vector is a server misconfiguration.
// Provider rejections of the question itself stay invalid input.
func queryFailure(err error) error {
	if errors.Is(err, embedder.ErrVectorContract) || errors.Is(err, vectordb.ErrQueryDimension) {
		return fmt.Errorf("knowledge: query vector does not fit the index: %s", err.Error())
	}
	return err
}

func buildSources(matches []vectordb.Match) []knowledge.SourceDocument {
	sources := make([]knowledge.SourceDocument, len(matches))
	for i := range matches {
		chunk := &matches[i].Chunk
		var page *int
		if chunk.PageNumber != nil {
			page = knowledge.Page(*chunk.PageNumber)
		}
		sources[i] = knowledge.SourceDocument{
			SourceFile:     chunk.SourceFile,
			PageNumber:     page,
			ContentSnippet: chunk.Content,
			RelevanceScore: matches[i].Score,
		}
	}
	return sources
}

func (s *Service) finishSearch(
	ctx context.Context,
	span trace.Span,
	start time.Time,
	sources *[]knowledge.SourceDocument,
	runErr *error,
) {
	duration := time.Since(start)
	knowledge.RecordQueryLatency(ctx, "retrieve", duration)
	log := logger.FromContext(ctx)
	seconds := duration.Seconds()
	if runErr != nil && *runErr != nil {
		err := *runErr
		log.Error("Knowledge retrieval failed", "error", err, "duration_seconds", seconds)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return
	}
	total := len(*sources)
	if total == 0 {
		knowledge.RecordRetrievalEmpty(ctx)
	}
	log.Debug("Knowledge retrieval finished", "results", total, "duration_seconds", seconds)
	span.SetAttributes(attribute.Int("results", total))
	span.End()
}
