package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/compozy/policychat/engine/core"
	"github.com/compozy/policychat/engine/knowledge"
	"github.com/compozy/policychat/pkg/logger"
)

// NoSourcesMessage is returned when retrieval finds nothing to ground an answer.
const NoSourcesMessage = "no relevant documents found for your question"

// Retriever finds the sources for a question.
type Retriever interface {
	Search(ctx context.Context, question string) ([]knowledge.SourceDocument, error)
}

// Generator answers a question from the given sources.
type Generator interface {
	Generate(ctx context.Context, question string, sources []knowledge.SourceDocument) (*knowledge.ChatResponse, error)
}

// Service answers policy questions: retrieve, then generate, strictly in sequence.
type Service struct {
	retriever Retriever
	generator Generator
	tracer    trace.Tracer
}

func NewService(retriever Retriever, generator Generator) (*Service, error) {
	if retriever == nil {
		return nil, errors.New("chat: retriever is required")
	}
	if generator == nil {
		return nil, errors.New("chat: generator is required")
	}
	return &Service{
		retriever: retriever,
		generator: generator,
		tracer:    otel.Tracer("policychat.chat"),
	}, nil
}

// Chat answers one question. Blank questions fail with core.ErrInvalidInput before any
// external call; an empty retrieval fails with core.ErrNotFound and never reaches the model.
func (s *Service) Chat(ctx context.Context, req *knowledge.ChatRequest) (*knowledge.ChatResponse, error) {
	if req == nil || strings.TrimSpace(req.Question) == "" {
		return nil, fmt.Errorf("%w: question must not be empty", core.ErrInvalidInput)
	}
	ctx, span := s.tracer.Start(ctx, "policychat.chat.answer")
	defer span.End()
	start := time.Now()
	defer func() {
		knowledge.RecordQueryLatency(ctx, "chat", time.Since(start))
	}()
	log := logger.FromContext(ctx)

	sources, err := s.retriever.Search(ctx, req.Question)
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("chat: retrieve sources: %w", err))
	}
	span.SetAttributes(attribute.Int("sources", len(sources)))
	if len(sources) == 0 {
		log.Info("No sources retrieved", "question_length", len(req.Question))
		return nil, s.fail(span, fmt.Errorf("%w: %s", core.ErrNotFound, NoSourcesMessage))
	}
	resp, err := s.generator.Generate(ctx, req.Question, sources)
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("chat: generate answer: %w", err))
	}
	log.Debug("Answered question", "sources", len(resp.Sources), "duration", time.Since(start))
	return resp, nil
}

func (s *Service) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.String("error_kind", string(core.KindOf(err))))
	return err
}
