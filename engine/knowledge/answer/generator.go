package answer

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
	llmadapter "github.com/compozy/policychat/engine/llm/adapter"
	"github.com/compozy/policychat/pkg/logger"
)

// Options tunes the single completion call.
type Options struct {
	Temperature float64
	MaxTokens   int
}

// Generator turns a question and its grounding sources into an answer with one chat completion.
type Generator struct {
	client  llmadapter.LLMClient
	options Options
	tracer  trace.Tracer
}

func NewGenerator(client llmadapter.LLMClient, opts Options) (*Generator, error) {
	if client == nil {
		return nil, errors.New("knowledge: answer generator requires a chat client")
	}
	return &Generator{
		client:  client,
		options: opts,
		tracer:  otel.Tracer("policychat.knowledge.answer"),
	}, nil
}

// Generate returns the model text verbatim together with the very sources it was given.
// There is no fallback answer: chat failures are returned as errors.
func (g *Generator) Generate(
	ctx context.Context,
	question string,
	sources []knowledge.SourceDocument,
) (*knowledge.ChatResponse, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("%w: question must not be empty", core.ErrInvalidInput)
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: no sources to ground an answer", core.ErrNotFound)
	}
	ctx, span := g.tracer.Start(ctx, "policychat.knowledge.answer.generate", trace.WithAttributes(
		attribute.Int("sources", len(sources)),
		attribute.Float64("temperature", g.options.Temperature),
	))
	defer span.End()
	start := time.Now()
	resp, err := g.client.GenerateContent(ctx, &llmadapter.LLMRequest{
		SystemPrompt: SystemPrompt,
		Messages: []llmadapter.Message{
			{Role: llmadapter.RoleUser, Content: BuildUserPrompt(question, sources)},
		},
		Options: llmadapter.CallOptions{
			Temperature: g.options.Temperature,
			MaxTokens:   g.options.MaxTokens,
		},
	})
	knowledge.RecordQueryLatency(ctx, "generate", time.Since(start))
	if err != nil {
		if core.KindOf(err) == core.KindInternal {
			err = fmt.Errorf("%w: chat completion: %w", core.ErrServiceUnavailable, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.FromContext(ctx).Error("Answer generation failed", "error", err)
		return nil, err
	}
	if resp.Usage != nil {
		span.SetAttributes(
			attribute.Int("prompt_tokens", resp.Usage.PromptTokens),
			attribute.Int("completion_tokens", resp.Usage.CompletionTokens),
		)
	}
	return &knowledge.ChatResponse{Answer: resp.Content, Sources: sources}, nil
}
