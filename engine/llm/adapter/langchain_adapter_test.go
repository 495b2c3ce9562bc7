package llmadapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/compozy/policychat/engine/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

type recordingModel struct {
	messages []llms.MessageContent
	options  llms.CallOptions
	resp     *llms.ContentResponse
	err      error
	deadline bool
}

func (m *recordingModel) GenerateContent(
	ctx context.Context,
	messages []llms.MessageContent,
	options ...llms.CallOption,
) (*llms.ContentResponse, error) {
	m.messages = messages
	for _, opt := range options {
		opt(&m.options)
	}
	_, m.deadline = ctx.Deadline()
	return m.resp, m.err
}

func (m *recordingModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func textResponse(content string, info map[string]any) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: content, GenerationInfo: info}}}
}

func TestLangChainAdapter_GenerateContent(t *testing.T) {
	t.Run("Should send system prompt and user message with zero temperature", func(t *testing.T) {
		model := &recordingModel{resp: textResponse("answer", nil)}
		adapter := NewLangChainAdapter(model, ProviderOpenAI, time.Minute)
		resp, err := adapter.GenerateContent(t.Context(), &LLMRequest{
			SystemPrompt: "be concise",
			Messages:     []Message{{Role: RoleUser, Content: "what is the leave policy?"}},
		})
		require.NoError(t, err)
		assert.Equal(t, "answer", resp.Content)
		require.Len(t, model.messages, 2)
		assert.Equal(t, llms.ChatMessageTypeSystem, model.messages[0].Role)
		assert.Equal(t, llms.ChatMessageTypeHuman, model.messages[1].Role)
		assert.Equal(t, llms.TextContent{Text: "what is the leave policy?"}, model.messages[1].Parts[0])
		assert.Equal(t, 0.0, model.options.Temperature)
		assert.True(t, model.deadline)
	})
	t.Run("Should map assistant roles and max tokens", func(t *testing.T) {
		model := &recordingModel{resp: textResponse("ok", nil)}
		adapter := NewLangChainAdapter(model, ProviderOpenAI, 0)
		_, err := adapter.GenerateContent(t.Context(), &LLMRequest{
			Messages: []Message{{Role: RoleAssistant, Content: "earlier"}, {Role: RoleUser, Content: "now"}},
			Options:  CallOptions{MaxTokens: 128, Temperature: 0.3},
		})
		require.NoError(t, err)
		require.Len(t, model.messages, 2)
		assert.Equal(t, llms.ChatMessageTypeAI, model.messages[0].Role)
		assert.Equal(t, 128, model.options.MaxTokens)
		assert.Equal(t, 0.3, model.options.Temperature)
		assert.False(t, model.deadline)
	})
	t.Run("Should extract token usage", func(t *testing.T) {
		model := &recordingModel{resp: textResponse("ok", map[string]any{
			"PromptTokens":     12,
			"CompletionTokens": 5,
		})}
		resp, err := NewLangChainAdapter(model, ProviderOpenAI, 0).GenerateContent(t.Context(), &LLMRequest{
			Messages: []Message{{Role: RoleUser, Content: "q"}},
		})
		require.NoError(t, err)
		require.NotNil(t, resp.Usage)
		assert.Equal(t, 17, resp.Usage.TotalTokens)
	})
	t.Run("Should reject empty requests", func(t *testing.T) {
		_, err := NewLangChainAdapter(&recordingModel{}, ProviderOpenAI, 0).GenerateContent(t.Context(), &LLMRequest{})
		assert.ErrorIs(t, err, core.ErrInvalidInput)
	})
	t.Run("Should classify provider failures", func(t *testing.T) {
		model := &recordingModel{err: errors.New("status code: 500 internal error")}
		_, err := NewLangChainAdapter(model, ProviderAzure, 0).GenerateContent(t.Context(), &LLMRequest{
			Messages: []Message{{Role: RoleUser, Content: "q"}},
		})
		assert.ErrorIs(t, err, core.ErrServiceUnavailable)
		var llmErr *Error
		require.ErrorAs(t, err, &llmErr)
		assert.Equal(t, ErrCodeInternalServer, llmErr.Code)
	})
	t.Run("Should treat empty choices as unavailable", func(t *testing.T) {
		model := &recordingModel{resp: &llms.ContentResponse{}}
		_, err := NewLangChainAdapter(model, ProviderOpenAI, 0).GenerateContent(t.Context(), &LLMRequest{
			Messages: []Message{{Role: RoleUser, Content: "q"}},
		})
		assert.ErrorIs(t, err, core.ErrServiceUnavailable)
	})
}
