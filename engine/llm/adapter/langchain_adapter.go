package llmadapter

import (
	"context"
	"fmt"
	"time"

	"github.com/compozy/policychat/engine/core"
	"github.com/tmc/langchaingo/llms"
)

// LangChainAdapter adapts langchaingo to our LLMClient interface
type LangChainAdapter struct {
	model    llms.Model
	provider string
	timeout  time.Duration
}

// NewLangChainAdapter creates a new LangChain adapter around an existing model.
// A positive timeout bounds every call.
func NewLangChainAdapter(model llms.Model, provider string, timeout time.Duration) *LangChainAdapter {
	return &LangChainAdapter{
		model:    model,
		provider: provider,
		timeout:  timeout,
	}
}

// GenerateContent implements LLMClient interface
func (a *LangChainAdapter) GenerateContent(ctx context.Context, req *LLMRequest) (*LLMResponse, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, fmt.Errorf("%w: request must contain at least one message", core.ErrInvalidInput)
	}
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	response, err := a.model.GenerateContent(ctx, a.convertMessages(req), a.buildCallOptions(req)...)
	if err != nil {
		return nil, Classify(a.provider, err)
	}
	return a.convertResponse(response)
}

// Close implements LLMClient interface
func (a *LangChainAdapter) Close() error {
	return nil
}

// convertMessages converts our Message format to langchain MessageContent
func (a *LangChainAdapter) convertMessages(req *LLMRequest) []llms.MessageContent {
	messages := make([]llms.MessageContent, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, req.SystemPrompt))
	}
	for _, msg := range req.Messages {
		messages = append(messages, llms.TextParts(a.mapMessageRole(msg.Role), msg.Content))
	}
	return messages
}

// mapMessageRole maps our role to langchain ChatMessageType
func (a *LangChainAdapter) mapMessageRole(role string) llms.ChatMessageType {
	switch role {
	case RoleSystem:
		return llms.ChatMessageTypeSystem
	case RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}

// buildCallOptions builds langchain call options from our request.
// Temperature is always sent so zero means deterministic rather than provider default.
func (a *LangChainAdapter) buildCallOptions(req *LLMRequest) []llms.CallOption {
	options := []llms.CallOption{llms.WithTemperature(req.Options.Temperature)}
	if req.Options.MaxTokens > 0 {
		options = append(options, llms.WithMaxTokens(req.Options.MaxTokens))
	}
	return options
}

// convertResponse converts langchain response to our format
func (a *LangChainAdapter) convertResponse(resp *llms.ContentResponse) (*LLMResponse, error) {
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return nil, fmt.Errorf("%w: empty response from %s", core.ErrServiceUnavailable, a.provider)
	}
	choice := resp.Choices[0]
	return &LLMResponse{
		Content: choice.Content,
		Usage:   usageFromInfo(choice.GenerationInfo),
	}, nil
}

// usageFromInfo reads token counts that OpenAI-compatible providers report in GenerationInfo.
func usageFromInfo(info map[string]any) *Usage {
	if len(info) == 0 {
		return nil
	}
	usage := &Usage{
		PromptTokens:     intFromInfo(info["PromptTokens"]),
		CompletionTokens: intFromInfo(info["CompletionTokens"]),
		TotalTokens:      intFromInfo(info["TotalTokens"]),
	}
	if usage.PromptTokens == 0 && usage.CompletionTokens == 0 && usage.TotalTokens == 0 {
		return nil
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	return usage
}

func intFromInfo(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
