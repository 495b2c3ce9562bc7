package llmadapter

import (
	"fmt"

	appconfig "github.com/compozy/policychat/pkg/config"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Provider names accepted in the embedder and chat sections.
const (
	ProviderOpenAI = "openai"
	ProviderAzure  = "azure"
	ProviderOllama = "ollama"
	ProviderMock   = "mock"
)

// endpoint is the provider-neutral view of an embedder or chat section.
type endpoint struct {
	provider   string
	model      string
	baseURL    string
	apiKey     string
	apiVersion string
}

// NewChatModel creates a langchaingo chat model for the configured provider.
func NewChatModel(cfg *appconfig.ChatConfig) (llms.Model, error) {
	if cfg == nil {
		return nil, fmt.Errorf("chat config must not be nil")
	}
	ep := endpoint{
		provider:   cfg.Provider,
		model:      cfg.Model,
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey.Value(),
		apiVersion: cfg.APIVersion,
	}
	switch ep.provider {
	case ProviderOpenAI, ProviderAzure:
		return createOpenAILLM(ep, openai.WithModel(ep.model))
	case ProviderOllama:
		return createOllamaLLM(ep)
	case ProviderMock:
		return NewMockLLM(ep.model), nil
	default:
		return nil, fmt.Errorf("unsupported chat provider: %s", ep.provider)
	}
}

// NewEmbedderClient creates a langchaingo embedding client for the configured provider.
func NewEmbedderClient(cfg *appconfig.EmbedderConfig) (embeddings.EmbedderClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("embedder config must not be nil")
	}
	ep := endpoint{
		provider:   cfg.Provider,
		model:      cfg.Model,
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey.Value(),
		apiVersion: cfg.APIVersion,
	}
	switch ep.provider {
	case ProviderOpenAI, ProviderAzure:
		return createOpenAILLM(ep, openai.WithEmbeddingModel(ep.model))
	case ProviderOllama:
		return createOllamaLLM(ep)
	case ProviderMock:
		return NewMockEmbedder(cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("unsupported embedder provider: %s", ep.provider)
	}
}

// createOpenAILLM creates an OpenAI or Azure OpenAI client.
// Azure addresses deployments by name, so the model doubles as the deployment.
func createOpenAILLM(ep endpoint, modelOpt openai.Option) (*openai.LLM, error) {
	opts := []openai.Option{modelOpt}
	if ep.apiKey != "" {
		opts = append(opts, openai.WithToken(ep.apiKey))
	}
	if ep.baseURL != "" {
		opts = append(opts, openai.WithBaseURL(ep.baseURL))
	}
	if ep.provider == ProviderAzure {
		if ep.baseURL == "" {
			return nil, fmt.Errorf("azure provider requires a base url")
		}
		opts = append(opts, openai.WithAPIType(openai.APITypeAzure))
		if ep.apiVersion != "" {
			opts = append(opts, openai.WithAPIVersion(ep.apiVersion))
		}
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", ep.provider, err)
	}
	return llm, nil
}

// createOllamaLLM creates an Ollama client
func createOllamaLLM(ep endpoint) (*ollama.LLM, error) {
	opts := []ollama.Option{
		ollama.WithModel(ep.model),
	}
	if ep.baseURL != "" {
		opts = append(opts, ollama.WithServerURL(ep.baseURL))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama client: %w", err)
	}
	return llm, nil
}
