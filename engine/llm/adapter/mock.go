package llmadapter

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/tmc/langchaingo/llms"
)

// MockLLM is a deterministic llms.Model for offline runs and tests.
// It answers with the question and the first cited source found in the prompt.
type MockLLM struct {
	model string
}

// NewMockLLM creates a new mock LLM
func NewMockLLM(model string) *MockLLM {
	return &MockLLM{model: model}
}

// GenerateContent implements the LLM interface with predictable responses
func (m *MockLLM) GenerateContent(
	ctx context.Context,
	messages []llms.MessageContent,
	_ ...llms.CallOption,
) (*llms.ContentResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var prompt strings.Builder
	for _, message := range messages {
		if message.Role != llms.ChatMessageTypeHuman {
			continue
		}
		for _, part := range message.Parts {
			if textPart, ok := part.(llms.TextContent); ok {
				prompt.WriteString(textPart.Text)
				prompt.WriteString("\n")
			}
		}
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: mockAnswer(prompt.String())}},
	}, nil
}

// Call implements the legacy Call interface
func (m *MockLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func mockAnswer(prompt string) string {
	var question, source string
	for _, line := range strings.Split(prompt, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case source == "" && strings.HasPrefix(line, "[Source: "):
			source = strings.TrimSuffix(strings.TrimPrefix(line, "[Source: "), "]")
		case strings.HasPrefix(line, "question: "):
			question = strings.TrimPrefix(line, "question: ")
		}
	}
	if source == "" {
		return "i don't know based on the provided context."
	}
	return fmt.Sprintf("mock answer to %q based on %s.", question, source)
}

// MockEmbedder produces deterministic bag-of-words vectors.
// Texts sharing words land close together, which is enough for offline retrieval.
type MockEmbedder struct {
	dimension int
}

// NewMockEmbedder creates an embedder producing vectors of the given dimension.
func NewMockEmbedder(dimension int) *MockEmbedder {
	if dimension <= 0 {
		dimension = 1
	}
	return &MockEmbedder{dimension: dimension}
}

// CreateEmbedding implements embeddings.EmbedderClient.
func (m *MockEmbedder) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = m.embed(text)
	}
	return vectors, nil
}

func (m *MockEmbedder) embed(text string) []float32 {
	vec := make([]float32, m.dimension)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, word := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		vec[h.Sum32()%uint32(m.dimension)]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
