package knowledge

import (
	"strconv"
	"time"
)

// DocumentChunk is a unit of indexed text together with its embedding.
type DocumentChunk struct {
	ID            string
	Content       string
	ContentVector []float32
	SourceFile    string
	// PageNumber is nil for documents without page structure.
	PageNumber *int
	CreatedAt  time.Time
}

// SourceDocument is a retrieval hit derived from a chunk plus its per-query score.
// RelevanceScore is ordinal only; scales differ between index backends.
type SourceDocument struct {
	SourceFile     string  `json:"source_file"`
	PageNumber     *int    `json:"page_number"`
	ContentSnippet string  `json:"content_snippet"`
	RelevanceScore float64 `json:"relevance_score"`
}

// ChatRequest carries a single user question.
type ChatRequest struct {
	Question string `json:"question"`
}

// ChatResponse pairs the generated answer with the exact sources shown to the model.
type ChatResponse struct {
	Answer  string           `json:"answer"`
	Sources []SourceDocument `json:"sources"`
}

// Page returns a pointer to n for optional page numbers.
func Page(n int) *int {
	return &n
}

// PageLabel renders an optional page number for prompts and summaries.
func PageLabel(page *int) string {
	if page == nil {
		return "N/A"
	}
	return strconv.Itoa(*page)
}
