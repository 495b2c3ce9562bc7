package chunk

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/compozy/policychat/engine/knowledge"
	"github.com/tmc/langchaingo/textsplitter"
)

// IDPrefix prefixes run-scoped chunk ids.
const IDPrefix = "chunk_"

var newlinePattern = regexp.MustCompile(`\r\n|\r`)

// Processor splits pages with a recursive character splitter
// (paragraph, then line, then word, then character).
type Processor struct {
	settings Settings
	splitter textsplitter.RecursiveCharacter
}

// NewProcessor builds a processor after validating size and overlap.
func NewProcessor(settings Settings) (*Processor, error) {
	if settings.Size <= 0 {
		return nil, errors.New("chunk: size must be greater than zero")
	}
	if settings.Overlap < 0 {
		return nil, errors.New("chunk: overlap cannot be negative")
	}
	if settings.Overlap >= settings.Size {
		return nil, fmt.Errorf("chunk: overlap %d must be smaller than size %d", settings.Overlap, settings.Size)
	}
	return &Processor{
		settings: settings,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithSeparators([]string{"\n\n", "\n", " ", ""}),
			textsplitter.WithChunkSize(settings.Size),
			textsplitter.WithChunkOverlap(settings.Overlap),
		),
	}, nil
}

// Process splits pages into chunks that keep their file and page.
// Ids are assigned from a counter starting at 0 across all pages, in input order.
func (p *Processor) Process(pages []Page) ([]knowledge.DocumentChunk, error) {
	if len(pages) == 0 {
		return nil, nil
	}
	chunks := make([]knowledge.DocumentChunk, 0, len(pages))
	for pi := range pages {
		page := &pages[pi]
		text := p.preprocess(page.Text)
		if text == "" {
			continue
		}
		segments, err := p.splitter.SplitText(text)
		if err != nil {
			return nil, fmt.Errorf(
				"chunk: split %s page %s: %w",
				page.SourceFile,
				knowledge.PageLabel(page.PageNumber),
				err,
			)
		}
		for _, segment := range segments {
			if strings.TrimSpace(segment) == "" {
				continue
			}
			chunk := knowledge.DocumentChunk{
				ID:         fmt.Sprintf("%s%d", IDPrefix, len(chunks)),
				Content:    segment,
				SourceFile: page.SourceFile,
			}
			if page.PageNumber != nil {
				chunk.PageNumber = knowledge.Page(*page.PageNumber)
			}
			chunks = append(chunks, chunk)
		}
	}
	return chunks, nil
}

func (p *Processor) preprocess(text string) string {
	normalized := text
	if p.settings.NormalizeNewlines {
		normalized = newlinePattern.ReplaceAllString(normalized, "\n")
	}
	return strings.TrimSpace(normalized)
}
