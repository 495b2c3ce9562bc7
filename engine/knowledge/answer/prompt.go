package answer

import (
	"fmt"
	"strings"

	"github.com/compozy/policychat/engine/knowledge"
)

// SystemPrompt restricts the model to the retrieved context.
const SystemPrompt = `you are a helpful assistant that answers questions about company policies.
use only the provided context to answer questions. if you can't find the answer in the context,
say you don't know. be concise and accurate.`

const userPromptTemplate = `context from company policy documents:

%s

question: %s

answer based only on the context above:`

// BuildContext renders sources in input order, one block per source separated by blank lines.
func BuildContext(sources []knowledge.SourceDocument) string {
	blocks := make([]string, len(sources))
	for i := range sources {
		blocks[i] = fmt.Sprintf(
			"[Source: %s, Page: %s]\n%s",
			sources[i].SourceFile,
			knowledge.PageLabel(sources[i].PageNumber),
			sources[i].ContentSnippet,
		)
	}
	return strings.Join(blocks, "\n\n")
}

// BuildUserPrompt embeds the context block and the literal question.
func BuildUserPrompt(question string, sources []knowledge.SourceDocument) string {
	return fmt.Sprintf(userPromptTemplate, BuildContext(sources), question)
}
