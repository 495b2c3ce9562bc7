package chat

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/policychat/engine/core"
	"github.com/compozy/policychat/engine/knowledge"
)

type stubRetriever struct {
	sources []knowledge.SourceDocument
	err     error
	calls   int
}

func (r *stubRetriever) Search(context.Context, string) ([]knowledge.SourceDocument, error) {
	r.calls++
	return r.sources, r.err
}

type stubGenerator struct {
	err   error
	calls int
}

func (g *stubGenerator) Generate(
	_ context.Context,
	question string,
	sources []knowledge.SourceDocument,
) (*knowledge.ChatResponse, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return &knowledge.ChatResponse{Answer: "answer to " + question, Sources: sources}, nil
}

func vacationSource() []knowledge.SourceDocument {
	return []knowledge.SourceDocument{{
		SourceFile:     "handbook.pdf",
		PageNumber:     knowledge.Page(4),
		ContentSnippet: "Full-time employees receive 20 vacation days.",
		RelevanceScore: 0.87,
	}}
}

func TestService_Chat(t *testing.T) {
	t.Run("Should answer with exactly the retrieved sources", func(t *testing.T) {
		gen := &stubGenerator{}
		svc, err := NewService(&stubRetriever{sources: vacationSource()}, gen)
		require.NoError(t, err)
		resp, err := svc.Chat(t.Context(), &knowledge.ChatRequest{Question: "How many vacation days?"})
		require.NoError(t, err)
		assert.Equal(t, "answer to How many vacation days?", resp.Answer)
		require.Len(t, resp.Sources, 1)
		assert.Equal(t, "handbook.pdf", resp.Sources[0].SourceFile)
		assert.Equal(t, 4, *resp.Sources[0].PageNumber)
		assert.Equal(t, 1, gen.calls)
	})
	t.Run("Should return not found without calling the generator", func(t *testing.T) {
		gen := &stubGenerator{}
		svc, err := NewService(&stubRetriever{sources: []knowledge.SourceDocument{}}, gen)
		require.NoError(t, err)
		_, err = svc.Chat(t.Context(), &knowledge.ChatRequest{Question: "Is there a gym?"})
		require.Error(t, err)
		assert.ErrorIs(t, err, core.ErrNotFound)
		assert.ErrorContains(t, err, NoSourcesMessage)
		assert.Zero(t, gen.calls)
	})
	t.Run("Should reject blank questions before retrieval", func(t *testing.T) {
		ret := &stubRetriever{sources: vacationSource()}
		svc, err := NewService(ret, &stubGenerator{})
		require.NoError(t, err)
		_, err = svc.Chat(t.Context(), &knowledge.ChatRequest{Question: "   "})
		assert.ErrorIs(t, err, core.ErrInvalidInput)
		_, err = svc.Chat(t.Context(), nil)
		assert.ErrorIs(t, err, core.ErrInvalidInput)
		assert.Zero(t, ret.calls)
	})
	t.Run("Should keep the error kind of downstream failures", func(t *testing.T) {
		svc, err := NewService(
			&stubRetriever{err: fmt.Errorf("%w: embedder timeout", core.ErrServiceUnavailable)},
			&stubGenerator{},
		)
		require.NoError(t, err)
		_, err = svc.Chat(t.Context(), &knowledge.ChatRequest{Question: "q"})
		assert.Equal(t, core.KindServiceUnavailable, core.KindOf(err))

		svc, err = NewService(
			&stubRetriever{sources: vacationSource()},
			&stubGenerator{err: fmt.Errorf("%w: chat down", core.ErrServiceUnavailable)},
		)
		require.NoError(t, err)
		_, err = svc.Chat(t.Context(), &knowledge.ChatRequest{Question: "q"})
		assert.Equal(t, core.KindServiceUnavailable, core.KindOf(err))
	})
	t.Run("Should require collaborators", func(t *testing.T) {
		_, err := NewService(nil, &stubGenerator{})
		assert.Error(t, err)
		_, err = NewService(&stubRetriever{}, nil)
		assert.Error(t, err)
	})
}
