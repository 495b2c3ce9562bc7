package serve

import (
	"context"
	"testing"

	"github.com/compozy/policychat/engine/core"
	"github.com/compozy/policychat/engine/knowledge"
	"github.com/compozy/policychat/engine/knowledge/vectordb"
	"github.com/compozy/policychat/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func offlineConfig() *config.Config {
	cfg := config.Default()
	cfg.Embedder.Provider = "mock"
	cfg.Embedder.Dimension = 32
	cfg.Embedder.CacheSize = 0
	cfg.Chat.Provider = "mock"
	cfg.VectorDB.Provider = "memory"
	return cfg
}

func TestNewChatService(t *testing.T) {
	t.Run("Should answer from indexed chunks with offline providers", func(t *testing.T) {
		cfg := offlineConfig()
		store, err := vectordb.New(t.Context(), vectordb.ConfigFromApp(cfg))
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close(context.Background()) })
		svc, client, err := NewChatService(cfg, store)
		require.NoError(t, err)
		t.Cleanup(func() { _ = client.Close() })

		_, err = svc.Chat(t.Context(), &knowledge.ChatRequest{Question: "How many vacation days?"})
		require.Error(t, err)
		assert.Equal(t, core.KindNotFound, core.KindOf(err))
	})
	t.Run("Should reject unknown chat providers", func(t *testing.T) {
		cfg := offlineConfig()
		cfg.Chat.Provider = "bogus"
		store, err := vectordb.New(t.Context(), vectordb.ConfigFromApp(cfg))
		require.NoError(t, err)
		_, _, err = NewChatService(cfg, store)
		assert.ErrorContains(t, err, "unsupported chat provider")
	})
}
