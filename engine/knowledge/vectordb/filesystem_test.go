package vectordb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/compozy/policychat/engine/core"
	"github.com/compozy/policychat/engine/knowledge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore(t *testing.T) {
	t.Run("Should persist chunks across reopen", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "index", "policy.json")
		cfg := &Config{Index: "policy", Path: path, Dimension: 2}
		store, err := newFileStore(cfg)
		require.NoError(t, err)
		require.NoError(t, store.Recreate(t.Context()))
		noPage := testChunk("chunk_1", 0, 0, 1)
		noPage.PageNumber = nil
		res, err := store.Upsert(t.Context(), []knowledge.DocumentChunk{testChunk("chunk_0", 3, 1, 0), noPage})
		require.NoError(t, err)
		assert.Equal(t, 2, res.Succeeded)

		reopened, err := newFileStore(cfg)
		require.NoError(t, err)
		count, err := reopened.Count(t.Context())
		require.NoError(t, err)
		assert.Equal(t, 2, count)
		matches, err := reopened.Search(t.Context(), []float32{0, 1}, SearchOptions{TopK: 1})
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "chunk_1", matches[0].Chunk.ID)
		assert.Nil(t, matches[0].Chunk.PageNumber)
		require.NoError(t, reopened.Ping(t.Context()))
	})
	t.Run("Should refuse a snapshot written with another dimension", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "policy.json")
		store, err := newFileStore(&Config{Index: "policy", Path: path, Dimension: 2})
		require.NoError(t, err)
		_, err = store.Upsert(t.Context(), []knowledge.DocumentChunk{testChunk("chunk_0", 1, 1, 0)})
		require.NoError(t, err)
		_, err = newFileStore(&Config{Index: "policy", Path: path, Dimension: 3})
		assert.ErrorIs(t, err, core.ErrIndexState)
	})
	t.Run("Should empty the snapshot on recreate", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "policy.json")
		store, err := newFileStore(&Config{Index: "policy", Path: path, Dimension: 2})
		require.NoError(t, err)
		_, err = store.Upsert(t.Context(), []knowledge.DocumentChunk{testChunk("chunk_0", 1, 1, 0)})
		require.NoError(t, err)
		require.NoError(t, store.Recreate(t.Context()))
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"records":[]`)
	})
}
