package vectordb

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/compozy/policychat/engine/core"
	"github.com/compozy/policychat/engine/knowledge"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniRedisStore(t *testing.T) (*redisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return newRedisStoreWithClient(client, &Config{Index: "Policy Documents", Dimension: 2}), mr
}

func TestRedisStore(t *testing.T) {
	t.Run("Should derive a sanitized vector set key", func(t *testing.T) {
		store, _ := newMiniRedisStore(t)
		assert.Equal(t, "policychat:vectors:policy_documents", store.setKey)
	})
	t.Run("Should delete the vector set on recreate", func(t *testing.T) {
		store, mr := newMiniRedisStore(t)
		require.NoError(t, mr.Set(store.setKey, "stale"))
		require.NoError(t, store.Recreate(t.Context()))
		assert.False(t, mr.Exists(store.setKey))
	})
	t.Run("Should ping the server", func(t *testing.T) {
		store, _ := newMiniRedisStore(t)
		require.NoError(t, store.Ping(t.Context()))
	})
	t.Run("Should report server rejections as per-record failures", func(t *testing.T) {
		store, _ := newMiniRedisStore(t)
		res, err := store.Upsert(t.Context(), []knowledge.DocumentChunk{
			testChunk("chunk_0", 1, 1, 0),
			testChunk("chunk_1", 1, 0, 1),
		})
		require.NoError(t, err)
		assert.Zero(t, res.Succeeded)
		require.Len(t, res.Failed, 2)
		assert.Equal(t, "chunk_0", res.Failed[0].ID)
	})
	t.Run("Should abort when the server is unreachable", func(t *testing.T) {
		store, mr := newMiniRedisStore(t)
		mr.Close()
		_, err := store.Upsert(t.Context(), []knowledge.DocumentChunk{testChunk("chunk_0", 1, 1, 0)})
		require.Error(t, err)
		assert.ErrorIs(t, err, core.ErrServiceUnavailable)
		assert.ErrorIs(t, store.Ping(t.Context()), core.ErrServiceUnavailable)
		_, err = store.Search(t.Context(), []float32{1, 0}, SearchOptions{})
		assert.ErrorIs(t, err, core.ErrServiceUnavailable)
		_, err = store.Count(t.Context())
		assert.ErrorIs(t, err, core.ErrServiceUnavailable)
	})
	t.Run("Should reject mismatched dimensions before sending", func(t *testing.T) {
		store, _ := newMiniRedisStore(t)
		_, err := store.Upsert(t.Context(), []knowledge.DocumentChunk{testChunk("chunk_0", 1, 1, 0, 0)})
		assert.ErrorIs(t, err, core.ErrInvalidInput)
	})
}

func TestBuildRedisAttributes(t *testing.T) {
	t.Run("Should omit absent page numbers", func(t *testing.T) {
		chunk := testChunk("chunk_0", 1, 1, 0)
		chunk.PageNumber = nil
		attrs := buildRedisAttributes(&chunk)
		assert.NotContains(t, attrs, "page_number")
		assert.Equal(t, "chunk_0", attrs["chunk_id"])
	})
}
