package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSource struct {
	data       map[string]any
	sourceType SourceType
	err        error
}

func (m *mockSource) Load() (map[string]any, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.data, nil
}

func (m *mockSource) Type() SourceType { return m.sourceType }
func (m *mockSource) Close() error     { return nil }

func offlineSource() *mockSource {
	return &mockSource{
		sourceType: SourceYAML,
		data: map[string]any{
			"embedder":  map[string]any{"provider": "mock", "dimension": 8},
			"chat":      map[string]any{"provider": "mock"},
			"vector_db": map[string]any{"provider": "memory"},
		},
	}
}

func TestLoader_Load(t *testing.T) {
	t.Run("Should apply defaults beneath offline providers", func(t *testing.T) {
		cfg, err := NewService().Load(t.Context(), offlineSource())
		require.NoError(t, err)
		assert.Equal(t, 8001, cfg.Server.Port)
		assert.Equal(t, 1000, cfg.Ingest.ChunkSize)
		assert.Equal(t, 200, cfg.Ingest.ChunkOverlap)
		assert.Equal(t, 100, cfg.Ingest.UploadBatchSize)
		assert.Equal(t, 3, cfg.Retrieval.TopK)
		assert.Equal(t, 0.0, cfg.Chat.Temperature)
		assert.Equal(t, 8, cfg.Embedder.Dimension)
		assert.Equal(t, "policy-documents", cfg.VectorDB.Index)
		assert.Equal(t, []string{"*"}, cfg.Server.CORS.AllowedOrigins)
	})
	t.Run("Should reject defaults that lack a pgvector dsn", func(t *testing.T) {
		_, err := NewService().Load(t.Context())
		require.Error(t, err)
		assert.ErrorContains(t, err, "vector_db dsn is required for pgvector")
	})
	t.Run("Should let CLI flags override the environment and YAML", func(t *testing.T) {
		t.Setenv("RETRIEVAL_TOP_K", "4")
		t.Setenv("VECTOR_DB_INDEX", "env-index")
		cli := &mockSource{
			sourceType: SourceCLI,
			data:       map[string]any{"retrieval": map[string]any{"top_k": 5}},
		}
		svc := NewService()
		cfg, err := svc.Load(t.Context(), cli, offlineSource())
		require.NoError(t, err)
		assert.Equal(t, 5, cfg.Retrieval.TopK)
		assert.Equal(t, "env-index", cfg.VectorDB.Index)
		assert.Equal(t, SourceCLI, svc.GetSource("retrieval.top_k"))
		assert.Equal(t, SourceEnv, svc.GetSource("vector_db.index"))
		assert.Equal(t, SourceYAML, svc.GetSource("embedder.provider"))
		assert.Equal(t, SourceDefault, svc.GetSource("server.host"))
	})
	t.Run("Should decode durations and secrets from the environment", func(t *testing.T) {
		t.Setenv("CHAT_TIMEOUT", "15s")
		t.Setenv("EMBEDDER_API_KEY", "sk-test")
		t.Setenv("POLICYCHAT_INGEST_WATCH_DEBOUNCE", "750ms")
		cfg, err := NewService().Load(t.Context(), offlineSource())
		require.NoError(t, err)
		assert.Equal(t, 15*time.Second, cfg.Chat.Timeout)
		assert.Equal(t, 750*time.Millisecond, cfg.Ingest.WatchDebounce)
		assert.Equal(t, "sk-test", cfg.Embedder.APIKey.Value())
		assert.Equal(t, "sk-test", cfg.Chat.APIKey.Value(), "chat inherits the embedder credentials")
	})
	t.Run("Should reject overlap not smaller than chunk size", func(t *testing.T) {
		src := offlineSource()
		src.data["ingest"] = map[string]any{"chunk_size": 200, "chunk_overlap": 200}
		_, err := NewService().Load(t.Context(), src)
		require.Error(t, err)
		assert.ErrorContains(t, err, "chunk_overlap")
	})
	t.Run("Should reject invalid index names", func(t *testing.T) {
		src := offlineSource()
		src.data["vector_db"] = map[string]any{"provider": "memory", "index": "Bad Index!"}
		_, err := NewService().Load(t.Context(), src)
		require.Error(t, err)
		assert.ErrorContains(t, err, "index_name")
	})
	t.Run("Should require credentials for remote providers", func(t *testing.T) {
		src := offlineSource()
		src.data["embedder"] = map[string]any{"provider": "openai"}
		_, err := NewService().Load(t.Context(), src)
		require.Error(t, err)
		assert.ErrorContains(t, err, "embedder api_key is required")
	})
	t.Run("Should surface source errors", func(t *testing.T) {
		src := &mockSource{sourceType: SourceYAML, err: errors.New("disk on fire")}
		_, err := NewService().Load(t.Context(), src)
		require.Error(t, err)
		assert.ErrorContains(t, err, "failed to load from source yaml")
	})
	t.Run("Should skip nil sources", func(t *testing.T) {
		cfg, err := NewService().Load(t.Context(), nil, offlineSource(), nil)
		require.NoError(t, err)
		assert.Equal(t, "memory", cfg.VectorDB.Provider)
	})
}

func TestTransformEnvKey(t *testing.T) {
	t.Run("Should map prefixed variables to config paths", func(t *testing.T) {
		assert.Equal(t, "ingest.chunk_size", transformEnvKey("POLICYCHAT_INGEST_CHUNK_SIZE"))
		assert.Equal(t, "vector_db.metric", transformEnvKey("POLICYCHAT_VECTOR_DB_METRIC"))
		assert.Equal(t, "server.port", transformEnvKey("POLICYCHAT_SERVER_PORT"))
	})
	t.Run("Should ignore foreign and incomplete variables", func(t *testing.T) {
		assert.Empty(t, transformEnvKey("PATH"))
		assert.Empty(t, transformEnvKey("POLICYCHAT_SERVER"))
		assert.Empty(t, transformEnvKey("POLICYCHAT_VECTOR_DB"))
	})
}

func TestEnvMappings(t *testing.T) {
	t.Run("Should derive mappings from env tags", func(t *testing.T) {
		mappings := GenerateEnvToConfigMap()
		assert.Equal(t, "server.port", mappings["SERVER_PORT"])
		assert.Equal(t, "vector_db.pgvector.ef_construction", mappings["VECTOR_DB_PGVECTOR_EF_CONSTRUCTION"])
		assert.Equal(t, "ratelimit.chat_rate.limit", mappings["RATELIMIT_CHAT_LIMIT"])
	})
	t.Run("Should flag secrets as sensitive", func(t *testing.T) {
		assert.True(t, IsSensitiveConfigPath("embedder.api_key"))
		assert.True(t, IsSensitiveConfigPath("vector_db.redis.password"))
		assert.False(t, IsSensitiveConfigPath("vector_db.index"))
	})
}
