package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCLIProvider_Load(t *testing.T) {
	t.Run("Should map known flags to nested configuration", func(t *testing.T) {
		provider := NewCLIProvider(map[string]any{
			"dir":     "./policies",
			"index":   "handbook",
			"top-k":   5,
			"verbose": true,
		})
		data, err := provider.Load()
		require.NoError(t, err)
		assert.Equal(t, "./policies", data["ingest"].(map[string]any)["dir"])
		assert.Equal(t, "handbook", data["vector_db"].(map[string]any)["index"])
		assert.Equal(t, 5, data["retrieval"].(map[string]any)["top_k"])
		assert.NotContains(t, data, "verbose")
		assert.Equal(t, SourceCLI, provider.Type())
	})
	t.Run("Should report configuration flags", func(t *testing.T) {
		assert.True(t, IsConfigFlag("chunk-size"))
		assert.False(t, IsConfigFlag("yes"))
	})
}

func TestYAMLProvider_Load(t *testing.T) {
	t.Run("Should parse nested YAML and drop null values", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "policychat.yaml")
		content := "ingest:\n  chunk_size: 800\n  pattern: ~\nvector_db:\n  provider: qdrant\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		data, err := NewYAMLProvider(path).Load()
		require.NoError(t, err)
		ingest := data["ingest"].(map[string]any)
		assert.Equal(t, 800, ingest["chunk_size"])
		assert.NotContains(t, ingest, "pattern")
		assert.Equal(t, "qdrant", data["vector_db"].(map[string]any)["provider"])
	})
	t.Run("Should return empty data for a missing file", func(t *testing.T) {
		data, err := NewYAMLProvider(filepath.Join(t.TempDir(), "absent.yaml")).Load()
		require.NoError(t, err)
		assert.Empty(t, data)
	})
	t.Run("Should fail on malformed YAML", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "broken.yaml")
		require.NoError(t, os.WriteFile(path, []byte("ingest: [unclosed"), 0o600))
		_, err := NewYAMLProvider(path).Load()
		assert.ErrorContains(t, err, "failed to parse YAML file")
	})
}

func TestLoadDotEnv(t *testing.T) {
	t.Run("Should load variables without overriding existing ones", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".env")
		require.NoError(t, os.WriteFile(path, []byte("POLICYCHAT_DOTENV_A=from-file\nPOLICYCHAT_DOTENV_B=from-file\n"), 0o600))
		t.Setenv("POLICYCHAT_DOTENV_B", "from-env")
		t.Setenv("POLICYCHAT_DOTENV_A", "")
		require.NoError(t, os.Unsetenv("POLICYCHAT_DOTENV_A"))
		require.NoError(t, LoadDotEnv(path))
		assert.Equal(t, "from-file", os.Getenv("POLICYCHAT_DOTENV_A"))
		assert.Equal(t, "from-env", os.Getenv("POLICYCHAT_DOTENV_B"))
		require.NoError(t, os.Unsetenv("POLICYCHAT_DOTENV_A"))
	})
	t.Run("Should ignore missing files", func(t *testing.T) {
		assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))
	})
}
