package monitoring

import (
	"testing"

	appconfig "github.com/compozy/policychat/pkg/config"
	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	t.Run("Should return config with default values", func(t *testing.T) {
		cfg := DefaultConfig()
		assert.False(t, cfg.Enabled)
		assert.Equal(t, "/metrics", cfg.Path)
	})
}

func TestFromAppConfig(t *testing.T) {
	t.Run("Should copy the monitoring section", func(t *testing.T) {
		app := appconfig.Default()
		app.Monitoring.Enabled = true
		app.Monitoring.Path = "/internal/metrics"
		cfg := FromAppConfig(app)
		assert.True(t, cfg.Enabled)
		assert.Equal(t, "/internal/metrics", cfg.Path)
	})
	t.Run("Should fall back to defaults", func(t *testing.T) {
		assert.Equal(t, DefaultConfig(), FromAppConfig(nil))
	})
}

func TestConfig_Validate(t *testing.T) {
	t.Run("Should accept a custom path", func(t *testing.T) {
		assert.NoError(t, (&Config{Enabled: true, Path: "/ops/metrics"}).Validate())
	})
	t.Run("Should reject invalid paths", func(t *testing.T) {
		cases := map[string]string{
			"":                   "cannot be empty",
			"metrics":            "must start with '/'",
			"/chat":              "conflicts with an API route",
			"/metrics?format=pb": "query parameters",
		}
		for path, msg := range cases {
			err := (&Config{Enabled: true, Path: path}).Validate()
			assert.ErrorContains(t, err, msg, "path %q", path)
		}
	})
}
