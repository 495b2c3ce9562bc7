package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfo(t *testing.T) {
	t.Run("Should render link-time values", func(t *testing.T) {
		info := Info{Version: "v1.2.0", CommitHash: "abc123", BuildDate: "2025-03-01"}
		assert.Equal(t, "v1.2.0 (commit abc123, built 2025-03-01)", info.String())
	})
	t.Run("Should default to a development build", func(t *testing.T) {
		assert.Equal(t, "dev", GetVersion())
		assert.Equal(t, GetVersion(), Get().Version)
	})
}
