package size

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chunkedReader struct{ r io.Reader }

func (c chunkedReader) Read(p []byte) (int, error) { return c.r.Read(p) }

func newRouter(limit int64) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(BodySizeLimiter(limit))
	r.POST("/chat", func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			c.Status(http.StatusTeapot)
			return
		}
		c.Status(http.StatusOK)
	})
	return r
}

func TestBodySizeLimiter(t *testing.T) {
	t.Run("Should pass bodies within the limit", func(t *testing.T) {
		w := httptest.NewRecorder()
		newRouter(8).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader("small")))
		assert.Equal(t, http.StatusOK, w.Code)
	})
	t.Run("Should reject a declared oversized body with a problem document", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader("way past eight bytes"))
		newRouter(8).ServeHTTP(w, req)
		require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "payload_too_large", body["code"])
		assert.Equal(t, "request body exceeds 8 bytes", body["details"])
	})
	t.Run("Should fail reads of undeclared bodies beyond the limit", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/chat", chunkedReader{strings.NewReader("way past eight bytes")})
		req.ContentLength = -1
		newRouter(8).ServeHTTP(w, req)
		assert.Equal(t, http.StatusTeapot, w.Code)
	})
	t.Run("Should not limit when disabled", func(t *testing.T) {
		w := httptest.NewRecorder()
		newRouter(0).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader("way past eight bytes")))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}
