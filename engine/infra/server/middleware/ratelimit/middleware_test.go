package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	appconfig "github.com/compozy/policychat/pkg/config"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildRouterForTest(t *testing.T, cfg *Config, client *redis.Client) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	m, err := NewManager(cfg, client)
	require.NoError(t, err)
	r.Use(m.Middleware())
	r.POST("/chat", func(c *gin.Context) { c.String(200, "ok") })
	return r
}

func doReq(r *gin.Engine, ip string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{}`))
	if ip != "" {
		req.Header.Set("X-Real-IP", ip)
	}
	r.ServeHTTP(w, req)
	return w
}

func testConfig(limit int64, period time.Duration) *Config {
	return &Config{
		Rate:     RateConfig{Limit: limit, Period: period},
		Prefix:   "test:ratelimit:",
		MaxRetry: 1,
	}
}

func TestInMemoryRateLimit_BlocksSecondRequest(t *testing.T) {
	r := buildRouterForTest(t, testConfig(1, time.Second), nil)
	res1 := doReq(r, "1.2.3.4")
	require.Equal(t, 200, res1.Code)
	res2 := doReq(r, "1.2.3.4")
	require.Equal(t, 429, res2.Code)
	assert.Equal(t, "application/problem+json", res2.Header().Get("Content-Type"))
	assert.Contains(t, res2.Body.String(), `"code":"rate_limited"`)
}

func TestInMemoryRateLimit_KeysByClientIP(t *testing.T) {
	r := buildRouterForTest(t, testConfig(1, time.Minute), nil)
	require.Equal(t, 200, doReq(r, "10.0.0.1").Code)
	require.Equal(t, 200, doReq(r, "10.0.0.2").Code)
	require.Equal(t, 429, doReq(r, "10.0.0.1").Code)
}

func TestInMemoryRateLimit_RefillAfterPeriod(t *testing.T) {
	r := buildRouterForTest(t, testConfig(1, 100*time.Millisecond), nil)
	require.Equal(t, 200, doReq(r, "5.6.7.8").Code)
	require.Equal(t, 429, doReq(r, "5.6.7.8").Code)
	time.Sleep(120 * time.Millisecond)
	require.Equal(t, 200, doReq(r, "5.6.7.8").Code)
}

func TestInMemoryRateLimit_SetsHeaders(t *testing.T) {
	r := buildRouterForTest(t, testConfig(2, time.Minute), nil)
	res := doReq(r, "9.9.9.9")
	require.Equal(t, 200, res.Code)
	require.Equal(t, "2", res.Header().Get("X-RateLimit-Limit"))
	require.Equal(t, "1", res.Header().Get("X-RateLimit-Remaining"))
	require.NotEmpty(t, res.Header().Get("X-RateLimit-Reset"))
}

func TestRedisRateLimit_SharesCounters(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cfg := testConfig(1, time.Minute)
	first := buildRouterForTest(t, cfg, client)
	second := buildRouterForTest(t, cfg, client)
	require.Equal(t, 200, doReq(first, "7.7.7.7").Code)
	require.Equal(t, 429, doReq(second, "7.7.7.7").Code)
}

func TestNewManager(t *testing.T) {
	t.Run("Should reject non-positive limits", func(t *testing.T) {
		_, err := NewManager(testConfig(0, time.Minute), nil)
		require.ErrorContains(t, err, "must be positive")
	})
	t.Run("Should report the selected driver", func(t *testing.T) {
		m, err := NewManager(nil, nil)
		require.NoError(t, err)
		assert.Equal(t, "memory", m.Driver())
	})
}

func TestFromAppConfig(t *testing.T) {
	t.Run("Should copy chat rate and redis settings", func(t *testing.T) {
		cfg := FromAppConfig(&appconfig.RateLimitConfig{
			Enabled:       true,
			ChatRate:      appconfig.RateConfig{Limit: 5, Period: time.Second},
			RedisAddr:     "localhost:6380",
			RedisPassword: "secret",
		})
		assert.Equal(t, int64(5), cfg.Rate.Limit)
		assert.Equal(t, time.Second, cfg.Rate.Period)
		assert.Equal(t, "localhost:6380", cfg.RedisAddr)
		assert.Equal(t, "secret", cfg.RedisPassword)
		assert.Equal(t, "policychat:ratelimit:", cfg.Prefix)
	})
}
