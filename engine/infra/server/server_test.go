package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/compozy/policychat/engine/chat"
	"github.com/compozy/policychat/engine/core"
	"github.com/compozy/policychat/engine/knowledge"
	"github.com/compozy/policychat/pkg/config"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRetriever struct {
	sources []knowledge.SourceDocument
	err     error
}

func (s *stubRetriever) Search(context.Context, string) ([]knowledge.SourceDocument, error) {
	return s.sources, s.err
}

type stubGenerator struct {
	calls int
	err   error
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

type stubProbe struct {
	pingErr error
	count   int
}

func (p *stubProbe) Ping(context.Context) error         { return p.pingErr }
func (p *stubProbe) Count(context.Context) (int, error) { return p.count, nil }

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.VectorDB.Provider = "memory"
	cfg.VectorDB.Index = "policy-documents"
	return cfg
}

func handbookSources() []knowledge.SourceDocument {
	return []knowledge.SourceDocument{{
		SourceFile:     "handbook.pdf",
		PageNumber:     knowledge.Page(4),
		ContentSnippet: "Employees receive 25 vacation days per year.",
		RelevanceScore: 0.91,
	}}
}

func newTestServer(t *testing.T, cfg *config.Config, retriever *stubRetriever, gen *stubGenerator) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc, err := chat.NewService(retriever, gen)
	require.NoError(t, err)
	srv, err := NewServer(t.Context(), cfg, Deps{Chat: svc, Index: &stubProbe{count: 3}})
	require.NoError(t, err)
	return srv
}

func postChat(srv *Server, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestChatEndpoint(t *testing.T) {
	t.Run("Should answer with the sources used", func(t *testing.T) {
		gen := &stubGenerator{}
		srv := newTestServer(t, testConfig(), &stubRetriever{sources: handbookSources()}, gen)
		w := postChat(srv, `{"question":"How many vacation days do I get?"}`)
		require.Equal(t, http.StatusOK, w.Code)
		var resp knowledge.ChatResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "answer to How many vacation days do I get?", resp.Answer)
		require.Len(t, resp.Sources, 1)
		assert.Equal(t, "handbook.pdf", resp.Sources[0].SourceFile)
		assert.Equal(t, 4, *resp.Sources[0].PageNumber)
		assert.Contains(t, w.Body.String(), `"relevance_score":0.91`)
	})
	t.Run("Should tag responses with a request id", func(t *testing.T) {
		srv := newTestServer(t, testConfig(), &stubRetriever{sources: handbookSources()}, &stubGenerator{})
		assert.NotEmpty(t, postChat(srv, `{"question":"vacation?"}`).Header().Get("X-Request-ID"))
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"question":"vacation?"}`))
		req.Header.Set("X-Request-ID", "req-42")
		srv.Handler().ServeHTTP(w, req)
		assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
	})
	t.Run("Should reject blank questions with 400", func(t *testing.T) {
		gen := &stubGenerator{}
		srv := newTestServer(t, testConfig(), &stubRetriever{sources: handbookSources()}, gen)
		w := postChat(srv, `{"question":"   "}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "invalid_input", decode(t, w)["code"])
		assert.Zero(t, gen.calls)
	})
	t.Run("Should reject malformed bodies with 400", func(t *testing.T) {
		srv := newTestServer(t, testConfig(), &stubRetriever{}, &stubGenerator{})
		w := postChat(srv, `{"question":`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
	t.Run("Should answer 404 when nothing is retrieved", func(t *testing.T) {
		gen := &stubGenerator{}
		srv := newTestServer(t, testConfig(), &stubRetriever{sources: []knowledge.SourceDocument{}}, gen)
		w := postChat(srv, `{"question":"What is the dress code?"}`)
		assert.Equal(t, http.StatusNotFound, w.Code)
		body := decode(t, w)
		assert.Equal(t, chat.NoSourcesMessage, body["details"])
		assert.Equal(t, "/chat", body["instance"])
		assert.Zero(t, gen.calls)
	})
	t.Run("Should answer 503 when the chat model is unavailable", func(t *testing.T) {
		gen := &stubGenerator{err: fmt.Errorf("%w: upstream timeout", core.ErrServiceUnavailable)}
		srv := newTestServer(t, testConfig(), &stubRetriever{sources: handbookSources()}, gen)
		w := postChat(srv, `{"question":"How many vacation days do I get?"}`)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "Service Unavailable", decode(t, w)["details"])
	})
	t.Run("Should answer 500 for unexpected failures", func(t *testing.T) {
		srv := newTestServer(t, testConfig(), &stubRetriever{err: errors.New("boom")}, &stubGenerator{})
		w := postChat(srv, `{"question":"anything"}`)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "boom")
	})
	t.Run("Should enforce the body size limit", func(t *testing.T) {
		cfg := testConfig()
		cfg.Server.MaxBodySize = 16
		srv := newTestServer(t, cfg, &stubRetriever{sources: handbookSources()}, &stubGenerator{})
		w := postChat(srv, `{"question":"a question that is far too long"}`)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})
	t.Run("Should rate limit the chat route when enabled", func(t *testing.T) {
		cfg := testConfig()
		cfg.RateLimit.Enabled = true
		cfg.RateLimit.ChatRate = config.RateConfig{Limit: 1, Period: time.Minute}
		srv := newTestServer(t, cfg, &stubRetriever{sources: handbookSources()}, &stubGenerator{})
		require.Equal(t, http.StatusOK, postChat(srv, `{"question":"first"}`).Code)
		assert.Equal(t, http.StatusTooManyRequests, postChat(srv, `{"question":"second"}`).Code)
	})
}

func TestHealthEndpoints(t *testing.T) {
	t.Run("Should serve the banner", func(t *testing.T) {
		srv := newTestServer(t, testConfig(), &stubRetriever{}, &stubGenerator{})
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, "policy chatbot api", body["message"])
		assert.Equal(t, "running", body["status"])
	})
	t.Run("Should report index details when healthy", func(t *testing.T) {
		srv := newTestServer(t, testConfig(), &stubRetriever{}, &stubGenerator{})
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))
		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, "Success", body["message"])
		data := body["data"].(map[string]any)
		assert.Equal(t, "healthy", data["status"])
		assert.Equal(t, "policy-documents", data["index"])
		assert.Equal(t, "memory", data["vector_db"])
		assert.EqualValues(t, 3, data["documents"])
	})
	t.Run("Should answer 503 when the vector database is unreachable", func(t *testing.T) {
		gin.SetMode(gin.TestMode)
		svc, err := chat.NewService(&stubRetriever{}, &stubGenerator{})
		require.NoError(t, err)
		srv, err := NewServer(t.Context(), testConfig(), Deps{
			Chat:  svc,
			Index: &stubProbe{pingErr: errors.New("connection refused")},
		})
		require.NoError(t, err)
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "unhealthy", decode(t, w)["data"].(map[string]any)["status"])
	})
	t.Run("Should answer unknown routes with a problem document", func(t *testing.T) {
		srv := newTestServer(t, testConfig(), &stubRetriever{}, &stubGenerator{})
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", http.NoBody))
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	})
}

func TestCORSMiddleware(t *testing.T) {
	t.Run("Should echo the origin with credentials for wildcard configs", func(t *testing.T) {
		srv := newTestServer(t, testConfig(), &stubRetriever{}, &stubGenerator{})
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodOptions, "/chat", http.NoBody)
		req.Header.Set("Origin", "https://intranet.example.com")
		srv.Handler().ServeHTTP(w, req)
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "https://intranet.example.com", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	})
	t.Run("Should not allow unlisted origins", func(t *testing.T) {
		cfg := testConfig()
		cfg.Server.CORS.AllowedOrigins = []string{"https://intranet.example.com"}
		srv := newTestServer(t, cfg, &stubRetriever{}, &stubGenerator{})
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		req.Header.Set("Origin", "https://evil.example.com")
		srv.Handler().ServeHTTP(w, req)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestServer_Run(t *testing.T) {
	t.Run("Should stop gracefully on shutdown", func(t *testing.T) {
		srv := newTestServer(t, testConfig(), &stubRetriever{}, &stubGenerator{})
		done := make(chan error, 1)
		go func() { done <- srv.Run() }()
		srv.Shutdown()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("server did not stop")
		}
	})
	t.Run("Should require a chat service", func(t *testing.T) {
		_, err := NewServer(t.Context(), testConfig(), Deps{})
		assert.ErrorContains(t, err, "chat service is required")
	})
}
