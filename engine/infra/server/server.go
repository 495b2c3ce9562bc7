package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/compozy/policychat/engine/infra/monitoring"
	"github.com/compozy/policychat/engine/knowledge"
	"github.com/compozy/policychat/pkg/config"
	"github.com/compozy/policychat/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const (
	serverShutdownTimeout = 5 * time.Second
	redisPingTimeout      = 2 * time.Second
	healthCheckTimeout    = 3 * time.Second
	httpReadTimeout       = 15 * time.Second
	httpIdleTimeout       = 60 * time.Second
	defaultRequestTimeout = 60 * time.Second
	hostAny               = "0.0.0.0"
	hostLoopback          = "127.0.0.1"
)

// ChatService answers a single question.
type ChatService interface {
	Chat(ctx context.Context, req *knowledge.ChatRequest) (*knowledge.ChatResponse, error)
}

// IndexProbe reports vector index reachability for the health endpoint.
type IndexProbe interface {
	Ping(ctx context.Context) error
	Count(ctx context.Context) (int, error)
}

// Deps carries the collaborators the HTTP layer serves.
type Deps struct {
	Chat       ChatService
	Index      IndexProbe
	Monitoring *monitoring.Service
	// RedisClient backs the chat rate limiter; nil selects an in-memory store
	// unless ratelimit.redis_addr is configured.
	RedisClient *redis.Client
}

type Server struct {
	config      *config.Config
	deps        Deps
	router      *gin.Engine
	ctx         context.Context
	cancel      context.CancelFunc
	httpServer  *http.Server
	redisClient *redis.Client
	ownsRedis   bool
}

func NewServer(ctx context.Context, cfg *config.Config, deps Deps) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server: configuration is required")
	}
	if deps.Chat == nil {
		return nil, errors.New("server: chat service is required")
	}
	serverCtx, cancel := context.WithCancel(ctx)
	s := &Server{
		config:      cfg,
		deps:        deps,
		ctx:         serverCtx,
		cancel:      cancel,
		redisClient: deps.RedisClient,
	}
	if err := s.buildRouter(); err != nil {
		s.cleanup()
		cancel()
		return nil, fmt.Errorf("failed to build router: %w", err)
	}
	return s, nil
}

// Handler exposes the configured router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves HTTP until the parent context ends or SIGINT/SIGTERM arrives, then drains in-flight requests.
func (s *Server) Run() error {
	defer s.cleanup()
	ctx, stop := signal.NotifyContext(s.ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	s.httpServer = s.createHTTPServer()
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	s.logStartupBanner()
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	return s.shutdown()
}

// Shutdown stops a running server.
func (s *Server) Shutdown() {
	s.cancel()
}

func (s *Server) shutdown() error {
	log := logger.FromContext(s.ctx)
	log.Debug("Received shutdown signal, initiating graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), serverShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	if s.deps.Monitoring != nil {
		if err := s.deps.Monitoring.Shutdown(shutdownCtx); err != nil {
			log.Warn("Failed to stop monitoring", "error", err)
		}
	}
	log.Info("Server shutdown completed successfully")
	return nil
}

func (s *Server) cleanup() {
	if s.ownsRedis && s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			logger.FromContext(s.ctx).Warn("Failed to close rate limit redis client", "error", err)
		}
		s.redisClient = nil
	}
}

func (s *Server) createHTTPServer() *http.Server {
	addr := net.JoinHostPort(s.config.Server.Host, strconv.Itoa(s.config.Server.Port))
	return &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: httpReadTimeout,
		ReadTimeout:       httpReadTimeout,
		WriteTimeout:      s.requestTimeout() + serverShutdownTimeout,
		IdleTimeout:       httpIdleTimeout,
	}
}

func (s *Server) requestTimeout() time.Duration {
	if s.config.Server.Timeout > 0 {
		return s.config.Server.Timeout
	}
	return defaultRequestTimeout
}

// rateLimitRedis returns the client shared with the limiter store, dialing one when configured.
func (s *Server) rateLimitRedis() (*redis.Client, error) {
	if s.redisClient != nil {
		return s.redisClient, nil
	}
	rl := s.config.RateLimit
	if rl.RedisAddr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     rl.RedisAddr,
		Password: rl.RedisPassword.Value(),
		DB:       rl.RedisDB,
	})
	ctx, cancel := context.WithTimeout(s.ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to reach rate limit redis at %s: %w", rl.RedisAddr, err)
	}
	s.redisClient = client
	s.ownsRedis = true
	return client, nil
}
