package server

import (
	"fmt"
	"strings"

	"github.com/compozy/policychat/engine/infra/server/middleware/ratelimit"
	"github.com/compozy/policychat/engine/infra/server/middleware/size"
	"github.com/compozy/policychat/engine/infra/server/router"
	"github.com/compozy/policychat/pkg/logger"
	"github.com/compozy/policychat/pkg/version"
	"github.com/gin-gonic/gin"
)

const (
	routeRoot   = "/"
	routeHealth = "/health"
	routeChat   = "/chat"
)

func (s *Server) buildRouter() error {
	r := gin.New()
	r.Use(gin.Recovery())
	monitored := s.deps.Monitoring != nil && s.deps.Monitoring.IsInitialized()
	if monitored {
		r.Use(s.deps.Monitoring.GinMiddleware(s.ctx))
	}
	r.Use(LoggerMiddleware(s.ctx))
	if s.config.Server.CORSEnabled {
		r.Use(CORSMiddleware(s.config.Server.CORS))
	}
	r.NoRoute(router.NoRoute())
	if monitored {
		r.GET(s.deps.Monitoring.Path(), gin.WrapH(s.deps.Monitoring.ExporterHandler()))
	}
	r.GET(routeRoot, rootHandler(version.GetVersion()))
	r.GET(routeHealth, healthHandler(s.deps.Index, s.config.VectorDB.Index, s.config.VectorDB.Provider))
	chatHandlers, err := s.chatMiddleware()
	if err != nil {
		return err
	}
	chatHandlers = append(chatHandlers, chatHandler(s.deps.Chat, s.requestTimeout()))
	r.POST(routeChat, chatHandlers...)
	s.router = r
	return nil
}

func (s *Server) chatMiddleware() ([]gin.HandlerFunc, error) {
	var handlers []gin.HandlerFunc
	if limit := s.config.Server.MaxBodySize; limit > 0 {
		handlers = append(handlers, size.BodySizeLimiter(limit))
	}
	if !s.config.RateLimit.Enabled {
		return handlers, nil
	}
	log := logger.FromContext(s.ctx)
	redisClient, err := s.rateLimitRedis()
	if err != nil {
		return nil, err
	}
	rateLimitConfig := ratelimit.FromAppConfig(&s.config.RateLimit)
	var manager *ratelimit.Manager
	if s.deps.Monitoring != nil && s.deps.Monitoring.IsInitialized() {
		manager, err = ratelimit.NewManagerWithMetrics(s.ctx, rateLimitConfig, redisClient, s.deps.Monitoring.Meter())
	} else {
		manager, err = ratelimit.NewManager(rateLimitConfig, redisClient)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize rate limiting: %w", err)
	}
	log.Info("Rate limiter initialized",
		"driver", manager.Driver(),
		"limit", rateLimitConfig.Rate.Limit,
		"period", rateLimitConfig.Rate.Period)
	return append([]gin.HandlerFunc{manager.Middleware()}, handlers...), nil
}

func (s *Server) logStartupBanner() {
	log := logger.FromContext(s.ctx)
	httpURL := fmt.Sprintf("http://%s:%d", friendlyHost(s.config.Server.Host), s.config.Server.Port)
	lines := []string{
		fmt.Sprintf("Policy chatbot %s", version.GetVersion()),
		fmt.Sprintf("  Chat    > POST %s%s", httpURL, routeChat),
		fmt.Sprintf("  Health  > %s%s", httpURL, routeHealth),
		fmt.Sprintf("  Index   > %s (%s)", s.config.VectorDB.Index, s.config.VectorDB.Provider),
	}
	if s.deps.Monitoring != nil && s.deps.Monitoring.IsInitialized() {
		lines = append(lines, fmt.Sprintf("  Metrics > %s%s", httpURL, s.deps.Monitoring.Path()))
	}
	log.Info("\n" + strings.Join(lines, "\n"))
}

func friendlyHost(h string) string {
	if h == hostAny || h == "::" || h == "" {
		return hostLoopback
	}
	return h
}
