package server

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/compozy/policychat/engine/infra/server/router"
	"github.com/compozy/policychat/pkg/config"
	"github.com/compozy/policychat/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const wildcardOrigin = "*"

// LoggerMiddleware tags each request with an id, attaches a request-scoped
// logger to its context and logs completion. A client supplied X-Request-ID is kept.
func LoggerMiddleware(ctx context.Context) gin.HandlerFunc {
	base := logger.FromContext(ctx)
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery
		requestID := c.GetHeader(router.HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(router.HeaderRequestID, requestID)
		log := base.With("request_id", requestID)
		c.Request = c.Request.WithContext(logger.ContextWithLogger(c.Request.Context(), log))
		c.Next()
		if raw != "" {
			path = path + "?" + raw
		}
		fields := []any{
			"method", c.Request.Method,
			"path", path,
			"status_code", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
			"body_size", c.Writer.Size(),
		}
		if msg := c.Errors.ByType(gin.ErrorTypePrivate).String(); msg != "" {
			fields = append(fields, "error", msg)
		}
		log.Info("Request completed", fields...)
	}
}

// CORSMiddleware enables CORS support with configurable origins.
// A "*" entry allows every origin; with credentials the request origin is echoed back.
func CORSMiddleware(corsConfig config.CORSConfig) gin.HandlerFunc {
	allowAll := slices.Contains(corsConfig.AllowedOrigins, wildcardOrigin)
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		isAllowed := origin != "" && (allowAll || slices.Contains(corsConfig.AllowedOrigins, origin))
		if isAllowed {
			allowOrigin := origin
			if allowAll && !corsConfig.AllowCredentials {
				allowOrigin = wildcardOrigin
			}
			c.Writer.Header().Set("Access-Control-Allow-Origin", allowOrigin)
			c.Writer.Header().Add("Vary", "Origin")
			if corsConfig.AllowCredentials {
				c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			}
		}
		c.Writer.Header().Set(
			"Access-Control-Allow-Headers",
			"Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, "+
				"Authorization, accept, origin, Cache-Control, X-Requested-With",
		)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
		if corsConfig.MaxAge > 0 {
			c.Writer.Header().Set("Access-Control-Max-Age", fmt.Sprintf("%d", corsConfig.MaxAge))
		}
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
