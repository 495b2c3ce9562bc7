package server

import (
	"context"
	"net/http"

	"github.com/compozy/policychat/pkg/logger"
	"github.com/gin-gonic/gin"
)

// Root endpoint
//
//	@Summary      Service banner
//	@Tags         health
//	@Produce      json
//	@Success      200 {object} map[string]interface{}
//	@Router       / [get]
func rootHandler(version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "policy chatbot api",
			"status":  "running",
			"version": version,
		})
	}
}

// Health endpoint
//
//	@Summary      Get server health
//	@Description  Reports the configured index and whether the vector database answers
//	@Tags         health
//	@Produce      json
//	@Success      200 {object} map[string]interface{} "Service is healthy"
//	@Failure      503 {object} map[string]interface{} "Vector database unreachable"
//	@Router       /health [get]
func healthHandler(probe IndexProbe, index string, provider string) gin.HandlerFunc {
	return func(c *gin.Context) {
		data := gin.H{
			"status":    "healthy",
			"index":     index,
			"vector_db": provider,
		}
		statusCode := http.StatusOK
		if probe != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
			defer cancel()
			if err := probe.Ping(ctx); err != nil {
				logger.FromContext(ctx).Warn("Vector database health check failed", "error", err)
				data["status"] = "unhealthy"
				statusCode = http.StatusServiceUnavailable
			} else if count, err := probe.Count(ctx); err == nil {
				data["documents"] = count
			}
		}
		c.JSON(statusCode, gin.H{
			"data":    data,
			"message": "Success",
		})
	}
}
