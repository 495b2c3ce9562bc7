package router

import (
	"encoding/json"
	"net/http"

	"github.com/compozy/policychat/engine/core"
	"github.com/compozy/policychat/pkg/logger"
	"github.com/gin-gonic/gin"
)

const (
	HeaderRequestID    = "X-Request-ID"
	problemContentType = "application/problem+json"
)

var fallbackProblem = []byte(`{"status":500,"error":"Internal Server Error"}`)

// RespondProblem writes problem as an RFC 7807 document and aborts the chain.
// The instance defaults to the request path.
func RespondProblem(c *gin.Context, problem *core.Problem) {
	prepared := core.NormalizeProblem(problem)
	if prepared.Instance == "" {
		prepared.Instance = c.Request.URL.Path
	}
	logProblem(c, prepared)
	payload, err := json.Marshal(core.BuildProblemBody(prepared))
	if err != nil {
		logger.FromContext(c.Request.Context()).Error("Failed to encode problem", "error", err)
		c.Data(http.StatusInternalServerError, problemContentType, fallbackProblem)
		c.Abort()
		return
	}
	c.Data(prepared.Status, problemContentType, payload)
	c.Abort()
}

// RespondProblemWithCode is RespondProblem for failures raised by the HTTP layer.
func RespondProblemWithCode(c *gin.Context, status int, code string, detail string) {
	RespondProblem(c, &core.Problem{
		Status: status,
		Title:  http.StatusText(status),
		Detail: detail,
		Extras: map[string]any{"code": code},
	})
}

func logProblem(c *gin.Context, problem *core.Problem) {
	route := c.FullPath()
	if route == "" {
		route = c.Request.URL.Path
	}
	fields := []any{
		"status", problem.Status,
		"code", problem.Extras["code"],
		"detail", problem.Detail,
		"route", route,
	}
	log := logger.FromContext(c.Request.Context())
	if problem.Status >= http.StatusInternalServerError {
		log.Error("Request failed", fields...)
		return
	}
	log.Warn("Request failed", fields...)
}
