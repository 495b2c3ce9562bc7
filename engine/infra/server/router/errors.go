package router

import (
	"errors"
	"net/http"

	"github.com/compozy/policychat/engine/core"
	"github.com/compozy/policychat/pkg/logger"
	"github.com/gin-gonic/gin"
)

// Error codes for failures raised by the HTTP layer itself.
const (
	ErrBadRequestCode      = "bad_request"
	ErrPayloadTooLargeCode = "payload_too_large"
	ErrRateLimitedCode     = "rate_limited"
	ErrNotFoundCode        = "route_not_found"
)

// RespondError maps a pipeline error onto its problem response.
// detail overrides the message shown to clients; internal failures never expose err.
func RespondError(c *gin.Context, err error, detail string) {
	problem := core.ProblemFromError(err, detail)
	if err != nil && problem.Status >= http.StatusInternalServerError {
		logger.FromContext(c.Request.Context()).Error("Request pipeline failed", "cause", core.RedactError(err))
	}
	RespondProblem(c, problem)
}

// RespondBindError reports a request body that could not be decoded.
func RespondBindError(c *gin.Context, err error) {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		RespondProblemWithCode(c, http.StatusRequestEntityTooLarge, ErrPayloadTooLargeCode,
			"request body exceeds the configured limit")
		return
	}
	RespondProblemWithCode(c, http.StatusBadRequest, string(core.KindInvalidInput), "invalid request body")
}

// NoRoute answers unknown paths with a problem document.
func NoRoute() gin.HandlerFunc {
	return func(c *gin.Context) {
		RespondProblemWithCode(c, http.StatusNotFound, ErrNotFoundCode, "route not found")
	}
}
