package size

import (
	"fmt"
	"net/http"

	"github.com/compozy/policychat/engine/infra/server/router"
	"github.com/gin-gonic/gin"
)

// BodySizeLimiter caps request bodies at limit bytes. Requests that declare a
// larger Content-Length are rejected before the handler runs; chunked bodies
// fail on read and surface through the handler's bind error.
func BodySizeLimiter(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit <= 0 {
			c.Next()
			return
		}
		if c.Request.ContentLength > limit {
			router.RespondProblemWithCode(c, http.StatusRequestEntityTooLarge, router.ErrPayloadTooLargeCode,
				fmt.Sprintf("request body exceeds %d bytes", limit))
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}
