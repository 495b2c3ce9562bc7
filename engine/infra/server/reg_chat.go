package server

import (
	"context"
	"net/http"
	"time"

	"github.com/compozy/policychat/engine/chat"
	"github.com/compozy/policychat/engine/core"
	"github.com/compozy/policychat/engine/infra/server/router"
	"github.com/compozy/policychat/engine/knowledge"
	"github.com/gin-gonic/gin"
)

// Chat endpoint
//
//	@Summary      Answer a policy question
//	@Description  Retrieves grounding passages and returns a cited answer
//	@Tags         chat
//	@Accept       json
//	@Produce      json
//	@Param        request body knowledge.ChatRequest true "Question"
//	@Success      200 {object} knowledge.ChatResponse
//	@Failure      400 {object} core.ProblemDocument "Blank question or malformed body"
//	@Failure      404 {object} core.ProblemDocument "No relevant documents"
//	@Failure      503 {object} core.ProblemDocument "Embedding, index or chat service unavailable"
//	@Router       /chat [post]
func chatHandler(svc ChatService, timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req knowledge.ChatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			router.RespondBindError(c, err)
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		resp, err := svc.Chat(ctx, &req)
		if err != nil {
			router.RespondError(c, err, problemDetail(err))
			return
		}
		if resp.Sources == nil {
			resp.Sources = []knowledge.SourceDocument{}
		}
		c.JSON(http.StatusOK, resp)
	}
}

func problemDetail(err error) string {
	if core.KindOf(err) == core.KindNotFound {
		return chat.NoSourcesMessage
	}
	return ""
}
