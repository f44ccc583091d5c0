package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/assistant-relay/backend/internal/ws"
)

// WebSocketHandler handles the assistant WebSocket endpoint.
type WebSocketHandler struct {
	wsHandler *ws.Handler
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(wsHandler *ws.Handler) *WebSocketHandler {
	return &WebSocketHandler{
		wsHandler: wsHandler,
	}
}

// Connect handles WS /api/assistants/ws. The token, thread and assistant are
// checked by the session after the upgrade, so failures reach the client as
// a policy-violation close rather than an HTTP error.
func (h *WebSocketHandler) Connect(c *gin.Context) {
	threadID := c.Query("thread_id")
	if threadID == "" {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "thread_id is required")
		return
	}

	params := ws.ConnectParams{
		Token:       bearerToken(c),
		ThreadID:    threadID,
		AssistantID: c.Query("assistant_id"),
	}

	if err := h.wsHandler.HandleConnection(c.Writer, c.Request, params); err != nil {
		// The upgrader has already written the HTTP error.
		return
	}
}

// bearerToken returns the token query parameter, falling back to an
// Authorization: Bearer header.
func bearerToken(c *gin.Context) string {
	if token := c.Query("token"); token != "" {
		return token
	}
	header := c.GetHeader("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// RegisterRoutes registers the WebSocket handler routes on a Gin router group.
func (h *WebSocketHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/assistants/ws", h.Connect)
}
