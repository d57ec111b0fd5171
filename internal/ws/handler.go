package ws

import (
	"net/http"

	"reward_platform/internal/logger"
	"reward_platform/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// TokenParser проверяет JWT из query ?token=
type TokenParser interface {
	Parse(token string) (*service.Claims, error)
}

type Handler struct {
	hub      *Hub
	tokens   TokenParser
	upgrader websocket.Upgrader
}

// NewHandler: пустой allowedOrigin разрешает любой Origin
func NewHandler(hub *Hub, tokens TokenParser, allowedOrigin string) *Handler {
	return &Handler{
		hub:    hub,
		tokens: tokens,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return allowedOrigin == "" || r.Header.Get("Origin") == allowedOrigin
			},
		},
	}
}

func (h *Handler) Serve(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "token is required"})
		return
	}
	claims, err := h.tokens.Parse(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "invalid token"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("ws upgrade failed", "user_id", claims.UserID, "error", err)
		return
	}
	go newClient(claims.UserID, conn, h.hub).run()
}
