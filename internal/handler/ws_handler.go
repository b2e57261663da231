package handler

import (
	"context"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"

	"github.com/yourusername/eduquery-api/internal/domain/entity"
	"github.com/yourusername/eduquery-api/internal/middleware"
	"github.com/yourusername/eduquery-api/internal/websocket"
)

// EventSubscriber открывает поток событий студента после курсора
type EventSubscriber interface {
	Subscribe(ctx context.Context, askerID string, cursor uint64) (<-chan entity.StateTransition, error)
}

// WSHandler обрабатывает WebSocket соединения
type WSHandler struct {
	subscriber EventSubscriber
	clientCfg  websocket.ClientConfig
	upgrader   gorillaws.Upgrader
}

// NewWSHandler создает новый обработчик WebSocket.
// Пустой allowedOrigins пропускает любой Origin.
func NewWSHandler(subscriber EventSubscriber, clientCfg websocket.ClientConfig, allowedOrigins []string) *WSHandler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}
	return &WSHandler{
		subscriber: subscriber,
		clientCfg:  clientCfg,
		upgrader: gorillaws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				// Пустой Origin - не браузерный клиент
				if origin == "" || len(allowed) == 0 || allowed[origin] {
					return true
				}
				log.Printf("[WSHandler] Отклонен неразрешенный origin: %s", origin)
				return false
			},
		},
	}
}

// HandleConnection подписывает студента на его события
// GET /ws?cursor=N&token=...
func (h *WSHandler) HandleConnection(c *gin.Context) {
	cursor, err := strconv.ParseUint(c.DefaultQuery("cursor", "0"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid cursor", "error_type": "invalid_cursor"})
		return
	}
	askerID := middleware.UserID(c)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade уже ответил клиенту ошибкой
		log.Printf("[WSHandler] Ошибка upgrade для %s: %v", askerID, err)
		return
	}
	client := websocket.NewClient(conn, askerID, h.clientCfg)

	ctx, cancel := context.WithCancel(c.Request.Context())
	stream, err := h.subscriber.Subscribe(ctx, askerID, cursor)
	if err != nil {
		cancel()
		log.Printf("[WSHandler] Ошибка подписки %s: %v", askerID, err)
		client.SendError("subscribe_error", "Failed to subscribe to question events")
		return
	}

	client.Serve(cancel, stream)
}
