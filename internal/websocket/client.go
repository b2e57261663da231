// Package websocket доставляет поток событий студента в WebSocket соединение.
package websocket

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/yourusername/eduquery-api/internal/domain/entity"
	"github.com/yourusername/eduquery-api/internal/notify"
)

const (
	// Время, которое разрешено писать сообщение клиенту.
	writeWait = 10 * time.Second

	// Время, которое разрешено клиенту молчать до следующего pong.
	pongWait = 30 * time.Second

	// Клиент только слушает, входящие кадры нужны лишь для pong и close
	maxMessageSize = 512
)

// ClientConfig содержит настройки клиента
type ClientConfig struct {
	// PingInterval определяет интервал между ping-сообщениями
	PingInterval time.Duration

	// PongWait определяет время ожидания pong-ответа
	PongWait time.Duration

	// WriteWait определяет тайм-аут для записи сообщений
	WriteWait time.Duration

	// MaxMessageSize определяет максимальный размер входящего сообщения
	MaxMessageSize int64
}

// DefaultClientConfig возвращает конфигурацию клиента по умолчанию
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingInterval:   (pongWait * 9) / 10,
		PongWait:       pongWait,
		WriteWait:      writeWait,
		MaxMessageSize: maxMessageSize,
	}
}

// NewClientConfig дополняет переданные значения значениями по умолчанию
func NewClientConfig(writeWait, pongWait time.Duration, maxMessageSize int64) ClientConfig {
	cfg := DefaultClientConfig()
	if writeWait > 0 {
		cfg.WriteWait = writeWait
	}
	if pongWait > 0 {
		cfg.PongWait = pongWait
		cfg.PingInterval = (pongWait * 9) / 10
	}
	if maxMessageSize > 0 {
		cfg.MaxMessageSize = maxMessageSize
	}
	return cfg
}

// Client - одно WebSocket соединение студента
type Client struct {
	// ID студента
	AskerID string

	// Уникальный ID для каждого соединения
	ConnectionID string

	conn *websocket.Conn
	cfg  ClientConfig
}

// NewClient создает клиента поверх установленного соединения
func NewClient(conn *websocket.Conn, askerID string, cfg ClientConfig) *Client {
	return &Client{
		AskerID:      askerID,
		ConnectionID: uuid.NewString(),
		conn:         conn,
		cfg:          cfg,
	}
}

// Serve пишет события из stream в соединение и блокирует до его завершения.
// Отключение клиента вызывает cancel, что завершает подписку и закрывает stream.
func (c *Client) Serve(cancel context.CancelFunc, stream <-chan entity.StateTransition) {
	defer cancel()
	go c.readPump(cancel)
	c.writePump(stream)
}

// SendError отправляет кадр с ошибкой и закрывает соединение
func (c *Client) SendError(code, message string) {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
	if err := c.conn.WriteJSON(notify.Message{
		Type: notify.MessageTypeError,
		Data: map[string]string{"code": code, "message": message},
	}); err != nil {
		log.Printf("[WSClient] Ошибка отправки ошибки клиенту %s (conn %s): %v", c.AskerID, c.ConnectionID, err)
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, code))
	c.conn.Close()
}

// readPump читает входящие кадры, чтобы обрабатывать pong и close.
// Любая ошибка чтения означает отключение клиента.
func (c *Client) readPump(cancel context.CancelFunc) {
	defer cancel()

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Printf("[WSClient] Ошибка чтения (asker %s, conn %s): %v", c.AskerID, c.ConnectionID, err)
			}
			return
		}
	}
}

func (c *Client) writePump(stream <-chan entity.StateTransition) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		log.Printf("[WSClient] Соединение закрыто (asker %s, conn %s)", c.AskerID, c.ConnectionID)
	}()

	log.Printf("[WSClient] Соединение открыто (asker %s, conn %s)", c.AskerID, c.ConnectionID)

	for {
		select {
		case ev, ok := <-stream:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
				return
			}
			if !ok {
				// Подписка завершена: сервер останавливается или клиент ушел
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(notify.NewTransitionMessage(ev)); err != nil {
				log.Printf("[WSClient] Ошибка записи события seq=%d (asker %s, conn %s): %v", ev.Seq, c.AskerID, c.ConnectionID, err)
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Printf("[WSClient] Ошибка ping (asker %s, conn %s): %v", c.AskerID, c.ConnectionID, err)
				return
			}
		}
	}
}
