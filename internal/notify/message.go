package notify

import (
	"time"

	"github.com/yourusername/eduquery-api/internal/domain/entity"
)

// Типы сообщений, отправляемых клиентам
const (
	// MessageTypeTransition - смена состояния вопроса студента
	MessageTypeTransition = "question:transition"

	// MessageTypeError сообщает клиенту о проблеме подписки
	MessageTypeError = "error"
)

// Message - кадр, отправляемый клиенту по WebSocket
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// NewTransitionMessage оборачивает событие в кадр для клиента
func NewTransitionMessage(ev entity.StateTransition) Message {
	return Message{Type: MessageTypeTransition, Data: ev}
}

// ClusterMessage передается между экземплярами сервиса
type ClusterMessage struct {
	// InstanceID отправителя, чтобы не обрабатывать свои же события
	InstanceID string                 `json:"instance_id"`
	Event      entity.StateTransition `json:"event"`
	Timestamp  time.Time              `json:"timestamp"`
}
