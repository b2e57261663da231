package service

import (
	"fmt"
	"time"

	"github.com/yourusername/eduquery-api/internal/domain/entity"
	apperrors "github.com/yourusername/eduquery-api/internal/pkg/errors"
)

// DefaultConfidenceThreshold - порог уверенности по умолчанию
const DefaultConfidenceThreshold = 0.7

// EscalationRouter решает судьбу автоответа: доставить студенту
// или передать учителю
type EscalationRouter struct {
	threshold float64
}

// NewEscalationRouter создает роутер с порогом из [0,1]
func NewEscalationRouter(threshold float64) (*EscalationRouter, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("%w: confidence threshold must be within [0,1], got %v", apperrors.ErrValidation, threshold)
	}
	return &EscalationRouter{threshold: threshold}, nil
}

// Threshold возвращает порог уверенности
func (r *EscalationRouter) Threshold() float64 {
	return r.threshold
}

// Route переводит auto_answered вопрос в resolved (confidence >= порога)
// или в escalated с причиной low_confidence
func (r *EscalationRouter) Route(q *entity.Question, now time.Time) error {
	if q.State != entity.QuestionStateAutoAnswered || q.Confidence == nil {
		return fmt.Errorf("%w: question %s cannot be routed from %s", apperrors.ErrInvalidTransition, q.ID, q.State)
	}
	if *q.Confidence >= r.threshold {
		return q.ResolveAuto(now)
	}
	return q.Escalate(entity.EscalationReasonLowConfidence, "", now)
}
