package entity

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	apperrors "github.com/yourusername/eduquery-api/internal/pkg/errors"
)

// MaxQuestionTextLength ограничивает длину текста вопроса (в символах)
const MaxQuestionTextLength = 2000

// QuestionState описывает состояние вопроса в жизненном цикле
type QuestionState string

const (
	// QuestionStateAsked - вопрос создан, автоответ еще не получен
	QuestionStateAsked QuestionState = "asked"
	// QuestionStateAutoAnswered - получен автоматический ответ, решение о доставке еще не принято
	QuestionStateAutoAnswered QuestionState = "auto_answered"
	// QuestionStateEscalated - вопрос ждет ответа учителя
	QuestionStateEscalated QuestionState = "escalated"
	// QuestionStateResolved - ответ доставлен студенту (терминальное состояние)
	QuestionStateResolved QuestionState = "resolved"
	// QuestionStateFailed зарезервировано. Неудачная попытка автоответа записывается
	// в FailureReason одного перехода asked -> escalated, в этом состоянии вопрос не хранится.
	QuestionStateFailed QuestionState = "failed"
)

// Resolution показывает, каким путем вопрос был закрыт
type Resolution string

const (
	ResolutionNone    Resolution = ""
	ResolutionAuto    Resolution = "auto"
	ResolutionTeacher Resolution = "teacher"
)

// EscalationReason объясняет, почему вопрос ушел учителю
type EscalationReason string

const (
	EscalationReasonNone              EscalationReason = ""
	EscalationReasonLowConfidence     EscalationReason = "low_confidence"
	EscalationReasonAutoAnswerFailed  EscalationReason = "auto_answer_failed"
	EscalationReasonAutoAnswerTimeout EscalationReason = "auto_answer_timeout"
	EscalationReasonInterrupted       EscalationReason = "interrupted"
)

// Question представляет вопрос студента и его текущее состояние
type Question struct {
	ID               string           `gorm:"primaryKey;type:uuid" json:"id"`
	AskerID          string           `gorm:"size:128;not null;index:idx_questions_asker_created,priority:1" json:"asker_id"`
	Text             string           `gorm:"type:text;not null" json:"text"`
	State            QuestionState    `gorm:"size:32;not null;index:idx_questions_state_created,priority:1" json:"state"`
	AutoAnswer       *string          `gorm:"type:text" json:"auto_answer,omitempty"`
	Confidence       *float64         `json:"confidence,omitempty"`
	TeacherAnswer    *string          `gorm:"type:text" json:"teacher_answer,omitempty"`
	TeacherID        *string          `gorm:"size:128" json:"teacher_id,omitempty"`
	Resolution       Resolution       `gorm:"size:16;not null;default:''" json:"resolution,omitempty"`
	EscalationReason EscalationReason `gorm:"size:32;not null;default:''" json:"escalation_reason,omitempty"`
	FailureReason    string           `gorm:"type:text;not null;default:''" json:"failure_reason,omitempty"`
	CreatedAt        time.Time        `gorm:"autoCreateTime:false;not null;index:idx_questions_asker_created,priority:2;index:idx_questions_state_created,priority:2" json:"created_at"`
	UpdatedAt        time.Time        `gorm:"autoUpdateTime:false;not null" json:"updated_at"`
	EscalatedAt      *time.Time       `json:"escalated_at,omitempty"`
	ResolvedAt       *time.Time       `json:"resolved_at,omitempty"`
}

// TableName определяет имя таблицы для GORM
func (Question) TableName() string {
	return "questions"
}

// NormalizeQuestionText обрезает пробелы и проверяет текст вопроса
func NormalizeQuestionText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: question text must not be empty", apperrors.ErrValidation)
	}
	if utf8.RuneCountInString(text) > MaxQuestionTextLength {
		return "", fmt.Errorf("%w: question text exceeds %d characters", apperrors.ErrValidation, MaxQuestionTextLength)
	}
	return text, nil
}

// NewQuestion создает вопрос в начальном состоянии asked
func NewQuestion(id, askerID, text string, now time.Time) (*Question, error) {
	if strings.TrimSpace(askerID) == "" {
		return nil, fmt.Errorf("%w: asker id is required", apperrors.ErrValidation)
	}
	normalized, err := NormalizeQuestionText(text)
	if err != nil {
		return nil, err
	}
	return &Question{
		ID:        id,
		AskerID:   askerID,
		Text:      normalized,
		State:     QuestionStateAsked,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// IsTerminal сообщает, закрыт ли вопрос окончательно
func (q *Question) IsTerminal() bool {
	return q.State == QuestionStateResolved
}

// DeliveredAnswer возвращает ответ, доставленный студенту.
// Пока вопрос не закрыт, ответа нет, даже если автоответ уже записан.
func (q *Question) DeliveredAnswer() (string, bool) {
	if q.State != QuestionStateResolved {
		return "", false
	}
	switch q.Resolution {
	case ResolutionTeacher:
		if q.TeacherAnswer != nil {
			return *q.TeacherAnswer, true
		}
	case ResolutionAuto:
		if q.AutoAnswer != nil {
			return *q.AutoAnswer, true
		}
	}
	return "", false
}

// RecordAutoAnswer записывает автоответ: asked -> auto_answered
func (q *Question) RecordAutoAnswer(answer string, confidence float64, now time.Time) error {
	if q.AutoAnswer != nil {
		return fmt.Errorf("%w: auto answer already recorded for question %s", apperrors.ErrInvalidTransition, q.ID)
	}
	if err := q.transitionTo(QuestionStateAutoAnswered, now); err != nil {
		return err
	}
	q.AutoAnswer = &answer
	q.Confidence = &confidence
	return nil
}

// Escalate передает вопрос учителю: asked|auto_answered -> escalated
func (q *Question) Escalate(reason EscalationReason, failure string, now time.Time) error {
	if err := q.transitionTo(QuestionStateEscalated, now); err != nil {
		return err
	}
	q.EscalationReason = reason
	q.FailureReason = failure
	q.EscalatedAt = &now
	return nil
}

// ResolveAuto доставляет автоответ: auto_answered -> resolved
func (q *Question) ResolveAuto(now time.Time) error {
	if q.AutoAnswer == nil {
		return fmt.Errorf("%w: question %s has no auto answer", apperrors.ErrInvalidTransition, q.ID)
	}
	if err := q.transitionTo(QuestionStateResolved, now); err != nil {
		return err
	}
	q.Resolution = ResolutionAuto
	q.ResolvedAt = &now
	return nil
}

// ResolveByTeacher закрывает вопрос ответом учителя: escalated -> resolved.
// Автоответ (если был) остается только как история.
func (q *Question) ResolveByTeacher(teacherID, answer string, now time.Time) error {
	switch q.State {
	case QuestionStateEscalated:
	case QuestionStateResolved:
		return fmt.Errorf("%w: question %s", apperrors.ErrAlreadyResolved, q.ID)
	default:
		return fmt.Errorf("%w: question %s is %s", apperrors.ErrNotEscalated, q.ID, q.State)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return fmt.Errorf("%w: teacher answer must not be empty", apperrors.ErrValidation)
	}
	if err := q.transitionTo(QuestionStateResolved, now); err != nil {
		return err
	}
	q.TeacherAnswer = &answer
	q.TeacherID = &teacherID
	q.Resolution = ResolutionTeacher
	q.ResolvedAt = &now
	return nil
}

func (q *Question) transitionTo(to QuestionState, now time.Time) error {
	if err := ValidateTransition(q.State, to); err != nil {
		return fmt.Errorf("question %s: %w", q.ID, err)
	}
	q.State = to
	q.UpdatedAt = now
	return nil
}

// Clone возвращает глубокую копию вопроса
func (q *Question) Clone() *Question {
	c := *q
	c.AutoAnswer = cloneString(q.AutoAnswer)
	c.TeacherAnswer = cloneString(q.TeacherAnswer)
	c.TeacherID = cloneString(q.TeacherID)
	if q.Confidence != nil {
		v := *q.Confidence
		c.Confidence = &v
	}
	if q.EscalatedAt != nil {
		v := *q.EscalatedAt
		c.EscalatedAt = &v
	}
	if q.ResolvedAt != nil {
		v := *q.ResolvedAt
		c.ResolvedAt = &v
	}
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
