package dto

import (
	"time"

	"github.com/yourusername/eduquery-api/internal/domain/entity"
)

// SubmitQuestionRequest - тело POST /api/questions
type SubmitQuestionRequest struct {
	Text string `json:"text" binding:"required,notblank"`
}

// AnswerQuestionRequest - тело PUT /api/teacher/queue/:id
type AnswerQuestionRequest struct {
	Answer string `json:"answer" binding:"required,notblank"`
}

// QuestionResponse представляет вопрос глазами студента.
// Автоответ виден только после того, как вопрос закрыт.
type QuestionResponse struct {
	ID         string     `json:"id"`
	Text       string     `json:"text"`
	State      string     `json:"state"`
	Answer     *string    `json:"answer,omitempty"`
	AnsweredBy string     `json:"answered_by,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// TeacherQuestionResponse - полная карточка вопроса для учителя
type TeacherQuestionResponse struct {
	ID               string     `json:"id"`
	AskerID          string     `json:"asker_id"`
	Text             string     `json:"text"`
	State            string     `json:"state"`
	AutoAnswer       *string    `json:"auto_answer,omitempty"`
	Confidence       *float64   `json:"confidence,omitempty"`
	TeacherAnswer    *string    `json:"teacher_answer,omitempty"`
	TeacherID        *string    `json:"teacher_id,omitempty"`
	Resolution       string     `json:"resolution,omitempty"`
	EscalationReason string     `json:"escalation_reason,omitempty"`
	FailureReason    string     `json:"failure_reason,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	EscalatedAt      *time.Time `json:"escalated_at,omitempty"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
}

// PaginatedQuestionResponse - страница истории студента
type PaginatedQuestionResponse struct {
	Questions []*QuestionResponse `json:"questions"`
	Page      int                 `json:"page"`
	PerPage   int                 `json:"per_page"`
}

// PaginatedTeacherQuestionResponse - страница очереди или истории ответов
type PaginatedTeacherQuestionResponse struct {
	Questions []*TeacherQuestionResponse `json:"questions"`
	Page      int                        `json:"page"`
	PerPage   int                        `json:"per_page"`
}

// EventsResponse - события после курсора. Cursor - курсор для следующего запроса.
type EventsResponse struct {
	Events []entity.StateTransition `json:"events"`
	Cursor uint64                   `json:"cursor"`
}

// NewQuestionResponse создает DTO для студента
func NewQuestionResponse(q *entity.Question) *QuestionResponse {
	resp := &QuestionResponse{
		ID:         q.ID,
		Text:       q.Text,
		State:      string(q.State),
		CreatedAt:  q.CreatedAt,
		UpdatedAt:  q.UpdatedAt,
		ResolvedAt: q.ResolvedAt,
	}
	if answer, ok := q.DeliveredAnswer(); ok {
		resp.Answer = &answer
		resp.AnsweredBy = string(q.Resolution)
	}
	return resp
}

// NewTeacherQuestionResponse создает DTO для учителя
func NewTeacherQuestionResponse(q *entity.Question) *TeacherQuestionResponse {
	return &TeacherQuestionResponse{
		ID:               q.ID,
		AskerID:          q.AskerID,
		Text:             q.Text,
		State:            string(q.State),
		AutoAnswer:       q.AutoAnswer,
		Confidence:       q.Confidence,
		TeacherAnswer:    q.TeacherAnswer,
		TeacherID:        q.TeacherID,
		Resolution:       string(q.Resolution),
		EscalationReason: string(q.EscalationReason),
		FailureReason:    q.FailureReason,
		CreatedAt:        q.CreatedAt,
		UpdatedAt:        q.UpdatedAt,
		EscalatedAt:      q.EscalatedAt,
		ResolvedAt:       q.ResolvedAt,
	}
}

// NewPaginatedQuestionResponse создает страницу для студента
func NewPaginatedQuestionResponse(questions []entity.Question, page, perPage int) *PaginatedQuestionResponse {
	list := make([]*QuestionResponse, len(questions))
	for i := range questions {
		list[i] = NewQuestionResponse(&questions[i])
	}
	return &PaginatedQuestionResponse{Questions: list, Page: page, PerPage: perPage}
}

// NewPaginatedTeacherQuestionResponse создает страницу для учителя
func NewPaginatedTeacherQuestionResponse(questions []entity.Question, page, perPage int) *PaginatedTeacherQuestionResponse {
	list := make([]*TeacherQuestionResponse, len(questions))
	for i := range questions {
		list[i] = NewTeacherQuestionResponse(&questions[i])
	}
	return &PaginatedTeacherQuestionResponse{Questions: list, Page: page, PerPage: perPage}
}
