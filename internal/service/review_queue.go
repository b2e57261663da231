package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yourusername/eduquery-api/internal/domain/entity"
	"github.com/yourusername/eduquery-api/internal/domain/repository"
	apperrors "github.com/yourusername/eduquery-api/internal/pkg/errors"
)

// QueueStats - сводка по состояниям вопросов для панели учителя
type QueueStats struct {
	Counts map[entity.QuestionState]int64 `json:"counts"`
	Total  int64                          `json:"total"`
}

// ReviewQueue - очередь вопросов, ожидающих ответа учителя
type ReviewQueue struct {
	repo      repository.QuestionRepository
	lifecycle *Lifecycle
}

// NewReviewQueue создает очередь проверки
func NewReviewQueue(repo repository.QuestionRepository, lifecycle *Lifecycle) *ReviewQueue {
	return &ReviewQueue{repo: repo, lifecycle: lifecycle}
}

// ListPending возвращает escalated вопросы, старые первыми
func (s *ReviewQueue) ListPending(ctx context.Context, limit, offset int) ([]entity.Question, error) {
	return s.repo.ListByState(ctx, entity.QuestionStateEscalated, limit, offset)
}

// Answer закрывает вопрос ответом учителя. Из нескольких конкурентных
// ответов на один вопрос принимается ровно один, остальные получают ErrAlreadyResolved.
func (s *ReviewQueue) Answer(ctx context.Context, id, teacherID, text string) (*entity.Question, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: answer text must not be empty", apperrors.ErrValidation)
	}
	if teacherID == "" {
		return nil, fmt.Errorf("%w: teacher id is required", apperrors.ErrValidation)
	}
	return s.lifecycle.Apply(ctx, id, func(q *entity.Question, now time.Time) error {
		return q.ResolveByTeacher(teacherID, text, now)
	})
}

// ListResolved возвращает закрытые вопросы: автоответы или ответы учителей
func (s *ReviewQueue) ListResolved(ctx context.Context, resolution entity.Resolution, limit, offset int) ([]entity.Question, error) {
	if resolution != entity.ResolutionAuto && resolution != entity.ResolutionTeacher {
		return nil, fmt.Errorf("%w: resolution must be auto or teacher", apperrors.ErrValidation)
	}
	return s.repo.ListResolved(ctx, resolution, limit, offset)
}

// Stats возвращает количество вопросов по состояниям
func (s *ReviewQueue) Stats(ctx context.Context) (*QueueStats, error) {
	counts, err := s.repo.CountByState(ctx)
	if err != nil {
		return nil, err
	}
	stats := &QueueStats{Counts: make(map[entity.QuestionState]int64)}
	for _, state := range []entity.QuestionState{
		entity.QuestionStateAsked,
		entity.QuestionStateAutoAnswered,
		entity.QuestionStateEscalated,
		entity.QuestionStateResolved,
	} {
		stats.Counts[state] = counts[state]
		stats.Total += counts[state]
	}
	return stats, nil
}
