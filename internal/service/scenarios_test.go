package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/eduquery-api/internal/answering"
	"github.com/yourusername/eduquery-api/internal/domain/entity"
	apperrors "github.com/yourusername/eduquery-api/internal/pkg/errors"
)

// Сценарий A: уверенный автоответ доставляется без участия учителя
func TestScenario_ConfidentAutoAnswer(t *testing.T) {
	// Arrange
	s := newTestStack(t, staticGen("Plants turn light into chemical energy", 0.92), time.Second)
	ctx := context.Background()

	// Act
	q, created, err := s.questions.Submit(ctx, "s1", "What is photosynthesis?", "")
	require.NoError(t, err)
	s.drain(t)

	// Assert
	assert.True(t, created)
	assert.Equal(t, entity.QuestionStateAsked, q.State, "Отправка возвращает вопрос сразу в asked")

	got, err := s.repo.GetByID(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.QuestionStateResolved, got.State)
	assert.Equal(t, entity.ResolutionAuto, got.Resolution)
	assert.Nil(t, got.TeacherAnswer, "Автоматический путь не заполняет ответ учителя")
	assert.Equal(t, []entity.QuestionState{
		entity.QuestionStateAsked,
		entity.QuestionStateAutoAnswered,
		entity.QuestionStateResolved,
	}, s.published.path(q.ID))

	pending, err := s.queue.ListPending(ctx, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, pending, "Решенные вопросы не попадают в очередь")
}

// Сценарий B: неуверенный автоответ уходит учителю, студент его не видит
func TestScenario_LowConfidenceGoesToTeacher(t *testing.T) {
	s := newTestStack(t, staticGen("Something about light?", 0.4), time.Second)
	ctx := context.Background()

	q, _, err := s.questions.Submit(ctx, "s1", "What is photosynthesis?", "")
	require.NoError(t, err)
	s.drain(t)

	got, err := s.repo.GetByID(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.QuestionStateEscalated, got.State)
	assert.Equal(t, entity.EscalationReasonLowConfidence, got.EscalationReason)
	_, delivered := got.DeliveredAnswer()
	assert.False(t, delivered, "Непроверенный автоответ не доставляется")

	pending, err := s.queue.ListPending(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	resolved, err := s.queue.Answer(ctx, q.ID, "t1", "Photosynthesis converts light energy into chemical energy.")
	require.NoError(t, err)
	answer, ok := resolved.DeliveredAnswer()
	require.True(t, ok)
	assert.Equal(t, "Photosynthesis converts light energy into chemical energy.", answer)
	require.NotNil(t, resolved.AutoAnswer)
	assert.Equal(t, "Something about light?", *resolved.AutoAnswer, "Автоответ остается как история")

	assert.Equal(t, []entity.QuestionState{
		entity.QuestionStateAsked,
		entity.QuestionStateAutoAnswered,
		entity.QuestionStateEscalated,
		entity.QuestionStateResolved,
	}, s.published.path(q.ID))
}

// Сценарий C: сбой и таймаут генератора эскалируют вопрос напрямую
func TestScenario_FailureAndTimeoutEscalateDirectly(t *testing.T) {
	tests := []struct {
		name       string
		gen        answering.Generator
		wantReason entity.EscalationReason
	}{
		{
			name: "ошибка генератора",
			gen: answering.GeneratorFunc(func(ctx context.Context, req answering.Request) (answering.Answer, error) {
				return answering.Answer{}, errors.New("rag service unavailable")
			}),
			wantReason: entity.EscalationReasonAutoAnswerFailed,
		},
		{
			name:       "пустой ответ",
			gen:        staticGen("   ", 0.99),
			wantReason: entity.EscalationReasonAutoAnswerFailed,
		},
		{
			name: "дедлайн",
			gen: answering.GeneratorFunc(func(ctx context.Context, req answering.Request) (answering.Answer, error) {
				<-ctx.Done()
				return answering.Answer{}, ctx.Err()
			}),
			wantReason: entity.EscalationReasonAutoAnswerTimeout,
		},
		{
			name: "генератор игнорирует дедлайн",
			gen: answering.GeneratorFunc(func(ctx context.Context, req answering.Request) (answering.Answer, error) {
				time.Sleep(80 * time.Millisecond)
				return answering.Answer{Text: "late", Confidence: 1}, nil
			}),
			wantReason: entity.EscalationReasonAutoAnswerTimeout,
		},
		{
			name: "паника",
			gen: answering.GeneratorFunc(func(ctx context.Context, req answering.Request) (answering.Answer, error) {
				panic("boom")
			}),
			wantReason: entity.EscalationReasonAutoAnswerFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStack(t, tt.gen, 30*time.Millisecond)
			ctx := context.Background()

			q, _, err := s.questions.Submit(ctx, "s1", "Why is the sky blue?", "")
			require.NoError(t, err)
			s.drain(t)

			got, err := s.repo.GetByID(ctx, q.ID)
			require.NoError(t, err)
			assert.Equal(t, entity.QuestionStateEscalated, got.State)
			assert.Equal(t, tt.wantReason, got.EscalationReason)
			assert.NotEmpty(t, got.FailureReason)
			assert.Nil(t, got.AutoAnswer)
			assert.Equal(t, []entity.QuestionState{
				entity.QuestionStateAsked,
				entity.QuestionStateEscalated,
			}, s.published.path(q.ID), "Неудачная попытка - один переход asked -> escalated")
		})
	}
}

// Сценарий D: два учителя отвечают одновременно, принимается ровно один ответ
func TestScenario_ConcurrentTeacherAnswers(t *testing.T) {
	s := newTestStack(t, staticGen("unsure", 0.1), time.Second)
	ctx := context.Background()

	q, _, err := s.questions.Submit(ctx, "s1", "Explain entropy", "")
	require.NoError(t, err)
	s.drain(t)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, teacher := range []string{"t1", "t2"} {
		wg.Add(1)
		go func(i int, teacher string) {
			defer wg.Done()
			_, results[i] = s.queue.Answer(ctx, q.ID, teacher, "answer from "+teacher)
		}(i, teacher)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, apperrors.ErrAlreadyResolved)
	}
	assert.Equal(t, 1, succeeded, "Ровно один ответ принят")

	resolvedEvents := 0
	for _, ev := range s.published.forQuestion(q.ID) {
		if ev.To == entity.QuestionStateResolved {
			resolvedEvents++
		}
	}
	assert.Equal(t, 1, resolvedEvents, "Ровно одно событие resolved")
}

func TestScenario_ManyQuestionsInParallel(t *testing.T) {
	s := newTestStack(t, staticGen("answer", 0.95), time.Second)
	ctx := context.Background()

	const total = 30 // больше, чем воркеры + очередь
	ids := make([]string, 0, total)
	for i := 0; i < total; i++ {
		q, _, err := s.questions.Submit(ctx, "s1", "question", "")
		require.NoError(t, err)
		ids = append(ids, q.ID)
	}
	s.drain(t)

	for _, id := range ids {
		got, err := s.repo.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, entity.QuestionStateResolved, got.State, "Ни одна попытка не потеряна")
	}

	events, err := s.questions.Events(ctx, "s1", 0, 0)
	require.NoError(t, err)
	require.Len(t, events, total*3)
	for i, ev := range events {
		assert.Equal(t, uint64(i+1), ev.Seq)
	}
}
