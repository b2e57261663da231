package entity

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/yourusername/eduquery-api/internal/pkg/errors"
)

var testNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newAskedQuestion(t *testing.T) *Question {
	t.Helper()
	q, err := NewQuestion("q-1", "s1", "  What is photosynthesis?  ", testNow)
	require.NoError(t, err)
	return q
}

func TestNewQuestion_StartsAsked(t *testing.T) {
	// Act
	q := newAskedQuestion(t)

	// Assert
	assert.Equal(t, QuestionStateAsked, q.State, "Новый вопрос должен быть в состоянии asked")
	assert.Equal(t, "What is photosynthesis?", q.Text, "Текст должен быть обрезан")
	assert.Equal(t, testNow, q.CreatedAt)
	assert.Equal(t, testNow, q.UpdatedAt)
	assert.Nil(t, q.AutoAnswer)
	assert.Nil(t, q.TeacherAnswer)
}

func TestNewQuestion_RejectsEmptyText(t *testing.T) {
	_, err := NewQuestion("q-1", "s1", "   ", testNow)
	assert.ErrorIs(t, err, apperrors.ErrValidation, "Пустой текст - ошибка валидации")

	_, err = NewQuestion("q-1", "s1", strings.Repeat("я", MaxQuestionTextLength+1), testNow)
	assert.ErrorIs(t, err, apperrors.ErrValidation, "Слишком длинный текст - ошибка валидации")

	_, err = NewQuestion("q-1", "", "text", testNow)
	assert.ErrorIs(t, err, apperrors.ErrValidation, "Без askerId вопрос не создается")
}

func TestQuestion_AutoPath(t *testing.T) {
	// Arrange
	q := newAskedQuestion(t)
	later := testNow.Add(time.Second)

	// Act
	require.NoError(t, q.RecordAutoAnswer("Plants turn light into energy", 0.9, later))
	require.NoError(t, q.ResolveAuto(later.Add(time.Second)))

	// Assert
	assert.Equal(t, QuestionStateResolved, q.State)
	assert.Equal(t, ResolutionAuto, q.Resolution)
	assert.Nil(t, q.TeacherAnswer, "Автоматический путь не заполняет ответ учителя")
	answer, ok := q.DeliveredAnswer()
	assert.True(t, ok)
	assert.Equal(t, "Plants turn light into energy", answer)
	require.NotNil(t, q.ResolvedAt)
	assert.True(t, q.UpdatedAt.After(q.CreatedAt), "UpdatedAt продвигается при каждом переходе")
}

func TestQuestion_TeacherPathKeepsAutoAnswerAsHistory(t *testing.T) {
	// Arrange
	q := newAskedQuestion(t)
	require.NoError(t, q.RecordAutoAnswer("maybe", 0.3, testNow))
	require.NoError(t, q.Escalate(EscalationReasonLowConfidence, "", testNow))

	// Act
	require.NoError(t, q.ResolveByTeacher("t1", " Photosynthesis is... ", testNow))

	// Assert
	answer, ok := q.DeliveredAnswer()
	require.True(t, ok)
	assert.Equal(t, "Photosynthesis is...", answer, "Доставляется ответ учителя")
	require.NotNil(t, q.AutoAnswer)
	assert.Equal(t, "maybe", *q.AutoAnswer, "Автоответ сохраняется как история")
	assert.Equal(t, ResolutionTeacher, q.Resolution)
	require.NotNil(t, q.TeacherID)
	assert.Equal(t, "t1", *q.TeacherID)
}

func TestQuestion_DeliveredAnswer_HiddenUntilResolved(t *testing.T) {
	q := newAskedQuestion(t)
	require.NoError(t, q.RecordAutoAnswer("low confidence guess", 0.1, testNow))
	require.NoError(t, q.Escalate(EscalationReasonLowConfidence, "", testNow))

	_, ok := q.DeliveredAnswer()
	assert.False(t, ok, "Непроверенный автоответ не доставляется")
}

func TestQuestion_ResolveByTeacher_Errors(t *testing.T) {
	// asked -> нельзя ответить
	q := newAskedQuestion(t)
	err := q.ResolveByTeacher("t1", "answer", testNow)
	assert.ErrorIs(t, err, apperrors.ErrNotEscalated)
	assert.Equal(t, QuestionStateAsked, q.State, "Состояние не меняется")

	// resolved -> повторный ответ запрещен
	require.NoError(t, q.Escalate(EscalationReasonAutoAnswerTimeout, "deadline", testNow))
	require.NoError(t, q.ResolveByTeacher("t1", "first", testNow))
	err = q.ResolveByTeacher("t2", "second", testNow)
	assert.ErrorIs(t, err, apperrors.ErrAlreadyResolved)
	assert.Equal(t, "first", *q.TeacherAnswer, "Ответ не перезаписывается")

	// пустой ответ
	q2 := newAskedQuestion(t)
	require.NoError(t, q2.Escalate(EscalationReasonAutoAnswerFailed, "boom", testNow))
	err = q2.ResolveByTeacher("t1", "   ", testNow)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	assert.Equal(t, QuestionStateEscalated, q2.State)
}

func TestQuestion_IllegalMutations(t *testing.T) {
	q := newAskedQuestion(t)

	assert.ErrorIs(t, q.ResolveAuto(testNow), apperrors.ErrInvalidTransition, "asked -> resolved запрещен")

	require.NoError(t, q.RecordAutoAnswer("a", 0.8, testNow))
	assert.ErrorIs(t, q.RecordAutoAnswer("b", 0.9, testNow), apperrors.ErrInvalidTransition, "Автоответ записывается один раз")

	require.NoError(t, q.ResolveAuto(testNow))
	assert.ErrorIs(t, q.Escalate(EscalationReasonLowConfidence, "", testNow), apperrors.ErrInvalidTransition, "Из resolved выхода нет")
	assert.Equal(t, QuestionStateResolved, q.State)
}

func TestQuestion_Clone_IsDeep(t *testing.T) {
	q := newAskedQuestion(t)
	require.NoError(t, q.RecordAutoAnswer("a", 0.5, testNow))

	c := q.Clone()
	*c.AutoAnswer = "changed"
	*c.Confidence = 0.1

	assert.Equal(t, "a", *q.AutoAnswer)
	assert.Equal(t, 0.5, *q.Confidence)
}

func TestNewStateTransition(t *testing.T) {
	q := newAskedQuestion(t)
	require.NoError(t, q.Escalate(EscalationReasonAutoAnswerTimeout, "deadline exceeded", testNow))

	ev := NewStateTransition(q, QuestionStateAsked)
	assert.Equal(t, QuestionStateAsked, ev.From)
	assert.Equal(t, QuestionStateEscalated, ev.To)
	assert.Equal(t, "auto_answer_timeout", ev.Reason)
	assert.Nil(t, ev.Answer)

	require.NoError(t, q.ResolveByTeacher("t1", "answer", testNow))
	ev = NewStateTransition(q, QuestionStateEscalated)
	assert.Equal(t, "teacher", ev.Reason)
	require.NotNil(t, ev.Answer)
	assert.Equal(t, "answer", *ev.Answer)
}
