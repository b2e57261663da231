package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/eduquery-api/internal/domain/entity"
	"github.com/yourusername/eduquery-api/internal/domain/repository"
	"github.com/yourusername/eduquery-api/internal/repository/memory"
	apperrors "github.com/yourusername/eduquery-api/internal/pkg/errors"
)

func newQuestionServiceForTest(cache *MockCacheRepo, scheduler *MockAttemptScheduler) (*QuestionService, *memory.QuestionRepo) {
	repo := memory.NewQuestionRepo()
	lifecycle := NewLifecycle(repo, nil)
	var cacheRepo repository.CacheRepository
	if cache != nil {
		cacheRepo = cache
	}
	svc := NewQuestionService(repo, lifecycle, scheduler, cacheRepo, time.Hour)
	return svc, repo
}

func TestQuestionService_Submit_Validation(t *testing.T) {
	scheduler := new(MockAttemptScheduler)
	svc, _ := newQuestionServiceForTest(nil, scheduler)

	_, _, err := svc.Submit(context.Background(), "s1", "   ", "")
	assert.ErrorIs(t, err, apperrors.ErrValidation, "Пустой вопрос отклоняется")

	_, _, err = svc.Submit(context.Background(), "s1", strings.Repeat("я", entity.MaxQuestionTextLength+1), "")
	assert.ErrorIs(t, err, apperrors.ErrValidation, "Слишком длинный вопрос отклоняется")

	scheduler.AssertNotCalled(t, "Attempt", mock.Anything)
}

func TestQuestionService_Submit_WithoutKey(t *testing.T) {
	// Arrange
	cache := new(MockCacheRepo)
	scheduler := new(MockAttemptScheduler)
	svc, repo := newQuestionServiceForTest(cache, scheduler)
	scheduler.On("Attempt", mock.AnythingOfType("*entity.Question")).Once()

	// Act
	q, created, err := svc.Submit(context.Background(), "s1", "What is DNA?", "")

	// Assert
	require.NoError(t, err)
	assert.True(t, created)
	stored, err := repo.GetByID(context.Background(), q.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.QuestionStateAsked, stored.State)
	scheduler.AssertExpectations(t)
	cache.AssertNotCalled(t, "SetNX", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestQuestionService_Submit_NewKey(t *testing.T) {
	cache := new(MockCacheRepo)
	scheduler := new(MockAttemptScheduler)
	svc, _ := newQuestionServiceForTest(cache, scheduler)
	svc.newID = func() string { return "q-1" }

	key := "idem:question:s1:abc"
	cache.On("SetNX", mock.Anything, key, idempotencyPending, time.Hour).Return(true, nil).Once()
	cache.On("Set", mock.Anything, key, "q-1", time.Hour).Return(nil).Once()
	scheduler.On("Attempt", mock.Anything).Once()

	q, created, err := svc.Submit(context.Background(), "s1", "What is DNA?", "abc")

	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "q-1", q.ID)
	cache.AssertExpectations(t)
	scheduler.AssertExpectations(t)
}

func TestQuestionService_Submit_ReplayReturnsOriginal(t *testing.T) {
	cache := new(MockCacheRepo)
	scheduler := new(MockAttemptScheduler)
	svc, repo := newQuestionServiceForTest(cache, scheduler)

	original, err := entity.NewQuestion("q-original", "s1", "What is DNA?", testNow)
	require.NoError(t, err)
	_, err = repo.Create(context.Background(), original)
	require.NoError(t, err)

	key := "idem:question:s1:abc"
	cache.On("SetNX", mock.Anything, key, idempotencyPending, time.Hour).Return(false, nil).Once()
	cache.On("Get", mock.Anything, key).Return("q-original", nil).Once()

	q, created, err := svc.Submit(context.Background(), "s1", "What is DNA?", "abc")

	require.NoError(t, err)
	assert.False(t, created, "Повтор не создает новый вопрос")
	assert.Equal(t, "q-original", q.ID)
	scheduler.AssertNotCalled(t, "Attempt", mock.Anything)

	all, err := repo.ListByAsker(context.Background(), "s1", 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestQuestionService_Submit_KeyInProgress(t *testing.T) {
	cache := new(MockCacheRepo)
	scheduler := new(MockAttemptScheduler)
	svc, _ := newQuestionServiceForTest(cache, scheduler)

	key := "idem:question:s1:abc"
	cache.On("SetNX", mock.Anything, key, idempotencyPending, time.Hour).Return(false, nil).Once()
	cache.On("Get", mock.Anything, key).Return(idempotencyPending, nil).Once()

	_, _, err := svc.Submit(context.Background(), "s1", "What is DNA?", "abc")

	assert.ErrorIs(t, err, apperrors.ErrConflict)
	scheduler.AssertNotCalled(t, "Attempt", mock.Anything)
}

func TestQuestionService_Submit_ReleasesKeyOnFailure(t *testing.T) {
	cache := new(MockCacheRepo)
	scheduler := new(MockAttemptScheduler)
	svc, repo := newQuestionServiceForTest(cache, scheduler)
	svc.newID = func() string { return "q-dup" }

	existing, err := entity.NewQuestion("q-dup", "s2", "taken", testNow)
	require.NoError(t, err)
	_, err = repo.Create(context.Background(), existing)
	require.NoError(t, err)

	key := "idem:question:s1:abc"
	cache.On("SetNX", mock.Anything, key, idempotencyPending, time.Hour).Return(true, nil).Once()
	cache.On("Delete", mock.Anything, key).Return(nil).Once()

	_, _, err = svc.Submit(context.Background(), "s1", "What is DNA?", "abc")

	assert.ErrorIs(t, err, apperrors.ErrConflict)
	cache.AssertExpectations(t)
	scheduler.AssertNotCalled(t, "Attempt", mock.Anything)
}

func TestQuestionService_Submit_RedisDownFailsOpen(t *testing.T) {
	cache := new(MockCacheRepo)
	scheduler := new(MockAttemptScheduler)
	svc, _ := newQuestionServiceForTest(cache, scheduler)

	cache.On("SetNX", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(false, errors.New("connection refused")).Once()
	scheduler.On("Attempt", mock.Anything).Once()

	_, created, err := svc.Submit(context.Background(), "s1", "What is DNA?", "abc")

	require.NoError(t, err, "Недоступный Redis не блокирует отправку")
	assert.True(t, created)
	cache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestQuestionService_Submit_ReleasesKeyWhenStoreFails(t *testing.T) {
	// Arrange: ключ занят, вопрос создан, но записать его id в Redis не удалось
	cache := new(MockCacheRepo)
	scheduler := new(MockAttemptScheduler)
	svc, _ := newQuestionServiceForTest(cache, scheduler)
	const key = "idem:question:s1:abc"

	cache.On("SetNX", mock.Anything, key, idempotencyPending, mock.Anything).Return(true, nil).Twice()
	cache.On("Set", mock.Anything, key, mock.Anything, mock.Anything).Return(errors.New("redis timeout")).Once()
	cache.On("Delete", mock.Anything, key).Return(nil).Once()
	cache.On("Set", mock.Anything, key, mock.Anything, mock.Anything).Return(nil).Once()
	scheduler.On("Attempt", mock.Anything).Twice()

	// Act
	first, created, err := svc.Submit(context.Background(), "s1", "What is DNA?", "abc")
	require.NoError(t, err)
	require.True(t, created)
	retry, created, err := svc.Submit(context.Background(), "s1", "What is DNA?", "abc")

	// Assert
	require.NoError(t, err, "Повтор с тем же ключом не получает 409 после сбоя Redis")
	assert.True(t, created)
	assert.NotEqual(t, first.ID, retry.ID)
	cache.AssertExpectations(t)
	scheduler.AssertExpectations(t)
}

func TestQuestionService_Submit_KeyTooLong(t *testing.T) {
	cache := new(MockCacheRepo)
	svc, _ := newQuestionServiceForTest(cache, new(MockAttemptScheduler))

	_, _, err := svc.Submit(context.Background(), "s1", "What is DNA?", strings.Repeat("k", maxIdempotencyKeyLen+1))

	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestQuestionService_Get_Visibility(t *testing.T) {
	svc, repo := newQuestionServiceForTest(nil, new(MockAttemptScheduler))
	q, err := entity.NewQuestion("q-1", "s1", "What is DNA?", testNow)
	require.NoError(t, err)
	_, err = repo.Create(context.Background(), q)
	require.NoError(t, err)

	got, err := svc.Get(context.Background(), "q-1", Viewer{ID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "q-1", got.ID)

	_, err = svc.Get(context.Background(), "q-1", Viewer{ID: "s2"})
	assert.ErrorIs(t, err, apperrors.ErrNotFound, "Чужой вопрос для студента не существует")

	_, err = svc.Get(context.Background(), "q-1", Viewer{ID: "t1", Teacher: true})
	assert.NoError(t, err, "Учитель видит любой вопрос")

	_, err = svc.Get(context.Background(), "missing", Viewer{ID: "s1"})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestQuestionService_HistoryAndEvents(t *testing.T) {
	svc, repo := newQuestionServiceForTest(nil, new(MockAttemptScheduler))
	ctx := context.Background()
	for i, id := range []string{"q-1", "q-2", "q-3"} {
		q, err := entity.NewQuestion(id, "s1", "question", testNow.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		_, err = repo.Create(ctx, q)
		require.NoError(t, err)
	}

	history, err := svc.History(ctx, "s1", 2, 1)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "q-2", history[0].ID)
	assert.Equal(t, "q-3", history[1].ID)

	events, err := svc.Events(ctx, "s1", 1, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, uint64(2), events[0].Seq)
}
