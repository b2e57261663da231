package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/eduquery-api/internal/answering"
	"github.com/yourusername/eduquery-api/internal/domain/entity"
	"github.com/yourusername/eduquery-api/internal/repository/memory"
)

var testNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

// recordingPublisher запоминает опубликованные события
type recordingPublisher struct {
	mu     sync.Mutex
	events []entity.StateTransition
}

func (p *recordingPublisher) Publish(ev entity.StateTransition) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) forQuestion(id string) []entity.StateTransition {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []entity.StateTransition
	for _, ev := range p.events {
		if ev.QuestionID == id {
			out = append(out, ev)
		}
	}
	return out
}

func (p *recordingPublisher) path(id string) []entity.QuestionState {
	var states []entity.QuestionState
	for _, ev := range p.forQuestion(id) {
		states = append(states, ev.To)
	}
	return states
}

type testStack struct {
	repo      *memory.QuestionRepo
	published *recordingPublisher
	lifecycle *Lifecycle
	router    *EscalationRouter
	attempter *Attempter
	questions *QuestionService
	queue     *ReviewQueue
}

func newTestStack(t *testing.T, gen answering.Generator, deadline time.Duration) *testStack {
	t.Helper()
	repo := memory.NewQuestionRepo()
	published := &recordingPublisher{}
	lifecycle := NewLifecycle(repo, published)
	router, err := NewEscalationRouter(DefaultConfidenceThreshold)
	require.NoError(t, err)
	attempter, err := NewAttempter(gen, lifecycle, router, AttempterConfig{Deadline: deadline, Workers: 2, QueueSize: 4})
	require.NoError(t, err)
	attempter.Start()

	return &testStack{
		repo:      repo,
		published: published,
		lifecycle: lifecycle,
		router:    router,
		attempter: attempter,
		questions: NewQuestionService(repo, lifecycle, attempter, nil, 0),
		queue:     NewReviewQueue(repo, lifecycle),
	}
}

// drain дожидается завершения всех попыток
func (s *testStack) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.attempter.Wait(ctx))
}

func staticGen(text string, confidence float64) answering.Generator {
	return answering.GeneratorFunc(func(ctx context.Context, req answering.Request) (answering.Answer, error) {
		return answering.Answer{Text: text, Confidence: confidence}, nil
	})
}

// MockCacheRepo реализует repository.CacheRepository
type MockCacheRepo struct {
	mock.Mock
}

func (m *MockCacheRepo) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	args := m.Called(ctx, key, value, expiration)
	return args.Error(0)
}

func (m *MockCacheRepo) Get(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

func (m *MockCacheRepo) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockCacheRepo) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	args := m.Called(ctx, key, value, expiration)
	return args.Bool(0), args.Error(1)
}

// MockAttemptScheduler реализует AttemptScheduler
type MockAttemptScheduler struct {
	mock.Mock
}

func (m *MockAttemptScheduler) Attempt(q *entity.Question) {
	m.Called(q)
}
