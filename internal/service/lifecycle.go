package service

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/yourusername/eduquery-api/internal/domain/entity"
	"github.com/yourusername/eduquery-api/internal/domain/repository"
)

// TransitionPublisher получает каждое зафиксированное событие
type TransitionPublisher interface {
	Publish(ev entity.StateTransition)
}

// TransitionHook вызывается после коммита и публикации события.
// Хук не должен блокировать: тяжелую работу он уносит в свою горутину.
type TransitionHook func(q *entity.Question, ev entity.StateTransition)

// Lifecycle - единственная точка записи вопросов: каждое изменение проходит
// через атомарный Update хранилища и публикуется ровно одним событием
type Lifecycle struct {
	repo      repository.QuestionRepository
	publisher TransitionPublisher
	clock     func() time.Time

	mu    sync.RWMutex
	hooks []TransitionHook
}

// NewLifecycle создает Lifecycle. publisher может быть nil.
func NewLifecycle(repo repository.QuestionRepository, publisher TransitionPublisher) *Lifecycle {
	return &Lifecycle{
		repo:      repo,
		publisher: publisher,
		clock:     func() time.Time { return time.Now().UTC() },
	}
}

// OnTransition регистрирует хук
func (l *Lifecycle) OnTransition(hook TransitionHook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hooks = append(l.hooks, hook)
}

// Now возвращает текущее время по часам Lifecycle
func (l *Lifecycle) Now() time.Time {
	return l.clock()
}

// Create сохраняет новый вопрос и публикует событие создания
func (l *Lifecycle) Create(ctx context.Context, q *entity.Question) error {
	ev, err := l.repo.Create(ctx, q)
	if err != nil {
		return err
	}
	l.emit(q, *ev)
	return nil
}

// Apply атомарно применяет мутацию к вопросу id и публикует событие перехода
func (l *Lifecycle) Apply(ctx context.Context, id string, mutate func(q *entity.Question, now time.Time) error) (*entity.Question, error) {
	q, ev, err := l.repo.Update(ctx, id, func(q *entity.Question) error {
		return mutate(q, l.clock())
	})
	if err != nil {
		return nil, err
	}
	l.emit(q, *ev)
	return q, nil
}

func (l *Lifecycle) emit(q *entity.Question, ev entity.StateTransition) {
	log.Printf("[Lifecycle] Вопрос %s: %s -> %s (asker=%s, seq=%d, reason=%s)",
		ev.QuestionID, displayFrom(ev.From), ev.To, ev.AskerID, ev.Seq, ev.Reason)

	if l.publisher != nil {
		l.publisher.Publish(ev)
	}

	l.mu.RLock()
	hooks := l.hooks
	l.mu.RUnlock()
	for _, hook := range hooks {
		hook(q.Clone(), ev)
	}
}

func displayFrom(s entity.QuestionState) string {
	if s == "" {
		return "(new)"
	}
	return string(s)
}
