package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/yourusername/eduquery-api/internal/domain/entity"
	"github.com/yourusername/eduquery-api/internal/domain/repository"
	apperrors "github.com/yourusername/eduquery-api/internal/pkg/errors"
)

var _ repository.QuestionRepository = (*QuestionRepo)(nil)

// QuestionRepo хранит вопросы в памяти процесса.
// Используется в тестах и при storage.driver=memory.
type QuestionRepo struct {
	mu          sync.RWMutex
	questions   map[string]*entity.Question
	transitions map[string][]entity.StateTransition // askerID -> журнал
	nextEventID uint

	// writers сериализует мутации одного вопроса, не блокируя остальные.
	// Запись удаляется, когда по id не осталось ни одного Update.
	writersMu sync.Mutex
	writers   map[string]*writerLock
}

type writerLock struct {
	mu   sync.Mutex
	refs int
}

// NewQuestionRepo создает пустое хранилище
func NewQuestionRepo() *QuestionRepo {
	return &QuestionRepo{
		questions:   make(map[string]*entity.Question),
		transitions: make(map[string][]entity.StateTransition),
		writers:     make(map[string]*writerLock),
	}
}

// lockWriter захватывает блокировку записи вопроса id и возвращает функцию освобождения
func (r *QuestionRepo) lockWriter(id string) func() {
	r.writersMu.Lock()
	w, ok := r.writers[id]
	if !ok {
		w = &writerLock{}
		r.writers[id] = w
	}
	w.refs++
	r.writersMu.Unlock()

	w.mu.Lock()
	return func() {
		w.mu.Unlock()
		r.writersMu.Lock()
		w.refs--
		if w.refs == 0 {
			delete(r.writers, id)
		}
		r.writersMu.Unlock()
	}
}


// Create сохраняет новый вопрос
func (r *QuestionRepo) Create(ctx context.Context, question *entity.Question) (*entity.StateTransition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := entity.ValidateTransition("", question.State); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.questions[question.ID]; exists {
		return nil, fmt.Errorf("%w: question %s already exists", apperrors.ErrConflict, question.ID)
	}
	r.questions[question.ID] = question.Clone()
	ev := r.appendLocked(entity.NewStateTransition(question, ""))
	return &ev, nil
}

// GetByID возвращает копию вопроса
func (r *QuestionRepo) GetByID(ctx context.Context, id string) (*entity.Question, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	q, ok := r.questions[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return q.Clone(), nil
}

// Update применяет мутацию к снимку вопроса и атомарно фиксирует результат
func (r *QuestionRepo) Update(ctx context.Context, id string, mutate repository.Mutation) (*entity.Question, *entity.StateTransition, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	unlock := r.lockWriter(id)
	defer unlock()

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	from := current.State
	if err := mutate(current); err != nil {
		return nil, nil, err
	}
	if err := entity.ValidateTransition(from, current.State); err != nil {
		return nil, nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.questions[id] = current.Clone()
	ev := r.appendLocked(entity.NewStateTransition(current, from))
	return current, &ev, nil
}

// appendLocked назначает следующий seq студента. Вызывается под r.mu,
// поэтому порядок seq совпадает с порядком фиксации.
func (r *QuestionRepo) appendLocked(ev entity.StateTransition) entity.StateTransition {
	r.nextEventID++
	ev.ID = r.nextEventID
	log := r.transitions[ev.AskerID]
	ev.Seq = uint64(len(log)) + 1
	r.transitions[ev.AskerID] = append(log, ev)
	return ev
}

// ListByAsker возвращает историю вопросов студента
func (r *QuestionRepo) ListByAsker(ctx context.Context, askerID string, limit, offset int) ([]entity.Question, error) {
	return r.list(ctx, limit, offset, func(q *entity.Question) bool { return q.AskerID == askerID })
}

// ListByState возвращает вопросы в заданном состоянии
func (r *QuestionRepo) ListByState(ctx context.Context, state entity.QuestionState, limit, offset int) ([]entity.Question, error) {
	return r.list(ctx, limit, offset, func(q *entity.Question) bool { return q.State == state })
}

// ListResolved возвращает закрытые вопросы, закрытые указанным путем
func (r *QuestionRepo) ListResolved(ctx context.Context, resolution entity.Resolution, limit, offset int) ([]entity.Question, error) {
	return r.list(ctx, limit, offset, func(q *entity.Question) bool {
		return q.State == entity.QuestionStateResolved && q.Resolution == resolution
	})
}

func (r *QuestionRepo) list(ctx context.Context, limit, offset int, keep func(*entity.Question) bool) ([]entity.Question, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	matched := make([]entity.Question, 0)
	for _, q := range r.questions {
		if keep(q) {
			matched = append(matched, *q.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	return paginate(matched, limit, offset), nil
}

// CountByState возвращает количество вопросов в каждом состоянии
func (r *QuestionRepo) CountByState(ctx context.Context) (map[entity.QuestionState]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[entity.QuestionState]int64)
	for _, q := range r.questions {
		counts[q.State]++
	}
	return counts, nil
}

// ListTransitions возвращает события студента после курсора
func (r *QuestionRepo) ListTransitions(ctx context.Context, askerID string, afterSeq uint64, limit int) ([]entity.StateTransition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	log := r.transitions[askerID]
	if afterSeq >= uint64(len(log)) {
		return []entity.StateTransition{}, nil
	}
	tail := log[afterSeq:]
	if limit > 0 && len(tail) > limit {
		tail = tail[:limit]
	}
	out := make([]entity.StateTransition, len(tail))
	copy(out, tail)
	return out, nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
