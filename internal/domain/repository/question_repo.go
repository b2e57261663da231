package repository

import (
	"context"

	"github.com/yourusername/eduquery-api/internal/domain/entity"
)

// Mutation изменяет вопрос внутри атомарной операции хранилища.
// Ошибка отменяет операцию, вопрос остается неизменным.
type Mutation func(q *entity.Question) error

// QuestionRepository определяет методы для работы с вопросами и журналом переходов
type QuestionRepository interface {
	// Create сохраняет новый вопрос (состояние asked) и первое событие журнала
	Create(ctx context.Context, question *entity.Question) (*entity.StateTransition, error)
	GetByID(ctx context.Context, id string) (*entity.Question, error)

	// Update выполняет атомарный read-modify-write одного вопроса.
	// Конкурентные обновления одного id сериализуются; каждое успешное
	// обновление добавляет ровно одно событие в журнал.
	Update(ctx context.Context, id string, mutate Mutation) (*entity.Question, *entity.StateTransition, error)

	// Списки упорядочены по created_at, id (старые первыми)
	ListByAsker(ctx context.Context, askerID string, limit, offset int) ([]entity.Question, error)
	ListByState(ctx context.Context, state entity.QuestionState, limit, offset int) ([]entity.Question, error)
	ListResolved(ctx context.Context, resolution entity.Resolution, limit, offset int) ([]entity.Question, error)
	CountByState(ctx context.Context) (map[entity.QuestionState]int64, error)

	// ListTransitions возвращает события студента с seq > afterSeq в порядке seq
	ListTransitions(ctx context.Context, askerID string, afterSeq uint64, limit int) ([]entity.StateTransition, error)
}
