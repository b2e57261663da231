package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yourusername/eduquery-api/internal/domain/entity"
	"github.com/yourusername/eduquery-api/internal/domain/repository"
	apperrors "github.com/yourusername/eduquery-api/internal/pkg/errors"
)

var _ repository.QuestionRepository = (*QuestionRepo)(nil)

// nextSeqSQL выдает следующий seq студента. Строка asker_cursors остается
// заблокированной до конца транзакции, поэтому порядок seq совпадает с порядком коммитов.
const nextSeqSQL = `
	INSERT INTO asker_cursors (asker_id, last_seq) VALUES (?, 1)
	ON CONFLICT (asker_id) DO UPDATE SET last_seq = asker_cursors.last_seq + 1
	RETURNING last_seq`

// QuestionRepo реализует repository.QuestionRepository
type QuestionRepo struct {
	db *gorm.DB
}

// NewQuestionRepo создает новый репозиторий вопросов
func NewQuestionRepo(db *gorm.DB) *QuestionRepo {
	return &QuestionRepo{db: db}
}

// Create создает вопрос и первое событие журнала в одной транзакции
func (r *QuestionRepo) Create(ctx context.Context, question *entity.Question) (*entity.StateTransition, error) {
	if err := entity.ValidateTransition("", question.State); err != nil {
		return nil, err
	}

	var ev entity.StateTransition
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(question).Error; err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: question %s already exists", apperrors.ErrConflict, question.ID)
			}
			return err
		}
		ev = entity.NewStateTransition(question, "")
		return appendTransition(tx, &ev)
	})
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// GetByID возвращает вопрос по ID
func (r *QuestionRepo) GetByID(ctx context.Context, id string) (*entity.Question, error) {
	var question entity.Question
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&question).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &question, nil
}

// Update блокирует строку вопроса (SELECT ... FOR UPDATE), применяет мутацию
// и фиксирует вопрос вместе с событием журнала
func (r *QuestionRepo) Update(ctx context.Context, id string, mutate repository.Mutation) (*entity.Question, *entity.StateTransition, error) {
	var (
		question entity.Question
		ev       entity.StateTransition
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			First(&question).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.ErrNotFound
			}
			return err
		}

		from := question.State
		if err := mutate(&question); err != nil {
			return err
		}
		if err := entity.ValidateTransition(from, question.State); err != nil {
			return err
		}
		if err := tx.Save(&question).Error; err != nil {
			return fmt.Errorf("save question %s: %w", id, err)
		}

		ev = entity.NewStateTransition(&question, from)
		return appendTransition(tx, &ev)
	})
	if err != nil {
		return nil, nil, err
	}
	return &question, &ev, nil
}

func appendTransition(tx *gorm.DB, ev *entity.StateTransition) error {
	var seq uint64
	if err := tx.Raw(nextSeqSQL, ev.AskerID).Scan(&seq).Error; err != nil {
		return fmt.Errorf("next seq for asker %s: %w", ev.AskerID, err)
	}
	ev.Seq = seq
	if err := tx.Create(ev).Error; err != nil {
		return fmt.Errorf("append transition for question %s: %w", ev.QuestionID, err)
	}
	return nil
}

// ListByAsker возвращает историю вопросов студента
func (r *QuestionRepo) ListByAsker(ctx context.Context, askerID string, limit, offset int) ([]entity.Question, error) {
	return r.list(ctx, limit, offset, "asker_id = ?", askerID)
}

// ListByState возвращает вопросы в заданном состоянии, старые первыми
func (r *QuestionRepo) ListByState(ctx context.Context, state entity.QuestionState, limit, offset int) ([]entity.Question, error) {
	return r.list(ctx, limit, offset, "state = ?", state)
}

// ListResolved возвращает закрытые вопросы по способу закрытия
func (r *QuestionRepo) ListResolved(ctx context.Context, resolution entity.Resolution, limit, offset int) ([]entity.Question, error) {
	return r.list(ctx, limit, offset, "state = ? AND resolution = ?", entity.QuestionStateResolved, resolution)
}

func (r *QuestionRepo) list(ctx context.Context, limit, offset int, query string, args ...interface{}) ([]entity.Question, error) {
	questions := make([]entity.Question, 0)
	err := r.db.WithContext(ctx).
		Where(query, args...).
		Order("created_at ASC, id ASC").
		Scopes(paginate(limit, offset)).
		Find(&questions).Error
	if err != nil {
		return nil, err
	}
	return questions, nil
}

// CountByState возвращает количество вопросов в каждом состоянии
func (r *QuestionRepo) CountByState(ctx context.Context) (map[entity.QuestionState]int64, error) {
	var rows []struct {
		State entity.QuestionState
		Total int64
	}
	err := r.db.WithContext(ctx).
		Model(&entity.Question{}).
		Select("state, COUNT(*) AS total").
		Group("state").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[entity.QuestionState]int64, len(rows))
	for _, row := range rows {
		counts[row.State] = row.Total
	}
	return counts, nil
}

// ListTransitions возвращает события студента после курсора в порядке seq
func (r *QuestionRepo) ListTransitions(ctx context.Context, askerID string, afterSeq uint64, limit int) ([]entity.StateTransition, error) {
	events := make([]entity.StateTransition, 0)
	err := r.db.WithContext(ctx).
		Where("asker_id = ? AND seq > ?", askerID, afterSeq).
		Order("seq ASC").
		Scopes(paginate(limit, 0)).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

// paginate не ограничивает выборку при limit <= 0
func paginate(limit, offset int) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if limit > 0 {
			db = db.Limit(limit)
		}
		if offset > 0 {
			db = db.Offset(offset)
		}
		return db
	}
}
