package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/eduquery-api/internal/domain/entity"
	"github.com/yourusername/eduquery-api/internal/domain/repository"
	apperrors "github.com/yourusername/eduquery-api/internal/pkg/errors"
)

const (
	idempotencyPending   = "pending"
	defaultIdemTTL       = 24 * time.Hour
	maxIdempotencyKeyLen = 128
)

// AttemptScheduler планирует асинхронную попытку автоответа
type AttemptScheduler interface {
	Attempt(q *entity.Question)
}

// Viewer - пользователь, запрашивающий вопрос
type Viewer struct {
	ID      string
	Teacher bool
}

// QuestionService - фасад для студентов: отправка вопросов, история и события
type QuestionService struct {
	repo      repository.QuestionRepository
	lifecycle *Lifecycle
	attempter AttemptScheduler
	cache     repository.CacheRepository
	idemTTL   time.Duration
	newID     func() string
}

// NewQuestionService создает сервис. cache может быть nil, тогда
// Idempotency-Key игнорируется.
func NewQuestionService(
	repo repository.QuestionRepository,
	lifecycle *Lifecycle,
	attempter AttemptScheduler,
	cache repository.CacheRepository,
	idemTTL time.Duration,
) *QuestionService {
	if idemTTL <= 0 {
		idemTTL = defaultIdemTTL
	}
	return &QuestionService{
		repo:      repo,
		lifecycle: lifecycle,
		attempter: attempter,
		cache:     cache,
		idemTTL:   idemTTL,
		newID:     uuid.NewString,
	}
}

// Submit создает вопрос в состоянии asked и планирует автоответ.
// Возвращает created=false, если тот же Idempotency-Key уже создал вопрос.
func (s *QuestionService) Submit(ctx context.Context, askerID, text, idempotencyKey string) (*entity.Question, bool, error) {
	q, err := entity.NewQuestion(s.newID(), askerID, text, s.lifecycle.Now())
	if err != nil {
		return nil, false, err
	}

	key, err := s.idempotencyKey(askerID, idempotencyKey)
	if err != nil {
		return nil, false, err
	}
	if key != "" {
		existing, claimed, err := s.claimKey(ctx, key)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, false, nil
		}
		if !claimed {
			key = "" // Redis недоступен, работаем без идемпотентности
		}
	}

	if err := s.lifecycle.Create(ctx, q); err != nil {
		if key != "" {
			s.releaseKey(key)
		}
		return nil, false, err
	}
	if key != "" {
		if err := s.cache.Set(ctx, key, q.ID, s.idemTTL); err != nil {
			// ключ не должен остаться в pending: повтор создаст новый вопрос, а не получит 409
			log.Printf("[QuestionService] Не удалось сохранить Idempotency-Key для вопроса %s: %v", q.ID, err)
			s.releaseKey(key)
		}
	}

	s.attempter.Attempt(q)
	return q, true, nil
}

func (s *QuestionService) idempotencyKey(askerID, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || s.cache == nil {
		return "", nil
	}
	if len(raw) > maxIdempotencyKeyLen {
		return "", fmt.Errorf("%w: idempotency key is longer than %d bytes", apperrors.ErrValidation, maxIdempotencyKeyLen)
	}
	return fmt.Sprintf("idem:question:%s:%s", askerID, raw), nil
}

// claimKey резервирует ключ. Если ключ уже занят завершенной отправкой,
// возвращает созданный ею вопрос; если отправка еще идет - ErrConflict.
func (s *QuestionService) claimKey(ctx context.Context, key string) (*entity.Question, bool, error) {
	ok, err := s.cache.SetNX(ctx, key, idempotencyPending, s.idemTTL)
	if err != nil {
		log.Printf("[QuestionService] Ошибка Redis при проверке Idempotency-Key: %v", err)
		return nil, false, nil
	}
	if ok {
		return nil, true, nil
	}

	value, err := s.cache.Get(ctx, key)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			// ключ истек между SetNX и Get
			return nil, false, fmt.Errorf("%w: idempotency key expired, retry the request", apperrors.ErrConflict)
		}
		log.Printf("[QuestionService] Ошибка Redis при чтении Idempotency-Key: %v", err)
		return nil, false, nil
	}
	if value == idempotencyPending {
		return nil, false, fmt.Errorf("%w: request with the same idempotency key is in progress", apperrors.ErrConflict)
	}

	existing, err := s.repo.GetByID(ctx, value)
	if err != nil {
		return nil, false, fmt.Errorf("load question for idempotency key: %w", err)
	}
	return existing, false, nil
}

func (s *QuestionService) releaseKey(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, key); err != nil {
		log.Printf("[QuestionService] Не удалось освободить Idempotency-Key: %v", err)
	}
}

// Get возвращает вопрос. Студент видит только свои вопросы: чужой
// вопрос для него не существует.
func (s *QuestionService) Get(ctx context.Context, id string, viewer Viewer) (*entity.Question, error) {
	q, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !viewer.Teacher && q.AskerID != viewer.ID {
		return nil, apperrors.ErrNotFound
	}
	return q, nil
}

// History возвращает вопросы студента, старые первыми
func (s *QuestionService) History(ctx context.Context, askerID string, limit, offset int) ([]entity.Question, error) {
	return s.repo.ListByAsker(ctx, askerID, limit, offset)
}

// Events возвращает события студента после курсора
func (s *QuestionService) Events(ctx context.Context, askerID string, cursor uint64, limit int) ([]entity.StateTransition, error) {
	return s.repo.ListTransitions(ctx, askerID, cursor, limit)
}
