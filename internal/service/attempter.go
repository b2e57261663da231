package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"github.com/yourusername/eduquery-api/internal/answering"
	"github.com/yourusername/eduquery-api/internal/domain/entity"
	"github.com/yourusername/eduquery-api/internal/domain/repository"
	apperrors "github.com/yourusername/eduquery-api/internal/pkg/errors"
	"github.com/yourusername/eduquery-api/internal/pkg/reporting"
)

const (
	defaultAttemptWorkers = 4
	// storeTimeout ограничивает запись результата попытки, не связанную с запросом
	storeTimeout   = 10 * time.Second
	reconcileBatch = 100
)

// AttempterConfig содержит настройки пула попыток автоответа
type AttempterConfig struct {
	Deadline  time.Duration
	Workers   int
	QueueSize int
}

// Attempter выполняет ровно одну попытку автоответа на каждый вопрос.
// Попытки идут на ограниченном пуле воркеров и не зависят от HTTP запроса:
// отключение студента попытку не отменяет, отменяет только дедлайн.
type Attempter struct {
	generator answering.Generator
	lifecycle *Lifecycle
	router    *EscalationRouter
	cfg       AttempterConfig

	jobs     chan *entity.Question
	inflight sync.WaitGroup

	mu      sync.RWMutex
	started bool
	closed  bool
}

// NewAttempter создает пул попыток. Воркеры запускаются методом Start.
func NewAttempter(generator answering.Generator, lifecycle *Lifecycle, router *EscalationRouter, cfg AttempterConfig) (*Attempter, error) {
	if generator == nil {
		return nil, fmt.Errorf("generator is required for Attempter")
	}
	if cfg.Deadline <= 0 {
		return nil, fmt.Errorf("attempt deadline must be positive, got %s", cfg.Deadline)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultAttemptWorkers
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	return &Attempter{
		generator: generator,
		lifecycle: lifecycle,
		router:    router,
		cfg:       cfg,
		jobs:      make(chan *entity.Question, cfg.QueueSize),
	}, nil
}

// Start запускает воркеры
func (a *Attempter) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started || a.closed {
		return
	}
	a.started = true
	for i := 0; i < a.cfg.Workers; i++ {
		go a.worker()
	}
	log.Printf("[Attempter] Запущено %d воркеров (очередь %d, дедлайн %s)", a.cfg.Workers, a.cfg.QueueSize, a.cfg.Deadline)
}

func (a *Attempter) worker() {
	for q := range a.jobs {
		a.run(q)
	}
}

// Attempt планирует попытку и сразу возвращает управление.
// Переполненная очередь не теряет попытку: она запускается отдельной горутиной.
func (a *Attempter) Attempt(q *entity.Question) {
	snapshot := q.Clone()

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		log.Printf("[Attempter] Пул остановлен, попытка для вопроса %s выполняется вне пула", snapshot.ID)
		go a.execute(snapshot)
		return
	}

	a.inflight.Add(1)
	if !a.started {
		go a.run(snapshot)
		return
	}
	select {
	case a.jobs <- snapshot:
	default:
		log.Printf("[Attempter] Очередь заполнена, попытка для вопроса %s запущена отдельно", snapshot.ID)
		go a.run(snapshot)
	}
}

// Wait закрывает прием новых задач в пул и ждет завершения всех попыток
// не дольше ctx
func (a *Attempter) Wait(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.jobs)
	}
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Println("[Attempter] Все попытки завершены")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("attempter drain interrupted: %w", ctx.Err())
	}
}

func (a *Attempter) run(q *entity.Question) {
	defer a.inflight.Done()
	a.execute(q)
}

func (a *Attempter) execute(q *entity.Question) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic in auto answer attempt: %v", r)
			reporting.Critical("Attempter", err, map[string]interface{}{
				"question_id": q.ID,
				"stack":       string(debug.Stack()),
			})
			a.escalate(q.ID, entity.EscalationReasonAutoAnswerFailed, err.Error())
		}
	}()

	genCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Deadline)
	defer cancel()

	var answer answering.Answer
	var err error
	select {
	case res := <-a.generate(genCtx, q):
		answer, err = res.answer, res.err
	case <-genCtx.Done():
		// генератор не уложился в дедлайн; его поздний результат будет отброшен
		err = genCtx.Err()
	}
	deadlineExceeded := errors.Is(genCtx.Err(), context.DeadlineExceeded)

	if err == nil && !deadlineExceeded {
		answer, err = answering.Normalize(answer)
	}

	switch {
	case deadlineExceeded || errors.Is(err, context.DeadlineExceeded):
		log.Printf("[Attempter] Вопрос %s: дедлайн %s истек", q.ID, a.cfg.Deadline)
		a.escalate(q.ID, entity.EscalationReasonAutoAnswerTimeout, fmt.Sprintf("auto answer deadline of %s exceeded", a.cfg.Deadline))
	case err != nil:
		log.Printf("[Attempter] Вопрос %s: автоответ не получен: %v", q.ID, err)
		a.escalate(q.ID, entity.EscalationReasonAutoAnswerFailed, err.Error())
	default:
		a.applyAnswer(q.ID, answer)
	}
}

type generateResult struct {
	answer answering.Answer
	err    error
}

// generate вызывает генератор в отдельной горутине, чтобы дедлайн
// срабатывал и для генератора, который игнорирует ctx.
// Канал буферизован: брошенная горутина завершится без читателя.
func (a *Attempter) generate(ctx context.Context, q *entity.Question) <-chan generateResult {
	out := make(chan generateResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				err := fmt.Errorf("panic in auto answer generator: %v", r)
				reporting.Critical("Attempter", err, map[string]interface{}{
					"question_id": q.ID,
					"stack":       string(debug.Stack()),
				})
				out <- generateResult{err: err}
			}
		}()
		answer, err := a.generator.Generate(ctx, answering.Request{
			QuestionID: q.ID,
			AskerID:    q.AskerID,
			Text:       q.Text,
		})
		out <- generateResult{answer: answer, err: err}
	}()
	return out
}

// applyAnswer фиксирует автоответ и сразу передает вопрос роутеру.
// Это два перехода: asked -> auto_answered и auto_answered -> resolved|escalated.
func (a *Attempter) applyAnswer(id string, answer answering.Answer) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	_, err := a.lifecycle.Apply(ctx, id, func(q *entity.Question, now time.Time) error {
		return q.RecordAutoAnswer(answer.Text, answer.Confidence, now)
	})
	if err != nil {
		a.reportStoreError(id, "record auto answer", err)
		return
	}

	if _, err := a.lifecycle.Apply(ctx, id, a.router.Route); err != nil {
		a.reportStoreError(id, "route auto answer", err)
	}
}

func (a *Attempter) escalate(id string, reason entity.EscalationReason, failure string) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	_, err := a.lifecycle.Apply(ctx, id, func(q *entity.Question, now time.Time) error {
		return q.Escalate(reason, failure, now)
	})
	if err != nil {
		a.reportStoreError(id, "escalate", err)
	}
}

func (a *Attempter) reportStoreError(id, op string, err error) {
	if errors.Is(err, apperrors.ErrInvalidTransition) {
		// вопрос уже ушел из asked (например, его закрыл reconciler), результат не нужен
		log.Printf("[Attempter] Вопрос %s: %s пропущен: %v", id, op, err)
		return
	}
	reporting.Error("Attempter", fmt.Errorf("%s for question %s: %w", op, id, err), map[string]interface{}{"question_id": id})
}

// Reconcile находит вопросы, застрявшие после падения процесса:
// asked старше дедлайна эскалируются с причиной interrupted,
// auto_answered передаются роутеру. Возвращает число исправленных вопросов.
func (a *Attempter) Reconcile(ctx context.Context, repo repository.QuestionRepository) (int, error) {
	cutoff := a.lifecycle.Now().Add(-(a.cfg.Deadline + storeTimeout))
	fixed := 0

	stranded, err := collectByState(ctx, repo, entity.QuestionStateAsked)
	if err != nil {
		return fixed, err
	}
	for _, q := range stranded {
		if q.CreatedAt.After(cutoff) {
			// попытка может еще выполняться на другом экземпляре
			continue
		}
		_, err := a.lifecycle.Apply(ctx, q.ID, func(q *entity.Question, now time.Time) error {
			return q.Escalate(entity.EscalationReasonInterrupted, "auto answer attempt was interrupted", now)
		})
		if err != nil {
			if errors.Is(err, apperrors.ErrInvalidTransition) {
				continue
			}
			return fixed, fmt.Errorf("escalate stranded question %s: %w", q.ID, err)
		}
		fixed++
	}

	unrouted, err := collectByState(ctx, repo, entity.QuestionStateAutoAnswered)
	if err != nil {
		return fixed, err
	}
	for _, q := range unrouted {
		if _, err := a.lifecycle.Apply(ctx, q.ID, a.router.Route); err != nil {
			if errors.Is(err, apperrors.ErrInvalidTransition) {
				continue
			}
			return fixed, fmt.Errorf("route stranded question %s: %w", q.ID, err)
		}
		fixed++
	}

	if fixed > 0 {
		log.Printf("[Attempter] Reconcile: исправлено %d вопросов", fixed)
	}
	return fixed, nil
}

// RunReconciler периодически вызывает Reconcile, пока ctx жив
func (a *Attempter) RunReconciler(ctx context.Context, repo repository.QuestionRepository, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.Reconcile(ctx, repo); err != nil && ctx.Err() == nil {
				reporting.Error("Attempter", fmt.Errorf("reconcile: %w", err), nil)
			}
		}
	}
}

// collectByState читает все вопросы в состоянии целиком, до мутаций,
// чтобы смещение страниц не сбивалось
func collectByState(ctx context.Context, repo repository.QuestionRepository, state entity.QuestionState) ([]entity.Question, error) {
	var all []entity.Question
	for offset := 0; ; offset += reconcileBatch {
		page, err := repo.ListByState(ctx, state, reconcileBatch, offset)
		if err != nil {
			return nil, fmt.Errorf("list %s questions: %w", state, err)
		}
		all = append(all, page...)
		if len(page) < reconcileBatch {
			return all, nil
		}
	}
}
