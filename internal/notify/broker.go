// Package notify рассылает события смены состояния вопросов подписанным студентам.
//
// Каждый поток студента получает события строго в порядке seq и без дублей.
// Источником истины служит журнал переходов: подписка сначала дочитывает
// журнал после курсора, затем переключается на живые события, а любой
// разрыв последовательности (конкурентные коммиты, переполнение буфера,
// события с другого экземпляра) закрывается повторным чтением журнала.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/eduquery-api/internal/domain/entity"
)

const (
	defaultSubscriberBuffer = 64
	defaultReplayBatch      = 200
	backfillRetryDelay      = time.Second
)

// TransitionLog - источник событий для дочитывания после курсора
type TransitionLog interface {
	ListTransitions(ctx context.Context, askerID string, afterSeq uint64, limit int) ([]entity.StateTransition, error)
}

// Config содержит настройки брокера
type Config struct {
	SubscriberBuffer int
	ReplayBatch      int

	ClusterEnabled bool
	InstanceID     string
	Channel        string
}

type subscriber struct {
	askerID string
	live    chan entity.StateTransition
	// wake сигнализирует, что живые события терялись и нужно дочитать журнал
	wake chan struct{}
}

// Broker раздает события подписчикам этого экземпляра и пересылает их в кластер
type Broker struct {
	log      TransitionLog
	cfg      Config
	provider PubSubProvider
	metrics  *Metrics

	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBroker создает брокер. provider может быть nil, тогда используется NoOpPubSub.
func NewBroker(transitions TransitionLog, provider PubSubProvider, cfg Config) *Broker {
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = defaultSubscriberBuffer
	}
	if cfg.ReplayBatch <= 0 {
		cfg.ReplayBatch = defaultReplayBatch
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = "instance_" + uuid.NewString()
	}
	if provider == nil {
		provider = &NoOpPubSub{}
	}
	return &Broker{
		log:      transitions,
		cfg:      cfg,
		provider: provider,
		metrics:  NewMetrics(),
		subs:     make(map[string]map[*subscriber]struct{}),
	}
}

// InstanceID возвращает идентификатор экземпляра в кластере
func (b *Broker) InstanceID() string {
	return b.cfg.InstanceID
}

// Metrics возвращает счетчики брокера
func (b *Broker) Metrics() *Metrics {
	return b.metrics
}

// Start запускает прием событий из кластера, если он включен
func (b *Broker) Start(ctx context.Context) error {
	if !b.cfg.ClusterEnabled {
		log.Println("[Notify] Кластерный режим отключен, события раздаются только локально")
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	msgCh, err := b.provider.Subscribe(ctx, b.cfg.Channel)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe to cluster channel %s: %w", b.cfg.Channel, err)
	}
	b.cancel = cancel

	log.Printf("[Notify] Кластерный режим включен, ID экземпляра: %s, канал: %s", b.cfg.InstanceID, b.cfg.Channel)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.consumeCluster(ctx, msgCh)
	}()
	return nil
}

// Stop останавливает прием событий из кластера
func (b *Broker) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
}

func (b *Broker) consumeCluster(ctx context.Context, msgCh <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				log.Println("[Notify] Канал кластера закрыт")
				return
			}
			var msg ClusterMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				b.metrics.clusterErrors.Add(1)
				log.Printf("[Notify] Ошибка десериализации сообщения кластера: %v", err)
				continue
			}
			// Пропускаем сообщения от самого себя
			if msg.InstanceID == b.cfg.InstanceID {
				continue
			}
			b.metrics.clusterReceived.Add(1)
			b.dispatch(msg.Event)
		}
	}
}

// Publish раздает зафиксированное событие локальным подписчикам и в кластер.
// Вызывается после коммита, поэтому событие уже есть в журнале.
func (b *Broker) Publish(ev entity.StateTransition) {
	b.metrics.published.Add(1)
	b.dispatch(ev)

	if !b.cfg.ClusterEnabled {
		return
	}
	data, err := json.Marshal(ClusterMessage{
		InstanceID: b.cfg.InstanceID,
		Event:      ev,
		Timestamp:  time.Now(),
	})
	if err != nil {
		b.metrics.clusterErrors.Add(1)
		log.Printf("[Notify] Ошибка сериализации события %s#%d: %v", ev.AskerID, ev.Seq, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.provider.Publish(ctx, b.cfg.Channel, data); err != nil {
		// Подписчики других экземпляров восстановятся из журнала при переподключении
		b.metrics.clusterErrors.Add(1)
		log.Printf("[Notify] Ошибка публикации в кластер: %v", err)
	}
}

// dispatch никогда не блокирует: при переполнении буфера подписчик
// помечается отстающим и сам дочитает журнал
func (b *Broker) dispatch(ev entity.StateTransition) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs[ev.AskerID] {
		select {
		case s.live <- ev:
		default:
			b.metrics.dropped.Add(1)
			select {
			case s.wake <- struct{}{}:
			default:
			}
		}
	}
}

// Subscribe возвращает поток событий студента с seq > cursor.
// Поток бесконечен до отмены ctx, после чего канал закрывается.
func (b *Broker) Subscribe(ctx context.Context, askerID string, cursor uint64) (<-chan entity.StateTransition, error) {
	if askerID == "" {
		return nil, fmt.Errorf("asker id is required")
	}

	s := &subscriber{
		askerID: askerID,
		live:    make(chan entity.StateTransition, b.cfg.SubscriberBuffer),
		wake:    make(chan struct{}, 1),
	}
	// Регистрация до чтения журнала: событие, зафиксированное между чтением
	// и регистрацией, иначе было бы потеряно
	b.register(s)

	out := make(chan entity.StateTransition)
	go func() {
		defer close(out)
		defer b.unregister(s)
		b.pump(ctx, s, cursor, out)
	}()
	return out, nil
}

func (b *Broker) register(s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[s.askerID]
	if !ok {
		set = make(map[*subscriber]struct{})
		b.subs[s.askerID] = set
	}
	set[s] = struct{}{}
	b.metrics.subscriberAdded()
}

func (b *Broker) unregister(s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subs[s.askerID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(b.subs, s.askerID)
		}
	}
	b.metrics.subscriberRemoved()
}

// SubscriberCount возвращает число активных подписок студента
func (b *Broker) SubscriberCount(askerID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[askerID])
}

func (b *Broker) pump(ctx context.Context, s *subscriber, cursor uint64, out chan<- entity.StateTransition) {
	last := cursor

	send := func(ev entity.StateTransition) bool {
		select {
		case out <- ev:
			last = ev.Seq
			b.metrics.delivered.Add(1)
			return true
		case <-ctx.Done():
			return false
		}
	}

	// backfill дочитывает журнал после last. false - поток завершается.
	var retry <-chan time.Time
	backfill := func() bool {
		b.metrics.backfills.Add(1)
		for {
			events, err := b.log.ListTransitions(ctx, s.askerID, last, b.cfg.ReplayBatch)
			if err != nil {
				if ctx.Err() != nil {
					return false
				}
				log.Printf("[Notify] Ошибка чтения журнала студента %s после seq=%d: %v", s.askerID, last, err)
				retry = time.After(backfillRetryDelay)
				return true
			}
			for _, ev := range events {
				if ev.Seq <= last {
					continue
				}
				if !send(ev) {
					return false
				}
			}
			if len(events) < b.cfg.ReplayBatch {
				return true
			}
		}
	}

	if !backfill() {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.live:
			switch {
			case ev.Seq <= last:
				// уже доставлено из журнала
			case ev.Seq == last+1:
				if !send(ev) {
					return
				}
			default:
				if !backfill() {
					return
				}
			}
		case <-s.wake:
			if !backfill() {
				return
			}
		case <-retry:
			retry = nil
			if !backfill() {
				return
			}
		}
	}
}
