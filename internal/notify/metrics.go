package notify

import (
	"sync/atomic"
	"time"
)

// Metrics собирает счетчики рассылки событий
type Metrics struct {
	activeSubscribers atomic.Int64
	totalSubscribers  atomic.Int64
	published         atomic.Int64
	delivered         atomic.Int64
	backfills         atomic.Int64
	dropped           atomic.Int64
	clusterReceived   atomic.Int64
	clusterErrors     atomic.Int64
	startTime         time.Time
}

// NewMetrics создает пустой набор счетчиков
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

func (m *Metrics) subscriberAdded() {
	m.activeSubscribers.Add(1)
	m.totalSubscribers.Add(1)
}

func (m *Metrics) subscriberRemoved() {
	m.activeSubscribers.Add(-1)
}

// Snapshot возвращает метрики в формате карты для JSON-ответа
func (m *Metrics) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"active_subscribers": m.activeSubscribers.Load(),
		"total_subscribers":  m.totalSubscribers.Load(),
		"events_published":   m.published.Load(),
		"events_delivered":   m.delivered.Load(),
		"backfills":          m.backfills.Load(),
		"events_dropped":     m.dropped.Load(),
		"cluster_received":   m.clusterReceived.Load(),
		"cluster_errors":     m.clusterErrors.Load(),
		"uptime_seconds":     time.Since(m.startTime).Seconds(),
	}
}
