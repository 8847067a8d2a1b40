package runtime

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PoisonMetrics tracks intake messages forwarded to the poison queue.
type PoisonMetrics struct {
	mu sync.RWMutex

	topics map[string]*PoisonTopicMetrics

	messagesTotal *prometheus.CounterVec
	lastPoisoned  *prometheus.GaugeVec

	registerer prometheus.Registerer
	registered bool
}

// PoisonTopicMetrics holds the counts for one poison queue topic.
type PoisonTopicMetrics struct {
	MessagesReceived uint64            `json:"messages_received"`
	ByReason         map[string]uint64 `json:"by_reason"`
	FirstMessageAt   time.Time         `json:"first_message_at,omitempty"`
	LastMessageAt    time.Time         `json:"last_message_at,omitempty"`
}

// PoisonMetricsSnapshot provides a point-in-time view of poison queue metrics.
type PoisonMetricsSnapshot struct {
	TotalMessages uint64                         `json:"total_messages"`
	TopicMetrics  map[string]*PoisonTopicMetrics `json:"topic_metrics"`
	CollectedAt   time.Time                      `json:"collected_at"`
}

// NewPoisonMetrics creates a poison queue metrics collector. Collectors are
// only exported once Register is called.
func NewPoisonMetrics(registerer prometheus.Registerer) *PoisonMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &PoisonMetrics{
		topics:     make(map[string]*PoisonTopicMetrics),
		registerer: registerer,
		messagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "hookflow",
				Subsystem: "poison",
				Name:      "messages_total",
				Help:      "Total number of intake messages forwarded to the poison queue",
			},
			[]string{"topic", "reason"},
		),
		lastPoisoned: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "hookflow",
				Subsystem: "poison",
				Name:      "last_message_timestamp_seconds",
				Help:      "Unix time of the last message forwarded to the poison queue",
			},
			[]string{"topic"},
		),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *PoisonMetrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	for _, c := range []prometheus.Collector{m.messagesTotal, m.lastPoisoned} {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// RecordPoisoned records one message forwarded to topic because of reason.
func (m *PoisonMetrics) RecordPoisoned(topic, reason string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	tm, ok := m.topics[topic]
	if !ok {
		tm = &PoisonTopicMetrics{ByReason: make(map[string]uint64), FirstMessageAt: now}
		m.topics[topic] = tm
	}
	tm.MessagesReceived++
	tm.ByReason[reason]++
	tm.LastMessageAt = now

	m.messagesTotal.WithLabelValues(topic, reason).Inc()
	m.lastPoisoned.WithLabelValues(topic).Set(float64(now.Unix()))
}

// Snapshot returns a copy of the current counts.
func (m *PoisonMetrics) Snapshot() PoisonMetricsSnapshot {
	snapshot := PoisonMetricsSnapshot{
		TopicMetrics: make(map[string]*PoisonTopicMetrics),
		CollectedAt:  time.Now(),
	}
	if m == nil {
		return snapshot
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for topic, tm := range m.topics {
		byReason := make(map[string]uint64, len(tm.ByReason))
		for reason, n := range tm.ByReason {
			byReason[reason] = n
		}
		snapshot.TopicMetrics[topic] = &PoisonTopicMetrics{
			MessagesReceived: tm.MessagesReceived,
			ByReason:         byReason,
			FirstMessageAt:   tm.FirstMessageAt,
			LastMessageAt:    tm.LastMessageAt,
		}
		snapshot.TotalMessages += tm.MessagesReceived
	}
	return snapshot
}

// Reset clears all counts.
func (m *PoisonMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.topics = make(map[string]*PoisonTopicMetrics)
	m.messagesTotal.Reset()
	m.lastPoisoned.Reset()
}
