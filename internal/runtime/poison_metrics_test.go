package runtime

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestPoisonMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPoisonMetrics(reg)
	if err := m.Register(); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Register(); err != nil {
		t.Fatalf("second register should be a no-op: %v", err)
	}

	m.RecordPoisoned("poison", "no_handler")
	m.RecordPoisoned("poison", "no_handler")
	m.RecordPoisoned("poison", "parse_failed")
	m.RecordPoisoned("poison.other", "other")

	snapshot := m.Snapshot()
	if snapshot.TotalMessages != 4 {
		t.Fatalf("expected 4 messages, got %d", snapshot.TotalMessages)
	}
	topic := snapshot.TopicMetrics["poison"]
	if topic.MessagesReceived != 3 || topic.ByReason["no_handler"] != 2 || topic.ByReason["parse_failed"] != 1 {
		t.Fatalf("unexpected topic metrics: %+v", topic)
	}
	if topic.FirstMessageAt.After(topic.LastMessageAt) {
		t.Fatal("first message time must not be after last")
	}

	if got := gatheredCounter(t, reg, "hookflow_poison_messages_total"); got != 4 {
		t.Fatalf("expected exported counter total 4, got %v", got)
	}

	topic.ByReason["no_handler"] = 100
	if m.Snapshot().TopicMetrics["poison"].ByReason["no_handler"] != 2 {
		t.Fatal("snapshot must be a copy")
	}

	m.Reset()
	if m.Snapshot().TotalMessages != 0 {
		t.Fatal("expected reset to clear counts")
	}
}

func TestPoisonMetricsNil(t *testing.T) {
	var m *PoisonMetrics
	m.RecordPoisoned("poison", "other")
	if snapshot := m.Snapshot(); snapshot.TotalMessages != 0 || snapshot.TopicMetrics == nil {
		t.Fatalf("unexpected snapshot for nil metrics: %+v", snapshot)
	}
}

func gatheredCounter(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var total float64
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
	}
	return total
}
