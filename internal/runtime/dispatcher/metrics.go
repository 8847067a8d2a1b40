package dispatcher

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels recorded per dispatch.
const (
	OutcomeSuccess       = "success"
	OutcomeNoHandler     = "no_handler"
	OutcomeParseFailed   = "parse_failed"
	OutcomeHandlerFailed = "handler_failed"
	OutcomeTimeout       = "timeout"
	OutcomeCanceled      = "canceled"
)

// Metrics exports dispatch counters and latencies to Prometheus.
type Metrics struct {
	mu sync.Mutex

	dispatchTotal *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	inFlight      prometheus.Gauge

	registerer prometheus.Registerer
	registered bool
}

// NewMetrics creates the collectors. Call Register before use; a nil
// registerer selects prometheus.DefaultRegisterer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &Metrics{
		registerer: registerer,
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hookflow",
			Name:      "dispatch_total",
			Help:      "Dispatched messages by outcome and the registry level they resolved at.",
		}, []string{"outcome", "level"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hookflow",
			Name:      "dispatch_duration_seconds",
			Help:      "Time from receipt to handler completion.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10, 30},
		}, []string{"outcome"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hookflow",
			Name:      "dispatch_in_flight",
			Help:      "Handlers currently executing, including abandoned ones that have not returned yet.",
		}),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}
	for _, c := range []prometheus.Collector{m.dispatchTotal, m.duration, m.inFlight} {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	m.registered = true
	return nil
}

func (m *Metrics) observe(outcome, level string, d time.Duration) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(outcome, level).Inc()
	m.duration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) handlerStarted() {
	if m != nil {
		m.inFlight.Inc()
	}
}

func (m *Metrics) handlerReturned() {
	if m != nil {
		m.inFlight.Dec()
	}
}
