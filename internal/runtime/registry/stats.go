package registry

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	errspkg "github.com/drblury/hookflow/internal/runtime/errors"
	"github.com/drblury/hookflow/internal/runtime/jsoncodec"
)

const (
	latencySampleSize    = 256
	throughputWindowSize = time.Minute
)

type ErrorCategory string

const (
	ErrorCategoryNone       ErrorCategory = "none"
	ErrorCategoryValidation ErrorCategory = "validation"
	ErrorCategoryTimeout    ErrorCategory = "timeout"
	ErrorCategoryDownstream ErrorCategory = "downstream"
	ErrorCategoryOther      ErrorCategory = "other"
)

// ErrorClassifier buckets handler errors for the per-entry error breakdown.
type ErrorClassifier func(error) ErrorCategory

// HandlerStats aggregates execution statistics of one registry entry.
type HandlerStats struct {
	mu sync.Mutex

	handlerName string

	MessagesProcessed   uint64    `json:"messages_processed"`
	MessagesFailed      uint64    `json:"messages_failed"`
	TotalProcessingTime int64     `json:"total_processing_time_ns"`
	LastProcessedAt     time.Time `json:"last_processed_at"`
	InFlight            uint64    `json:"in_flight"`
	MaxInFlight         uint64    `json:"max_in_flight"`

	Latency    LatencyMetrics    `json:"latency"`
	Throughput ThroughputMetrics `json:"throughput"`
	Errors     ErrorBreakdown    `json:"errors"`

	latencyWindow    *latencyWindow
	throughputWindow *throughputWindow
}

type LatencyMetrics struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

type ThroughputMetrics struct {
	CurrentRPS       float64 `json:"current_rps"`
	WindowSeconds    float64 `json:"window_seconds"`
	MessagesInWindow uint64  `json:"messages_in_window"`
	TotalMessages    uint64  `json:"total_messages"`
}

type ErrorBreakdown struct {
	Validation uint64 `json:"validation"`
	Timeout    uint64 `json:"timeout"`
	Downstream uint64 `json:"downstream"`
	Other      uint64 `json:"other"`
	LastError  string `json:"last_error,omitempty"`
}

func newHandlerStats(name string) *HandlerStats {
	return &HandlerStats{
		handlerName:      name,
		latencyWindow:    newLatencyWindow(latencySampleSize),
		throughputWindow: newThroughputWindow(throughputWindowSize),
	}
}

// Begin marks one execution as in flight.
func (h *HandlerStats) Begin() {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	h.InFlight++
	if h.InFlight > h.MaxInFlight {
		h.MaxInFlight = h.InFlight
	}
}

// Finish records the outcome of an execution started with Begin.
func (h *HandlerStats) Finish(duration time.Duration, err error, classifier ErrorClassifier) {
	if h == nil {
		return
	}
	if classifier == nil {
		classifier = DefaultErrorClassifier
	}
	category := classifier(err)
	now := time.Now()

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.InFlight > 0 {
		h.InFlight--
	}
	h.MessagesProcessed++
	if err != nil {
		h.MessagesFailed++
	}
	h.TotalProcessingTime += int64(duration)
	h.LastProcessedAt = now.UTC()

	h.latencyWindow.Add(duration)
	snapshot := h.latencyWindow.Snapshot()
	snapshot.AverageNs = h.TotalProcessingTime / int64(h.MessagesProcessed)
	h.Latency = snapshot

	tp := h.throughputWindow.AddAndSnapshot(now)
	h.Throughput.CurrentRPS = tp.CurrentRPS
	h.Throughput.WindowSeconds = tp.WindowSeconds
	h.Throughput.MessagesInWindow = uint64(tp.Count)
	h.Throughput.TotalMessages = h.MessagesProcessed

	h.Errors.Record(category, err)
}

// Snapshot returns a copy of the counters that is safe to read.
func (h *HandlerStats) Snapshot() HandlerStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HandlerStats{
		handlerName:         h.handlerName,
		MessagesProcessed:   h.MessagesProcessed,
		MessagesFailed:      h.MessagesFailed,
		TotalProcessingTime: h.TotalProcessingTime,
		LastProcessedAt:     h.LastProcessedAt,
		InFlight:            h.InFlight,
		MaxInFlight:         h.MaxInFlight,
		Latency:             h.Latency,
		Throughput:          h.Throughput,
		Errors:              h.Errors,
	}
}

func (h *HandlerStats) MarshalJSON() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	type Alias struct {
		Handler             string            `json:"handler"`
		MessagesProcessed   uint64            `json:"messages_processed"`
		MessagesFailed      uint64            `json:"messages_failed"`
		TotalProcessingTime int64             `json:"total_processing_time_ns"`
		LastProcessedAt     time.Time         `json:"last_processed_at"`
		InFlight            uint64            `json:"in_flight"`
		MaxInFlight         uint64            `json:"max_in_flight"`
		Latency             LatencyMetrics    `json:"latency"`
		Throughput          ThroughputMetrics `json:"throughput"`
		Errors              ErrorBreakdown    `json:"errors"`
	}
	return jsoncodec.Marshal(Alias{
		Handler:             h.handlerName,
		MessagesProcessed:   h.MessagesProcessed,
		MessagesFailed:      h.MessagesFailed,
		TotalProcessingTime: h.TotalProcessingTime,
		LastProcessedAt:     h.LastProcessedAt,
		InFlight:            h.InFlight,
		MaxInFlight:         h.MaxInFlight,
		Latency:             h.Latency,
		Throughput:          h.Throughput,
		Errors:              h.Errors,
	})
}

func (e *ErrorBreakdown) Record(category ErrorCategory, err error) {
	switch category {
	case ErrorCategoryNone:
		if err == nil {
			return
		}
		e.Other++
	case ErrorCategoryValidation:
		e.Validation++
	case ErrorCategoryTimeout:
		e.Timeout++
	case ErrorCategoryDownstream:
		e.Downstream++
	default:
		e.Other++
	}
	if err != nil {
		e.LastError = err.Error()
	}
}

// DefaultErrorClassifier maps parse failures to validation and deadline
// errors to timeout.
func DefaultErrorClassifier(err error) ErrorCategory {
	switch {
	case err == nil:
		return ErrorCategoryNone
	case errors.Is(err, errspkg.ErrMalformed),
		errors.Is(err, errspkg.ErrUnrecognizedType),
		errors.Is(err, errspkg.ErrParseFailed):
		return ErrorCategoryValidation
	case errors.Is(err, errspkg.ErrTimeout),
		errors.Is(err, errspkg.ErrCanceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return ErrorCategoryTimeout
	default:
		return ErrorCategoryOther
	}
}

type latencyWindow struct {
	samples []int64
	next    int
	filled  int
	last    int64
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{samples: make([]int64, size)}
}

func (lw *latencyWindow) Add(d time.Duration) {
	lw.samples[lw.next] = int64(d)
	lw.last = int64(d)
	lw.next = (lw.next + 1) % len(lw.samples)
	if lw.filled < len(lw.samples) {
		lw.filled++
	}
}

func (lw *latencyWindow) Snapshot() LatencyMetrics {
	metrics := LatencyMetrics{LastNs: lw.last}
	if lw.filled == 0 {
		return metrics
	}
	samples := make([]int64, lw.filled)
	for i := 0; i < lw.filled; i++ {
		idx := lw.next - lw.filled + i
		if idx < 0 {
			idx += len(lw.samples)
		}
		samples[i] = lw.samples[idx]
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	metrics.SampleSize = lw.filled
	metrics.P50Ns = percentile(samples, 0.50)
	metrics.P95Ns = percentile(samples, 0.95)
	metrics.P99Ns = percentile(samples, 0.99)
	return metrics
}

func percentile(samples []int64, quantile float64) int64 {
	if len(samples) == 0 {
		return 0
	}
	if quantile <= 0 {
		return samples[0]
	}
	if quantile >= 1 {
		return samples[len(samples)-1]
	}
	pos := quantile * float64(len(samples)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return samples[lower]
	}
	frac := pos - float64(lower)
	return samples[lower] + int64(float64(samples[upper]-samples[lower])*frac)
}

type throughputWindow struct {
	horizon time.Duration
	samples []time.Time
}

type throughputSnapshot struct {
	Count         int
	WindowSeconds float64
	CurrentRPS    float64
}

func newThroughputWindow(horizon time.Duration) *throughputWindow {
	return &throughputWindow{
		horizon: horizon,
		samples: make([]time.Time, 0, 64),
	}
}

func (tw *throughputWindow) AddAndSnapshot(now time.Time) throughputSnapshot {
	tw.samples = append(tw.samples, now)

	cutoff := now.Add(-tw.horizon)
	idx := 0
	for idx < len(tw.samples) && tw.samples[idx].Before(cutoff) {
		idx++
	}
	if idx > 0 {
		tw.samples = append(tw.samples[:0], tw.samples[idx:]...)
	}

	span := now.Sub(tw.samples[0])
	if span <= 0 {
		span = time.Nanosecond
	}
	count := len(tw.samples)
	return throughputSnapshot{
		Count:         count,
		WindowSeconds: span.Seconds(),
		CurrentRPS:    float64(count) / span.Seconds(),
	}
}
