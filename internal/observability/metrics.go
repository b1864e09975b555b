package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Request metrics
	activeSyntheses = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tts_gateway_active_syntheses",
		Help: "Number of synthesis requests in flight",
	})

	synthesisRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tts_gateway_synthesis_requests_total",
		Help: "Total number of synthesis requests",
	}, []string{"status", "voice"})

	synthesisLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tts_gateway_synthesis_latency_seconds",
		Help:    "End-to-end synthesis latency in seconds",
		Buckets: []float64{0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
	})

	timeToFirstChunk = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tts_gateway_time_to_first_chunk_seconds",
		Help:    "Time from opening the provider stream to the first chunk",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	// Output metrics
	audioBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tts_gateway_audio_bytes_total",
		Help: "Total synthesized audio bytes returned to callers",
	})

	alignmentWords = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tts_gateway_alignment_words",
		Help:    "Number of aligned words per synthesis",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tts_gateway_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tts_gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tts_gateway_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// SynthesisMetrics tracks metrics for a single synthesis request.
// It is owned by one request goroutine and is not safe for concurrent use.
type SynthesisMetrics struct {
	voice       string
	startTime   time.Time
	streamStart time.Time
	firstChunk  bool
}

// NewSynthesisMetrics creates a new metrics tracker for a request
func NewSynthesisMetrics(voice string) *SynthesisMetrics {
	return &SynthesisMetrics{
		voice:     voice,
		startTime: time.Now(),
	}
}

// RecordStart records the start of a synthesis
func (m *SynthesisMetrics) RecordStart() {
	activeSyntheses.Inc()
}

// RecordStreamOpened marks the moment the provider stream was opened
func (m *SynthesisMetrics) RecordStreamOpened() {
	m.streamStart = time.Now()
	m.firstChunk = false
}

// RecordChunk observes time-to-first-chunk once per stream
func (m *SynthesisMetrics) RecordChunk() {
	if m.firstChunk || m.streamStart.IsZero() {
		return
	}
	m.firstChunk = true
	timeToFirstChunk.Observe(time.Since(m.streamStart).Seconds())
}

// RecordEnd records the end of a synthesis
func (m *SynthesisMetrics) RecordEnd(success bool) {
	activeSyntheses.Dec()
	synthesisLatency.Observe(time.Since(m.startTime).Seconds())

	status := "success"
	if !success {
		status = "error"
	}
	synthesisRequests.WithLabelValues(status, m.voice).Inc()
}

// RecordOutput records the size of a successful result
func (m *SynthesisMetrics) RecordOutput(bytes, words int) {
	audioBytes.Add(float64(bytes))
	alignmentWords.Observe(float64(words))
}

// RecordError records an error
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
