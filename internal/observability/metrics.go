package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lexiqai/pronunciation-coach/internal/resilience"
)

// Submission outcomes
const (
	OutcomeSuccess        = "success"
	OutcomeAppError       = "app_error"
	OutcomeTransportError = "transport_error"
	OutcomeDiscarded      = "discarded"
)

var (
	// Cycle metrics
	cyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pronunciation_coach_cycles_total",
		Help: "Total number of practice cycles started (new sentence requests)",
	})

	// Sentence metrics
	sentenceRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pronunciation_coach_sentence_requests_total",
		Help: "Total number of sentence fetches",
	}, []string{"status"})

	sentenceLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pronunciation_coach_sentence_latency_seconds",
		Help:    "Sentence fetch latency in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	// Recording metrics
	recordingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pronunciation_coach_recordings_total",
		Help: "Total number of recording attempts",
	}, []string{"status"})

	recordingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pronunciation_coach_recording_duration_seconds",
		Help:    "Duration of finished recordings in seconds",
		Buckets: []float64{0.5, 1, 2, 3, 5, 10, 20, 30},
	})

	// Submission metrics
	submissionsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pronunciation_coach_submissions_in_flight",
		Help: "Number of scoring submissions currently outstanding",
	})

	submissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pronunciation_coach_submissions_total",
		Help: "Total number of scoring submissions by outcome",
	}, []string{"outcome"})

	submissionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pronunciation_coach_submission_latency_seconds",
		Help:    "Scoring submission latency in seconds",
		Buckets: []float64{0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	})

	overallScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pronunciation_coach_overall_score",
		Help:    "Overall pronunciation scores returned by the scoring service",
		Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pronunciation_coach_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pronunciation_coach_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pronunciation_coach_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesUploaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pronunciation_coach_audio_bytes_uploaded_total",
		Help: "Total WAV bytes submitted for scoring",
	})
)

// Metrics tracks metrics for a single practice cycle
type Metrics struct {
	cycleID            string
	recordingStartTime time.Time
	submitStartTime    time.Time
	mu                 sync.Mutex
}

// NewCycleMetrics creates a new metrics tracker for a practice cycle
func NewCycleMetrics(cycleID string) *Metrics {
	return &Metrics{cycleID: cycleID}
}

// CycleID returns the tracked cycle
func (m *Metrics) CycleID() string {
	return m.cycleID
}

// RecordCycleStart records a new sentence request
func (m *Metrics) RecordCycleStart() {
	cyclesTotal.Inc()
}

// RecordRecordingStart records the start of audio capture
func (m *Metrics) RecordRecordingStart(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if success {
		m.recordingStartTime = time.Now()
		recordingsTotal.WithLabelValues("started").Inc()
		return
	}
	recordingsTotal.WithLabelValues("failed").Inc()
}

// RecordRecordingEnd records the end of audio capture
func (m *Metrics) RecordRecordingEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.recordingStartTime.IsZero() {
		recordingDuration.Observe(time.Since(m.recordingStartTime).Seconds())
		m.recordingStartTime = time.Time{}
	}

	status := "stopped"
	if !success {
		status = "failed"
	}
	recordingsTotal.WithLabelValues(status).Inc()
}

// RecordSubmissionStart records dispatch of a scoring submission
func (m *Metrics) RecordSubmissionStart(audioBytes int) {
	m.mu.Lock()
	m.submitStartTime = time.Now()
	m.mu.Unlock()

	submissionsInFlight.Inc()
	audioBytesUploaded.Add(float64(audioBytes))
}

// RecordSubmissionEnd records a terminal submission outcome
func (m *Metrics) RecordSubmissionEnd(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.submitStartTime.IsZero() {
		submissionLatency.Observe(time.Since(m.submitStartTime).Seconds())
		m.submitStartTime = time.Time{}
	}

	submissionsInFlight.Dec()
	submissionsTotal.WithLabelValues(outcome).Inc()
}

// RecordScore records an overall score
func (m *Metrics) RecordScore(score float64) {
	overallScore.Observe(score)
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordSentenceFetch records one sentence fetch attempt
func RecordSentenceFetch(latency time.Duration, success bool) {
	sentenceLatency.Observe(latency.Seconds())

	status := "success"
	if !success {
		status = "error"
	}
	sentenceRequests.WithLabelValues(status).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}

// BindCircuitBreaker publishes a breaker's transitions as metrics
func BindCircuitBreaker(cb *resilience.CircuitBreaker) {
	UpdateCircuitBreakerState(cb.Name(), int(cb.GetState()))
	cb.OnStateChange(func(name string, from, to resilience.CircuitState) {
		UpdateCircuitBreakerState(name, int(to))
		if to == resilience.StateOpen {
			IncrementCircuitBreakerFailures(name)
		}
		logger := WithComponent("resilience")
		logger.Warn().
			Str("service", name).
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("Circuit breaker state changed")
	})
}
