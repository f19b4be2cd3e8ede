package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "exam_gateway_active_sessions",
		Help: "Number of active exam sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exam_gateway_sessions_total",
		Help: "Total number of exam sessions processed",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "exam_gateway_session_duration_seconds",
		Help:    "Duration of exam sessions in seconds",
		Buckets: []float64{60, 300, 600, 1200, 1800, 2700, 3600, 5400},
	})

	// STT metrics
	sttRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exam_gateway_stt_requests_total",
		Help: "Total number of STT requests",
	}, []string{"status"})

	// Speech synthesis metrics
	synthesisRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exam_gateway_synthesis_requests_total",
		Help: "Total number of speech synthesis requests",
	}, []string{"status"})

	synthesisLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "exam_gateway_synthesis_latency_seconds",
		Help:    "Speech synthesis latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	// Command recognition metrics
	commandMatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exam_gateway_command_matches_total",
		Help: "Total number of recognized voice commands",
	}, []string{"command"})

	commandMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exam_gateway_command_misses_total",
		Help: "Total number of transcripts that matched no command",
	})

	// Persistence metrics
	checkpointWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exam_gateway_checkpoint_writes_total",
		Help: "Total number of session checkpoint writes",
	}, []string{"kind", "status"}) // kind: "progress", "answer", "finalize"

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exam_gateway_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "exam_gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exam_gateway_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exam_gateway_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"
)

// Metrics tracks metrics for a single exam session
type Metrics struct {
	sessionID          string
	startTime          time.Time
	synthesisStartTime time.Time
	mu                 sync.Mutex
}

// NewSessionMetrics creates a new metrics tracker for an exam session
func NewSessionMetrics(sessionID string) *Metrics {
	return &Metrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of an exam session
func (m *Metrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of an exam session
func (m *Metrics) RecordSessionEnd() {
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordSTTResult records the outcome of an STT request
func (m *Metrics) RecordSTTResult(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	sttRequests.WithLabelValues(status).Inc()
}

// RecordSynthesisStart records the start of a synthesis request
func (m *Metrics) RecordSynthesisStart() {
	m.mu.Lock()
	m.synthesisStartTime = time.Now()
	m.mu.Unlock()
}

// RecordSynthesisEnd records the end of a synthesis request
func (m *Metrics) RecordSynthesisEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.synthesisStartTime.IsZero() {
		synthesisLatency.Observe(time.Since(m.synthesisStartTime).Seconds())
	}

	status := "success"
	if !success {
		status = "error"
	}
	synthesisRequests.WithLabelValues(status).Inc()
}

// RecordCommandMatch records a recognized voice command
func (m *Metrics) RecordCommandMatch(command string) {
	commandMatches.WithLabelValues(command).Inc()
}

// RecordCommandMiss records a transcript that matched no command
func (m *Metrics) RecordCommandMiss() {
	commandMisses.Inc()
}

// RecordCheckpointWrite records a persistence write
func (m *Metrics) RecordCheckpointWrite(kind string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	checkpointWrites.WithLabelValues(kind, status).Inc()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records audio bytes processed
func (m *Metrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
