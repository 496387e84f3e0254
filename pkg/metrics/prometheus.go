// Package metrics provides Prometheus metrics for the field presence engine.
package metrics

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager manages all Prometheus metrics for the presence engine.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          atomic.Bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Estimator
	fixesIngested      prometheus.Counter
	corrections        *prometheus.CounterVec
	motionSamples      *prometheus.CounterVec
	predictionTicks    prometheus.Counter
	loopTaskLatency    *prometheus.HistogramVec
	estimateAccuracy   prometheus.Gauge
	estimateVelocity   prometheus.Gauge
	geofenceEvaluation *prometheus.CounterVec

	// Registration
	registrationTransitions *prometheus.CounterVec
	registrationState       prometheus.Gauge
	registrationOutcomes    *prometheus.CounterVec
	registrationLatency     prometheus.Histogram

	// AWOL
	awolAlerts *prometheus.CounterVec

	// Telemetry
	telemetryBufferSize     prometheus.Gauge
	telemetryRecordsDropped prometheus.Counter
	telemetryUploads        *prometheus.CounterVec
	telemetryBatchSize      prometheus.Histogram

	// Heartbeat
	heartbeats     *prometheus.CounterVec
	colleagueCount prometheus.Gauge

	// Positioning
	positioningErrors *prometheus.CounterVec
	positioningState  prometheus.Gauge

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Outbound calls to the backend
	outboundRequests        *prometheus.CounterVec
	outboundRequestDuration *prometheus.HistogramVec

	// Queue Metrics
	queueCapacity      prometheus.Gauge
	queueSize          prometheus.Gauge
	queueEnqueueRate   prometheus.Counter
	queueDequeueRate   prometheus.Counter
	queueEnqueueErrors prometheus.Counter

	// Worker Metrics
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrorRate         prometheus.Counter

	// Errors
	errorRateByComponent *prometheus.CounterVec

	// System Performance Metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "presence",
		subsystem:        "engine",
		histogramBuckets: prometheus.DefBuckets,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		metricPrefix:     "",
		registry:         prometheus.DefaultRegisterer,
	}

	m.enabled.Store(true)

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) name(n string) string {
	if m.metricPrefix == "" {
		return n
	}
	return m.metricPrefix + "_" + n
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help,
		ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help,
		ConstLabels: m.customLabels, Buckets: buckets,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help,
		ConstLabels: m.customLabels, Buckets: m.histogramBuckets,
	}, labels)
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	// Estimator
	m.fixesIngested = m.counter("fixes_ingested_total", "Total number of positioning fixes ingested")
	m.corrections = m.counterVec("estimator_corrections_total", "Fix corrections applied by kind (seed, snap, blend)", "kind")
	m.motionSamples = m.counterVec("motion_samples_total", "Motion samples by result (accepted, dropped)", "result")
	m.predictionTicks = m.counter("prediction_ticks_total", "Total number of dead-reckoning ticks")
	m.loopTaskLatency = m.histogramVec("loop_task_latency_milliseconds", "Time spent in each engine loop task", "task")
	m.estimateAccuracy = m.gauge("estimate_accuracy_meters", "Accuracy of the current estimate in meters")
	m.estimateVelocity = m.gauge("estimate_velocity_meters_per_second", "Velocity of the current estimate")
	m.geofenceEvaluation = m.counterVec("geofence_evaluations_total", "Geofence evaluations by result (inside, outside)", "result")

	// Registration
	m.registrationTransitions = m.counterVec("registration_transitions_total", "Registration state transitions", "from", "to")
	m.registrationState = m.gauge("registration_state", "Current registration state as its enum value")
	m.registrationOutcomes = m.counterVec("registration_outcomes_total", "Registration call outcomes (success, rejected, network)", "outcome")
	m.registrationLatency = m.histogram("registration_latency_milliseconds", "Registration call latency in milliseconds", m.histogramBuckets)

	// AWOL
	m.awolAlerts = m.counterVec("awol_alerts_total", "Boundary exits by outcome (raised, suppressed)", "outcome")

	// Telemetry
	m.telemetryBufferSize = m.gauge("telemetry_buffer_size", "Records waiting in the telemetry buffer")
	m.telemetryRecordsDropped = m.counter("telemetry_records_dropped_total", "Telemetry records discarded because the buffer was full")
	m.telemetryUploads = m.counterVec("telemetry_uploads_total", "Telemetry batch uploads by result", "result")
	m.telemetryBatchSize = m.histogram("telemetry_batch_size", "Records per uploaded telemetry batch",
		[]float64{1, 10, 50, 100, 250, 500, 1000})

	// Heartbeat
	m.heartbeats = m.counterVec("heartbeats_total", "Heartbeats by result", "result")
	m.colleagueCount = m.gauge("colleagues", "Colleagues returned by the last heartbeat")

	// Positioning
	m.positioningErrors = m.counterVec("positioning_errors_total", "Positioning errors by kind", "kind")
	m.positioningState = m.gauge("positioning_acquired", "1 while positioning fixes are arriving, 0 otherwise")

	// HTTP Performance Metrics
	m.httpRequests = m.counterVec("http_requests_total", "Total number of HTTP requests by endpoint and method",
		"endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds",
		"endpoint", "method", "status_code")

	// Outbound
	m.outboundRequests = m.counterVec("outbound_requests_total", "Backend calls by endpoint and result", "endpoint", "result")
	m.outboundRequestDuration = m.histogramVec("outbound_request_duration_milliseconds", "Backend call duration in milliseconds", "endpoint")

	// Queue Metrics
	m.queueCapacity = m.gauge("queue_capacity", "Maximum outbound queue capacity")
	m.queueSize = m.gauge("queue_size", "Current size of the outbound queue")
	m.queueEnqueueRate = m.counter("queue_enqueue_total", "Total number of jobs enqueued")
	m.queueDequeueRate = m.counter("queue_dequeue_total", "Total number of jobs dequeued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Total number of enqueue errors")

	// Worker Metrics
	m.workerActiveCount = m.gauge("worker_active_count", "Number of active outbound workers")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds", "Worker job latency in milliseconds", m.histogramBuckets)
	m.workerErrorRate = m.counter("worker_errors_total", "Total number of failed worker jobs")

	// Errors
	m.errorRateByComponent = m.counterVec("errors_by_component_total", "Total number of errors by component", "component", "error_type")

	// System Performance Metrics
	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

func on() bool { return globalManager.enabled.Load() }

// Estimator Metrics Functions.

// RecordFixIngested increments the fixes counter.
func RecordFixIngested() {
	if on() {
		globalManager.fixesIngested.Inc()
	}
}

// RecordCorrection counts a fix correction of the given kind.
func RecordCorrection(kind string) {
	if on() {
		globalManager.corrections.WithLabelValues(kind).Inc()
	}
}

// RecordMotionSample counts a motion sample as accepted or dropped.
func RecordMotionSample(accepted bool) {
	if !on() {
		return
	}
	result := "accepted"
	if !accepted {
		result = "dropped"
	}
	globalManager.motionSamples.WithLabelValues(result).Inc()
}

// RecordPredictionTick increments the prediction tick counter.
func RecordPredictionTick() {
	if on() {
		globalManager.predictionTicks.Inc()
	}
}

// RecordLoopTaskLatency records the time a loop task took in milliseconds.
func RecordLoopTaskLatency(task string, latencyMs float64) {
	if on() {
		globalManager.loopTaskLatency.WithLabelValues(task).Observe(latencyMs)
	}
}

// UpdateEstimate publishes accuracy and velocity of the current estimate.
func UpdateEstimate(accuracy, velocity float64) {
	if on() {
		globalManager.estimateAccuracy.Set(accuracy)
		globalManager.estimateVelocity.Set(velocity)
	}
}

// RecordGeofenceEvaluation counts a containment evaluation.
func RecordGeofenceEvaluation(inside bool) {
	if !on() {
		return
	}
	result := "outside"
	if inside {
		result = "inside"
	}
	globalManager.geofenceEvaluation.WithLabelValues(result).Inc()
}

// Registration Metrics Functions.

// RecordRegistrationTransition counts a state change and updates the state gauge.
func RecordRegistrationTransition(from, to string, state int) {
	if on() {
		globalManager.registrationTransitions.WithLabelValues(from, to).Inc()
		globalManager.registrationState.Set(float64(state))
	}
}

// RecordRegistrationOutcome counts a registration call result.
func RecordRegistrationOutcome(outcome string, latencyMs float64) {
	if on() {
		globalManager.registrationOutcomes.WithLabelValues(outcome).Inc()
		globalManager.registrationLatency.Observe(latencyMs)
	}
}

// RecordAWOL counts a boundary exit as raised or suppressed.
func RecordAWOL(outcome string) {
	if on() {
		globalManager.awolAlerts.WithLabelValues(outcome).Inc()
	}
}

// Telemetry Metrics Functions.

// UpdateTelemetryBufferSize sets the buffered record count.
func UpdateTelemetryBufferSize(size int) {
	if on() {
		globalManager.telemetryBufferSize.Set(float64(size))
	}
}

// RecordTelemetryDropped adds n discarded records.
func RecordTelemetryDropped(n int) {
	if on() && n > 0 {
		globalManager.telemetryRecordsDropped.Add(float64(n))
	}
}

// RecordTelemetryUpload counts a batch upload and its size.
func RecordTelemetryUpload(result string, size int) {
	if on() {
		globalManager.telemetryUploads.WithLabelValues(result).Inc()
		globalManager.telemetryBatchSize.Observe(float64(size))
	}
}

// RecordHeartbeat counts a heartbeat and the colleagues it returned.
func RecordHeartbeat(result string, colleagues int) {
	if !on() {
		return
	}
	globalManager.heartbeats.WithLabelValues(result).Inc()
	if result == "success" {
		globalManager.colleagueCount.Set(float64(colleagues))
	}
}

// Positioning Metrics Functions.

// RecordPositioningError counts a positioning error by kind.
func RecordPositioningError(kind string) {
	if on() {
		globalManager.positioningErrors.WithLabelValues(kind).Inc()
	}
}

// UpdatePositioningAcquired flags whether fixes are currently arriving.
func UpdatePositioningAcquired(acquired bool) {
	if !on() {
		return
	}
	v := 0.0
	if acquired {
		v = 1
	}
	globalManager.positioningState.Set(v)
}

// HTTP Metrics Functions.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	if on() {
		globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	}
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	if on() {
		globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
	}
}

// RecordOutboundRequest records a backend call.
func RecordOutboundRequest(endpoint, result string, latencyMs float64) {
	if on() {
		globalManager.outboundRequests.WithLabelValues(endpoint, result).Inc()
		globalManager.outboundRequestDuration.WithLabelValues(endpoint).Observe(latencyMs)
	}
}

// Queue Metrics Functions.

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	if on() {
		globalManager.queueCapacity.Set(float64(capacity))
	}
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	if on() {
		globalManager.queueSize.Set(float64(size))
	}
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	if on() {
		globalManager.queueEnqueueRate.Inc()
	}
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	if on() {
		globalManager.queueDequeueRate.Inc()
	}
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	if on() {
		globalManager.queueEnqueueErrors.Inc()
	}
}

// Worker Metrics Functions.

// UpdateWorkerActiveCount sets the number of active workers.
func UpdateWorkerActiveCount(count int) {
	if on() {
		globalManager.workerActiveCount.Set(float64(count))
	}
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	if on() {
		globalManager.workerProcessingLatency.Observe(latencyMs)
	}
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	if on() {
		globalManager.workerErrorRate.Inc()
	}
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	if on() {
		globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
	}
}

// System Performance Metrics Functions.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	if on() {
		globalManager.systemMemoryUsage.Set(float64(bytes))
	}
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	if on() {
		globalManager.systemGoroutineCount.Set(float64(count))
	}
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	if on() {
		globalManager.systemGCPauseTime.Observe(pauseMs)
	}
}

// StartSystemCollector samples runtime memory, goroutine and GC stats every
// refresh interval until ctx is done.
func StartSystemCollector(ctx context.Context) {
	interval := globalManager.refreshInterval
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		var lastGC uint32
		for {
			var ms runtime.MemStats
			runtime.ReadMemStats(&ms)
			UpdateSystemMemoryUsage(ms.Alloc)
			UpdateSystemGoroutineCount(runtime.NumGoroutine())
			ring := uint32(len(ms.PauseNs))
			start := lastGC
			if ms.NumGC-start > ring {
				start = ms.NumGC - ring
			}
			for i := start; i < ms.NumGC; i++ {
				RecordSystemGCPauseTime(float64(ms.PauseNs[i%ring]) / float64(time.Millisecond))
			}
			lastGC = ms.NumGC

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// SetEnabled toggles recording on the global manager.
func SetEnabled(enabled bool) {
	globalManager.enabled.Store(enabled)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
