// Package metrics provides Prometheus metrics for the pulse services.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the pulse services.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Live heartbeat ingest
	samplesIngested  prometheus.Counter
	samplesRejected  *prometheus.CounterVec
	ingestDuplicates prometheus.Counter
	liveRecords      prometheus.Gauge
	storeWrites      *prometheus.CounterVec

	// Wearable acquisition + relay
	sensorSamples   *prometheus.CounterVec
	acquisitionAuto prometheus.Counter
	relaySent       *prometheus.CounterVec
	relayCoalesced  prometheus.Counter
	relayErrors     prometheus.Counter
	relayLatency    prometheus.Histogram

	// Notification dispatch
	dispatchOutcomes *prometheus.CounterVec
	dispatchLatency  prometheus.Histogram
	pushTokens       *prometheus.CounterVec
	pushBatchLatency prometheus.Histogram

	// Reaper
	reaperDeleted     *prometheus.CounterVec
	reaperLastRunUnix prometheus.Gauge
	reaperDuration    prometheus.Histogram

	// Ranking cache
	rankingSyncDuration prometheus.Histogram
	rankingSyncEntries  prometheus.Gauge
	rankingSyncLastUnix prometheus.Gauge
	rankingSyncErrors   prometheus.Counter
	rankingReads        *prometheus.CounterVec

	// Change event queue
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueueRate   prometheus.Counter
	queueDequeueRate   prometheus.Counter
	queueEnqueueErrors prometheus.Counter

	// Dispatch workers
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec
	errorLatency         *prometheus.HistogramVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "pulse",
		subsystem:        "core",
		histogramBuckets: prometheus.DefBuckets,
		customLabels:     make(map[string]string),
		metricPrefix:     "",
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) name(n string) string {
	return m.metricPrefix + n
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels,
		Buckets: buckets,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels,
		Buckets: m.histogramBuckets,
	}, labels)
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	// Live heartbeat ingest
	m.samplesIngested = m.counter("samples_ingested_total", "Total number of valid heart-rate samples written to the live store")
	m.samplesRejected = m.counterVec("samples_rejected_total", "Total number of relay envelopes rejected at ingest", "reason")
	m.ingestDuplicates = m.counter("ingest_duplicates_total", "Total number of relay envelopes dropped as duplicates")
	m.liveRecords = m.gauge("live_records", "Number of live heartbeat records currently stored")
	m.storeWrites = m.counterVec("store_writes_total", "Live store mutations by kind", "kind")

	// Wearable acquisition + relay
	m.sensorSamples = m.counterVec("sensor_samples_total", "Sensor samples observed by the acquisition state machine", "validity")
	m.acquisitionAuto = m.counter("acquisition_auto_stops_total", "Monitoring sessions stopped after consecutive send skips")
	m.relaySent = m.counterVec("relay_sent_total", "Relay envelopes handed to the transport", "kind")
	m.relayCoalesced = m.counter("relay_coalesced_total", "Relay envelopes replaced in the mailbox before they were sent")
	m.relayErrors = m.counter("relay_errors_total", "Relay transport failures")
	m.relayLatency = m.histogram("relay_latency_milliseconds", "Relay transport call latency in milliseconds", m.histogramBuckets)

	// Notification dispatch
	m.dispatchOutcomes = m.counterVec("dispatch_outcomes_total", "Dispatcher invocations by outcome", "outcome")
	m.dispatchLatency = m.histogram("dispatch_latency_milliseconds", "Dispatcher invocation latency in milliseconds", m.histogramBuckets)
	m.pushTokens = m.counterVec("push_tokens_total", "Push tokens attempted by result", "result")
	m.pushBatchLatency = m.histogram("push_batch_latency_milliseconds", "Push batch send latency in milliseconds", m.histogramBuckets)

	// Reaper
	m.reaperDeleted = m.counterVec("reaper_deleted_total", "Records deleted by the stale data reaper", "kind")
	m.reaperLastRunUnix = m.gauge("reaper_last_run_unix", "Unix timestamp of the last completed reaper sweep")
	m.reaperDuration = m.histogram("reaper_duration_milliseconds", "Reaper sweep duration in milliseconds", m.histogramBuckets)

	// Ranking cache
	m.rankingSyncDuration = m.histogram("ranking_sync_duration_milliseconds", "Ranking bulk sync duration in milliseconds", m.histogramBuckets)
	m.rankingSyncEntries = m.gauge("ranking_sync_entries", "Entries written by the last ranking bulk sync")
	m.rankingSyncLastUnix = m.gauge("ranking_sync_last_unix", "Unix timestamp of the last successful ranking sync")
	m.rankingSyncErrors = m.counter("ranking_sync_errors_total", "Failed ranking bulk syncs")
	m.rankingReads = m.counterVec("ranking_reads_total", "Ranking reads by cache result", "result")

	// Change event queue
	m.queueSize = m.gauge("queue_size", "Current size of the change event queue")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum change event queue capacity")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Queue utilization ratio (current size / capacity)")
	m.queueEnqueueRate = m.counter("queue_enqueue_total", "Total number of change events enqueued")
	m.queueDequeueRate = m.counter("queue_dequeue_total", "Total number of change events dequeued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Total number of change events dropped at enqueue")

	// Dispatch workers
	m.workerActiveCount = m.gauge("worker_active_count", "Number of dispatch workers")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds", "Worker processing latency in milliseconds", m.histogramBuckets)

	// HTTP
	m.httpRequests = m.counterVec("http_requests_total", "Total number of HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds", "endpoint", "method", "status_code")

	// Errors
	m.errorRateByComponent = m.counterVec("errors_by_component_total", "Total number of errors by component", "component", "error_type")
	m.errorRateByType = m.counterVec("errors_by_type_total", "Total number of errors by type", "error_type", "severity")
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total", "Total number of errors by endpoint", "endpoint", "method", "error_type")
	m.errorLatency = m.histogramVec("error_latency_milliseconds", "Latency of operations that resulted in errors", "component", "error_type")

	// System
	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// Ingest Metrics Functions.

// RecordSampleIngested increments the ingested samples counter.
func RecordSampleIngested() {
	globalManager.samplesIngested.Inc()
}

// RecordSampleRejected increments the rejected samples counter for reason.
func RecordSampleRejected(reason string) {
	globalManager.samplesRejected.WithLabelValues(reason).Inc()
}

// RecordIngestDuplicate increments the duplicate envelope counter.
func RecordIngestDuplicate() {
	globalManager.ingestDuplicates.Inc()
}

// UpdateLiveRecords sets the number of live records.
func UpdateLiveRecords(count int) {
	globalManager.liveRecords.Set(float64(count))
}

// RecordStoreWrite counts a live store mutation (write, delete, notified).
func RecordStoreWrite(kind string) {
	globalManager.storeWrites.WithLabelValues(kind).Inc()
}

// Acquisition and Relay Metrics Functions.

// RecordSensorSample counts a sensor sample as "valid" or "invalid".
func RecordSensorSample(validity string) {
	globalManager.sensorSamples.WithLabelValues(validity).Inc()
}

// RecordAcquisitionAutoStop counts a monitoring session stopped by the skip threshold.
func RecordAcquisitionAutoStop() {
	globalManager.acquisitionAuto.Inc()
}

// RecordRelaySent counts an envelope handed to the transport ("value" or "cleared").
func RecordRelaySent(kind string) {
	globalManager.relaySent.WithLabelValues(kind).Inc()
}

// RecordRelayCoalesced counts an envelope replaced before it was sent.
func RecordRelayCoalesced() {
	globalManager.relayCoalesced.Inc()
}

// RecordRelayError counts a relay transport failure.
func RecordRelayError() {
	globalManager.relayErrors.Inc()
}

// RecordRelayLatency records relay transport latency.
func RecordRelayLatency(latencyMs float64) {
	globalManager.relayLatency.Observe(latencyMs)
}

// Dispatch Metrics Functions.

// RecordDispatchOutcome counts a dispatcher invocation by outcome.
func RecordDispatchOutcome(outcome string) {
	globalManager.dispatchOutcomes.WithLabelValues(outcome).Inc()
}

// RecordDispatchLatency records dispatcher latency.
func RecordDispatchLatency(latencyMs float64) {
	globalManager.dispatchLatency.Observe(latencyMs)
}

// RecordPushTokens adds push token results.
func RecordPushTokens(succeeded, failed int) {
	globalManager.pushTokens.WithLabelValues("success").Add(float64(succeeded))
	globalManager.pushTokens.WithLabelValues("failure").Add(float64(failed))
}

// RecordPushBatchLatency records a push batch send latency.
func RecordPushBatchLatency(latencyMs float64) {
	globalManager.pushBatchLatency.Observe(latencyMs)
}

// Reaper Metrics Functions.

// RecordReaperDeleted adds deleted records of kind ("live" or "notification").
func RecordReaperDeleted(kind string, count int) {
	globalManager.reaperDeleted.WithLabelValues(kind).Add(float64(count))
}

// RecordReaperRun records a completed sweep.
func RecordReaperRun(durationMs float64, at time.Time) {
	globalManager.reaperDuration.Observe(durationMs)
	globalManager.reaperLastRunUnix.Set(float64(at.Unix()))
}

// Ranking Metrics Functions.

// RecordRankingSync records a successful bulk sync.
func RecordRankingSync(durationMs float64, entries int, at time.Time) {
	globalManager.rankingSyncDuration.Observe(durationMs)
	globalManager.rankingSyncEntries.Set(float64(entries))
	globalManager.rankingSyncLastUnix.Set(float64(at.Unix()))
}

// RecordRankingSyncError counts a failed bulk sync.
func RecordRankingSyncError() {
	globalManager.rankingSyncErrors.Inc()
}

// RecordRankingRead counts a ranking read by cache result ("hit", "miss", "stale", "empty").
func RecordRankingRead(result string) {
	globalManager.rankingReads.WithLabelValues(result).Inc()
}

// Queue Metrics Functions.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueueRate.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeueRate.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// Worker Metrics Functions.

// UpdateWorkerActiveCount sets the number of active workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// HTTP Metrics Functions.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Error Metrics Functions.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByType records an error with type and severity labels.
func RecordErrorByType(errorType, severity string) {
	globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordErrorLatency records the latency of an operation that resulted in an error.
func RecordErrorLatency(component, errorType string, latencyMs float64) {
	globalManager.errorLatency.WithLabelValues(component, errorType).Observe(latencyMs)
}

// System Metrics Functions.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
