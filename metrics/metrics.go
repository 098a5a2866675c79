package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the Prometheus collectors for the flowlab server
type Metrics struct {
	// Transcription metrics
	TranscriptionRequests  *prometheus.CounterVec
	TranscriptionSuccesses *prometheus.CounterVec
	TranscriptionFailures  *prometheus.CounterVec
	TranscriptionDuration  *prometheus.HistogramVec
	ClipSize               prometheus.Histogram
	LinesPerTranscription  prometheus.Histogram

	// Worker pool
	QueueSize prometheus.Gauge

	// Websocket subscribers
	Subscribers prometheus.Gauge

	// Flow Vault
	VaultEntriesAdded   prometheus.Counter
	VaultEntriesDeleted prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TranscriptionRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "flowlab_transcription_requests_total",
			Help: "Total number of transcription requests received",
		}, []string{"provider"}),
		TranscriptionSuccesses: f.NewCounterVec(prometheus.CounterOpts{
			Name: "flowlab_transcription_successes_total",
			Help: "Total number of successful transcriptions",
		}, []string{"provider"}),
		TranscriptionFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "flowlab_transcription_failures_total",
			Help: "Total number of failed transcriptions",
		}, []string{"provider"}),
		TranscriptionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flowlab_transcription_duration_seconds",
			Help:    "Duration of transcription calls",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1 minute
		}, []string{"provider"}),
		ClipSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "flowlab_clip_size_bytes",
			Help:    "Size of uploaded audio clips in bytes",
			Buckets: prometheus.ExponentialBuckets(16*1024, 2, 10), // 16KB to ~8MB
		}),
		LinesPerTranscription: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "flowlab_transcription_lines",
			Help:    "Number of lines produced per transcription",
			Buckets: prometheus.LinearBuckets(0, 2, 10),
		}),

		QueueSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "flowlab_job_queue_size",
			Help: "Current number of transcription jobs waiting for a worker",
		}),
		Subscribers: f.NewGauge(prometheus.GaugeOpts{
			Name: "flowlab_websocket_subscribers",
			Help: "Current number of websocket subscribers",
		}),

		VaultEntriesAdded: f.NewCounter(prometheus.CounterOpts{
			Name: "flowlab_vault_entries_added_total",
			Help: "Total number of lines saved to the Flow Vault",
		}),
		VaultEntriesDeleted: f.NewCounter(prometheus.CounterOpts{
			Name: "flowlab_vault_entries_deleted_total",
			Help: "Total number of Flow Vault entries deleted",
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "flowlab_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flowlab_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "flowlab_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordTranscriptionRequest counts an accepted clip of sizeBytes.
func (m *Metrics) RecordTranscriptionRequest(provider string, sizeBytes int) {
	m.TranscriptionRequests.WithLabelValues(provider).Inc()
	m.ClipSize.Observe(float64(sizeBytes))
}

func (m *Metrics) RecordTranscriptionSuccess(provider string, lines int, durationSeconds float64) {
	m.TranscriptionSuccesses.WithLabelValues(provider).Inc()
	m.TranscriptionDuration.WithLabelValues(provider).Observe(durationSeconds)
	m.LinesPerTranscription.Observe(float64(lines))
}

func (m *Metrics) RecordTranscriptionFailure(provider string, durationSeconds float64) {
	m.TranscriptionFailures.WithLabelValues(provider).Inc()
	m.TranscriptionDuration.WithLabelValues(provider).Observe(durationSeconds)
}

// SetQueueSize sets the current queue size
func (m *Metrics) SetQueueSize(size int) {
	m.QueueSize.Set(float64(size))
}

func (m *Metrics) SetSubscribers(count int) {
	m.Subscribers.Set(float64(count))
}

func (m *Metrics) RecordVaultEntryAdded() {
	m.VaultEntriesAdded.Inc()
}

func (m *Metrics) RecordVaultEntryDeleted() {
	m.VaultEntriesDeleted.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
