// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dialogflow_intent_stream"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Stream metrics
	StreamsTotal   prometheus.Counter
	StreamsActive  prometheus.Gauge
	StreamsSuccess prometheus.Counter
	StreamsFailed  *prometheus.CounterVec
	StreamDuration prometheus.Histogram

	// Audio metrics
	AudioBytesSent  prometheus.Counter
	AudioChunksSent prometheus.Counter

	// Recognition and intent metrics
	TranscriptsInterim prometheus.Counter
	TranscriptsFinal   prometheus.Counter
	IntentsDetected    *prometheus.CounterVec
	IntentConfidence   prometheus.Histogram

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// Dialogflow RPC metrics
	RPCLatency *prometheus.HistogramVec
	RPCErrors  *prometheus.CounterVec

	// Limit metrics
	StreamLimitExceeded *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)

// NewMetrics creates all metrics and registers them with reg.
// A nil registerer creates unregistered metrics, which tests use.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		StreamsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_total",
			Help:      "Total number of detect-intent streams started",
		}),
		StreamsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_active",
			Help:      "Number of currently active detect-intent streams",
		}),
		StreamsSuccess: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_success_total",
			Help:      "Total number of successfully completed streams",
		}),
		StreamsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_failed_total",
			Help:      "Total number of failed streams",
		}, []string{"reason"}),
		StreamDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_duration_seconds",
			Help:      "Duration of detect-intent streams in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),

		AudioBytesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_sent_total",
			Help:      "Total audio bytes sent to the detector",
		}),
		AudioChunksSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_sent_total",
			Help:      "Total audio chunks sent to the detector",
		}),

		TranscriptsInterim: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_interim_total",
			Help:      "Total number of interim recognition results received",
		}),
		TranscriptsFinal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_final_total",
			Help:      "Total number of final recognition results received",
		}),
		IntentsDetected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intents_detected_total",
			Help:      "Total number of detected intents by display name",
		}, []string{"intent"}),
		IntentConfidence: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "intent_detection_confidence",
			Help:      "Intent detection confidence",
			Buckets:   []float64{0.1, 0.3, 0.5, 0.7, 0.8, 0.9, 0.95, 1},
		}),

		KafkaPublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		RPCLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rpc_latency_seconds",
			Help:      "Dialogflow streaming RPC latency in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"method"}),
		RPCErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_errors_total",
			Help:      "Total number of Dialogflow RPC errors",
		}, []string{"method", "code"}),

		StreamLimitExceeded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_limit_exceeded_total",
			Help:      "Total number of times stream limits were exceeded",
		}, []string{"limit_type"}),
	}
}

// RecordStreamStart records a new stream starting.
func (m *Metrics) RecordStreamStart() {
	m.StreamsTotal.Inc()
	m.StreamsActive.Inc()
}

// RecordStreamEnd records a stream ending. reason is ignored on success.
func (m *Metrics) RecordStreamEnd(success bool, reason string, durationSeconds float64) {
	m.StreamsActive.Dec()
	m.StreamDuration.Observe(durationSeconds)
	if success {
		m.StreamsSuccess.Inc()
	} else {
		m.StreamsFailed.WithLabelValues(reason).Inc()
	}
}

// RecordAudioSent records one audio chunk sent.
func (m *Metrics) RecordAudioSent(bytes int) {
	m.AudioBytesSent.Add(float64(bytes))
	m.AudioChunksSent.Inc()
}

// RecordTranscript records a recognition result.
func (m *Metrics) RecordTranscript(final bool) {
	if final {
		m.TranscriptsFinal.Inc()
		return
	}
	m.TranscriptsInterim.Inc()
}

// RecordIntent records a detected intent.
func (m *Metrics) RecordIntent(displayName string, confidence float64) {
	if displayName == "" {
		displayName = "none"
	}
	m.IntentsDetected.WithLabelValues(displayName).Inc()
	m.IntentConfidence.Observe(confidence)
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordRPC records a completed Dialogflow RPC.
func (m *Metrics) RecordRPC(method, code string, latencySeconds float64) {
	m.RPCLatency.WithLabelValues(method).Observe(latencySeconds)
	if code != "OK" {
		m.RPCErrors.WithLabelValues(method, code).Inc()
	}
}

// RecordLimitExceeded records when a stream limit is exceeded.
func (m *Metrics) RecordLimitExceeded(limitType string) {
	m.StreamLimitExceeded.WithLabelValues(limitType).Inc()
}
