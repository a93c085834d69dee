package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	Namespace = "republisher"

	// Status label values for flush outcomes
	StatusSuccess = "success"
	StatusTimeout = "timeout"
	StatusError   = "error"

	Flush = "flush"
	Drain = "drain"
)

// Labels holds constant labels applied to all metrics.
// These are useful for distinguishing metrics from multiple publisher runs.
type Labels struct {
	Topic         string // Destination topic(s), comma separated
	Environment   string // Deployment environment (e.g., "production", "staging", "development")
	Region        string // Cloud region (e.g., "us-east-1", "eu-west-1")
	CloudProvider string // Cloud provider (e.g., "aws", "oci", "gcp")
}

// toPrometheusLabels converts Labels to prometheus.Labels map.
// Only non-empty labels are included to avoid empty label values.
func (l Labels) toPrometheusLabels() prometheus.Labels {
	labels := prometheus.Labels{}
	if l.Topic != "" {
		labels["topic"] = l.Topic
	}
	if l.Environment != "" {
		labels["environment"] = l.Environment
	}
	if l.Region != "" {
		labels["region"] = l.Region
	}
	if l.CloudProvider != "" {
		labels["cloud_provider"] = l.CloudProvider
	}
	return labels
}

type Metrics struct {
	// Admission
	messagesQueued  prometheus.Counter
	messagesSkipped prometheus.Counter
	inFlight        prometheus.Gauge

	// Flush outcomes
	flushes       *prometheus.CounterVec
	flushDuration prometheus.Histogram

	// Session
	sessionState    prometheus.Gauge
	drainIterations prometheus.Counter
	kafkaErrors     *prometheus.CounterVec // by severity (fatal/non_fatal)
}

// New creates a new Metrics instance and registers all metrics with the provided registerer.
// Returns an error if any metric registration fails.
func New(reg prometheus.Registerer) (*Metrics, error) {
	return NewWithLabels(reg, Labels{})
}

// NewWithLabels creates a new Metrics instance with constant labels applied to all metrics.
func NewWithLabels(reg prometheus.Registerer, labels Labels) (*Metrics, error) {
	promLabels := labels.toPrometheusLabels()
	if len(promLabels) > 0 {
		reg = prometheus.WrapRegistererWith(promLabels, reg)
	}

	return newMetrics(reg)
}

func newMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		messagesQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "messages_queued_total",
			Help:      "Total number of messages handed to the producer",
		}),
		messagesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "messages_skipped_total",
			Help:      "Total number of message sources skipped because they could not be loaded",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "in_flight",
			Help:      "Last known number of messages submitted but not yet acknowledged",
		}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Flush,
			Name:      "calls_total",
			Help:      "Total producer flush calls by status",
		}, []string{"status"}),
		flushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Flush,
			Name:      "duration_seconds",
			Help:      "Time spent blocked in a producer flush",
			// Flushes range from a few ms to the full session timeout.
			Buckets: []float64{.005, .01, .05, .1, .5, 1, 5, 10, 30, 60, 120, 300},
		}),
		sessionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "session_state",
			Help:      "Current publish session state (0=opening 1=publishing 2=draining 3=closed 4=error)",
		}),
		drainIterations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Drain,
			Name:      "iterations_total",
			Help:      "Total iterations of the final drain loop",
		}),
		kafkaErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "kafka_errors_total",
			Help:      "Total Kafka errors reported by the producer by severity",
		}, []string{"severity"}),
	}

	err := errors.Join(
		reg.Register(m.messagesQueued),
		reg.Register(m.messagesSkipped),
		reg.Register(m.inFlight),
		reg.Register(m.flushes),
		reg.Register(m.flushDuration),
		reg.Register(m.sessionState),
		reg.Register(m.drainIterations),
		reg.Register(m.kafkaErrors),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// IncQueued records one message handed to the producer.
func (m *Metrics) IncQueued() {
	if m == nil {
		return
	}
	m.messagesQueued.Inc()
}

// IncSkipped records one message source skipped on a load failure.
func (m *Metrics) IncSkipped() {
	if m == nil {
		return
	}
	m.messagesSkipped.Inc()
}

// SetInFlight sets the in-flight gauge.
func (m *Metrics) SetInFlight(n int) {
	if m == nil {
		return
	}
	m.inFlight.Set(float64(n))
}

// RecordFlush records a flush outcome. status is one of StatusSuccess,
// StatusTimeout or StatusError.
func (m *Metrics) RecordFlush(status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.flushes.WithLabelValues(status).Inc()
	m.flushDuration.Observe(durationSeconds)
}

// SetSessionState sets the session state gauge.
func (m *Metrics) SetSessionState(state int) {
	if m == nil {
		return
	}
	m.sessionState.Set(float64(state))
}

// IncDrainIteration records one pass of the drain loop.
func (m *Metrics) IncDrainIteration() {
	if m == nil {
		return
	}
	m.drainIterations.Inc()
}

// RecordKafkaError records a Kafka error event.
func (m *Metrics) RecordKafkaError(fatal bool) {
	if m == nil {
		return
	}
	severity := "non_fatal"
	if fatal {
		severity = "fatal"
	}
	m.kafkaErrors.WithLabelValues(severity).Inc()
}
