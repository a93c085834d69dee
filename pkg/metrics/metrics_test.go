package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestLabels_toPrometheusLabels(t *testing.T) {
	tests := []struct {
		name     string
		labels   Labels
		expected prometheus.Labels
	}{
		{
			name:     "empty labels",
			labels:   Labels{},
			expected: prometheus.Labels{},
		},
		{
			name: "all labels set",
			labels: Labels{
				Topic:         "alerts",
				Environment:   "production",
				Region:        "us-east-1",
				CloudProvider: "aws",
			},
			expected: prometheus.Labels{
				"topic":          "alerts",
				"environment":    "production",
				"region":         "us-east-1",
				"cloud_provider": "aws",
			},
		},
		{
			name: "partial labels",
			labels: Labels{
				Topic:       "alerts",
				Environment: "staging",
			},
			expected: prometheus.Labels{
				"topic":       "alerts",
				"environment": "staging",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.labels.toPrometheusLabels()
			require.Equal(t, tt.expected, result)
		})
	}
}

func TestNew(t *testing.T) {
	reg := prometheus.NewRegistry()

	m, err := New(reg)
	require.NoError(t, err)
	require.NotNil(t, m)

	metricFamilies, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, metricFamilies)
}

func TestNewWithLabels(t *testing.T) {
	reg := prometheus.NewRegistry()

	m, err := NewWithLabels(reg, Labels{Topic: "alerts", Environment: "test"})
	require.NoError(t, err)
	require.NotNil(t, m)

	m.SetInFlight(7)

	metricFamilies, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, mf := range metricFamilies {
		if mf.GetName() != "republisher_in_flight" {
			continue
		}
		found = true
		require.NotEmpty(t, mf.GetMetric())

		labelMap := make(map[string]string)
		for _, label := range mf.GetMetric()[0].GetLabel() {
			labelMap[label.GetName()] = label.GetValue()
		}
		require.Equal(t, "alerts", labelMap["topic"])
		require.Equal(t, "test", labelMap["environment"])
	}
	require.True(t, found, "republisher_in_flight not gathered")
}

func TestNew_RegistrationError(t *testing.T) {
	reg := prometheus.NewRegistry()

	_, err := New(reg)
	require.NoError(t, err)

	// Second registration should fail (duplicate metrics)
	m, err := New(reg)
	require.Nil(t, m, "expected nil metrics on duplicate registration")

	var alreadyRegistered prometheus.AlreadyRegisteredError
	require.ErrorAs(t, err, &alreadyRegistered)
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics

	require.NotPanics(t, func() {
		m.IncQueued()
		m.IncSkipped()
		m.SetInFlight(10)
		m.RecordFlush(StatusSuccess, 0.1)
		m.SetSessionState(2)
		m.IncDrainIteration()
		m.RecordKafkaError(true)
	})
}

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.IncQueued()
	m.IncQueued()
	m.IncSkipped()
	m.IncDrainIteration()

	require.Equal(t, float64(2), testutil.ToFloat64(m.messagesQueued))
	require.Equal(t, float64(1), testutil.ToFloat64(m.messagesSkipped))
	require.Equal(t, float64(1), testutil.ToFloat64(m.drainIterations))
}

func TestMetrics_RecordFlush(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.RecordFlush(StatusSuccess, 0.5)
	m.RecordFlush(StatusSuccess, 0.25)
	m.RecordFlush(StatusTimeout, 300)
	m.RecordFlush(StatusError, 0.01)

	require.Equal(t, float64(2), testutil.ToFloat64(m.flushes.WithLabelValues(StatusSuccess)))
	require.Equal(t, float64(1), testutil.ToFloat64(m.flushes.WithLabelValues(StatusTimeout)))
	require.Equal(t, float64(1), testutil.ToFloat64(m.flushes.WithLabelValues(StatusError)))
	require.Equal(t, 1, testutil.CollectAndCount(m.flushDuration))
}

func TestMetrics_Gauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.SetInFlight(99)
	m.SetSessionState(3)

	require.Equal(t, float64(99), testutil.ToFloat64(m.inFlight))
	require.Equal(t, float64(3), testutil.ToFloat64(m.sessionState))

	m.SetInFlight(0)
	require.Equal(t, float64(0), testutil.ToFloat64(m.inFlight))
}

func TestMetrics_RecordKafkaError(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.RecordKafkaError(false)
	m.RecordKafkaError(false)
	m.RecordKafkaError(true)

	require.Equal(t, float64(2), testutil.ToFloat64(m.kafkaErrors.WithLabelValues("non_fatal")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.kafkaErrors.WithLabelValues("fatal")))
}
