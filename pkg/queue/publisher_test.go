package queue_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ava-labs/alert-republisher/pkg/metrics"
	"github.com/ava-labs/alert-republisher/pkg/queue"
	"github.com/ava-labs/alert-republisher/pkg/queue/queuetest"
)

var errBoom = errors.New("broker rejected message")

func noDelays(cfg queue.Config) queue.Config {
	zero := time.Duration(0)
	cfg.PacingDelay = &zero
	cfg.DrainPollInterval = &zero
	return cfg
}

func sourceNames(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("alert-%04d.avro", i+1)
	}
	return out
}

func echoLoader() queue.Loader {
	return queue.LoaderFunc(func(_ context.Context, source string) (queue.Msg, error) {
		return queue.Msg{Value: []byte(source), Source: source}, nil
	})
}

func newPublisher(t *testing.T, cfg queue.Config, loader queue.Loader) (*queue.FlowPublisher, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	p, err := queue.NewFlowPublisher(cfg, loader, zap.New(core).Sugar(), nil)
	require.NoError(t, err)
	return p, logs
}

func timeoutErr() error {
	return fmt.Errorf("flush: 3 messages: %w", queue.ErrTimeout)
}

// ============================================================================
// Construction
// ============================================================================

func TestNewFlowPublisher_Validation(t *testing.T) {
	log := zap.NewNop().Sugar()

	_, err := queue.NewFlowPublisher(queue.Config{}, nil, log, nil)
	require.Error(t, err)

	_, err = queue.NewFlowPublisher(queue.Config{}, echoLoader(), nil, nil)
	require.Error(t, err)

	_, err = queue.NewFlowPublisher(queue.Config{Ceiling: -1}, echoLoader(), log, nil)
	require.ErrorContains(t, err, "ceiling")

	p, err := queue.NewFlowPublisher(queue.Config{}, echoLoader(), log, nil)
	require.NoError(t, err)
	require.NotNil(t, p)
}

// ============================================================================
// Happy paths
// ============================================================================

func TestFlowPublisher_EmptySources(t *testing.T) {
	fake := queuetest.NewFakeProducer(10)
	p, _ := newPublisher(t, noDelays(queue.Config{}), echoLoader())

	stats, err := p.Run(t.Context(), fake.Open(), nil)
	require.NoError(t, err)

	assert.Empty(t, fake.Submitted)
	assert.Equal(t, 0, fake.FlushCalls)
	assert.Equal(t, 1, fake.CloseCalls)
	assert.Equal(t, queue.StateClosed, stats.State)
	assert.False(t, stats.Failed)
}

func TestFlowPublisher_250Messages_Ceiling100(t *testing.T) {
	fake := queuetest.NewFakeProducer(20)
	p, logs := newPublisher(t, noDelays(queue.Config{Ceiling: 100}), echoLoader())

	stats, err := p.Run(t.Context(), fake.Open(), sourceNames(250))
	require.NoError(t, err)

	// 100 unthrottled, then one flush every 20 submissions up to 240 (8 flushes),
	// then 90 left to drain at 20 per flush (5 flushes).
	assert.Len(t, fake.Submitted, 250)
	assert.Equal(t, 13, fake.FlushCalls)
	assert.Equal(t, 100, fake.MaxConsecutiveSubmits())
	assert.Equal(t, 100, fake.MaxPending())
	assert.Equal(t, 250, fake.Acked())
	assert.Equal(t, 0, fake.Pending())
	assert.Equal(t, 1, fake.CloseCalls)

	for _, timeout := range fake.FlushTimeouts {
		assert.Equal(t, queue.DefaultSessionTimeout, timeout)
	}

	assert.Equal(t, 250, stats.TotalQueued)
	assert.Equal(t, 0, stats.InFlight)
	assert.Equal(t, queue.StateClosed, stats.State)

	assert.Equal(t, 1, logs.FilterMessage("100 messages queued, 100 in queue").Len())
	assert.Equal(t, 1, logs.FilterMessage("200 messages queued, 100 in queue").Len())
	assert.Equal(t, 1, logs.FilterMessage("Queued 100 messages, 100 in queue").Len())
	assert.Equal(t, 8, logs.FilterMessage("  Now 80 in queue").Len())
	assert.Equal(t, 1, logs.FilterMessage("  Now 0 in queue").Len())
}

func TestFlowPublisher_OrderPreserved(t *testing.T) {
	fake := queuetest.NewFakeProducer(3)
	p, _ := newPublisher(t, noDelays(queue.Config{Ceiling: 5}), echoLoader())

	srcs := sourceNames(37)
	_, err := p.Run(t.Context(), fake.Open(), srcs)
	require.NoError(t, err)

	require.Len(t, fake.Submitted, len(srcs))
	for i, msg := range fake.Submitted {
		assert.Equal(t, srcs[i], msg.Source)
		assert.Equal(t, []byte(srcs[i]), msg.Value)
	}
}

func TestFlowPublisher_CeilingRespected(t *testing.T) {
	tests := []struct {
		name    string
		n       int
		ceiling int
		ack     int
	}{
		{name: "ceiling 1", n: 15, ceiling: 1, ack: 1},
		{name: "ceiling below recount interval", n: 50, ceiling: 7, ack: 2},
		{name: "slow acks", n: 120, ceiling: 25, ack: 1},
		{name: "fast acks", n: 120, ceiling: 25, ack: 100},
		{name: "fewer messages than ceiling", n: 40, ceiling: 100, ack: 5},
		{name: "ceiling not multiple of recount", n: 333, ceiling: 33, ack: 11},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := queuetest.NewFakeProducer(tt.ack)
			p, _ := newPublisher(t, noDelays(queue.Config{Ceiling: tt.ceiling}), echoLoader())

			_, err := p.Run(t.Context(), fake.Open(), sourceNames(tt.n))
			require.NoError(t, err)

			assert.LessOrEqual(t, fake.MaxConsecutiveSubmits(), tt.ceiling)
			assert.LessOrEqual(t, fake.MaxPending(), tt.ceiling)
			assert.Equal(t, tt.n, fake.Acked())
			assert.Equal(t, 0, fake.Pending())
		})
	}
}

func TestFlowPublisher_DrainCompleteness(t *testing.T) {
	fake := queuetest.NewFakeProducer(7)
	p, _ := newPublisher(t, noDelays(queue.Config{Ceiling: 1000}), echoLoader())

	_, err := p.Run(t.Context(), fake.Open(), sourceNames(50))
	require.NoError(t, err)

	// ceil(50 / 7) flushes, all during the drain
	assert.Equal(t, 8, fake.FlushCalls)
	assert.Equal(t, 0, fake.Pending())
}

func TestFlowPublisher_DrainPollsBetweenAttempts(t *testing.T) {
	fake := queuetest.NewFakeProducer(1)
	poll := 20 * time.Millisecond
	cfg := noDelays(queue.Config{})
	cfg.DrainPollInterval = &poll
	p, _ := newPublisher(t, cfg, echoLoader())

	start := time.Now()
	_, err := p.Run(t.Context(), fake.Open(), sourceNames(3))
	require.NoError(t, err)

	// three flushes, two sleeps in between (none after the last)
	assert.Equal(t, 3, fake.FlushCalls)
	assert.GreaterOrEqual(t, time.Since(start), 2*poll)
}

func TestFlowPublisher_RecountInterval(t *testing.T) {
	fake := queuetest.NewFakeProducer(100)
	p, _ := newPublisher(t, noDelays(queue.Config{Ceiling: 100, RecountInterval: 10}), echoLoader())

	_, err := p.Run(t.Context(), fake.Open(), sourceNames(35))
	require.NoError(t, err)

	// probes at 10, 20 and 30 only; the drain relies on Flush's return value
	assert.Equal(t, 3, fake.OutstandingCalls)
	assert.Equal(t, 1, fake.FlushCalls)
}

// ============================================================================
// Timeouts
// ============================================================================

func TestFlowPublisher_TimeoutAbsorbed_WhileThrottled(t *testing.T) {
	fake := queuetest.NewFakeProducer(10)
	fake.FlushErrs = []error{timeoutErr()}
	p, logs := newPublisher(t, noDelays(queue.Config{Ceiling: 10}), echoLoader())

	stats, err := p.Run(t.Context(), fake.Open(), sourceNames(10))
	require.NoError(t, err)

	// timed out flush, re-probe, successful flush
	assert.Equal(t, 2, fake.FlushCalls)
	assert.Equal(t, 0, fake.Pending())
	assert.Equal(t, 1, fake.CloseCalls)
	assert.False(t, stats.Failed)
	assert.Equal(t, 1, logs.FilterMessage("flush timed out, re-probing outstanding messages").Len())
}

func TestFlowPublisher_TimeoutAbsorbed_WhileDraining(t *testing.T) {
	fake := queuetest.NewFakeProducer(5)
	fake.FlushErrs = []error{timeoutErr(), timeoutErr()}
	p, _ := newPublisher(t, noDelays(queue.Config{}), echoLoader())

	_, err := p.Run(t.Context(), fake.Open(), sourceNames(5))
	require.NoError(t, err)

	assert.Equal(t, 3, fake.FlushCalls)
	assert.Equal(t, 5, fake.Acked())
}

// ============================================================================
// Fatal errors
// ============================================================================

func TestFlowPublisher_NonTimeoutFlushError_WhileThrottled(t *testing.T) {
	m := &queuetest.MockProducer{}
	m.On("Submit", mock.Anything, mock.Anything).Return(nil).Times(2)
	m.On("Outstanding").Return(2).Once()
	m.On("Flush", queue.DefaultSessionTimeout).Return(0, errBoom).Once()
	m.On("Close").Return().Once()

	p, _ := newPublisher(t, noDelays(queue.Config{Ceiling: 2}), echoLoader())

	stats, err := p.Run(t.Context(), func(context.Context) (queue.Producer, error) {
		return m, nil
	}, sourceNames(3))

	require.ErrorIs(t, err, errBoom)
	assert.True(t, stats.Failed)
	assert.Equal(t, queue.StateClosed, stats.State)
	assert.Equal(t, 2, stats.TotalQueued)

	m.AssertExpectations(t)
	m.AssertNumberOfCalls(t, "Submit", 2)
	m.AssertNumberOfCalls(t, "Close", 1)
}

func TestFlowPublisher_NonTimeoutFlushError_WhileDraining(t *testing.T) {
	fake := queuetest.NewFakeProducer(1)
	fake.FlushErrs = []error{nil, timeoutErr(), errBoom}
	p, _ := newPublisher(t, noDelays(queue.Config{}), echoLoader())

	stats, err := p.Run(t.Context(), fake.Open(), sourceNames(4))
	require.ErrorIs(t, err, errBoom)
	require.False(t, queue.IsTimeout(err))

	assert.Equal(t, 3, fake.FlushCalls)
	assert.Equal(t, 1, fake.CloseCalls)
	assert.True(t, stats.Failed)
}

func TestFlowPublisher_SubmitError(t *testing.T) {
	fake := queuetest.NewFakeProducer(1)
	fake.SubmitErr = errBoom
	p, _ := newPublisher(t, noDelays(queue.Config{}), echoLoader())

	stats, err := p.Run(t.Context(), fake.Open(), sourceNames(3))
	require.ErrorIs(t, err, errBoom)
	require.ErrorContains(t, err, "alert-0001.avro")

	assert.Equal(t, 0, stats.TotalQueued)
	assert.Equal(t, 1, fake.CloseCalls)
}

func TestFlowPublisher_OpenError(t *testing.T) {
	p, _ := newPublisher(t, noDelays(queue.Config{}), echoLoader())

	_, err := p.Run(t.Context(), func(context.Context) (queue.Producer, error) {
		return nil, errBoom
	}, sourceNames(3))
	require.ErrorIs(t, err, errBoom)
}

// ============================================================================
// Load errors
// ============================================================================

func failingLoader(bad string) queue.Loader {
	return queue.LoaderFunc(func(_ context.Context, source string) (queue.Msg, error) {
		if source == bad {
			return queue.Msg{}, errors.New("malformed avro container")
		}
		return queue.Msg{Value: []byte(source), Source: source}, nil
	})
}

func TestFlowPublisher_LoadError_AbortsByDefault(t *testing.T) {
	fake := queuetest.NewFakeProducer(10)
	srcs := sourceNames(5)
	p, _ := newPublisher(t, noDelays(queue.Config{}), failingLoader(srcs[2]))

	stats, err := p.Run(t.Context(), fake.Open(), srcs)
	require.ErrorContains(t, err, "malformed avro container")

	assert.Len(t, fake.Submitted, 2)
	assert.True(t, stats.Failed)
	assert.Equal(t, 1, fake.CloseCalls)
}

func TestFlowPublisher_LoadError_Skipped(t *testing.T) {
	fake := queuetest.NewFakeProducer(10)
	srcs := sourceNames(5)
	p, logs := newPublisher(t, noDelays(queue.Config{SkipLoadErrors: true}), failingLoader(srcs[2]))

	stats, err := p.Run(t.Context(), fake.Open(), srcs)
	require.NoError(t, err)

	require.Len(t, fake.Submitted, 4)
	assert.Equal(t, srcs[3], fake.Submitted[2].Source)
	assert.Equal(t, 4, stats.TotalQueued)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 1, logs.FilterMessage("skipping message that failed to load").Len())
}

// ============================================================================
// Cancellation
// ============================================================================

func TestFlowPublisher_Canceled_DrainsBoundedAndCloses(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	fake := queuetest.NewFakeProducer(2)
	fake.OnSubmit = func(n int) {
		if n == 5 {
			cancel()
		}
	}

	cfg := noDelays(queue.Config{CancelDrainAttempts: 2})
	p, _ := newPublisher(t, cfg, echoLoader())

	stats, err := p.Run(ctx, fake.Open(), sourceNames(20))
	require.ErrorIs(t, err, context.Canceled)

	assert.Len(t, fake.Submitted, 5)
	assert.Equal(t, 2, fake.FlushCalls)
	assert.Equal(t, 1, fake.Pending())
	for _, timeout := range fake.FlushTimeouts {
		assert.Equal(t, queue.DefaultCancelFlushTimeout, timeout)
	}
	assert.Equal(t, 1, fake.CloseCalls)
	assert.True(t, stats.Failed)
	assert.Equal(t, queue.StateClosed, stats.State)
}

func TestFlowPublisher_CanceledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	fake := queuetest.NewFakeProducer(2)
	p, _ := newPublisher(t, noDelays(queue.Config{}), echoLoader())

	_, err := p.Run(ctx, fake.Open(), sourceNames(3))
	require.ErrorIs(t, err, context.Canceled)

	assert.Empty(t, fake.Submitted)
	assert.Equal(t, 0, fake.FlushCalls)
	assert.Equal(t, 1, fake.CloseCalls)
}

func TestFlowPublisher_CanceledDuringDrain(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	fake := queuetest.NewFakeProducer(0)
	poll := 10 * time.Millisecond
	cfg := noDelays(queue.Config{CancelDrainAttempts: 1})
	cfg.DrainPollInterval = &poll
	p, _ := newPublisher(t, cfg, echoLoader())

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := p.Run(ctx, fake.Open(), sourceNames(3))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, fake.Pending())
	assert.Equal(t, 1, fake.CloseCalls)
}

// ============================================================================
// Sessions and metrics
// ============================================================================

func TestFlowPublisher_PublishOnClosedSession(t *testing.T) {
	fake := queuetest.NewFakeProducer(1)
	p, _ := newPublisher(t, noDelays(queue.Config{}), echoLoader())

	s := queue.NewSession(fake, zap.NewNop().Sugar(), nil)
	s.Close()

	err := p.Publish(t.Context(), s, sourceNames(1))
	require.ErrorIs(t, err, queue.ErrSessionClosed)
	assert.Empty(t, fake.Submitted)
}

func TestFlowPublisher_PublishTwiceOnSession(t *testing.T) {
	fake := queuetest.NewFakeProducer(10)
	p, _ := newPublisher(t, noDelays(queue.Config{}), echoLoader())

	s := queue.NewSession(fake, zap.NewNop().Sugar(), nil)
	defer s.Close()

	require.NoError(t, p.Publish(t.Context(), s, sourceNames(2)))
	require.Error(t, p.Publish(t.Context(), s, sourceNames(2)))
	assert.Len(t, fake.Submitted, 2)
}

func TestFlowPublisher_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	fake := queuetest.NewFakeProducer(5)
	fake.FlushErrs = []error{timeoutErr()}
	p, err := queue.NewFlowPublisher(noDelays(queue.Config{Ceiling: 5}), echoLoader(), zap.NewNop().Sugar(), m)
	require.NoError(t, err)

	_, err = p.Run(t.Context(), fake.Open(), sourceNames(10))
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				key := mf.GetName()
				for _, l := range metric.GetLabel() {
					key += "/" + l.GetValue()
				}
				values[key] = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				values[mf.GetName()] = metric.GetGauge().GetValue()
			}
		}
	}

	assert.Equal(t, float64(10), values["republisher_messages_queued_total"])
	assert.Equal(t, float64(1), values["republisher_flush_calls_total/timeout"])
	assert.Equal(t, float64(0), values["republisher_in_flight"])
	assert.Equal(t, float64(queue.StateClosed), values["republisher_session_state"])
}
