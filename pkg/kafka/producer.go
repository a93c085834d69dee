package kafka

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"github.com/ava-labs/alert-republisher/pkg/metrics"
	"github.com/ava-labs/alert-republisher/pkg/queue"
)

const queueFullErrorRetryDelay = time.Second

// producerClient is the part of *kafka.Producer the handle drives.
type producerClient interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Events() chan kafka.Event
	Logs() chan kafka.LogEvent
	Len() int
	Flush(timeoutMs int) int
	Close()
}

// Producer is an asynchronous Kafka implementation of queue.Producer.
//
// Submit only enqueues into librdkafka. Delivery reports arrive on the
// producer's event channel and are collected by a background goroutine;
// Flush reports the failures recorded since the previous Flush.
//
// The background goroutines run until Close, independent of any context, so
// a canceled run can still drain. Close MUST be called at least once to stop
// them and flush all in-flight messages.
type Producer struct {
	producer     producerClient
	topics       []string
	closeTimeout time.Duration
	log          *zap.SugaredLogger
	metrics      *metrics.Metrics

	errCh      chan error
	syncCh     chan chan struct{}
	eventsDone chan struct{}
	logsDone   chan struct{}
	closedCh   chan struct{}
	once       sync.Once

	mu       sync.Mutex
	failures []error
	fatal    error
}

// NewProducer creates a Kafka-backed queue.Producer writing every message to
// each of cfg.Topics.
//
// ctx only guards construction. Callers must call Close to flush messages
// and release resources.
func NewProducer(ctx context.Context, cfg ProducerConfig, log *zap.SugaredLogger, m *metrics.Metrics) (*Producer, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid producer config: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p, err := kafka.NewProducer(cfg.ConfigMap())
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	kq := newProducer(p, cfg, log, m)
	log.Infow("kafka producer created",
		"brokers", cfg.BootstrapServers,
		"topics", cfg.Topics,
		"compression", cfg.Compression)

	return kq, nil
}

// newProducer wraps an already created client and starts the event and log
// goroutines.
func newProducer(p producerClient, cfg ProducerConfig, log *zap.SugaredLogger, m *metrics.Metrics) *Producer {
	kq := &Producer{
		producer:     p,
		topics:       slices.Clone(cfg.Topics),
		closeTimeout: cfg.CloseTimeout,
		log:          log,
		metrics:      m,
		errCh:        make(chan error, 1),
		syncCh:       make(chan chan struct{}),
		eventsDone:   make(chan struct{}),
		logsDone:     make(chan struct{}),
		closedCh:     make(chan struct{}),
	}

	if cfg.EnableLogs {
		go kq.printKafkaLogs()
	} else {
		close(kq.logsDone)
	}

	go kq.monitorProducerEvents()

	return kq
}

// Submit enqueues msg once per destination topic without waiting for
// delivery. Msg.Topic, when set, replaces the configured topics.
//
// If the local producer queue is full, Submit waits and retries for as long
// as ctx is alive. Once a fatal error has been seen, Submit returns it.
func (q *Producer) Submit(ctx context.Context, msg queue.Msg) error {
	if err := q.fatalErr(); err != nil {
		return err
	}

	topics := q.topics
	if msg.Topic != "" {
		topics = []string{msg.Topic}
	}
	headers := toKafkaHeaders(msg.Headers)

	for _, topic := range topics {
		kMsg := &kafka.Message{
			TopicPartition: kafka.TopicPartition{
				Topic:     &topic,
				Partition: kafka.PartitionAny,
			},
			Value:   msg.Value,
			Key:     msg.Key,
			Headers: headers,
		}
		if err := q.produceWithRetry(ctx, kMsg); err != nil {
			return fmt.Errorf("topic %q: %w", topic, err)
		}
	}
	return nil
}

// Outstanding returns librdkafka's queue length over all topics: messages
// not yet acknowledged plus delivery reports and events not yet read from
// the event channel.
func (q *Producer) Outstanding() int {
	return q.producer.Len()
}

// Flush waits up to timeout for outstanding messages to be delivered and
// returns how many remain.
//
// Delivery failures reported since the previous Flush decide the error: if
// every one of them timed out the error wraps queue.ErrTimeout, any other
// failure is returned as is. A fatal producer error always wins.
func (q *Producer) Flush(timeout time.Duration) (int, error) {
	remaining := q.producer.Flush(int(timeout.Milliseconds()))
	q.sync()

	q.mu.Lock()
	failures := q.failures
	q.failures = nil
	fatal := q.fatal
	q.mu.Unlock()

	if fatal != nil {
		return remaining, fatal
	}
	if err := classifyDeliveryFailures(failures); err != nil {
		return remaining, err
	}
	return remaining, nil
}

// Close flushes pending messages for up to the configured close timeout,
// stops background goroutines and closes the producer. Messages still
// pending after the timeout are lost.
//
// Close must be called at least once. Calling Close multiple times does nothing.
func (q *Producer) Close() {
	q.once.Do(func() {
		q.log.Info("closing kafka producer")
		defer close(q.errCh)

		// The monitor must keep reading events while the final flush runs.
		pending := q.producer.Flush(int(q.closeTimeout.Milliseconds()))
		if pending > 0 {
			q.log.Warnw("flush incomplete, messages will be lost", "pending", pending)
		}

		close(q.closedCh)
		<-q.eventsDone
		<-q.logsDone

		q.producer.Close()
		q.log.Info("kafka producer closed")
	})
}

// Errors returns a channel that receives at most one fatal error.
// The channel is closed when the producer shuts down.
// Non-fatal Kafka errors are logged and ignored.
//
// After receiving an error, the producer is no longer usable.
// Call Close() and create a new producer to recover.
func (q *Producer) Errors() <-chan error {
	return q.errCh
}

func (q *Producer) fatalErr() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.fatal
}

// sync returns once the monitor has handled every event that was buffered
// when sync was called.
func (q *Producer) sync() {
	reply := make(chan struct{})
	select {
	case q.syncCh <- reply:
	case <-q.eventsDone:
		return
	}
	select {
	case <-reply:
	case <-q.eventsDone:
	}
}

func (q *Producer) printKafkaLogs() {
	defer close(q.logsDone)
	for {
		select {
		case <-q.closedCh:
			q.log.Info("stopping kafka logs printing, done channel closed")
			return
		case log, ok := <-q.producer.Logs():
			if !ok {
				q.log.Info("kafka logs printing, event channel closed")
				return
			}
			q.log.Debugw("librdkafka", "level", log.Level, "tag", log.Tag, "message", log.Message)
		}
	}
}

// produceWithRetry enqueues a message, retrying while the local queue is full.
//
// If the context is done, produceWithRetry returns the context error.
// Other produce errors are returned classified.
func (q *Producer) produceWithRetry(ctx context.Context, msg *kafka.Message) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := q.producer.Produce(msg, nil)
		if err == nil {
			return nil
		}

		var kafkaErr kafka.Error
		if !errors.As(err, &kafkaErr) {
			return fmt.Errorf("failed to produce: %w", err)
		}

		switch kafkaErr.Code() {
		case kafka.ErrQueueFull:
			q.log.Warnf("producer queue full, retrying in %s", queueFullErrorRetryDelay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(queueFullErrorRetryDelay):
			}
		case kafka.ErrBrokerNotAvailable:
			return fmt.Errorf("broker not available: %w", err)
		case kafka.ErrMsgSizeTooLarge, kafka.ErrInvalidMsgSize:
			return fmt.Errorf("invalid message size: %w", err)
		case kafka.ErrInvalidMsg:
			return fmt.Errorf("invalid message: %w", err)
		case kafka.ErrUnknownTopicOrPart, kafka.ErrUnknownTopic:
			return fmt.Errorf("unknown topic or partition: %w", err)
		case kafka.ErrAuthentication:
			return fmt.Errorf("authentication error: %w", err)
		default:
			return fmt.Errorf("failed to produce: %w", err)
		}
	}
}

func (q *Producer) monitorProducerEvents() {
	defer close(q.eventsDone)
	for {
		select {
		case <-q.closedCh:
			q.log.Info("stopping kafka producer events monitoring, done channel closed")
			return
		case reply := <-q.syncCh:
			q.drainBufferedEvents()
			close(reply)
		case ev, ok := <-q.producer.Events():
			if !ok {
				q.setFatal(errors.New("kafka producer event channel closed"))
				return
			}
			q.handleEvent(ev)
		}
	}
}

func (q *Producer) drainBufferedEvents() {
	for {
		select {
		case ev, ok := <-q.producer.Events():
			if !ok {
				return
			}
			q.handleEvent(ev)
		default:
			return
		}
	}
}

func (q *Producer) handleEvent(ev kafka.Event) {
	switch e := ev.(type) {
	case *kafka.Message:
		if err := e.TopicPartition.Error; err != nil {
			q.log.Debugw("delivery failed", "topic", topicName(e), "error", err)
			q.mu.Lock()
			q.failures = append(q.failures, err)
			q.mu.Unlock()
			return
		}
		q.log.Debugf("delivered to topic [%s] partition [%d] at offset [%d]",
			topicName(e), e.TopicPartition.Partition, e.TopicPartition.Offset)
	case kafka.Stats:
		q.log.Infof("kafka stats event received %s", e.String())
	case kafka.Error:
		if e.IsFatal() || e.Code() == kafka.ErrAllBrokersDown {
			q.metrics.RecordKafkaError(true)
			q.setFatal(fmt.Errorf("fatal err or ErrAllBrokersDown: %#x, %w", e.Code(), e))
			return
		}
		q.metrics.RecordKafkaError(false)
		q.log.Warnf("ignoring kafka error: %#x, %v", e.Code(), e)
	default:
		q.log.Warnf("Unknown event: %+v", e)
	}
}

// setFatal records the first fatal error and publishes it on the error channel.
func (q *Producer) setFatal(err error) {
	q.mu.Lock()
	first := q.fatal == nil
	if first {
		q.fatal = err
	}
	q.mu.Unlock()
	if !first {
		return
	}

	q.log.Errorw("kafka producer failed", "error", err)
	select {
	case q.errCh <- err:
	default:
		q.log.Warnf("error channel is full, should not happen: %v", err)
	}
}

// classifyDeliveryFailures folds per-message delivery failures into one
// error. Failures that are all timeouts wrap queue.ErrTimeout.
func classifyDeliveryFailures(failures []error) error {
	if len(failures) == 0 {
		return nil
	}
	for _, err := range failures {
		if !isTimeout(err) {
			return fmt.Errorf("%d deliveries failed: %w", len(failures), err)
		}
	}
	return fmt.Errorf("%d deliveries timed out: %w: %w", len(failures), queue.ErrTimeout, failures[0])
}

func isTimeout(err error) bool {
	var kafkaErr kafka.Error
	if !errors.As(err, &kafkaErr) {
		return false
	}
	switch kafkaErr.Code() {
	case kafka.ErrMsgTimedOut, kafka.ErrTimedOut, kafka.ErrTimedOutQueue, kafka.ErrRequestTimedOut:
		return true
	default:
		return false
	}
}

func toKafkaHeaders(h map[string]string) []kafka.Header {
	if len(h) == 0 {
		return nil
	}
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	headers := make([]kafka.Header, 0, len(keys))
	for _, k := range keys {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(h[k])})
	}
	return headers
}

func topicName(m *kafka.Message) string {
	if m.TopicPartition.Topic == nil {
		return ""
	}
	return *m.TopicPartition.Topic
}
