package testutils

import (
	"testing"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// NewTestLogger creates a test logger that writes to testing.T
func NewTestLogger(t *testing.T) *zap.SugaredLogger {
	return zaptest.NewLogger(t).Sugar()
}

// NewTopicMetadata builds metadata for a topic with the given number of
// partitions, each replicated replicas times.
func NewTopicMetadata(topic string, partitions, replicas int) kafka.TopicMetadata {
	md := kafka.TopicMetadata{Topic: topic}
	for i := range partitions {
		md.Partitions = append(md.Partitions, kafka.PartitionMetadata{
			ID:       int32(i),
			Replicas: make([]int32, replicas),
		})
	}
	return md
}

// NewMetadata wraps topic metadata into a cluster metadata response.
func NewMetadata(topics ...kafka.TopicMetadata) *kafka.Metadata {
	md := &kafka.Metadata{Topics: make(map[string]kafka.TopicMetadata, len(topics))}
	for _, t := range topics {
		md.Topics[t.Topic] = t
	}
	return md
}
