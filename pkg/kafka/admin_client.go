package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

// metadataTimeout is the timeout for Kafka metadata operations.
const metadataTimeout = 10 * time.Second

// TopicAdmin is the subset of *kafka.AdminClient used to manage destination
// topics.
type TopicAdmin interface {
	GetMetadata(topic *string, allTopics bool, timeoutMs int) (*kafka.Metadata, error)
	CreateTopics(ctx context.Context, topics []kafka.TopicSpecification, options ...kafka.CreateTopicsAdminOption) ([]kafka.TopicResult, error)
	CreatePartitions(ctx context.Context, partitions []kafka.PartitionsSpecification, options ...kafka.CreatePartitionsAdminOption) ([]kafka.TopicResult, error)
}

// TopicConfig describes a destination topic to create or check.
type TopicConfig struct {
	Name              string
	NumPartitions     int
	ReplicationFactor int
}

// Validate checks if the TopicConfig is valid for topic creation.
func (tc TopicConfig) Validate() error {
	if tc.Name == "" {
		return errors.New("topic name cannot be empty")
	}
	if tc.NumPartitions <= 0 {
		return fmt.Errorf("number of partitions must be > 0, got %d", tc.NumPartitions)
	}
	if tc.ReplicationFactor <= 0 {
		return fmt.Errorf("replication factor must be > 0, got %d", tc.ReplicationFactor)
	}
	return nil
}

// NewAdminClient creates an admin client sharing the producer's broker and
// SASL settings.
func NewAdminClient(cfg ProducerConfig) (*kafka.AdminClient, error) {
	conf := &kafka.ConfigMap{
		"bootstrap.servers": cfg.BootstrapServers,
	}
	cfg.SASL.ApplyToConfigMap(conf)

	admin, err := kafka.NewAdminClient(conf)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka admin client: %w", err)
	}
	return admin, nil
}

// TopicExists returns the topic metadata, or nil when the topic does not
// exist. Errors reaching the cluster are returned.
func TopicExists(admin TopicAdmin, topicName string) (*kafka.TopicMetadata, error) {
	metadata, err := admin.GetMetadata(&topicName, false, int(metadataTimeout.Milliseconds()))
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata for topic %q: %w", topicName, err)
	}

	topicMetadata, exists := metadata.Topics[topicName]
	if !exists || topicMetadata.Error.Code() == kafka.ErrUnknownTopicOrPart {
		return nil, nil
	}

	if topicMetadata.Error.Code() != kafka.ErrNoError {
		return nil, fmt.Errorf("topic %q has error: %w", topicName, topicMetadata.Error)
	}

	return &topicMetadata, nil
}

// CreateTopic creates a topic. An already existing topic is not an error.
func CreateTopic(ctx context.Context, admin TopicAdmin, config TopicConfig, log *zap.SugaredLogger) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid topic config: %w", err)
	}

	results, err := admin.CreateTopics(ctx, []kafka.TopicSpecification{{
		Topic:             config.Name,
		NumPartitions:     config.NumPartitions,
		ReplicationFactor: config.ReplicationFactor,
	}})
	if err != nil {
		return fmt.Errorf("failed to create topic %q: %w", config.Name, err)
	}

	for _, result := range results {
		switch result.Error.Code() {
		case kafka.ErrNoError:
			log.Infow("created topic",
				"topic", result.Topic,
				"partitions", config.NumPartitions,
				"replicationFactor", config.ReplicationFactor)
		case kafka.ErrTopicAlreadyExists:
			log.Infow("topic already exists", "topic", result.Topic)
		default:
			return fmt.Errorf("failed to create topic %q: %w", result.Topic, result.Error)
		}
	}

	return nil
}

// EnsureTopic makes sure a topic exists with at least the configured number
// of partitions.
//
// A missing topic is created. A topic with fewer partitions is grown. A topic
// with more partitions is left alone, since a republisher only needs the
// topic to be writable; the difference is logged. Replication factor cannot
// be changed through the admin API and is only reported.
func EnsureTopic(ctx context.Context, admin TopicAdmin, config TopicConfig, log *zap.SugaredLogger) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid topic config: %w", err)
	}

	topicMetadata, err := TopicExists(admin, config.Name)
	if err != nil {
		return fmt.Errorf("failed to check topic existence: %w", err)
	}

	if topicMetadata == nil {
		return CreateTopic(ctx, admin, config, log)
	}

	currentPartitions := len(topicMetadata.Partitions)
	currentRF := replicationFactor(topicMetadata)

	log.Infow("topic exists",
		"topic", config.Name,
		"currentPartitions", currentPartitions,
		"currentReplicationFactor", currentRF)

	if currentRF != config.ReplicationFactor {
		log.Warnw("topic replication factor differs from config",
			"topic", config.Name,
			"current", currentRF,
			"desired", config.ReplicationFactor)
	}

	switch {
	case currentPartitions < config.NumPartitions:
		log.Infow("increasing topic partitions",
			"topic", config.Name,
			"from", currentPartitions,
			"to", config.NumPartitions)
		return increasePartitions(ctx, admin, config.Name, config.NumPartitions, log)
	case currentPartitions > config.NumPartitions:
		log.Warnw("topic has more partitions than configured",
			"topic", config.Name,
			"current", currentPartitions,
			"desired", config.NumPartitions)
	}
	return nil
}

// EnsureTopics calls EnsureTopic for each name with the same partition and
// replication settings, stopping at the first failure.
func EnsureTopics(ctx context.Context, admin TopicAdmin, names []string, partitions, replicationFactor int, log *zap.SugaredLogger) error {
	for _, name := range names {
		cfg := TopicConfig{
			Name:              name,
			NumPartitions:     partitions,
			ReplicationFactor: replicationFactor,
		}
		if err := EnsureTopic(ctx, admin, cfg, log); err != nil {
			return fmt.Errorf("ensure topic %q: %w", name, err)
		}
	}
	return nil
}

func increasePartitions(ctx context.Context, admin TopicAdmin, topicName string, newPartitionCount int, log *zap.SugaredLogger) error {
	results, err := admin.CreatePartitions(ctx, []kafka.PartitionsSpecification{{
		Topic:      topicName,
		IncreaseTo: newPartitionCount,
	}})
	if err != nil {
		return fmt.Errorf("failed to increase partitions for topic %q: %w", topicName, err)
	}

	for _, result := range results {
		if result.Error.Code() != kafka.ErrNoError {
			return fmt.Errorf("failed to increase partitions for topic %q: %w", result.Topic, result.Error)
		}
		log.Infow("increased partitions",
			"topic", result.Topic,
			"newPartitionCount", newPartitionCount)
	}

	return nil
}

// replicationFactor returns the replica count of the first partition, or 0
// for a topic without partitions.
func replicationFactor(metadata *kafka.TopicMetadata) int {
	if len(metadata.Partitions) == 0 {
		return 0
	}
	return len(metadata.Partitions[0].Replicas)
}
