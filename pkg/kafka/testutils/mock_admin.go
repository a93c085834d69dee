package testutils

import (
	"context"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/mock"
)

// MockAdmin is a mock of the topic administration calls made on a
// *kafka.AdminClient.
type MockAdmin struct {
	mock.Mock
}

// GetMetadata mocks the GetMetadata method
func (m *MockAdmin) GetMetadata(topic *string, allTopics bool, timeoutMs int) (*kafka.Metadata, error) {
	args := m.Called(topic, allTopics, timeoutMs)
	md, _ := args.Get(0).(*kafka.Metadata)
	return md, args.Error(1)
}

// CreateTopics mocks the CreateTopics method
func (m *MockAdmin) CreateTopics(ctx context.Context, topics []kafka.TopicSpecification, _ ...kafka.CreateTopicsAdminOption) ([]kafka.TopicResult, error) {
	args := m.Called(ctx, topics)
	res, _ := args.Get(0).([]kafka.TopicResult)
	return res, args.Error(1)
}

// CreatePartitions mocks the CreatePartitions method
func (m *MockAdmin) CreatePartitions(ctx context.Context, partitions []kafka.PartitionsSpecification, _ ...kafka.CreatePartitionsAdminOption) ([]kafka.TopicResult, error) {
	args := m.Called(ctx, partitions)
	res, _ := args.Get(0).([]kafka.TopicResult)
	return res, args.Error(1)
}
