package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockJSONProducer struct {
	mock.Mock
}

func (m *MockJSONProducer) ProduceJSON(ctx context.Context, topic string, key string, data interface{}, headers map[string]string) error {
	args := m.Called(ctx, topic, key, data, headers)
	return args.Error(0)
}

func TestKafkaDLQPublisher_PublishToDLQ(t *testing.T) {
	movedAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	producer := new(MockJSONProducer)
	publisher := NewKafkaDLQPublisher(producer, &DLQConfig{
		Source: "ticket-monitor",
		Now:    func() time.Time { return movedAt },
	})

	msg := &DLQMessage{
		ID:            "job-1",
		OriginalTopic: "scrape-jobs",
		OriginalKey:   "stubhub:evt-1",
		Payload:       []byte(`{"id":"job-1"}`),
		Error:         "HTTP 500",
		ErrorCode:     "hard",
		Attempts:      4,
	}

	producer.On("ProduceJSON", mock.Anything, "scrape-jobs.dlq", "stubhub:evt-1", msg,
		mock.MatchedBy(func(h map[string]string) bool {
			return h["error_code"] == "hard" && h["attempts"] == "4" && h["source"] == "ticket-monitor"
		})).Return(nil)

	require.NoError(t, publisher.PublishToDLQ(context.Background(), msg))
	assert.Equal(t, movedAt, msg.MovedToDLQAt)
	assert.Equal(t, "ticket-monitor", msg.Source)
	producer.AssertExpectations(t)
}

func TestKafkaDLQPublisher_PublishToDLQ_NilMessage(t *testing.T) {
	publisher := NewKafkaDLQPublisher(new(MockJSONProducer), nil)
	assert.Error(t, publisher.PublishToDLQ(context.Background(), nil))
}

func TestKafkaDLQPublisher_PublishToDLQ_PublishFails(t *testing.T) {
	producer := new(MockJSONProducer)
	producer.On("ProduceJSON", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("broker unavailable"))

	publisher := NewKafkaDLQPublisher(producer, nil)
	err := publisher.PublishToDLQ(context.Background(), &DLQMessage{OriginalTopic: "scrape-jobs"})

	assert.ErrorContains(t, err, "broker unavailable")
}

func TestGetDLQTopic(t *testing.T) {
	assert.Equal(t, "scrape-jobs.dlq", NewKafkaDLQPublisher(nil, nil).GetDLQTopic("scrape-jobs"))
	assert.Equal(t, "scrape-jobs.dead", NewKafkaDLQPublisher(nil, &DLQConfig{TopicSuffix: ".dead"}).GetDLQTopic("scrape-jobs"))
	assert.Equal(t, "scrape-jobs.dlq", NewNoOpDLQPublisher().GetDLQTopic("scrape-jobs"))
}
