// ABOUTME: Tests for the Kafka validation publisher and publishing result writer.
// ABOUTME: Uses an in-memory message writer instead of a broker.

package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jfeddern/RiskGate/internal/types"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockMessageWriter struct {
	messages    []kafkago.Message
	shouldError bool
	closed      bool
}

func (m *MockMessageWriter) WriteMessages(ctx context.Context, msgs ...kafkago.Message) error {
	if m.shouldError {
		return errors.New("leader not available")
	}
	m.messages = append(m.messages, msgs...)
	return nil
}

func (m *MockMessageWriter) Close() error {
	m.closed = true
	return nil
}

type MockResultWriter struct {
	validations []*types.ValidationResult
	scores      []types.ScoredFinding
	shouldError bool
}

func (m *MockResultWriter) SaveResidualRiskLevels(ctx context.Context, scores []types.ScoredFinding) error {
	m.scores = append(m.scores, scores...)
	return nil
}

func (m *MockResultWriter) CreateValidation(ctx context.Context, result *types.ValidationResult) error {
	if m.shouldError {
		return errors.New("insert failed")
	}
	m.validations = append(m.validations, result)
	return nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func sampleResult() *types.ValidationResult {
	policyID := int64(1)
	return &types.ValidationResult{
		ID:                  uuid.New(),
		EngagementID:        42,
		Valid:               false,
		Mode:                types.ModePolicy,
		PolicyID:            &policyID,
		TolerableFindings:   []int64{2},
		UntolerableFindings: []int64{1},
		Scores:              map[int64]float64{1: 8.32, 2: 6.76},
		CreatedAt:           time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC),
	}
}

func TestPublishValidation(t *testing.T) {
	writer := &MockMessageWriter{}
	publisher := NewPublisherWithWriter(writer, DefaultTopic, quietLogger())
	result := sampleResult()

	require.NoError(t, publisher.PublishValidation(context.Background(), result))
	require.Len(t, writer.messages, 1)

	msg := writer.messages[0]
	assert.Equal(t, "42", string(msg.Key))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, EventTypeHeader, msg.Headers[0].Key)
	assert.Equal(t, ValidatedEvent, string(msg.Headers[0].Value))

	var decoded types.ValidationResult
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, result.ID, decoded.ID)
	assert.Equal(t, []int64{1}, decoded.UntolerableFindings)
	assert.Equal(t, 8.32, decoded.Scores[1])

	require.NoError(t, publisher.Close())
	assert.True(t, writer.closed)
}

func TestPublishValidationError(t *testing.T) {
	publisher := NewPublisherWithWriter(&MockMessageWriter{shouldError: true}, DefaultTopic, quietLogger())

	err := publisher.PublishValidation(context.Background(), sampleResult())
	require.Error(t, err)
	assert.Contains(t, err.Error(), DefaultTopic)
}

func TestNewPublisherDefaultTopic(t *testing.T) {
	publisher := NewPublisher([]string{"localhost:9092"}, "", quietLogger())
	assert.Equal(t, DefaultTopic, publisher.topic)

	writer, ok := publisher.writer.(*kafkago.Writer)
	require.True(t, ok)
	assert.Equal(t, DefaultTopic, writer.Topic)
}

func TestPublishingResultWriter(t *testing.T) {
	ctx := context.Background()

	t.Run("stores then publishes", func(t *testing.T) {
		store := &MockResultWriter{}
		writer := &MockMessageWriter{}
		w := NewPublishingResultWriter(store, NewPublisherWithWriter(writer, DefaultTopic, quietLogger()), quietLogger())

		require.NoError(t, w.SaveResidualRiskLevels(ctx, []types.ScoredFinding{{FindingID: 1, Score: 8.32}}))
		require.NoError(t, w.CreateValidation(ctx, sampleResult()))

		assert.Len(t, store.scores, 1)
		assert.Len(t, store.validations, 1)
		assert.Len(t, writer.messages, 1)
	})

	t.Run("publish failure does not fail the validation", func(t *testing.T) {
		store := &MockResultWriter{}
		w := NewPublishingResultWriter(store, NewPublisherWithWriter(&MockMessageWriter{shouldError: true}, DefaultTopic, quietLogger()), quietLogger())

		require.NoError(t, w.CreateValidation(ctx, sampleResult()))
		assert.Len(t, store.validations, 1)
	})

	t.Run("store failure is not published", func(t *testing.T) {
		store := &MockResultWriter{shouldError: true}
		writer := &MockMessageWriter{}
		w := NewPublishingResultWriter(store, NewPublisherWithWriter(writer, DefaultTopic, quietLogger()), quietLogger())

		assert.Error(t, w.CreateValidation(ctx, sampleResult()))
		assert.Empty(t, writer.messages)
	})

	t.Run("cancelled request still publishes", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		writer := &MockMessageWriter{}
		w := NewPublishingResultWriter(&MockResultWriter{}, NewPublisherWithWriter(writer, DefaultTopic, quietLogger()), quietLogger())

		require.NoError(t, w.CreateValidation(cancelled, sampleResult()))
		assert.Len(t, writer.messages, 1)
	})
}
