// ABOUTME: Kafka publisher for engagement validation events.
// ABOUTME: Wraps a result writer so every stored verdict is also published, best effort.

package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/jfeddern/RiskGate/internal/engine"
	"github.com/jfeddern/RiskGate/internal/types"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

const (
	DefaultTopic       = "riskgate.validations"
	EventTypeHeader    = "event_type"
	ValidatedEvent     = "engagement.validated"
	publishTimeout     = 5 * time.Second
	writerBatchTimeout = 10 * time.Millisecond
)

// MessageWriter is the subset of kafka-go's Writer used for publishing
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher sends validation verdicts to a Kafka topic
type Publisher struct {
	writer MessageWriter
	topic  string
	logger *logrus.Logger
}

// NewPublisher creates a publisher writing to topic on the given brokers
func NewPublisher(brokers []string, topic string, logger *logrus.Logger) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}

	writer := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		BatchTimeout: writerBatchTimeout,
		RequiredAcks: kafkago.RequireAll,
	}
	return NewPublisherWithWriter(writer, topic, logger)
}

func NewPublisherWithWriter(writer MessageWriter, topic string, logger *logrus.Logger) *Publisher {
	return &Publisher{
		writer: writer,
		topic:  topic,
		logger: logger,
	}
}

// PublishValidation sends one verdict keyed by engagement ID
func (p *Publisher) PublishValidation(ctx context.Context, result *types.ValidationResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal validation %s: %w", result.ID, err)
	}

	msg := kafkago.Message{
		Key:   []byte(strconv.FormatInt(result.EngagementID, 10)),
		Value: payload,
		Headers: []kafkago.Header{
			{Key: EventTypeHeader, Value: []byte(ValidatedEvent)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish validation to topic %s: %w", p.topic, err)
	}

	p.logger.WithFields(logrus.Fields{
		"component":     "kafka_publisher",
		"topic":         p.topic,
		"engagement_id": result.EngagementID,
		"payload_size":  len(payload),
	}).Debug("Published validation event")
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// PublishingResultWriter stores verdicts with the wrapped writer and then publishes them.
// A publish failure is logged and never fails the validation.
type PublishingResultWriter struct {
	next      engine.ResultWriter
	publisher *Publisher
	logger    *logrus.Logger
}

func NewPublishingResultWriter(next engine.ResultWriter, publisher *Publisher, logger *logrus.Logger) *PublishingResultWriter {
	return &PublishingResultWriter{
		next:      next,
		publisher: publisher,
		logger:    logger,
	}
}

func (w *PublishingResultWriter) SaveResidualRiskLevels(ctx context.Context, scores []types.ScoredFinding) error {
	return w.next.SaveResidualRiskLevels(ctx, scores)
}

func (w *PublishingResultWriter) CreateValidation(ctx context.Context, result *types.ValidationResult) error {
	if err := w.next.CreateValidation(ctx, result); err != nil {
		return err
	}

	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := w.publisher.PublishValidation(publishCtx, result); err != nil {
		w.logger.WithError(err).WithField("engagement_id", result.EngagementID).Warn("Failed to publish validation event")
	}
	return nil
}
