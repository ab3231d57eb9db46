package messaging

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/temcen/simrec/internal/config"
)

// MetadataUpdatedEvent announces that the metadata of some movies changed and
// their vectors must be rebuilt.
type MetadataUpdatedEvent struct {
	EventID    uuid.UUID `json:"eventId"`
	MovieIDs   []int     `json:"movieIds"`
	Timestamp  time.Time `json:"timestamp"`
	RetryCount int       `json:"retryCount"`
}

type EventHandler func(ctx context.Context, event MetadataUpdatedEvent) error

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type MessageBus struct {
	writer     messageWriter
	reader     messageReader
	dlqWriter  messageWriter
	topic      string
	dlqTopic   string
	maxRetries int
	baseDelay  time.Duration
	logger     *logrus.Logger
}

func NewMessageBus(cfg config.KafkaConfig, logger *logrus.Logger) (*MessageBus, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("no Kafka brokers configured")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topics.MetadataUpdated,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    100,
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topics.MetadataUpdated,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		CommitInterval: 0,
		StartOffset:    kafka.LastOffset,
	})

	dlqWriter := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topics.DeadLetter,
		RequiredAcks: kafka.RequireOne,
	}

	return &MessageBus{
		writer:     writer,
		reader:     reader,
		dlqWriter:  dlqWriter,
		topic:      cfg.Topics.MetadataUpdated,
		dlqTopic:   cfg.Topics.DeadLetter,
		maxRetries: cfg.MaxRetries,
		baseDelay:  time.Second,
		logger:     logger,
	}, nil
}

// PublishMetadataUpdated emits one event naming the changed movies.
func (mb *MessageBus) PublishMetadataUpdated(ctx context.Context, movieIDs []int) (uuid.UUID, error) {
	event := MetadataUpdatedEvent{
		EventID:   uuid.New(),
		MovieIDs:  movieIDs,
		Timestamp: time.Now().UTC(),
	}

	value, err := json.Marshal(event)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	key := ""
	if len(movieIDs) > 0 {
		key = strconv.Itoa(movieIDs[0])
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.EventID.String())},
			{Key: "timestamp", Value: []byte(event.Timestamp.Format(time.RFC3339))},
		},
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := mb.writer.WriteMessages(ctx, msg); err != nil {
		return uuid.Nil, fmt.Errorf("failed to write message to Kafka: %w", err)
	}

	mb.logger.WithFields(logrus.Fields{
		"event_id":  event.EventID,
		"movie_ids": len(movieIDs),
		"topic":     mb.topic,
	}).Info("Metadata update published")

	return event.EventID, nil
}

// ConsumeMetadataUpdates blocks until ctx is done. Each message is committed
// once handled, either successfully or by landing in the dead-letter topic.
func (mb *MessageBus) ConsumeMetadataUpdates(ctx context.Context, handler EventHandler) error {
	for {
		msg, err := mb.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			mb.logger.WithError(err).Error("Failed to read message from Kafka")
			continue
		}

		mb.handle(ctx, msg, handler)

		if err := mb.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			mb.logger.WithError(err).WithField("offset", msg.Offset).Error("Failed to commit message")
		}
	}
}

func (mb *MessageBus) handle(ctx context.Context, msg kafka.Message, handler EventHandler) {
	var event MetadataUpdatedEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		mb.logger.WithError(err).WithField("offset", msg.Offset).Error("Malformed metadata event")
		if dlqErr := mb.sendToDLQ(ctx, msg.Value, event, err); dlqErr != nil {
			mb.logger.WithError(dlqErr).Error("Failed to send message to DLQ")
		}
		return
	}

	if err := mb.processWithRetry(ctx, &event, handler); err != nil {
		if ctx.Err() != nil {
			return
		}
		mb.logger.WithError(err).WithField("event_id", event.EventID).Error("Failed to process event after retries")
		if dlqErr := mb.sendToDLQ(ctx, msg.Value, event, err); dlqErr != nil {
			mb.logger.WithError(dlqErr).Error("Failed to send message to DLQ")
		}
	}
}

func (mb *MessageBus) processWithRetry(ctx context.Context, event *MetadataUpdatedEvent, handler EventHandler) error {
	var err error
	for attempt := 0; attempt <= mb.maxRetries; attempt++ {
		if attempt > 0 {
			delay := mb.baseDelay * time.Duration(1<<uint(attempt-1))
			mb.logger.WithFields(logrus.Fields{
				"event_id": event.EventID,
				"attempt":  attempt,
				"delay":    delay,
			}).Info("Retrying event processing")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		event.RetryCount = attempt
		if err = handler(ctx, *event); err == nil {
			return nil
		}
		mb.logger.WithError(err).WithFields(logrus.Fields{
			"event_id": event.EventID,
			"attempt":  attempt,
		}).Warn("Event processing failed")
	}
	return fmt.Errorf("max retries exceeded: %w", err)
}

func (mb *MessageBus) sendToDLQ(ctx context.Context, raw []byte, event MetadataUpdatedEvent, cause error) error {
	payload := map[string]interface{}{
		"error":         cause.Error(),
		"retry_count":   event.RetryCount,
		"dlq_timestamp": time.Now().UTC(),
	}
	if json.Valid(raw) {
		payload["original_message"] = json.RawMessage(raw)
	} else {
		payload["original_payload"] = string(raw)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ message: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.EventID.String()),
		Value: body,
		Headers: []kafka.Header{
			{Key: "original_topic", Value: []byte(mb.topic)},
			{Key: "error", Value: []byte(cause.Error())},
		},
	}
	if err := mb.dlqWriter.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to DLQ: %w", err)
	}

	mb.logger.WithFields(logrus.Fields{
		"event_id": event.EventID,
		"topic":    mb.dlqTopic,
		"error":    cause.Error(),
	}).Warn("Message sent to DLQ")
	return nil
}

func (mb *MessageBus) Close() error {
	var errs []error
	if err := mb.writer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close producer: %w", err))
	}
	if err := mb.reader.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close consumer: %w", err))
	}
	if err := mb.dlqWriter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close DLQ writer: %w", err))
	}
	return errors.Join(errs...)
}
