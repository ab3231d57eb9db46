package messaging

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/simrec/internal/config"
)

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

// fakeReader serves queued messages, then blocks until the context ends.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []kafka.Message
	drained   chan struct{}
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	return &fakeReader{queue: msgs, drained: make(chan struct{})}
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	if len(r.queue) == 0 {
		select {
		case <-r.drained:
		default:
			close(r.drained)
		}
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testBus(reader messageReader) (*MessageBus, *fakeWriter, *fakeWriter) {
	writer, dlq := &fakeWriter{}, &fakeWriter{}
	return &MessageBus{
		writer:     writer,
		reader:     reader,
		dlqWriter:  dlq,
		topic:      "movie-metadata-updated",
		dlqTopic:   "movie-metadata-updated-dlq",
		maxRetries: 2,
		baseDelay:  time.Millisecond,
		logger:     quietLogger(),
	}, writer, dlq
}

func eventMessage(t *testing.T, ids ...int) kafka.Message {
	t.Helper()
	value, err := json.Marshal(MetadataUpdatedEvent{EventID: uuid.New(), MovieIDs: ids})
	require.NoError(t, err)
	return kafka.Message{Value: value}
}

// consume runs the consumer until the reader has committed everything queued.
func consume(t *testing.T, bus *MessageBus, reader *fakeReader, handler EventHandler) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bus.ConsumeMetadataUpdates(ctx, handler) }()

	select {
	case <-reader.drained:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not drain the queue")
	}
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestNewMessageBus_RequiresBrokers(t *testing.T) {
	_, err := NewMessageBus(config.KafkaConfig{}, quietLogger())
	assert.Error(t, err)
}

func TestPublishMetadataUpdated(t *testing.T) {
	bus, writer, _ := testBus(newFakeReader())

	id, err := bus.PublishMetadataUpdated(context.Background(), []int{550, 13})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)

	require.Len(t, writer.messages, 1)
	msg := writer.messages[0]
	assert.Equal(t, "550", string(msg.Key))

	var event MetadataUpdatedEvent
	require.NoError(t, json.Unmarshal(msg.Value, &event))
	assert.Equal(t, id, event.EventID)
	assert.Equal(t, []int{550, 13}, event.MovieIDs)
}

func TestPublishMetadataUpdated_WriterError(t *testing.T) {
	bus, writer, _ := testBus(newFakeReader())
	writer.err = errors.New("broker down")

	_, err := bus.PublishMetadataUpdated(context.Background(), []int{1})
	assert.ErrorContains(t, err, "broker down")
}

func TestConsumeMetadataUpdates_Success(t *testing.T) {
	reader := newFakeReader(eventMessage(t, 1, 2), eventMessage(t, 3))
	bus, _, dlq := testBus(reader)

	var seen [][]int
	consume(t, bus, reader, func(ctx context.Context, event MetadataUpdatedEvent) error {
		seen = append(seen, event.MovieIDs)
		return nil
	})

	assert.Equal(t, [][]int{{1, 2}, {3}}, seen)
	assert.Len(t, reader.committed, 2)
	assert.Empty(t, dlq.messages)
}

func TestConsumeMetadataUpdates_RetriesThenSucceeds(t *testing.T) {
	reader := newFakeReader(eventMessage(t, 7))
	bus, _, dlq := testBus(reader)

	attempts := 0
	consume(t, bus, reader, func(ctx context.Context, event MetadataUpdatedEvent) error {
		attempts++
		assert.Equal(t, attempts-1, event.RetryCount)
		if attempts < 2 {
			return errors.New("transient")
		}
		return nil
	})

	assert.Equal(t, 2, attempts)
	assert.Empty(t, dlq.messages)
}

func TestConsumeMetadataUpdates_DeadLetters(t *testing.T) {
	reader := newFakeReader(eventMessage(t, 9), kafka.Message{Value: []byte("not json")})
	bus, _, dlq := testBus(reader)

	attempts := 0
	consume(t, bus, reader, func(ctx context.Context, event MetadataUpdatedEvent) error {
		attempts++
		return errors.New("store down")
	})

	assert.Equal(t, 3, attempts)
	require.Len(t, dlq.messages, 2)
	assert.Len(t, reader.committed, 2)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(dlq.messages[0].Value, &body))
	assert.Contains(t, body["error"], "store down")
	assert.Contains(t, body, "original_message")

	require.NoError(t, json.Unmarshal(dlq.messages[1].Value, &body))
	assert.Equal(t, "not json", body["original_payload"])
}
