package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/temcen/simrec/internal/messaging"
)

type idVectorizer interface {
	VectorizeIDs(ctx context.Context, ids []int) (int, error)
}

type metadataEventSource interface {
	ConsumeMetadataUpdates(ctx context.Context, handler messaging.EventHandler) error
}

// MetadataUpdateConsumer rebuilds vectors whenever movie metadata changes.
type MetadataUpdateConsumer struct {
	source     metadataEventSource
	vectorizer idVectorizer
	metrics    *Metrics
	logger     *logrus.Logger
}

func NewMetadataUpdateConsumer(source metadataEventSource, vectorizer idVectorizer, metrics *Metrics, logger *logrus.Logger) *MetadataUpdateConsumer {
	return &MetadataUpdateConsumer{
		source:     source,
		vectorizer: vectorizer,
		metrics:    metrics,
		logger:     logger,
	}
}

// Run blocks until ctx is cancelled.
func (c *MetadataUpdateConsumer) Run(ctx context.Context) error {
	c.logger.Info("Metadata update consumer started")
	err := c.source.ConsumeMetadataUpdates(ctx, c.Handle)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *MetadataUpdateConsumer) Handle(ctx context.Context, event messaging.MetadataUpdatedEvent) error {
	if len(event.MovieIDs) == 0 {
		c.metrics.observeMetadataEvent("empty")
		return nil
	}

	written, err := c.vectorizer.VectorizeIDs(ctx, event.MovieIDs)
	if err != nil {
		c.metrics.observeMetadataEvent("error")
		return fmt.Errorf("failed to re-vectorize movies: %w", err)
	}

	c.metrics.observeMetadataEvent("ok")
	c.logger.WithFields(logrus.Fields{
		"event_id": event.EventID,
		"movies":   len(event.MovieIDs),
		"written":  written,
		"attempt":  event.RetryCount,
	}).Info("Movie vectors refreshed")
	return nil
}
