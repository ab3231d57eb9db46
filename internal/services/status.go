package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/temcen/simrec/internal/vocab"
	"github.com/temcen/simrec/pkg/models"
)

// StatusService reports how much of the catalog has current vectors.
type StatusService struct {
	stats  CatalogStats
	cf     CFScoreReader
	cache  ResultCache
	logger *logrus.Logger
}

func NewStatusService(stats CatalogStats, cf CFScoreReader, resultCache ResultCache, logger *logrus.Logger) *StatusService {
	return &StatusService{
		stats:  stats,
		cf:     cf,
		cache:  resultCache,
		logger: logger,
	}
}

func (s *StatusService) Status(ctx context.Context) (*models.CatalogStatus, error) {
	status := &models.CatalogStatus{
		VocabularyVersion: vocab.Version,
		Dimension:         vocab.Dimension(),
		Cache:             s.cache.Stats(),
		CheckedAt:         time.Now().UTC(),
	}

	var err error
	if status.CatalogSize, err = s.stats.CountMovies(ctx); err != nil {
		return nil, fmt.Errorf("failed to count movies: %w", err)
	}
	if status.VectorizedCount, err = s.stats.CountVectors(ctx, vocab.Version); err != nil {
		return nil, fmt.Errorf("failed to count vectors: %w", err)
	}
	if status.StaleVectorCount, err = s.stats.CountStaleVectors(ctx, vocab.Version); err != nil {
		return nil, fmt.Errorf("failed to count stale vectors: %w", err)
	}

	// CF is optional; an unreachable graph just reports it unavailable
	if s.cf != nil {
		ok, err := s.cf.HasScores(ctx)
		if err != nil {
			s.logger.WithError(err).Warn("Failed to check collaborative scores")
		}
		status.CFScoresAvailable = ok && err == nil
	}

	return status, nil
}
