package store

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/temcen/simrec/pkg/models"
)

// BreakerConfig controls when a backend is considered down.
type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

func newBreaker[T any](name string, cfg BreakerConfig, logger *logrus.Logger) *gobreaker.CircuitBreaker[T] {
	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// A cancelled request says nothing about backend health. An expired
		// deadline, including recommendation.request_timeout, counts as a
		// failure: a backend that keeps missing it trips the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})
}

// VectorStore is the full set of vector operations guarded by BreakingVectorStore.
type VectorStore interface {
	VectorSource
	CandidateVectors(ctx context.Context, version string, limit int) ([]models.StoredVector, error)
}

// BreakingVectorStore fails fast while the vector backend keeps erroring.
type BreakingVectorStore struct {
	next       VectorStore
	byIDs      *gobreaker.CircuitBreaker[map[int]models.Vector]
	candidates *gobreaker.CircuitBreaker[[]models.StoredVector]
}

func NewBreakingVectorStore(next VectorStore, cfg BreakerConfig, logger *logrus.Logger) *BreakingVectorStore {
	return &BreakingVectorStore{
		next:       next,
		byIDs:      newBreaker[map[int]models.Vector]("vectors-by-id", cfg, logger),
		candidates: newBreaker[[]models.StoredVector]("candidate-vectors", cfg, logger),
	}
}

func (b *BreakingVectorStore) VectorsByIDs(ctx context.Context, ids []int, version string) (map[int]models.Vector, error) {
	return b.byIDs.Execute(func() (map[int]models.Vector, error) {
		return b.next.VectorsByIDs(ctx, ids, version)
	})
}

func (b *BreakingVectorStore) CandidateVectors(ctx context.Context, version string, limit int) ([]models.StoredVector, error) {
	return b.candidates.Execute(func() ([]models.StoredVector, error) {
		return b.next.CandidateVectors(ctx, version, limit)
	})
}

// CFSource is the CF lookup guarded by BreakingCFStore.
type CFSource interface {
	ScoresForAnchor(ctx context.Context, anchor int, candidates []int, limit int) (map[int]float64, error)
	HasScores(ctx context.Context) (bool, error)
}

// BreakingCFStore fails fast while the graph backend keeps erroring.
type BreakingCFStore struct {
	next   CFSource
	scores *gobreaker.CircuitBreaker[map[int]float64]
}

func NewBreakingCFStore(next CFSource, cfg BreakerConfig, logger *logrus.Logger) *BreakingCFStore {
	return &BreakingCFStore{
		next:   next,
		scores: newBreaker[map[int]float64]("cf-scores", cfg, logger),
	}
}

func (b *BreakingCFStore) ScoresForAnchor(ctx context.Context, anchor int, candidates []int, limit int) (map[int]float64, error) {
	return b.scores.Execute(func() (map[int]float64, error) {
		return b.next.ScoresForAnchor(ctx, anchor, candidates, limit)
	})
}

// HasScores bypasses the breaker; it backs the status endpoint, which should
// report the live state.
func (b *BreakingCFStore) HasScores(ctx context.Context) (bool, error) {
	return b.next.HasScores(ctx)
}
