package services

import (
	"context"
	"errors"

	"github.com/temcen/simrec/pkg/models"
)

// Request failures the HTTP layer distinguishes. Anything else returned by a
// service is a backend error.
var (
	ErrValidation         = errors.New("invalid request")
	ErrNoVectors          = errors.New("no vectors found for the selected movies")
	ErrDegenerateCentroid = errors.New("failed to compute centroid")
	ErrNoCandidates       = errors.New("no candidates found")
	ErrJobNotFound        = errors.New("job not found")
)

// VectorReader loads stored catalog vectors of one vocabulary version.
type VectorReader interface {
	VectorsByIDs(ctx context.Context, ids []int, version string) (map[int]models.Vector, error)
	CandidateVectors(ctx context.Context, version string, limit int) ([]models.StoredVector, error)
}

type VectorWriter interface {
	UpsertVectors(ctx context.Context, vectors []models.StoredVector) error
}

type MovieReader interface {
	MoviesByIDs(ctx context.Context, ids []int) (map[int]models.Movie, error)
	MoviesAfter(ctx context.Context, afterID, limit int) ([]models.Movie, error)
}

type CatalogStats interface {
	CountMovies(ctx context.Context) (int64, error)
	CountVectors(ctx context.Context, version string) (int64, error)
	CountStaleVectors(ctx context.Context, version string) (int64, error)
}

// CFScoreReader serves precomputed collaborative-filtering scores keyed by an
// anchor movie.
type CFScoreReader interface {
	ScoresForAnchor(ctx context.Context, anchor int, candidates []int, limit int) (map[int]float64, error)
	HasScores(ctx context.Context) (bool, error)
}

// ResultCache memoizes full recommendation responses.
type ResultCache interface {
	Get(key string) (*models.RecommendationResult, bool)
	Set(key string, value *models.RecommendationResult)
	Clear() int
	Stats() models.CacheStats
}

// VectorEvictor drops per-item cached vectors after they are rewritten.
type VectorEvictor interface {
	Forget(ctx context.Context, ids []int, version string) error
}

// Recommender is the recommendation entry point used by the HTTP layer.
type Recommender interface {
	Recommend(ctx context.Context, req models.RecommendationRequest) (*models.RecommendationResult, error)
	InvalidateCache() int
}
