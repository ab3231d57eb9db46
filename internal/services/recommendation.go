package services

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/temcen/simrec/internal/cache"
	"github.com/temcen/simrec/internal/config"
	"github.com/temcen/simrec/internal/similarity"
	"github.com/temcen/simrec/internal/vectorizer"
	"github.com/temcen/simrec/internal/vocab"
	"github.com/temcen/simrec/pkg/models"
)

const (
	emptyResultMessage = "No movies passed the similarity threshold. Try lowering minSimilarity or selecting different movies."
	resultCacheNS      = "rec"
)

// RecommendationService ranks catalog movies against the centroid of a
// user's selection, optionally blending in collaborative-filtering scores.
type RecommendationService struct {
	vectors  VectorReader
	movies   MovieReader
	cf       CFScoreReader
	cache    ResultCache
	metrics  *Metrics
	cfg      config.RecommendationConfig
	validate *validator.Validate
	logger   *logrus.Logger
}

func NewRecommendationService(
	vectors VectorReader,
	movies MovieReader,
	cf CFScoreReader,
	resultCache ResultCache,
	metrics *Metrics,
	cfg config.RecommendationConfig,
	logger *logrus.Logger,
) *RecommendationService {
	return &RecommendationService{
		vectors:  vectors,
		movies:   movies,
		cf:       cf,
		cache:    resultCache,
		metrics:  metrics,
		cfg:      cfg,
		validate: validator.New(),
		logger:   logger,
	}
}

// resolvedRequest is a request with every default applied.
type resolvedRequest struct {
	ids             []int
	weights         models.FeatureWeights
	limit           int
	excludeSelected bool
	hybrid          bool
	alpha           float64
	minSimilarity   float64
}

// resultKey is hashed into the result cache key. Ids are sorted so selection
// order only matters through Anchor, which is set only for hybrid requests.
type resultKey struct {
	IDs             []int                 `json:"ids"`
	Weights         models.FeatureWeights `json:"weights"`
	Limit           int                   `json:"limit"`
	ExcludeSelected bool                  `json:"excludeSelected"`
	Hybrid          bool                  `json:"hybrid"`
	Alpha           float64               `json:"alpha"`
	MinSimilarity   float64               `json:"minSimilarity"`
	Version         string                `json:"version"`
	Anchor          int                   `json:"anchor,omitempty"`
}

func (s *RecommendationService) Recommend(ctx context.Context, req models.RecommendationRequest) (*models.RecommendationResult, error) {
	start := time.Now()
	result, outcome, err := s.recommend(ctx, req)
	s.metrics.observeRequest(outcome, time.Since(start))
	return result, err
}

func (s *RecommendationService) recommend(ctx context.Context, req models.RecommendationRequest) (*models.RecommendationResult, string, error) {
	r, err := s.resolve(req)
	if err != nil {
		return nil, "invalid", err
	}

	key, err := cache.Key(resultCacheNS, r.cacheKey())
	if err != nil {
		return nil, "error", fmt.Errorf("failed to build cache key: %w", err)
	}
	if cached, ok := s.cache.Get(key); ok {
		s.metrics.observeCache(true)
		out := *cached
		out.Cached = true
		return &out, "cached", nil
	}
	s.metrics.observeCache(false)

	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	result, err := s.compute(ctx, r)
	if err != nil {
		switch {
		case errors.Is(err, ErrNoVectors), errors.Is(err, ErrNoCandidates), errors.Is(err, ErrDegenerateCentroid):
			return nil, "not_found", err
		default:
			return nil, "error", err
		}
	}

	if len(result.Results) == 0 {
		return result, "empty", nil
	}
	s.cache.Set(key, result)
	return result, "ok", nil
}

func (r resolvedRequest) cacheKey() resultKey {
	ids := append([]int(nil), r.ids...)
	sort.Ints(ids)
	k := resultKey{
		IDs:             ids,
		Weights:         r.weights,
		Limit:           r.limit,
		ExcludeSelected: r.excludeSelected,
		Hybrid:          r.hybrid,
		Alpha:           r.alpha,
		MinSimilarity:   r.minSimilarity,
		Version:         vocab.Version,
	}
	if r.hybrid {
		k.Anchor = r.ids[0]
	}
	return k
}

// resolve applies defaults and validates the request.
func (s *RecommendationService) resolve(req models.RecommendationRequest) (resolvedRequest, error) {
	r := resolvedRequest{
		weights:         req.Weights.Apply(vectorizer.DefaultWeights()),
		limit:           s.cfg.DefaultLimit,
		excludeSelected: true,
		alpha:           s.cfg.DefaultHybridAlpha,
		minSimilarity:   s.cfg.DefaultMinSimilarity,
	}
	if req.Limit != nil {
		r.limit = *req.Limit
	}
	if req.ExcludeSelected != nil {
		r.excludeSelected = *req.ExcludeSelected
	}
	if req.Hybrid != nil {
		r.hybrid = *req.Hybrid
	}
	if req.HybridAlpha != nil {
		r.alpha = *req.HybridAlpha
	}
	if req.MinSimilarity != nil {
		r.minSimilarity = *req.MinSimilarity
	}

	if err := s.validate.Var(req.SelectedIDs, "dive,gt=0"); err != nil {
		return r, invalid("selectedIds must be positive movie ids")
	}
	r.ids = dedupe(req.SelectedIDs)
	if err := s.validate.Var(r.ids, fmt.Sprintf("min=1,max=%d", s.cfg.MaxSelected)); err != nil {
		return r, invalid(fmt.Sprintf("selectedIds must contain between 1 and %d distinct movies", s.cfg.MaxSelected))
	}

	if err := s.validate.Struct(r.weights); err != nil {
		return r, invalid("weights must be non-negative: " + fieldNames(err))
	}
	if sum := r.weights.Sum(); !(sum > 0 && sum <= s.cfg.MaxWeightSum) {
		return r, invalid(fmt.Sprintf("sum of weights must be greater than 0 and at most %g", s.cfg.MaxWeightSum))
	}
	if err := s.validate.Var(r.alpha, "gte=0,lte=1"); err != nil {
		return r, invalid("hybridAlpha must be between 0 and 1")
	}
	if err := s.validate.Var(r.minSimilarity, "gte=-1,lte=1"); err != nil {
		return r, invalid("minSimilarity must be between -1 and 1")
	}
	if err := s.validate.Var(r.limit, fmt.Sprintf("min=1,max=%d", s.cfg.MaxLimit)); err != nil {
		return r, invalid(fmt.Sprintf("limit must be between 1 and %d", s.cfg.MaxLimit))
	}
	return r, nil
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

func fieldNames(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	names := make([]string, len(verrs))
	for i, fe := range verrs {
		names[i] = strings.ToLower(fe.Field())
	}
	return strings.Join(names, ", ")
}

// dedupe drops repeated ids, keeping first occurrences in order.
func dedupe(ids []int) []int {
	seen := make(map[int]struct{}, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (s *RecommendationService) compute(ctx context.Context, r resolvedRequest) (*models.RecommendationResult, error) {
	projection, err := vectorizer.NewProjection(vectorizer.DefaultWeights(), r.weights)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare weight projection: %w", err)
	}

	found, err := s.vectors.VectorsByIDs(ctx, r.ids, vocab.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to load selected vectors: %w", err)
	}

	selected := make([]models.Vector, 0, len(found))
	for _, id := range r.ids {
		v, ok := found[id]
		if !ok {
			continue
		}
		if !projection.Identity() {
			if v, err = projection.Apply(v); err != nil {
				s.logger.WithError(err).WithField("movie_id", id).Warn("Skipping selected vector")
				continue
			}
		}
		selected = append(selected, v)
	}
	if len(selected) == 0 {
		return nil, ErrNoVectors
	}

	centroid, err := similarity.Centroid(selected)
	if err != nil {
		return nil, fmt.Errorf("failed to compute centroid: %w", err)
	}
	if similarity.Norm(centroid) == 0 {
		return nil, ErrDegenerateCentroid
	}

	pool := r.limit * s.cfg.CandidateMultiplier
	if s.cfg.CandidatePoolCap > 0 && pool > s.cfg.CandidatePoolCap {
		pool = s.cfg.CandidatePoolCap
	}
	candidates, err := s.vectors.CandidateVectors(ctx, vocab.Version, pool)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidate vectors: %w", err)
	}

	if r.excludeSelected {
		candidates = excludeIDs(candidates, r.ids)
	}
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}
	s.metrics.observeCandidates(len(candidates))

	scored, err := s.score(ctx, centroid, candidates, projection, r.minSimilarity)
	if err != nil {
		return nil, err
	}

	if r.hybrid && len(scored) > 0 {
		if scored, err = s.blend(ctx, r, scored); err != nil {
			return nil, err
		}
	}

	if len(scored) > r.limit {
		scored = scored[:r.limit]
	}

	meta := &models.RecommendationMetadata{
		SelectedCount:       len(selected),
		CandidatesEvaluated: len(candidates),
		SimilarityThreshold: r.minSimilarity,
		Hybrid:              r.hybrid,
		HybridAlpha:         r.alpha,
		Weights:             r.weights,
		VocabularyVersion:   vocab.Version,
	}
	if len(scored) == 0 {
		return &models.RecommendationResult{
			Results:  []models.Recommendation{},
			Metadata: meta,
			Message:  emptyResultMessage,
		}, nil
	}

	results, err := s.hydrate(ctx, scored)
	if err != nil {
		return nil, err
	}
	return &models.RecommendationResult{Results: results, Metadata: meta}, nil
}

func excludeIDs(candidates []models.StoredVector, ids []int) []models.StoredVector {
	skip := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		skip[id] = struct{}{}
	}
	out := candidates[:0:0]
	for _, c := range candidates {
		if _, ok := skip[c.MovieID]; !ok {
			out = append(out, c)
		}
	}
	return out
}

// score computes content similarity for every candidate, drops those under
// the threshold and orders the rest by score, then id.
func (s *RecommendationService) score(
	ctx context.Context,
	centroid models.Vector,
	candidates []models.StoredVector,
	projection *vectorizer.Projection,
	threshold float64,
) ([]models.ScoredCandidate, error) {
	sims := make([]float64, len(candidates))
	valid := make([]bool, len(candidates))

	scoreRange := func(lo, hi int) {
		for i := lo; i < hi; i++ {
			sim, err := projection.Cosine(centroid, candidates[i].Vector)
			if err != nil {
				s.logger.WithError(err).WithFields(logrus.Fields{
					"movie_id":      candidates[i].MovieID,
					"vocab_version": candidates[i].VocabVersion,
				}).Warn("Skipping candidate vector")
				continue
			}
			sims[i], valid[i] = sim, true
		}
	}

	if s.cfg.ParallelThreshold > 0 && len(candidates) >= s.cfg.ParallelThreshold {
		workers := runtime.GOMAXPROCS(0)
		chunk := (len(candidates) + workers - 1) / workers
		g, gctx := errgroup.WithContext(ctx)
		for lo := 0; lo < len(candidates); lo += chunk {
			lo, hi := lo, min(lo+chunk, len(candidates))
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				scoreRange(lo, hi)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, fmt.Errorf("scoring aborted: %w", err)
		}
	} else {
		scoreRange(0, len(candidates))
	}

	scored := make([]models.ScoredCandidate, 0, len(candidates))
	for i, c := range candidates {
		if !valid[i] || sims[i] < threshold {
			continue
		}
		scored = append(scored, models.ScoredCandidate{
			ID:           c.MovieID,
			Score:        sims[i],
			ContentScore: sims[i],
		})
	}
	sortScored(scored)
	return scored, nil
}

func sortScored(scored []models.ScoredCandidate) {
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ID < scored[j].ID
	})
}

// blend mixes content scores with CF scores for the anchor movie. Candidates
// without a CF score count as zero.
func (s *RecommendationService) blend(ctx context.Context, r resolvedRequest, scored []models.ScoredCandidate) ([]models.ScoredCandidate, error) {
	anchor := r.ids[0]
	ids := make([]int, len(scored))
	for i, c := range scored {
		ids[i] = c.ID
	}

	cfScores, err := s.cf.ScoresForAnchor(ctx, anchor, ids, s.cfg.CFLookupLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load collaborative scores for anchor %d: %w", anchor, err)
	}

	for i := range scored {
		cf, ok := cfScores[scored[i].ID]
		if ok {
			cf := cf
			scored[i].CFScore = &cf
		}
		scored[i].Score = r.alpha*scored[i].ContentScore + (1-r.alpha)*cf
	}
	sortScored(scored)
	return scored, nil
}

func (s *RecommendationService) hydrate(ctx context.Context, scored []models.ScoredCandidate) ([]models.Recommendation, error) {
	ids := make([]int, len(scored))
	for i, c := range scored {
		ids[i] = c.ID
	}

	movies, err := s.movies.MoviesByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load movie metadata: %w", err)
	}

	results := make([]models.Recommendation, len(scored))
	var missing []int
	for i, c := range scored {
		results[i] = models.Recommendation{ScoredCandidate: c}
		if m, ok := movies[c.ID]; ok {
			m := m
			results[i].Movie = &m
		} else {
			missing = append(missing, c.ID)
		}
	}
	if len(missing) > 0 {
		s.logger.WithField("movie_ids", missing).Warn("Recommended movies have no metadata")
	}
	return results, nil
}

// InvalidateCache drops every memoized result and reports how many were removed.
func (s *RecommendationService) InvalidateCache() int {
	n := s.cache.Clear()
	s.logger.WithField("entries", n).Info("Recommendation cache invalidated")
	return n
}
