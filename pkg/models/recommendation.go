package models

// FeatureWeights are the per-field multipliers applied while building a vector.
type FeatureWeights struct {
	Genre    float64 `json:"genre" validate:"gte=0"`
	Rating   float64 `json:"rating" validate:"gte=0"`
	Cast     float64 `json:"cast" validate:"gte=0"`
	Director float64 `json:"director" validate:"gte=0"`
	Cinema   float64 `json:"cinema" validate:"gte=0"`
	Keywords float64 `json:"keywords" validate:"gte=0"`
	Year     float64 `json:"year" validate:"gte=0"`
	Runtime  float64 `json:"runtime" validate:"gte=0"`
}

// Sum returns the total of all weights.
func (w FeatureWeights) Sum() float64 {
	return w.Genre + w.Rating + w.Cast + w.Director + w.Cinema + w.Keywords + w.Year + w.Runtime
}

// FeatureWeightsInput carries the weights a caller chose to override.
// Omitted fields fall back to the base weights.
type FeatureWeightsInput struct {
	Genre    *float64 `json:"genre,omitempty"`
	Rating   *float64 `json:"rating,omitempty"`
	Cast     *float64 `json:"cast,omitempty"`
	Director *float64 `json:"director,omitempty"`
	Cinema   *float64 `json:"cinema,omitempty"`
	Keywords *float64 `json:"keywords,omitempty"`
	Year     *float64 `json:"year,omitempty"`
	Runtime  *float64 `json:"runtime,omitempty"`
}

// Apply overlays the provided fields on base.
func (in *FeatureWeightsInput) Apply(base FeatureWeights) FeatureWeights {
	if in == nil {
		return base
	}
	w := base
	set := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	set(&w.Genre, in.Genre)
	set(&w.Rating, in.Rating)
	set(&w.Cast, in.Cast)
	set(&w.Director, in.Director)
	set(&w.Cinema, in.Cinema)
	set(&w.Keywords, in.Keywords)
	set(&w.Year, in.Year)
	set(&w.Runtime, in.Runtime)
	return w
}

// RecommendationRequest is the body of POST /api/v1/recommendations.
// Pointer fields distinguish "omitted" from zero values so defaults can apply.
type RecommendationRequest struct {
	SelectedIDs     []int                `json:"selectedIds"`
	Weights         *FeatureWeightsInput `json:"weights,omitempty"`
	Limit           *int                 `json:"limit,omitempty"`
	ExcludeSelected *bool                `json:"excludeSelected,omitempty"`
	Hybrid          *bool                `json:"hybrid,omitempty"`
	HybridAlpha     *float64             `json:"hybridAlpha,omitempty"`
	MinSimilarity   *float64             `json:"minSimilarity,omitempty"`
}

// ScoredCandidate is a catalog item with its final ranking score.
type ScoredCandidate struct {
	ID           int      `json:"id"`
	Score        float64  `json:"score"`
	ContentScore float64  `json:"contentScore"`
	CFScore      *float64 `json:"cfScore,omitempty"`
}

// Recommendation is a scored candidate hydrated with catalog metadata.
type Recommendation struct {
	ScoredCandidate
	Movie *Movie `json:"movie,omitempty"`
}

type RecommendationMetadata struct {
	SelectedCount       int            `json:"selectedCount"`
	CandidatesEvaluated int            `json:"candidatesEvaluated"`
	SimilarityThreshold float64        `json:"similarityThreshold"`
	Hybrid              bool           `json:"hybrid"`
	HybridAlpha         float64        `json:"hybridAlpha"`
	Weights             FeatureWeights `json:"weights"`
	VocabularyVersion   string         `json:"vocabularyVersion"`
}

// RecommendationResult is either a ranked list with metadata or an empty
// list with an explanatory message.
type RecommendationResult struct {
	Results  []Recommendation        `json:"results"`
	Metadata *RecommendationMetadata `json:"metadata,omitempty"`
	Message  string                  `json:"message,omitempty"`
	Cached   bool                    `json:"cached"`
}

// ErrorResponse is the body returned for every non-2xx recommendation response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// RevectorizeRequest is the body of POST /api/v1/admin/movies/revectorize.
type RevectorizeRequest struct {
	MovieIDs []int `json:"movieIds" binding:"required,min=1,max=1000,dive,gt=0"`
}
