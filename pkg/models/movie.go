package models

import "time"

// Vector is a fixed-length feature vector laid out by the vocabulary.
type Vector []float64

// ItemFeatures is the immutable metadata snapshot a movie vector is built from.
// Order inside the free-text lists carries no meaning.
type ItemFeatures struct {
	ID               int      `json:"id" db:"id"`
	Genres           []string `json:"genres,omitempty" db:"genres"`
	VoteAverage      float64  `json:"voteAverage" db:"vote_average"`
	VoteCount        int      `json:"voteCount" db:"vote_count"`
	Cast             []string `json:"cast,omitempty" db:"cast_names"`
	Directors        []string `json:"directors,omitempty" db:"directors"`
	Cinematographers []string `json:"cinematographers,omitempty" db:"cinematographers"`
	Keywords         []string `json:"keywords,omitempty" db:"keywords"`
	ReleaseYear      *int     `json:"releaseYear,omitempty" db:"release_year"`
	RuntimeMinutes   *int     `json:"runtimeMinutes,omitempty" db:"runtime_minutes"`
}

// Movie is a catalog row: features plus the display metadata used for hydration.
type Movie struct {
	ItemFeatures
	Title      string `json:"title" db:"title"`
	PosterPath string `json:"posterPath,omitempty" db:"poster_path"`
	Overview   string `json:"overview,omitempty" db:"overview"`
}

// StoredVector is a persisted catalog vector tagged with the vocabulary version it was built with.
type StoredVector struct {
	MovieID      int       `json:"movieId" db:"movie_id"`
	Vector       Vector    `json:"vector" db:"vector"`
	VocabVersion string    `json:"vocabVersion" db:"vocab_version"`
	UpdatedAt    time.Time `json:"updatedAt,omitempty" db:"updated_at"`
}

// CatalogStatus is reported by the status endpoint so operators can confirm
// the offline vectorization job has run.
type CatalogStatus struct {
	CatalogSize       int64      `json:"catalogSize"`
	VectorizedCount   int64      `json:"vectorizedCount"`
	StaleVectorCount  int64      `json:"staleVectorCount"`
	CFScoresAvailable bool       `json:"cfScoresAvailable"`
	VocabularyVersion string     `json:"vocabularyVersion"`
	Dimension         int        `json:"dimension"`
	Cache             CacheStats `json:"cache"`
	CheckedAt         time.Time  `json:"checkedAt"`
}

// CacheStats is a snapshot of result cache counters.
type CacheStats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Size      int64 `json:"size"`
}

type RateLimitInfo struct {
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	ResetTime int64 `json:"reset_time"`
}
