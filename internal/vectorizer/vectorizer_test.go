package vectorizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/simrec/internal/similarity"
	"github.com/temcen/simrec/internal/vocab"
	"github.com/temcen/simrec/pkg/models"
)

func intPtr(v int) *int { return &v }

func sampleItem() models.ItemFeatures {
	return models.ItemFeatures{
		ID:               550,
		Genres:           []string{"Drama", "Thriller"},
		VoteAverage:      8.4,
		VoteCount:        26280,
		Cast:             []string{"Brad Pitt", "Edward Norton", "Helena Bonham Carter"},
		Directors:        []string{"David Fincher"},
		Cinematographers: []string{"Jeff Cronenweth"},
		Keywords:         []string{"dual identity", "insomnia", "support group"},
		ReleaseYear:      intPtr(1999),
		RuntimeMinutes:   intPtr(139),
	}
}

func onlyWeight(set func(*models.FeatureWeights)) models.FeatureWeights {
	w := models.FeatureWeights{}
	set(&w)
	return w
}

func TestBuild(t *testing.T) {
	t.Run("unit norm for a populated item", func(t *testing.T) {
		v := Build(sampleItem(), DefaultWeights())
		assert.Len(t, v, vocab.Dimension())
		assert.InDelta(t, 1.0, similarity.Norm(v), 1e-12)
	})

	t.Run("empty item yields the exact zero vector", func(t *testing.T) {
		v := Build(models.ItemFeatures{ID: 7}, DefaultWeights())
		assert.Equal(t, make(models.Vector, vocab.Dimension()), v)
	})

	t.Run("deterministic", func(t *testing.T) {
		a := Build(sampleItem(), DefaultWeights())
		b := Build(sampleItem(), DefaultWeights())
		assert.Equal(t, a, b)
	})

	t.Run("genre multi-hot", func(t *testing.T) {
		item := models.ItemFeatures{Genres: []string{"drama", "Unknown Genre"}}
		v := Build(item, onlyWeight(func(w *models.FeatureWeights) { w.Genre = 2 }))

		drama, _ := vocab.GenreIndex("Drama")
		assert.Equal(t, 1.0, v[vocab.Offsets().Genres+drama])
		assert.InDelta(t, 1.0, similarity.Norm(v), 1e-12)
	})

	t.Run("year and runtime one-hot", func(t *testing.T) {
		item := models.ItemFeatures{ReleaseYear: intPtr(1985), RuntimeMinutes: intPtr(95)}
		v := Build(item, onlyWeight(func(w *models.FeatureWeights) { w.Year = 1 }))
		assert.Equal(t, 1.0, v[vocab.Offsets().Year+1])

		v = Build(item, onlyWeight(func(w *models.FeatureWeights) { w.Runtime = 1 }))
		assert.Equal(t, 1.0, v[vocab.Offsets().Runtime+1])
	})

	t.Run("repeated tokens do not accumulate", func(t *testing.T) {
		item := models.ItemFeatures{Cast: []string{"Tilda Swinton", "tilda swinton", " TILDA SWINTON "}}
		v := Build(item, onlyWeight(func(w *models.FeatureWeights) { w.Cast = 1 }))

		slot, ok := vocab.HashToken(vocab.TagCast, "Tilda Swinton")
		require.True(t, ok)
		assert.Equal(t, 1.0, v[vocab.Offsets().Cast+slot])
	})

	t.Run("same name in different fields uses different blocks", func(t *testing.T) {
		item := models.ItemFeatures{
			Cast:      []string{"Clint Eastwood"},
			Directors: []string{"Clint Eastwood"},
		}
		v := Build(item, models.FeatureWeights{Cast: 1, Director: 1})

		l := vocab.Offsets()
		castSlot, _ := vocab.HashToken(vocab.TagCast, "Clint Eastwood")
		dirSlot, _ := vocab.HashToken(vocab.TagDirector, "Clint Eastwood")
		assert.Greater(t, v[l.Cast+castSlot], 0.0)
		assert.Greater(t, v[l.Directors+dirSlot], 0.0)
	})
}

func TestIdenticalItemsAreFullySimilar(t *testing.T) {
	x := models.ItemFeatures{ID: 1, Genres: []string{"Drama"}, VoteAverage: 8.0, VoteCount: 1000}
	y := models.ItemFeatures{ID: 2, Genres: []string{"Drama"}, VoteAverage: 8.0, VoteCount: 1000}

	weightSets := []models.FeatureWeights{
		DefaultWeights(),
		{Genre: 1},
		{Rating: 3},
		{Genre: 0.1, Rating: 9.9},
		{Genre: 2, Rating: 1, Cast: 1, Director: 1, Cinema: 1, Keywords: 1, Year: 1, Runtime: 1},
	}
	for _, w := range weightSets {
		sim, err := similarity.Cosine(Build(x, w), Build(y, w))
		require.NoError(t, err)
		assert.InDelta(t, 1.0, sim, 1e-12, "weights %+v", w)
	}
}

func TestCosineOfBuiltVectorsIsNonNegative(t *testing.T) {
	items := []models.ItemFeatures{
		sampleItem(),
		{ID: 2, Genres: []string{"Comedy"}, VoteAverage: 6.1, VoteCount: 40, ReleaseYear: intPtr(2015)},
		{ID: 3, Keywords: []string{"space", "alien"}, RuntimeMinutes: intPtr(200)},
		{ID: 4},
		{ID: 5, Cast: []string{"Brad Pitt"}, Genres: []string{"Thriller", "Crime"}},
	}
	for _, a := range items {
		for _, b := range items {
			sim, err := similarity.Cosine(Build(a, DefaultWeights()), Build(b, DefaultWeights()))
			require.NoError(t, err)
			assert.GreaterOrEqual(t, sim, 0.0)
			assert.LessOrEqual(t, sim, 1.0)
		}
	}
}

func TestRatingScore(t *testing.T) {
	assert.Equal(t, 0.0, RatingScore(9.5, 0))
	assert.Equal(t, 0.0, RatingScore(0, 500))
	assert.InDelta(t, 0.7741, RatingScore(8.0, 1000), 1e-3)

	// few votes are trusted less than many votes at a lower average
	assert.Less(t, RatingScore(10, 1), RatingScore(8.0, 1000))

	score := RatingScore(12, 10)
	assert.GreaterOrEqual(t, score, 0.0)
	assert.LessOrEqual(t, score, 1.0)
}

func TestWilsonLowerBound(t *testing.T) {
	assert.Equal(t, 0.0, WilsonLowerBound(0, 0, WilsonZ))
	assert.InDelta(t, 0.2065, WilsonLowerBound(1, 1, WilsonZ), 1e-3)
	assert.Less(t, WilsonLowerBound(9, 10, WilsonZ), WilsonLowerBound(900, 1000, WilsonZ))
}

func TestReweight(t *testing.T) {
	to := models.FeatureWeights{Genre: 3, Rating: 0.1, Cast: 2, Director: 0, Cinema: 1, Keywords: 0.5, Year: 1.5, Runtime: 0.7}

	t.Run("matches a fresh build", func(t *testing.T) {
		stored := Build(sampleItem(), DefaultWeights())
		got, err := Reweight(stored, DefaultWeights(), to)
		require.NoError(t, err)
		assert.InDeltaSlice(t, Build(sampleItem(), to), got, 1e-9)
	})

	t.Run("identity keeps the vector", func(t *testing.T) {
		stored := Build(sampleItem(), DefaultWeights())
		got, err := Reweight(stored, DefaultWeights(), DefaultWeights())
		require.NoError(t, err)
		assert.Equal(t, stored, got)
	})

	t.Run("input is not modified", func(t *testing.T) {
		stored := Build(sampleItem(), DefaultWeights())
		before := append(models.Vector(nil), stored...)
		_, err := Reweight(stored, DefaultWeights(), to)
		require.NoError(t, err)
		assert.Equal(t, before, stored)
	})

	t.Run("zero source weight cannot be recovered", func(t *testing.T) {
		from := DefaultWeights()
		from.Keywords = 0
		stored := Build(sampleItem(), from)
		_, err := Reweight(stored, from, DefaultWeights())
		assert.ErrorIs(t, err, ErrIrreversibleWeight)
	})

	t.Run("wrong dimension", func(t *testing.T) {
		_, err := Reweight(models.Vector{1, 0}, DefaultWeights(), to)
		assert.ErrorIs(t, err, similarity.ErrDimensionMismatch)
	})
}

func TestProjectionCosine(t *testing.T) {
	to := models.FeatureWeights{Genre: 0.2, Rating: 2, Cast: 1, Director: 1, Cinema: 0, Keywords: 3, Year: 0.4, Runtime: 1}
	p, err := NewProjection(DefaultWeights(), to)
	require.NoError(t, err)
	assert.False(t, p.Identity())

	query := Build(models.ItemFeatures{Genres: []string{"Thriller"}, Keywords: []string{"insomnia"}, VoteAverage: 7, VoteCount: 300}, to)
	stored := Build(sampleItem(), DefaultWeights())

	projected, err := p.Apply(stored)
	require.NoError(t, err)
	want, err := similarity.Cosine(query, projected)
	require.NoError(t, err)

	got, err := p.Cosine(query, stored)
	require.NoError(t, err)
	assert.InDelta(t, want, got, 1e-12)

	zero := make(models.Vector, vocab.Dimension())
	got, err = p.Cosine(query, zero)
	require.NoError(t, err)
	assert.Equal(t, 0.0, got)

	_, err = p.Cosine(query, models.Vector{1})
	assert.ErrorIs(t, err, similarity.ErrDimensionMismatch)
}
