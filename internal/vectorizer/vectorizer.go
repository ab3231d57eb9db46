// Package vectorizer turns catalog metadata into fixed-length feature vectors
// laid out by the vocab package.
package vectorizer

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/temcen/simrec/internal/similarity"
	"github.com/temcen/simrec/internal/vocab"
	"github.com/temcen/simrec/pkg/models"
)

// WilsonZ is the normal quantile for a 95% confidence interval.
const WilsonZ = 1.96

// ErrIrreversibleWeight is returned by Reweight when a block was built with a
// zero weight, so its original contents are gone.
var ErrIrreversibleWeight = errors.New("block built with zero weight cannot be re-projected")

// DefaultWeights are the weights every stored catalog vector is built with.
// Changing them requires a vocabulary version bump.
func DefaultWeights() models.FeatureWeights {
	return models.FeatureWeights{
		Genre:    1.0,
		Rating:   0.5,
		Cast:     0.8,
		Director: 0.8,
		Cinema:   0.3,
		Keywords: 0.6,
		Year:     0.4,
		Runtime:  0.2,
	}
}

// Build produces the L2-normalized vector for item. Absent fields contribute
// nothing; an item with no signal at all yields the zero vector.
func Build(item models.ItemFeatures, w models.FeatureWeights) models.Vector {
	l := vocab.Offsets()
	v := make(models.Vector, l.Dimension)

	for _, g := range item.Genres {
		if i, ok := vocab.GenreIndex(g); ok {
			v[l.Genres+i] = w.Genre
		}
	}

	v[l.Rating] = RatingScore(item.VoteAverage, item.VoteCount) * w.Rating

	if item.ReleaseYear != nil && *item.ReleaseYear > 0 {
		if i := vocab.BucketIndex(vocab.YearBuckets, *item.ReleaseYear); i >= 0 {
			v[l.Year+i] = w.Year
		}
	}
	if item.RuntimeMinutes != nil && *item.RuntimeMinutes > 0 {
		if i := vocab.BucketIndex(vocab.RuntimeBuckets, *item.RuntimeMinutes); i >= 0 {
			v[l.Runtime+i] = w.Runtime
		}
	}

	hashTokens(v[l.Cast:l.Cast+vocab.HashDim], vocab.TagCast, item.Cast, w.Cast)
	hashTokens(v[l.Directors:l.Directors+vocab.HashDim], vocab.TagDirector, item.Directors, w.Director)
	hashTokens(v[l.Cinematographers:l.Cinematographers+vocab.HashDim], vocab.TagCinematographer, item.Cinematographers, w.Cinema)
	hashTokens(v[l.Keywords:l.Keywords+vocab.HashDim], vocab.TagKeyword, item.Keywords, w.Keywords)

	return similarity.Normalize(v)
}

// hashTokens sets one slot per token. Repeats and collisions saturate at weight.
func hashTokens(block models.Vector, tag string, tokens []string, weight float64) {
	for _, token := range tokens {
		if slot, ok := vocab.HashToken(tag, token); ok {
			block[slot] = weight
		}
	}
}

// RatingScore converts a 0-10 average and a vote count into a confidence
// adjusted score in [0, 1].
func RatingScore(voteAverage float64, voteCount int) float64 {
	if voteCount <= 0 {
		return 0
	}

	total := float64(voteCount)
	positive := math.Round(voteAverage * total / 10)
	positive = math.Max(0, math.Min(positive, total))

	score := WilsonLowerBound(positive, total, WilsonZ)
	return math.Max(0, math.Min(score, 1))
}

// WilsonLowerBound is the lower bound of the Wilson score interval for a
// binomial proportion with the given number of successes.
func WilsonLowerBound(positive, total, z float64) float64 {
	if total <= 0 {
		return 0
	}

	phat := positive / total
	z2 := z * z
	center := phat + z2/(2*total)
	margin := z * math.Sqrt((phat*(1-phat)+z2/(4*total))/total)
	return (center - margin) / (1 + z2/total)
}

type span struct {
	start, end int
}

// blocks lists the vector spans in the same order as weightList.
func blocks() []span {
	l := vocab.Offsets()
	return []span{
		{l.Genres, l.Rating},
		{l.Rating, l.Year},
		{l.Year, l.Runtime},
		{l.Runtime, l.Cast},
		{l.Cast, l.Directors},
		{l.Directors, l.Cinematographers},
		{l.Cinematographers, l.Keywords},
		{l.Keywords, l.Dimension},
	}
}

func weightList(w models.FeatureWeights) []float64 {
	return []float64{w.Genre, w.Rating, w.Year, w.Runtime, w.Cast, w.Director, w.Cinema, w.Keywords}
}

// Projection maps vectors built with one set of weights onto another. Each
// block was scaled by a single weight before normalization, so scaling it by
// to/from and normalizing again matches a fresh Build with the target weights
// up to rounding.
type Projection struct {
	spans    []span
	ratios   []float64
	identity bool
}

// NewProjection prepares the re-projection from weights from to weights to.
// A block built with a zero weight cannot be recovered.
func NewProjection(from, to models.FeatureWeights) (*Projection, error) {
	p := &Projection{spans: blocks(), identity: from == to}
	if p.identity {
		return p, nil
	}

	fw, tw := weightList(from), weightList(to)
	p.ratios = make([]float64, len(fw))
	for i := range fw {
		switch {
		case fw[i] == tw[i]:
			p.ratios[i] = 1
		case fw[i] == 0:
			return nil, fmt.Errorf("%w: block %d", ErrIrreversibleWeight, i)
		default:
			p.ratios[i] = tw[i] / fw[i]
		}
	}
	return p, nil
}

// Identity reports whether the projection leaves vectors unchanged.
func (p *Projection) Identity() bool {
	return p.identity
}

// Apply returns the re-projected, re-normalized copy of v.
func (p *Projection) Apply(v models.Vector) (models.Vector, error) {
	if len(v) != vocab.Dimension() {
		return nil, fmt.Errorf("%w: got %d, expected %d", similarity.ErrDimensionMismatch, len(v), vocab.Dimension())
	}

	out := make(models.Vector, len(v))
	copy(out, v)
	if p.identity {
		return out, nil
	}

	for i, b := range p.spans {
		if p.ratios[i] != 1 {
			floats.Scale(p.ratios[i], out[b.start:b.end])
		}
	}
	return similarity.Normalize(out), nil
}

// Cosine returns the cosine similarity between q and the projection of v
// without materializing the projected vector.
func (p *Projection) Cosine(q, v models.Vector) (float64, error) {
	if p.identity {
		return similarity.Cosine(q, v)
	}
	if len(q) != len(v) || len(v) != vocab.Dimension() {
		return 0, fmt.Errorf("%w: %d != %d", similarity.ErrDimensionMismatch, len(q), len(v))
	}

	var dot, vv float64
	for i, b := range p.spans {
		r := p.ratios[i]
		vb := v[b.start:b.end]
		dot += r * floats.Dot(q[b.start:b.end], vb)
		vv += r * r * floats.Dot(vb, vb)
	}

	qn := similarity.Norm(q)
	if qn == 0 || vv == 0 {
		return 0, nil
	}

	sim := dot / (qn * math.Sqrt(vv))
	return math.Max(-1, math.Min(sim, 1)), nil
}

// Reweight re-projects a single vector; see Projection.
func Reweight(v models.Vector, from, to models.FeatureWeights) (models.Vector, error) {
	p, err := NewProjection(from, to)
	if err != nil {
		return nil, err
	}
	return p.Apply(v)
}
