// Package similarity holds the pure vector operations used for ranking.
package similarity

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/temcen/simrec/pkg/models"
)

var (
	// ErrDimensionMismatch means two vectors come from different vocabulary layouts.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrEmptyInput is returned when aggregating zero vectors.
	ErrEmptyInput = errors.New("no vectors to aggregate")
)

// Norm returns the Euclidean length of v.
func Norm(v models.Vector) float64 {
	if len(v) == 0 {
		return 0
	}
	return floats.Norm(v, 2)
}

// Normalize scales v in place to unit length and returns it. A zero vector is
// returned unchanged.
func Normalize(v models.Vector) models.Vector {
	n := Norm(v)
	if n == 0 {
		return v
	}
	floats.Scale(1/n, v)
	return v
}

// Cosine returns the cosine similarity of a and b. Either operand having zero
// norm yields 0, not an error.
func Cosine(a, b models.Vector) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(a), len(b))
	}

	na, nb := Norm(a), Norm(b)
	if na == 0 || nb == 0 {
		return 0, nil
	}

	sim := floats.Dot(a, b) / (na * nb)
	// rounding can push identical directions a hair past 1
	if sim > 1 {
		sim = 1
	} else if sim < -1 {
		sim = -1
	}
	return sim, nil
}

// Centroid averages the vectors element-wise and L2-normalizes the mean.
// Inputs are not modified.
func Centroid(vectors []models.Vector) (models.Vector, error) {
	if len(vectors) == 0 {
		return nil, ErrEmptyInput
	}

	dim := len(vectors[0])
	sum := make(models.Vector, dim)
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: vector %d has %d dimensions, expected %d", ErrDimensionMismatch, i, len(v), dim)
		}
		floats.Add(sum, v)
	}

	floats.Scale(1/float64(len(vectors)), sum)
	return Normalize(sum), nil
}
