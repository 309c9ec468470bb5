// Package vector holds the numeric routines used to compare query embeddings.
package vector

import (
	"fmt"
	"math"

	"queryagent/internal/apperrors"
)

// Dot returns the dot product of a and b. Lengths must match.
func Dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// Norm returns the L2 norm of v.
func Norm(v []float64) float64 {
	return math.Sqrt(Dot(v, v))
}

// CosineSimilarity returns dot(a,b)/(|a||b|) in [-1, 1].
// A zero vector on either side yields 0 rather than an error.
func CosineSimilarity(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", apperrors.ErrDimensionMismatch, len(a), len(b))
	}

	na, nb := Norm(a), Norm(b)
	if na == 0 || nb == 0 {
		return 0, nil
	}

	sim := Dot(a, b) / (na * nb)

	// rounding can push parallel vectors just past the bounds
	if sim > 1 {
		sim = 1
	} else if sim < -1 {
		sim = -1
	}
	return sim, nil
}
