// Package vector provides the float32 vector math used for note similarity:
// cosine similarity and distance, arithmetic mean, and BLOB encoding for SQLite.
package vector

import (
	"errors"
	"fmt"
	"math"
)

// ErrZeroVector is returned when a cosine comparison involves a zero-magnitude vector.
var ErrZeroVector = errors.New("vector: zero-magnitude vector")

// scoreScale rounds similarity scores to 1e-9 so that vectors with the same direction
// score exactly 1.
const scoreScale = 1e9

// CosineSimilarity returns the cosine of the angle between a and b, in [-1, 1], rounded
// to nine decimal places. It returns an error if the vectors have different lengths, are empty, or either has zero magnitude.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector: dimension mismatch: %d vs %d", len(a), len(b))
	}
	if len(a) == 0 {
		return 0, fmt.Errorf("vector: cosine similarity on empty vectors")
	}
	var dot, na2, nb2 float64
	for i := range a {
		va := float64(a[i])
		vb := float64(b[i])
		dot += va * vb
		na2 += va * va
		nb2 += vb * vb
	}
	if na2 == 0 || nb2 == 0 {
		return 0, ErrZeroVector
	}
	sim := dot / (math.Sqrt(na2) * math.Sqrt(nb2))
	sim = math.Round(sim*scoreScale) / scoreScale
	return math.Max(-1, math.Min(1, sim)), nil
}

// CosineDistance returns 1 - CosineSimilarity(a, b), in [0, 2].
func CosineDistance(a, b []float32) (float64, error) {
	sim, err := CosineSimilarity(a, b)
	if err != nil {
		return 0, err
	}
	return 1 - sim, nil
}

// Mean returns the element-wise arithmetic mean of vectors.
// All vectors must share the same non-zero dimension.
func Mean(vectors [][]float32) ([]float32, error) {
	if len(vectors) == 0 {
		return nil, fmt.Errorf("vector: mean of no vectors")
	}
	dim := len(vectors[0])
	if dim == 0 {
		return nil, fmt.Errorf("vector: mean of empty vectors")
	}
	sum := make([]float64, dim)
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("vector: dimension mismatch at %d: %d vs %d", i, len(v), dim)
		}
		for j, x := range v {
			sum[j] += float64(x)
		}
	}
	mean := make([]float32, dim)
	n := float64(len(vectors))
	for j, s := range sum {
		mean[j] = float32(s / n)
	}
	return mean, nil
}

// Zero returns a zero vector of dimension d.
func Zero(d int) []float32 {
	return make([]float32, d)
}

// IsZero reports whether every component of v is zero.
func IsZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
