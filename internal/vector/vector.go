// Package vector holds the embedding and matrix types shared by the encoder,
// the classifier and the gallery index.
package vector

import (
	"fmt"
	"math"
)

// normTolerance bounds how far a stored embedding may drift from unit length.
const normTolerance = 1e-3

// Embedding is a unit-length vector in the encoder's shared latent space.
type Embedding []float32

// Dim returns the embedding dimension.
func (e Embedding) Dim() int { return len(e) }

// Norm returns the L2 norm of e.
func (e Embedding) Norm() float64 {
	var sum float64
	for _, x := range e {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// IsUnit reports whether e has L2 norm 1 within tolerance.
func (e Embedding) IsUnit() bool {
	return math.Abs(e.Norm()-1) <= normTolerance
}

// Normalize returns a new vector scaled to unit L2 norm.
func Normalize(v []float32) (Embedding, error) {
	if len(v) == 0 {
		return nil, fmt.Errorf("%w: empty vector", ErrInvalidInput)
	}
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	n := math.Sqrt(sum)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return nil, ErrZeroVector
	}
	out := make(Embedding, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out, nil
}

// Dot computes the inner product of two vectors of equal length. For unit
// vectors this is the cosine similarity.
func Dot(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: got %d want %d", ErrVectorLengthMismatch, len(b), len(a))
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot, nil
}

// CosineDistance returns 1 - a·b for unit vectors, clipped to [0, 2].
func CosineDistance(a, b []float32) (float64, error) {
	dot, err := Dot(a, b)
	if err != nil {
		return 0, err
	}
	d := 1 - dot
	if d < 0 {
		d = 0
	}
	if d > 2 {
		d = 2
	}
	return d, nil
}
