package vector

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	e, err := Normalize([]float32{3, 4})
	require.NoError(t, err)
	assert.InDelta(t, 0.6, e[0], 1e-6)
	assert.InDelta(t, 0.8, e[1], 1e-6)
	assert.True(t, e.IsUnit())
}

func TestNormalize_DoesNotAlias(t *testing.T) {
	in := []float32{2, 0}
	e, err := Normalize(in)
	require.NoError(t, err)
	assert.Equal(t, float32(2), in[0])
	assert.Equal(t, float32(1), e[0])
}

func TestNormalize_ZeroVector(t *testing.T) {
	_, err := Normalize([]float32{0, 0, 0})
	assert.ErrorIs(t, err, ErrZeroVector)

	_, err = Normalize(nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDot_LengthMismatch(t *testing.T) {
	_, err := Dot([]float32{1, 0}, []float32{1, 0, 0})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrVectorLengthMismatch))
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestCosineDistance(t *testing.T) {
	a, _ := Normalize([]float32{1, 1})
	d, err := CosineDistance(a, a)
	require.NoError(t, err)
	assert.InDelta(t, 0, d, 1e-6)

	b := []float32{-a[0], -a[1]}
	d, err = CosineDistance(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 2, d, 1e-6)

	c := []float32{float32(math.Sqrt(0.5)), -float32(math.Sqrt(0.5))}
	d, err = CosineDistance(a, c)
	require.NoError(t, err)
	assert.InDelta(t, 1, d, 1e-6)
}

func TestStackAndRow(t *testing.T) {
	r1, _ := Normalize([]float32{1, 0, 0})
	r2, _ := Normalize([]float32{0, 1, 0})
	m, err := Stack([]Embedding{r1, r2})
	require.NoError(t, err)
	assert.Equal(t, 2, m.Rows)
	assert.Equal(t, 3, m.Dim)
	assert.Equal(t, r2, m.Row(1))
	require.NoError(t, m.Validate())
}

func TestStack_Empty(t *testing.T) {
	m, err := Stack(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Rows)
	assert.Empty(t, m.Data)
	require.NoError(t, m.Validate())
}

func TestStack_RaggedRows(t *testing.T) {
	_, err := Stack([]Embedding{{1, 0}, {1, 0, 0}})
	assert.ErrorIs(t, err, ErrVectorLengthMismatch)
}

func TestMatrixValidate_NotUnit(t *testing.T) {
	m := Matrix{Rows: 1, Dim: 2, Data: []float32{3, 4}}
	assert.Error(t, m.Validate())

	m = Matrix{Rows: 2, Dim: 2, Data: []float32{1, 0}}
	assert.Error(t, m.Validate())
}
