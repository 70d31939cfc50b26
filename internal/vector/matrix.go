package vector

import "fmt"

// Matrix is a row-major stack of embeddings. Row i belongs to the i-th gallery path.
type Matrix struct {
	Rows int
	Dim  int
	Data []float32
}

// Empty returns a zero-row matrix with the given dimension.
func Empty(dim int) Matrix {
	return Matrix{Dim: dim, Data: []float32{}}
}

// Stack copies rows into a new matrix, preserving order. All rows must share one dimension.
func Stack(rows []Embedding) (Matrix, error) {
	if len(rows) == 0 {
		return Empty(0), nil
	}
	dim := len(rows[0])
	data := make([]float32, 0, len(rows)*dim)
	for i, r := range rows {
		if len(r) != dim {
			return Matrix{}, fmt.Errorf("row %d: %w: got %d want %d", i, ErrVectorLengthMismatch, len(r), dim)
		}
		data = append(data, r...)
	}
	return Matrix{Rows: len(rows), Dim: dim, Data: data}, nil
}

// Row returns row i as an embedding view. The slice aliases m.Data and must not be mutated.
func (m Matrix) Row(i int) Embedding {
	start := i * m.Dim
	return Embedding(m.Data[start : start+m.Dim : start+m.Dim])
}

// Validate checks the shape invariants and that every row is unit length.
func (m Matrix) Validate() error {
	if m.Rows < 0 || m.Dim < 0 {
		return fmt.Errorf("invalid shape %dx%d", m.Rows, m.Dim)
	}
	if len(m.Data) != m.Rows*m.Dim {
		return fmt.Errorf("data length %d does not match shape %dx%d", len(m.Data), m.Rows, m.Dim)
	}
	if m.Rows > 0 && m.Dim == 0 {
		return fmt.Errorf("rows without dimension")
	}
	for i := 0; i < m.Rows; i++ {
		if !m.Row(i).IsUnit() {
			return fmt.Errorf("row %d is not unit length (norm %.6f)", i, m.Row(i).Norm())
		}
	}
	return nil
}
