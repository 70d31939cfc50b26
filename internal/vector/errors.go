package vector

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput marks a caller contract violation (empty label set, dimension mismatch, ...).
	ErrInvalidInput = errors.New("invalid input")

	// ErrVectorLengthMismatch indicates two vectors have different dimensions.
	ErrVectorLengthMismatch = fmt.Errorf("%w: vector length mismatch", ErrInvalidInput)

	// ErrZeroVector is returned when a vector with zero norm cannot be normalized.
	ErrZeroVector = errors.New("zero-norm vector")
)
