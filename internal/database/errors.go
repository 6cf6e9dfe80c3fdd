package database

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable means the store could not be reached. Callers may retry.
	ErrUnavailable = errors.New("vector store unavailable")

	// ErrDimensionMismatch means a vector length differs from the store's dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrNotFound means the requested profile does not exist.
	ErrNotFound = errors.New("profile not found")
)

// CheckDimension returns ErrDimensionMismatch when len(vec) != dim. dim <= 0 accepts any non-empty vector.
func CheckDimension(vec []float32, dim int) error {
	if len(vec) == 0 {
		return fmt.Errorf("%w: empty vector", ErrDimensionMismatch)
	}
	if dim > 0 && len(vec) != dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), dim)
	}
	return nil
}
