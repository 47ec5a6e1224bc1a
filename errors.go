package geosem

import (
	"errors"
	"fmt"

	"github.com/hupe1980/geosem/atom"
	"github.com/hupe1980/geosem/basis"
	"github.com/hupe1980/geosem/embedding"
	"github.com/hupe1980/geosem/model"
)

var (
	// ErrNotFound is returned when an atom or embedding row is not found.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTopK is returned when top-k is negative.
	ErrInvalidTopK = errors.New("top-k must not be negative")

	// ErrBasisVersionConflict is returned when a basis install does not
	// advance the current version.
	ErrBasisVersionConflict = basis.ErrVersionConflict
)

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

// ErrUnknownModel indicates an operation against an unregistered model.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrUnknownModel struct {
	ModelID model.ModelID
	cause   error
}

func (e *ErrUnknownModel) Error() string {
	return fmt.Sprintf("unknown model: %s", e.ModelID)
}

func (e *ErrUnknownModel) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Not found unification.
	if errors.Is(err, atom.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	var enf *embedding.ErrNotFound
	if errors.As(err, &enf) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	// Model and dimension normalization.
	var um *embedding.ErrUnknownModel
	if errors.As(err, &um) {
		return &ErrUnknownModel{ModelID: um.ModelID, cause: err}
	}
	var dm *embedding.ErrDimensionMismatch
	if errors.As(err, &dm) {
		return &ErrDimensionMismatch{Expected: dm.Expected, Actual: dm.Actual, cause: err}
	}

	return err
}
