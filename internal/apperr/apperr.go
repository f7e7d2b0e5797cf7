// Package apperr defines the error taxonomy shared by every switchboard
// service. Packages wrap these sentinels with context; transports classify
// errors with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("forbidden")
	ErrNotFound            = errors.New("not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrConflict            = errors.New("conflict")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrInternal            = errors.New("internal failure")
)

// Internal tags a storage-layer failure. A nil err stays nil.
func Internal(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrInternal) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrInternal, err)
}

// Kind returns the taxonomy sentinel err belongs to. Errors outside the
// taxonomy are reported as ErrInternal.
func Kind(err error) error {
	for _, k := range []error{
		ErrUnauthorized,
		ErrForbidden,
		ErrNotFound,
		ErrInvalidInput,
		ErrConflict,
		ErrInsufficientCredits,
		ErrInternal,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrInternal
}
