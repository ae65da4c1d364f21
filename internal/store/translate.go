package store

import (
	"errors"

	apperrors "companion-workers/internal/common/errors"
)

// Translate maps a store error for entity id onto the application error
// taxonomy. StandardErrors pass through unchanged.
func Translate(err error, entity, id string) error {
	if err == nil {
		return nil
	}
	if _, ok := apperrors.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return apperrors.NewNotFoundError(entity, id)
	case errors.Is(err, ErrPreconditionFailed):
		return apperrors.NewInvalidStateError(entity, id, "changed concurrently")
	case errors.Is(err, ErrDuplicate):
		se := apperrors.NewInvalidStateError(entity, id, "already exists")
		se.Err = err
		return se
	default:
		return apperrors.NewDependencyFailureError("store", err)
	}
}
