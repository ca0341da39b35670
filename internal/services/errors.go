package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"task-master/backend/internal/database"

	"gorm.io/gorm"
)

var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrNotFound         = errors.New("task not found")
	ErrStoreUnavailable = errors.New("task store unavailable")
	ErrInternal         = errors.New("internal error")
)

// ValidationError rejects a request field before any store access.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func requireOwner(ownerID string) error {
	if ownerID == "" {
		return ErrUnauthorized
	}
	return nil
}

// classify maps store and connection failures onto the service taxonomy.
// Unexpected errors are logged here and never passed through verbatim.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, database.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		log.Printf("[tasks] %s: store unavailable: %v", op, err)
		return fmt.Errorf("%w: %s", ErrStoreUnavailable, op)
	}

	log.Printf("[tasks] %s failed: %v", op, err)
	return fmt.Errorf("%w: %s", ErrInternal, op)
}
