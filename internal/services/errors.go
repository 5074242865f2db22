package services

import (
	"errors"
	"fmt"

	"github.com/storefront/api/internal/repositories"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located or is not visible to the caller.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates the operation is not allowed in the order's current state.
	ErrOrderInvalidState = errors.New("order: invalid state")
	// ErrOrderConflict indicates a conflicting duplicate, such as a second transaction for a paid
	// order, or a write that lost the race against a concurrent update.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrIllegalTransition indicates the requested status edge is not in the lifecycle graph.
	ErrIllegalTransition = errors.New("order: illegal status transition")
	// ErrInvalidSignature indicates a payment confirmation or webhook signature mismatch.
	ErrInvalidSignature = errors.New("payment: invalid signature")
	// ErrNotRefundable indicates the refund preconditions are not met.
	ErrNotRefundable = errors.New("refund: order not refundable")
	// ErrGateway indicates the payment gateway call failed; nothing was mutated.
	ErrGateway = errors.New("payment: gateway failure")
	// ErrPersistence indicates a store write failed after validation succeeded.
	ErrPersistence = errors.New("order: persistence failure")

	// errConcurrentUpdate marks a write refused because the order moved on since it was read.
	errConcurrentUpdate = fmt.Errorf("%w: order changed concurrently", ErrOrderConflict)
)

// mapRepositoryError translates store errors into service sentinels. Unavailable stores
// surface as ErrPersistence so callers can retry the whole operation.
func mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrPersistence, err)
		}
	}
	return err
}

// persistError wraps a failed write after validation.
func persistError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", errConcurrentUpdate, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrPersistence, err)
}
