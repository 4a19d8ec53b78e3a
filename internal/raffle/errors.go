package raffle

import (
	"fmt"
	"sort"
)

// ValidationError rejects a request before any lock is taken.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ConflictError reports why a reservation, transition or draw cannot proceed.
// Numbers carries the exact conflicting number values when the conflict is
// about inventory; Status the current state when it is about a lifecycle.
type ConflictError struct {
	Message string
	Numbers []int
	Status  string
}

func (e *ConflictError) Error() string {
	if len(e.Numbers) > 0 {
		return fmt.Sprintf("%s: %v", e.Message, e.Numbers)
	}
	return e.Message
}

// AuthError rejects an operation on a resource the caller does not own.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return e.Message
}

func newConflict(message string, numbers []int) *ConflictError {
	sort.Ints(numbers)
	return &ConflictError{Message: message, Numbers: numbers}
}
