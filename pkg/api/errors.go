package api

import (
	"errors"
	"fmt"
)

var (
	// ErrVersionConflict means another writer won the optimistic race. The
	// caller should abandon its change rather than retry blindly.
	ErrVersionConflict = errors.New("version conflict")

	// ErrNotFoundOrExpired means the instance is missing or its TTL lapsed.
	// Callers treat it as "nothing to do".
	ErrNotFoundOrExpired = errors.New("instance not found or expired")

	// ErrInvalidTransition is returned when the stored state is terminal or
	// the requested transition is malformed.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrInstanceExists is returned by Start when an explicit ID is reused.
	ErrInstanceExists = errors.New("instance already exists")

	// ErrDuplicateSuppressed is a no-op signal from the posting guard.
	ErrDuplicateSuppressed = errors.New("duplicate suppressed")
)

// ValidationError reports rejected step input. It is recoverable: the same
// step is shown again with Message inline.
type ValidationError struct {
	StepID  string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for %s.%s: %s", e.StepID, e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed for %s: %s", e.StepID, e.Message)
}

// CollaboratorError wraps a failure from the messaging, planning or
// ticketing collaborators.
type CollaboratorError struct {
	Collaborator string // "messenger", "planner", "tickets"
	Op           string
	Retryable    bool
	Cause        error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Collaborator, e.Op, e.Cause)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Cause
}

// NewCollaboratorError builds a CollaboratorError.
func NewCollaboratorError(collaborator, op string, retryable bool, cause error) *CollaboratorError {
	return &CollaboratorError{
		Collaborator: collaborator,
		Op:           op,
		Retryable:    retryable,
		Cause:        cause,
	}
}

// IsRetryable reports whether err is a collaborator failure marked
// retryable.
func IsRetryable(err error) bool {
	var ce *CollaboratorError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}
