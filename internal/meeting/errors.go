package meeting

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a meeting, user, or registration does not exist.
	ErrNotFound = errors.New("meeting: not found")
	// ErrForbidden is returned when the actor is neither the host nor an admin.
	ErrForbidden = errors.New("meeting: forbidden")
	// ErrMeetingCanceled is returned for operations on a canceled meeting.
	ErrMeetingCanceled = errors.New("meeting: canceled")
	// ErrAlreadyRegistered is returned when a non-canceled registration already exists.
	ErrAlreadyRegistered = errors.New("meeting: already registered")
	// ErrNotRegistered is returned when no active registration exists to cancel.
	ErrNotRegistered = errors.New("meeting: not registered")
)

// InvalidInputError reports malformed or out-of-range user input.
// Callers surface the reason and re-prompt; it is never retried internally.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("meeting: invalid input: %s", e.Reason)
}

func invalidInput(format string, args ...any) error {
	return &InvalidInputError{Reason: fmt.Sprintf(format, args...)}
}

// IsInvalidInput reports whether err is an InvalidInputError.
func IsInvalidInput(err error) bool {
	var ie *InvalidInputError
	return errors.As(err, &ie)
}
