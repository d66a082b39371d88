package notification

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a notification does not exist or does
// not belong to the calling user. Callers cannot tell the two apart.
var ErrNotFound = errors.New("notification not found")

// ValidationError describes a malformed create request. It is terminal:
// the caller gets a 4xx and nothing is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
