package conversions

import (
	"fmt"
	"time"

	"mediaconvert/quota"
)

// ValidationError reports malformed input such as a missing file.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// QuotaExceededError is returned when an anonymous identity has used its
// conversions for the trailing window.
type QuotaExceededError struct {
	Status quota.Status
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("upload limit reached: %d conversions per %s for anonymous users, try again after %s or sign in",
		e.Status.Limit, quota.Window, e.Status.ResetAt.UTC().Format(time.RFC3339))
}
