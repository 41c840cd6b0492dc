package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"mediaconvert/artifacts"
)

// Failure kinds recorded on failed jobs. Classification errors
// (formats.ErrUnsupportedMediaKind, *formats.MismatchError) are returned
// synchronously by StartConversion instead.
var (
	ErrEngineTimeout    = errors.New("engine_timeout")
	ErrEngineFailure    = errors.New("engine_failure")
	ErrArtifactNotFound = errors.New("artifact_not_found")
)

// FailureError is the terminal error of a conversion attempt.
type FailureError struct {
	Kind   error
	Detail string
}

func (e *FailureError) Error() string {
	if e.Detail == "" {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Detail
}

func (e *FailureError) Unwrap() error { return e.Kind }

func failure(kind error, format string, args ...any) *FailureError {
	return &FailureError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

const maxReasonLength = 500

// asFailure classifies any error from the conversion pipeline.
func asFailure(err error) *FailureError {
	var fe *FailureError
	if errors.As(err, &fe) {
		return fe
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &FailureError{Kind: ErrEngineTimeout}
	case errors.Is(err, artifacts.ErrNotFound):
		return &FailureError{Kind: ErrArtifactNotFound, Detail: err.Error()}
	}
	return &FailureError{Kind: ErrEngineFailure, Detail: err.Error()}
}

// failureReason is the string stored on the job.
func failureReason(err error) string {
	reason := strings.ToValidUTF8(asFailure(err).Error(), "\uFFFD")
	if len(reason) > maxReasonLength {
		cut := maxReasonLength
		for cut > 0 && !utf8.RuneStart(reason[cut]) {
			cut--
		}
		reason = reason[:cut] + "... (truncated)"
	}
	return reason
}
