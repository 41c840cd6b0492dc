package routes

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"mediaconvert/access"
	"mediaconvert/conversions"
	"mediaconvert/engine"
	"mediaconvert/formats"
	"mediaconvert/logger"
)

// ErrorResponse is the body of every 4xx and 5xx reply.
type ErrorResponse struct {
	Message   string     `json:"message"`
	ResetTime *time.Time `json:"resetTime,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorf("Failed to encode response: %v", err)
	}
}

// writeError maps domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr     *conversions.ValidationError
		qerr     *conversions.QuotaExceededError
		mismatch *formats.MismatchError
		ferr     *engine.FailureError
	)
	resp := ErrorResponse{Message: err.Error()}
	status := http.StatusInternalServerError

	switch {
	case errors.As(err, &verr), errors.Is(err, formats.ErrInvalidTargetFormat):
		status = http.StatusBadRequest
	case errors.As(err, &qerr):
		status = http.StatusTooManyRequests
		resp.ResetTime = &qerr.Status.ResetAt
		w.Header().Set("Retry-After", retryAfter(qerr.Status.ResetAt))
	case errors.As(err, &mismatch):
		status = http.StatusBadRequest
	case errors.Is(err, formats.ErrUnsupportedMediaKind):
		status = http.StatusUnsupportedMediaType
	case errors.Is(err, access.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, access.ErrAccessDenied):
		status = http.StatusForbidden
	case errors.Is(err, access.ErrNotReady):
		status = http.StatusBadRequest
	case errors.As(err, &ferr):
		status = http.StatusUnprocessableEntity
	}

	if status >= 500 {
		logger.Errorf("%s %s failed: %v", r.Method, r.URL.Path, err)
		resp.Message = "internal server error"
	} else {
		logger.Debugf("%s %s rejected (%d): %v", r.Method, r.URL.Path, status, err)
	}
	writeJSON(w, status, resp)
}

func retryAfter(reset time.Time) string {
	secs := int(time.Until(reset).Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
