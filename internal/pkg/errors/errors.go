package errors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDeviceUnavailable is returned when no capture device can be opened.
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	// ErrPermissionDenied is returned when capture permission was refused.
	ErrPermissionDenied = errors.New("capture permission denied")
	// ErrSessionRejected is returned when the backend refuses a telemetry
	// session start.
	ErrSessionRejected = errors.New("telemetry session rejected")
	// ErrSubmitInFlight is returned for quiz submissions attempted while a
	// previous submission has not settled.
	ErrSubmitInFlight = errors.New("submission already in flight")
)

// IsDeviceError reports whether err belongs to the device-error class: the
// task stays usable, telemetry degrades to off for the rest of the view.
func IsDeviceError(err error) bool {
	return errors.Is(err, ErrDeviceUnavailable) || errors.Is(err, ErrPermissionDenied)
}

// MissingAnswersError rejects a quiz submission locally, before any backend
// call, and enumerates the unanswered question indices (0-based).
type MissingAnswersError struct {
	Indices []int
}

func (e *MissingAnswersError) Error() string {
	parts := make([]string, 0, len(e.Indices))
	for _, i := range e.Indices {
		parts = append(parts, fmt.Sprintf("%d", i+1))
	}
	return "unanswered questions: " + strings.Join(parts, ", ")
}

// CloseRefusedError is returned when a view may not be dismissed yet. Reason
// is the message surfaced to the learner.
type CloseRefusedError struct {
	Reason string
}

func (e *CloseRefusedError) Error() string {
	return e.Reason
}
