package recorder

import (
	"encoding/json"
	"fmt"
)

// ErrorKind classifies recording failures for recovery policy.
type ErrorKind string

const (
	// KindPermissionDenied means the microphone permission check failed.
	KindPermissionDenied ErrorKind = "permission_denied"
	// KindDeviceUnavailable means arbitration loss or missing hardware.
	KindDeviceUnavailable ErrorKind = "device_unavailable"
	// KindConfigurationError means device init failed or a session was
	// already in progress.
	KindConfigurationError ErrorKind = "configuration_error"
	// KindIOError means a read, encode or disk failure.
	KindIOError ErrorKind = "io_error"
	// KindUnknown covers everything else.
	KindUnknown ErrorKind = "unknown"
)

// CaptureError carries a classified failure through the state machine.
type CaptureError struct {
	Kind      ErrorKind `json:"kind"`
	Cause     error     `json:"-"`
	Retryable bool      `json:"retryable"`
}

// MarshalJSON includes the flattened cause for status reporting.
func (e *CaptureError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind      ErrorKind `json:"kind"`
		Message   string    `json:"message"`
		Retryable bool      `json:"retryable"`
	}{Kind: e.Kind, Message: e.Error(), Retryable: e.Retryable})
}

// Error implements the error interface.
func (e *CaptureError) Error() string {
	if e.Cause == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *CaptureError) Unwrap() error {
	return e.Cause
}

// newError builds a retryable CaptureError of the given kind.
func newError(kind ErrorKind, cause error) *CaptureError {
	return &CaptureError{Kind: kind, Cause: cause, Retryable: true}
}

// newTimeoutError builds the one terminal, non-retryable failure: the hard
// recording time bound is a policy violation, not a transient fault.
func newTimeoutError(cause error) *CaptureError {
	return &CaptureError{Kind: KindConfigurationError, Cause: cause, Retryable: false}
}
