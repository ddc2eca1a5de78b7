package fetch

import (
	"errors"
	"fmt"
)

// ErrorClass classifies bill fetch failures for metrics and retry policy.
type ErrorClass string

const (
	// ErrorClassHTTP covers non-2xx portal responses.
	ErrorClassHTTP ErrorClass = "http"

	// ErrorClassTimeout covers per-item deadline hits.
	ErrorClassTimeout ErrorClass = "timeout"

	// ErrorClassCaptcha covers the portal's invalid-captcha sentinel.
	ErrorClassCaptcha ErrorClass = "invalid_captcha"

	// ErrorClassNotFound covers 2xx responses that do not echo the
	// queried reference number.
	ErrorClassNotFound ErrorClass = "reference_not_found"

	// ErrorClassExtraction covers responses where no amount pattern
	// matched at all.
	ErrorClassExtraction ErrorClass = "extraction"

	// ErrorClassNetwork covers transport failures.
	ErrorClassNetwork ErrorClass = "network"
)

// Sentinel errors usable with errors.Is.
var (
	// ErrInvalidCaptcha means the portal rejected the session's solved
	// CAPTCHA text; retrying needs a fresh session.
	ErrInvalidCaptcha = errors.New("invalid captcha")

	// ErrReferenceNotFound means the response body did not echo the
	// queried reference, so the bill cannot be trusted.
	ErrReferenceNotFound = errors.New("reference not found")

	// ErrTimeout means the per-item fetch deadline was exceeded.
	ErrTimeout = errors.New("timeout")

	// ErrExtraction means no amount pattern matched the response body.
	ErrExtraction = errors.New("no amount pattern matched")
)

// PortalError is a classified bill fetch failure.
type PortalError struct {
	StatusCode int
	Class      ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *PortalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("portal %s error: %s: %v", e.Class, e.Message, e.Err)
	}
	return fmt.Sprintf("portal %s error: %s", e.Class, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *PortalError) Unwrap() error {
	return e.Err
}

// Classify returns the error class of a fetch failure, or "" for nil.
func Classify(err error) ErrorClass {
	if err == nil {
		return ""
	}
	var perr *PortalError
	if errors.As(err, &perr) {
		return perr.Class
	}
	return ErrorClassNetwork
}
