package contextdb

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrorClass buckets remote failures into the categories the reconciliation
// engine acts on. Anything unclassifiable is Fatal so unknown conditions are
// surfaced rather than swallowed.
type ErrorClass int

const (
	ClassFatal ErrorClass = iota
	ClassMissingPath
	ClassAlreadyExists
	ClassTransient
)

// String returns a human-readable class name.
func (c ErrorClass) String() string {
	switch c {
	case ClassMissingPath:
		return "missing_path"
	case ClassAlreadyExists:
		return "already_exists"
	case ClassTransient:
		return "transient"
	default:
		return "fatal"
	}
}

// APIError is a non-2xx response from the context database. The service does
// not expose a stable machine-readable taxonomy for every failure mode, so
// Status, Code, and Message are all kept for classification.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	URI     string `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("contextdb: %s (%d %s)", e.Message, e.Status, e.Code)
	}
	return fmt.Sprintf("contextdb: %s (%d)", e.Message, e.Status)
}

// Classify maps an error from any client call to an ErrorClass. All heuristic
// status/code/message matching lives here so the surface is centralized and
// swappable. Order of precedence: HTTP status, reason code, message text.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassFatal
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return ClassTransient
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return ClassFatal
	}

	switch apiErr.Status {
	case 404, 410:
		return ClassMissingPath
	case 409:
		return ClassAlreadyExists
	case 408, 429, 502, 503, 504:
		return ClassTransient
	}

	switch strings.ToLower(apiErr.Code) {
	case "not_found", "missing_path", "no_such_resource":
		return ClassMissingPath
	case "already_exists", "conflict", "duplicate":
		return ClassAlreadyExists
	case "timeout", "unavailable", "busy":
		return ClassTransient
	}

	msg := strings.ToLower(apiErr.Message)
	switch {
	case strings.Contains(msg, "not found"),
		strings.Contains(msg, "no such"),
		strings.Contains(msg, "does not exist"):
		return ClassMissingPath
	case strings.Contains(msg, "already exists"),
		strings.Contains(msg, "duplicate"):
		return ClassAlreadyExists
	}

	return ClassFatal
}

// IsMissingPath reports whether err classifies as a missing remote path.
func IsMissingPath(err error) bool {
	return Classify(err) == ClassMissingPath
}

// IsAlreadyExists reports whether err classifies as a pre-existing resource.
func IsAlreadyExists(err error) bool {
	return Classify(err) == ClassAlreadyExists
}
