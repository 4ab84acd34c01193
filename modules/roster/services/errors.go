package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind classifies a ServiceError for callers that branch on outcome
// rather than on HTTP status.
type ErrorKind string

const (
	KindValidation     ErrorKind = "validation"
	KindNotFound       ErrorKind = "not_found"
	KindConflict       ErrorKind = "conflict"
	KindForbidden      ErrorKind = "forbidden"
	KindPartialSuccess ErrorKind = "partial_success"
	KindFatal          ErrorKind = "fatal"
)

type ServiceError struct {
	Status  int
	Code    string
	Kind    ErrorKind
	Message string
	// Current carries the state a conflict was detected against, so the
	// caller can refresh without another read.
	Current any
	// Warnings lists best-effort steps that failed after the primary
	// mutation was committed.
	Warnings []string
	Cause    error
}

func (e *ServiceError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *ServiceError) Unwrap() error { return e.Cause }

func newServiceError(status int, code, message string, cause error) *ServiceError {
	return &ServiceError{Status: status, Code: code, Kind: kindForStatus(status), Message: message, Cause: cause}
}

func kindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusConflict:
		return KindConflict
	case status == http.StatusForbidden:
		return KindForbidden
	case status >= 500:
		return KindFatal
	case status >= 400:
		return KindValidation
	default:
		return KindPartialSuccess
	}
}

func validationError(code, message string) *ServiceError {
	return newServiceError(http.StatusUnprocessableEntity, code, message, nil)
}

func notFoundError(code, message string, cause error) *ServiceError {
	return newServiceError(http.StatusNotFound, code, message, cause)
}

func conflictError(code, message string, current any, cause error) *ServiceError {
	e := newServiceError(http.StatusConflict, code, message, cause)
	e.Current = current
	return e
}

func forbiddenError(code, message string, cause error) *ServiceError {
	return newServiceError(http.StatusForbidden, code, message, cause)
}

// partialSuccess reports a committed mutation whose follow-up writes did not
// all succeed.
func partialSuccess(warnings []string) *ServiceError {
	e := newServiceError(http.StatusOK, "ROSTER_PARTIAL_SUCCESS", "change applied, history incomplete: "+strings.Join(warnings, "; "), nil)
	e.Warnings = append([]string(nil), warnings...)
	return e
}

func fatalError(cause error) *ServiceError {
	return newServiceError(http.StatusServiceUnavailable, "ROSTER_STORE_UNAVAILABLE", "storage unavailable, operation not applied", cause)
}

// KindOf returns the kind of err, or "" for errors that did not come from
// this package.
func KindOf(err error) ErrorKind {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Kind
	}
	return ""
}

func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// IsPartialSuccess reports whether err only signals incomplete side writes.
func IsPartialSuccess(err error) bool {
	return IsKind(err, KindPartialSuccess)
}

// asServiceError maps store-level failures that escaped a domain-specific
// translation. Anything unrecognised is fatal.
func asServiceError(err error) error {
	if err == nil {
		return nil
	}
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fatalError(err)
	}
	return mapPgErrorToServiceError(err)
}
