package authz

import (
	"errors"
	"fmt"
)

// ErrForbidden is matched by every denial returned from Authorize.
var ErrForbidden = errors.New("permission denied")

// ForbiddenError describes a denied request.
type ForbiddenError struct {
	Subject string
	Object  string
	Action  string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("permission denied: %s may not %s %s", e.Subject, e.Action, e.Object)
}

func (e *ForbiddenError) Is(target error) bool { return target == ErrForbidden }

func forbiddenError(req Request) error {
	return &ForbiddenError{Subject: req.Subject, Object: req.Object, Action: req.Action}
}

// configError standardizes configuration validation errors.
func configError(msg string, args ...any) error {
	return fmt.Errorf("authz: "+msg, args...)
}
