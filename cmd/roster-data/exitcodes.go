package main

import (
	"errors"

	"github.com/iota-uz/roster/modules/roster/services"
)

type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string {
	return e.err.Error()
}

func (e *cliError) Unwrap() error {
	return e.err
}

const (
	exitOK         = 0
	exitValidation = 2
	exitUsage      = 3
	exitDB         = 4
	exitDBWrite    = 5
	exitSafetyNet  = 6
)

func withCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &cliError{code: code, err: err}
}

// serviceCode maps a service failure onto the exit code scheme.
func serviceCode(err error) int {
	switch services.KindOf(err) {
	case services.KindValidation:
		return exitValidation
	case services.KindConflict:
		return exitSafetyNet
	case services.KindNotFound:
		return exitUsage
	case services.KindFatal:
		return exitDB
	default:
		return exitDBWrite
	}
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ce *cliError
	if errors.As(err, &ce) {
		return ce.code
	}
	return 1
}
