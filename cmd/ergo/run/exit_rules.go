package run

import (
	"context"
	"errors"

	"github.com/flarebyte/ergo/internal/corrective"
	"github.com/flarebyte/ergo/internal/executor"
	"github.com/flarebyte/ergo/internal/generator"
)

const (
	exitCodeSuccess          = 0
	exitCodeToolErr          = 1
	exitCodeGenerationFailed = 3
	exitCodePermissionDenied = 4
	exitCodeSandboxFault     = 5
	exitCodeInterrupted      = 130
)

type runExitError struct {
	code int
	msg  string
}

func (e runExitError) Error() string { return e.msg }
func (e runExitError) ExitCode() int { return e.code }

// artifactExit propagates an artifact's or system command's own status. It
// prints nothing.
func artifactExit(code int) error {
	if code == exitCodeSuccess {
		return nil
	}
	return runExitError{code: code}
}

// classify maps a pipeline error to its exit status.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var exitErr runExitError
	if errors.As(err, &exitErr) {
		return exitErr
	}
	var genErr *generator.Error
	var fault *executor.SandboxFault
	switch {
	case errors.Is(err, context.Canceled):
		return runExitError{code: exitCodeInterrupted, msg: "interrupted"}
	case errors.As(err, &genErr), errors.Is(err, corrective.ErrNoRecordToCorrect):
		return runExitError{code: exitCodeGenerationFailed, msg: err.Error()}
	case errors.Is(err, executor.ErrPermissionDenied):
		return runExitError{code: exitCodePermissionDenied, msg: err.Error()}
	case errors.As(err, &fault):
		return runExitError{code: exitCodeSandboxFault, msg: err.Error()}
	}
	return runExitError{code: exitCodeToolErr, msg: err.Error()}
}
