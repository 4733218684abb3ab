package exitcode

import (
	"errors"
	"fmt"
)

type ExitCode int

// Keep separate to avoid skewing exit codes
const (
	Success ExitCode = iota
	DeploymentRolledBack
	DeploymentFailed
	ConfigNotFound
	InvocationFailure
	DumpFailed
	UploadFailed
	RetentionFailed
	SnapshotNotFound
	NoDumpFound
	ConfirmationRequired
	RestoreFailed
	Locked
	Interrupted
	InternalError
)

type Error struct {
	Code ExitCode
	Err  error
}

func (err *Error) Error() string {
	return err.Err.Error()
}

func (err *Error) Unwrap() error {
	return err.Err
}

func Errorf(exitCode ExitCode, format string, args ...any) *Error {
	return &Error{
		Code: exitCode,
		Err:  fmt.Errorf(format, args...),
	}
}

func ErrorWrap(exitCode ExitCode, err error) *Error {
	return &Error{
		Code: exitCode,
		Err:  err,
	}
}

// ErrorExitCode returns the exit code carried by the outermost *Error in the chain.
// Errors without an exit code are internal errors.
func ErrorExitCode(err error) ExitCode {
	if err == nil {
		return Success
	}
	var e *Error
	if !errors.As(err, &e) {
		return InternalError
	}
	return e.Code
}
