package cli

import "fmt"

// ExitError carries the process exit code a failed command wants main to
// use. The commands here reserve 1 for general failures, 2 for bad usage
// such as an unknown sync source, and 3 for a run that is already locked.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

func exitError(code int, format string, args ...any) *ExitError {
	return &ExitError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}
