package cli

import "fmt"

// Exit codes.
const (
	ExitOK          = 0
	ExitMissingArgs = 1
	ExitUsage       = 2
	ExitFailed      = 3
)

// ExitError is returned by commands that want to control the process exit code
// without necessarily printing an additional error message.
type ExitError struct {
	code    int
	message string
	err     error
}

func exitErrorf(code int, format string, args ...any) *ExitError {
	err := fmt.Errorf(format, args...)
	return &ExitError{code: code, message: err.Error(), err: err}
}

func (e *ExitError) Error() string {
	if e == nil {
		return ""
	}
	if e.message != "" {
		return e.message
	}
	return fmt.Sprintf("exit %d", e.code)
}

func (e *ExitError) Code() int {
	if e == nil {
		return 1
	}
	return e.code
}

func (e *ExitError) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *ExitError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}
