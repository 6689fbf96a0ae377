package cli

import (
	"errors"
	"fmt"
	"os"

	pkgerrors "github.com/fyreflow/engine/pkg/errors"
)

// Exit codes for the fyreflow CLI.
const (
	ExitSuccess      = 0
	ExitFailed       = 1
	ExitUsage        = 2
	ExitServerError  = 3
	ExitUnauthorized = 4
)

// ExitError carries the process exit code a failure should produce.
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error { return e.Cause }

// NewServerError wraps an API-facing failure, mapping well-known statuses to
// a more specific exit code.
func NewServerError(msg string, cause error) *ExitError {
	code := ExitServerError
	var apiErr *APIError
	if errors.As(cause, &apiErr) && apiErr.Status == 401 {
		code = ExitUnauthorized
	}
	return &ExitError{Code: code, Message: msg, Cause: cause}
}

// HandleExitError prints err (if any) to stderr and exits with its code,
// defaulting unclassified errors to ExitFailed.
func HandleExitError(err error) {
	if err == nil {
		return
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		fmt.Fprintln(os.Stderr, "Error:", exitErr.Error())
		printSuggestion(err)
		os.Exit(exitErr.Code)
	}

	fmt.Fprintln(os.Stderr, "Error:", err.Error())
	printSuggestion(err)
	os.Exit(ExitFailed)
}

func printSuggestion(err error) {
	for err != nil {
		if userErr, ok := err.(pkgerrors.UserVisibleError); ok {
			if userErr.IsUserVisible() {
				if s := userErr.Suggestion(); s != "" {
					fmt.Fprintf(os.Stderr, "\nSuggestion: %s\n", s)
				}
			}
			return
		}
		err = errors.Unwrap(err)
	}
}
