package cli

import (
	"errors"
	"io/fs"
	"strings"

	"dmritools/internal/models"
)

// Exit codes returned by the dmritools binary.
const (
	ExitSuccess           = 0
	ExitGeneralError      = 1
	ExitUsageError        = 2
	ExitPanic             = 3
	ExitConfigError       = 10
	ExitMissingInput      = 20
	ExitShapeMismatch     = 21
	ExitConsistencyFailed = 22
)

// usageError marks errors caused by invalid command line arguments.
type usageError struct {
	msg string
}

func (e *usageError) Error() string {
	return e.msg
}

func newUsageError(msg string) error {
	return &usageError{msg: msg}
}

// ExitCodeForError returns the appropriate exit code for an error.
// Returns ExitSuccess (0) for nil errors, semantic codes for known errors,
// and ExitGeneralError (1) for unclassified errors.
func ExitCodeForError(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var usage *usageError
	switch {
	case errors.As(err, &usage):
		return ExitUsageError
	case errors.Is(err, models.ErrInvalidConfig):
		return ExitConfigError
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, models.ErrMissingKey),
		errors.Is(err, models.ErrInvalidValue):
		return ExitMissingInput
	case errors.Is(err, models.ErrShapeMismatch):
		return ExitShapeMismatch
	case errors.Is(err, models.ErrSliceOrderInconsistent):
		return ExitConsistencyFailed
	}

	// cobra reports flag and argument problems as plain errors
	errStr := err.Error()
	if strings.HasPrefix(errStr, "unknown command") ||
		strings.HasPrefix(errStr, "unknown flag") ||
		strings.HasPrefix(errStr, "unknown shorthand flag") ||
		strings.Contains(errStr, "required flag(s)") ||
		strings.Contains(errStr, "flag needs an argument") ||
		strings.HasPrefix(errStr, "invalid argument") {
		return ExitUsageError
	}

	return ExitGeneralError
}
