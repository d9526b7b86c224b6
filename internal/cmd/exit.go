package cmd

import (
	"fmt"
	"io"

	"github.com/Iron-Ham/hookline/internal/errors"
)

// Exit codes by error kind. Scripts driving hookline branch on these.
const (
	ExitOK           = 0
	ExitFailure      = 1
	ExitInvalidInput = 2
	ExitNotFound     = 3
	ExitInvalidState = 4
	ExitBlocked      = 5
	ExitRetryable    = 6
	ExitStorage      = 7
)

// ExitCode maps err to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch errors.KindOf(err) {
	case errors.KindValidation:
		return ExitInvalidInput
	case errors.KindNotFound:
		return ExitNotFound
	case errors.KindInvalidState:
		return ExitInvalidState
	case errors.KindBlocked:
		return ExitBlocked
	case errors.KindStorage:
		return ExitStorage
	}
	if errors.IsRetryable(err) {
		return ExitRetryable
	}
	return ExitFailure
}

// printError reports err on w, labelled by its severity.
func printError(w io.Writer, err error) {
	label := "Error"
	if errors.GetSeverity(err) <= errors.SeverityWarning {
		label = "Warning"
	}
	fmt.Fprintf(w, "%s: %v\n", label, err)
	if errors.IsRetryable(err) {
		fmt.Fprintln(w, "The operation may succeed if retried.")
	}
	if kind := errors.KindOf(err); kind != errors.KindUnknown && !errors.IsUserFacing(err) {
		fmt.Fprintf(w, "(%s; see 'hookline logs' for details)\n", kind)
	}
}
