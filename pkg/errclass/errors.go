package errclass

import "fmt"

// RunlogError is a stable, machine-readable error class.
type RunlogError struct {
	Code    string
	Message string
}

func (e *RunlogError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *RunlogError) Is(target error) bool {
	t, ok := target.(*RunlogError)
	return ok && e.Code == t.Code
}

// WithMessage returns a new RunlogError with the same Code but a specific message.
func (e *RunlogError) WithMessage(msg string) *RunlogError {
	return &RunlogError{Code: e.Code, Message: msg}
}

// WithMessagef returns a new RunlogError with a formatted message.
func (e *RunlogError) WithMessagef(format string, args ...any) *RunlogError {
	return &RunlogError{Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

// Stable error classes.
var (
	// ErrLogUnavailable marks a transcript that could not be opened, written,
	// closed or patched. Callers treat it as degraded logging.
	ErrLogUnavailable = &RunlogError{Code: "E_LOG_UNAVAILABLE"}
	// ErrTranscriptMalformed marks a file without the output marker or with
	// an undecodable header.
	ErrTranscriptMalformed = &RunlogError{Code: "E_TRANSCRIPT_MALFORMED"}
	ErrEntryNotFound       = &RunlogError{Code: "E_ENTRY_NOT_FOUND"}
	ErrNameInvalid         = &RunlogError{Code: "E_NAME_INVALID"}
	ErrConfigInvalid       = &RunlogError{Code: "E_CONFIG_INVALID"}
	ErrLockConflict        = &RunlogError{Code: "E_LOCK_CONFLICT"}
	ErrLockNotHeld         = &RunlogError{Code: "E_LOCK_NOT_HELD"}
)
