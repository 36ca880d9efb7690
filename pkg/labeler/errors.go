package labeler

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidInput is returned for empty/whitespace-only text or a missing
// oracle provider. Check with errors.Is.
var ErrInvalidInput = errors.New("invalid input")

// ProtocolError indicates the oracle returned a malformed or non-JSON
// response. It is fatal unless a repair attempt is still available.
type ProtocolError struct {
	Cause error
	Raw   string // truncated raw response, for diagnostics
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("oracle returned malformed response: %v", e.Cause)
}

func (e *ProtocolError) Unwrap() error {
	return e.Cause
}

// ValidationFailedError carries the itemized violations of a span set that
// could not be recovered. Surfaced only after the repair attempt is
// exhausted.
type ValidationFailedError struct {
	Violations []string
}

func (e *ValidationFailedError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("span validation failed (%d violations):", len(e.Violations)))
	for _, v := range e.Violations {
		sb.WriteString("\n- ")
		sb.WriteString(v)
	}
	return sb.String()
}

// truncateForError truncates content for error messages.
func truncateForError(s string) string {
	if len(s) <= 200 {
		return s
	}
	return s[:200] + "..."
}
