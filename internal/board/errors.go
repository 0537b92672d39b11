package board

import (
	"errors"
	"fmt"
)

var (
	ErrNoFieldsProvided = errors.New("no fields provided")
	ErrDoneNoteRequired = errors.New("items tagged ToThinkAbout need a note before they can be marked done")
	ErrDropNoteRequired = errors.New("a note is required to drop an item")
	ErrAIEditForbidden  = errors.New("notes cannot be edited by AI")
)

// ValidationError reports malformed input. Nothing has been written when
// it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
