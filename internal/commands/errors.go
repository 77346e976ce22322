package commands

import (
	"errors"

	"sebastian/internal/alarm"
	"sebastian/internal/importer"
)

// Error codes carried by *Error.
const (
	CodeInvalid     = "invalid"
	CodeNotFound    = "not_found"
	CodePersistence = "persistence"
	CodeEmptyImport = "empty_import"
	CodeInternal    = "internal"
)

var ErrEmptyImport = errors.New("nothing to import")

// Error is what hosts show to the user. Message is safe to display as is.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }
func (e *Error) Unwrap() error { return e.Err }

// CodeOf returns the code of err, or CodeInternal for foreign errors.
func CodeOf(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeInternal
}

func classify(err error) *Error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	var entry *importer.EntryError
	switch {
	case errors.Is(err, ErrEmptyImport):
		return &Error{Code: CodeEmptyImport, Message: "Nothing to import: the document has no alarms.", Err: err}
	case errors.Is(err, alarm.ErrNotFound):
		return &Error{Code: CodeNotFound, Message: "Alarm not found.", Err: err}
	case errors.Is(err, alarm.ErrPersistence):
		return &Error{Code: CodePersistence, Message: "The change was applied but could not be saved to disk: " + err.Error(), Err: err}
	case errors.As(err, &entry), errors.Is(err, importer.ErrSyntax), errors.Is(err, importer.ErrShape):
		return &Error{Code: CodeInvalid, Message: "Import failed: " + err.Error(), Err: err}
	case alarm.IsCalculation(err):
		return &Error{Code: CodeInvalid, Message: userMessage(err), Err: err}
	default:
		return &Error{Code: CodeInternal, Message: "Unexpected error: " + err.Error(), Err: err}
	}
}

func userMessage(err error) string {
	switch {
	case errors.Is(err, alarm.ErrInvalidTimeFormat):
		return "Time must be HH:MM (24-hour)."
	case errors.Is(err, alarm.ErrInvalidDateFormat):
		return "Date must be YYYY-MM-DD."
	case errors.Is(err, alarm.ErrDateInPast):
		return "That date and time is already in the past."
	case errors.Is(err, alarm.ErrNoFeasibleOccurrence):
		return "No matching weekday within the next two weeks."
	case errors.Is(err, alarm.ErrAmbiguousLocalTime):
		return "That local time does not exist or is ambiguous (daylight saving change)."
	default:
		return err.Error()
	}
}
