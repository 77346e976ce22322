package alarm

import "errors"

var (
	ErrInvalidTimeFormat    = errors.New("invalid time format, expected HH:MM")
	ErrInvalidDateFormat    = errors.New("invalid date format, expected YYYY-MM-DD")
	ErrDateInPast           = errors.New("date is in the past")
	ErrNoFeasibleOccurrence = errors.New("no occurrence within two weeks")
	ErrAmbiguousLocalTime   = errors.New("ambiguous or nonexistent local time")
	ErrValidation           = errors.New("validation failed")
	ErrNotFound             = errors.New("alarm not found")
	ErrPersistence          = errors.New("persist alarms")
)

// IsCalculation reports whether err came from next-fire computation or payload validation.
func IsCalculation(err error) bool {
	return errors.Is(err, ErrInvalidTimeFormat) ||
		errors.Is(err, ErrInvalidDateFormat) ||
		errors.Is(err, ErrDateInPast) ||
		errors.Is(err, ErrNoFeasibleOccurrence) ||
		errors.Is(err, ErrAmbiguousLocalTime) ||
		errors.Is(err, ErrValidation)
}
