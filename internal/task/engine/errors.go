package engine

import "errors"

var (
	ErrNameRequired = errors.New("task name is required")
	ErrNilAction    = errors.New("task action is nil")
	ErrNilTimetable = errors.New("task timetable is nil")
	ErrUnknownTask  = errors.New("unknown task")
)

// PanicError wraps a value recovered from a panicking action.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string { return "panic: " + fmtAny(e.Value) }

// IsPanic reports whether err carries a recovered panic.
func IsPanic(err error) bool {
	var pe *PanicError
	return errors.As(err, &pe)
}
