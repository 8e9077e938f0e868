package forecast

import (
	"errors"
	"fmt"
)

var (
	// ErrNoRecords is returned when a payload is built from zero records.
	ErrNoRecords = errors.New("forecast: no records")
	// ErrInvalidFacility is returned when the facility id is not positive.
	ErrInvalidFacility = errors.New("forecast: invalid facility id")
	// ErrInvalidDay is returned when the forecast day is zero.
	ErrInvalidDay = errors.New("forecast: invalid day")
)

// ValidationError describes a payload that violates the forecast API shape.
type ValidationError struct {
	Index  int
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("forecast: invalid payload entry %d: %s: %s", e.Index, e.Field, e.Reason)
}
