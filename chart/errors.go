package chart

import "fmt"

// ChartUnreadableError is returned when a patient export cannot be parsed at
// all. The patient is skipped; other patients are unaffected.
type ChartUnreadableError struct {
	PatientID string
	Path      string
	Err       error
}

func (e *ChartUnreadableError) Error() string {
	where := e.Path
	if where == "" {
		where = e.PatientID
	}
	return fmt.Sprintf("chart: cannot read %s, check for corruption: %v", where, e.Err)
}

func (e *ChartUnreadableError) Unwrap() error { return e.Err }

// DateParseError is returned when a date field does not match DateLayout.
type DateParseError struct {
	Ref   string // document or visit reference, empty for demographics
	Field string
	Value string
	Err   error
}

func (e *DateParseError) Error() string {
	if e.Ref != "" {
		return fmt.Sprintf("chart: %s: bad %s %q: %v", e.Ref, e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("chart: bad %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *DateParseError) Unwrap() error { return e.Err }
