package payload

import (
	"fmt"
	"time"
)

const dateFmt = "02/01/2006"

// UndeclaredHeaderError: the body starts with no known container prefix.
type UndeclaredHeaderError struct {
	Ref    string
	Date   time.Time
	Prefix string
}

func (e *UndeclaredHeaderError) Error() string {
	return fmt.Sprintf("payload: undeclared file header %q on discharge summary %s on date %s",
		e.Prefix, e.Ref, e.Date.Format(dateFmt))
}

// MultiEntryArchiveError: the archive does not hold exactly one member.
type MultiEntryArchiveError struct {
	Ref   string
	Date  time.Time
	Count int
}

func (e *MultiEntryArchiveError) Error() string {
	return fmt.Sprintf("payload: %d files in zip for discharge summary %s on date %s, want 1",
		e.Count, e.Ref, e.Date.Format(dateFmt))
}

// UndecodablePayloadError: a layer could not be decoded (base64, zip, UTF-8).
type UndecodablePayloadError struct {
	Ref   string
	Date  time.Time
	Stage string
	Err   error
}

func (e *UndecodablePayloadError) Error() string {
	msg := fmt.Sprintf("payload: unable to decode %s for discharge summary %s on date %s",
		e.Stage, e.Ref, e.Date.Format(dateFmt))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UndecodablePayloadError) Unwrap() error { return e.Err }

// PayloadTooLargeError: a hardening ceiling was crossed.
type PayloadTooLargeError struct {
	Ref   string
	Date  time.Time
	What  string
	Limit int64
}

func (e *PayloadTooLargeError) Error() string {
	return fmt.Sprintf("payload: %s of discharge summary %s on date %s exceeds %d",
		e.What, e.Ref, e.Date.Format(dateFmt), e.Limit)
}
