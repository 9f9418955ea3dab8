// Package visits counts consultations around a discharge date, to tell which
// discharged patients were seen again by their practice.
package visits

import (
	"slices"
	"strings"
	"time"

	"github.com/hazyhaar/dischargedx/chart"
)

// Look-back windows, in calendar days before the discharge day.
const (
	YearDays    = 365
	QuarterDays = 90
)

// DefaultExcluded lists booking-system pseudo doctors whose entries are not
// real consultations.
var DefaultExcluded = []string{"HotDoc External Vendor"}

// Summary holds the visit counts for one discharge.
type Summary struct {
	Discharge  time.Time `json:"discharge"`
	Year       int       `json:"year"`    // visits in [d-365d, d]
	Quarter    int       `json:"quarter"` // visits in [d-90d, d]
	After      int       `json:"after"`   // visits on or after d
	Unreadable int       `json:"unreadable,omitempty"`
}

// FollowedUp reports whether any visit happened on or after the discharge.
func (s Summary) FollowedUp() bool { return s.After > 0 }

// Summarize counts visits relative to the calendar day of discharge. Visits
// by a doctor named in excluded are ignored. Visits whose date does not parse
// are counted in Unreadable only.
func Summarize(visits []chart.Visit, discharge time.Time, excluded []string) Summary {
	loc := discharge.Location()
	day := time.Date(discharge.Year(), discharge.Month(), discharge.Day(), 0, 0, 0, 0, loc)
	yearStart := day.AddDate(0, 0, -YearDays)
	quarterStart := day.AddDate(0, 0, -QuarterDays)

	s := Summary{Discharge: day}
	for _, v := range visits {
		if slices.Contains(excluded, strings.TrimSpace(v.Doctor)) {
			continue
		}
		at, err := chart.ParseDate(v.Date, loc)
		if err != nil {
			s.Unreadable++
			continue
		}
		if !at.Before(yearStart) && !at.After(day) {
			s.Year++
		}
		if !at.Before(quarterStart) && !at.After(day) {
			s.Quarter++
		}
		if !at.Before(day) {
			s.After++
		}
	}
	return s
}
