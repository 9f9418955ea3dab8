package dxpipe

import (
	"strings"
	"time"

	"github.com/hazyhaar/dischargedx/chart"
)

// Admission is a discharge summary that passed the filter, with its date parsed.
type Admission struct {
	chart.Correspondence
	Date time.Time
}

// FilterAdmissions keeps the entries of the given category dated within
// [now-days, now], in input order. days counts calendar days in now's
// location, so the start keeps now's wall-clock time across a DST change.
// Dates are read in now's location. An
// entry seen twice (same Ref) is kept once. The first unparsable date of a
// matching entry aborts with a *chart.DateParseError.
func FilterAdmissions(entries []chart.Correspondence, now time.Time, days int, category string) ([]Admission, error) {
	start := now.AddDate(0, 0, -days)
	seen := make(map[string]bool, len(entries))

	var out []Admission
	for _, e := range entries {
		if strings.TrimSpace(e.Category) != category {
			continue
		}
		date, err := chart.ParseDate(e.RawDate, now.Location())
		if err != nil {
			return nil, &chart.DateParseError{Ref: e.Ref, Field: "CORRESPONDENCEDATE", Value: e.RawDate, Err: err}
		}
		if date.Before(start) || date.After(now) {
			continue
		}
		if seen[e.Ref] {
			continue
		}
		seen[e.Ref] = true
		out = append(out, Admission{Correspondence: e, Date: date})
	}
	return out, nil
}
