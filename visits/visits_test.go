package visits

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/hazyhaar/dischargedx/chart"
)

func TestSummarize(t *testing.T) {
	discharge := time.Date(2024, 7, 26, 14, 30, 0, 0, time.UTC)
	vs := []chart.Visit{
		{ID: "1", Date: "27/07/2023 9:00:00 AM", Doctor: "Dr Smith"},  // first day of the year window
		{ID: "2", Date: "26/07/2023 9:00:00 AM", Doctor: "Dr Smith"},  // outside the year
		{ID: "3", Date: "27/04/2024 10:00:00 AM", Doctor: "Dr Smith"}, // first day of the quarter window
		{ID: "4", Date: "26/07/2024 12:00:00 AM", Doctor: "Dr Smith"}, // discharge midnight
		{ID: "5", Date: "26/07/2024 4:00:00 PM", Doctor: "Dr Smith"},  // later that day
		{ID: "6", Date: "02/08/2024 9:15:00 AM", Doctor: "Dr Jones"},
		{ID: "7", Date: "03/08/2024 9:15:00 AM", Doctor: "HotDoc External Vendor"},
		{ID: "8", Date: "yesterday", Doctor: "Dr Jones"},
	}

	got := Summarize(vs, discharge, DefaultExcluded)
	want := Summary{
		Discharge:  time.Date(2024, 7, 26, 0, 0, 0, 0, time.UTC),
		Year:       3, // 1, 3, 4
		Quarter:    2, // 3, 4
		After:      3, // 4, 5, 6
		Unreadable: 1,
	}
	if got != want {
		t.Fatalf("Summarize = %+v, want %+v", got, want)
	}
	if !got.FollowedUp() {
		t.Fatal("FollowedUp = false")
	}
}

func TestSummarize_NoVisits(t *testing.T) {
	s := Summarize(nil, time.Date(2024, 8, 21, 14, 5, 0, 0, time.UTC), nil)
	if s.Year != 0 || s.Quarter != 0 || s.After != 0 || s.FollowedUp() {
		t.Fatalf("Summarize(nil) = %+v", s)
	}
}

func TestSummarize_ExcludedOnly(t *testing.T) {
	vs := []chart.Visit{{Date: "22/08/2024 9:00:00 AM", Doctor: " HotDoc External Vendor "}}
	s := Summarize(vs, time.Date(2024, 8, 21, 0, 0, 0, 0, time.UTC), DefaultExcluded)
	if s.FollowedUp() {
		t.Fatalf("excluded doctor counted: %+v", s)
	}
}

func TestSummarize_QuarterAcrossDST(t *testing.T) {
	sydney, err := time.LoadLocation("Australia/Sydney")
	if err != nil {
		t.Fatal(err)
	}
	// Daylight saving starts on 06/10/2024, so the 90 days before 20/10/2024
	// are 90 calendar days but one hour short of 90*24h.
	vs := []chart.Visit{
		{ID: "1", Date: "21/07/2024 11:30:00 PM", Doctor: "Dr Smith"},
		{ID: "2", Date: "22/07/2024 12:00:00 AM", Doctor: "Dr Smith"},
	}
	got := Summarize(vs, time.Date(2024, 10, 20, 9, 0, 0, 0, sydney), nil)
	if got.Quarter != 1 || got.Year != 2 {
		t.Fatalf("Summarize = %+v, want quarter 1 (22/07 only), year 2", got)
	}
}
