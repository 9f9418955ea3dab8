package dxpipe

import (
	"time"

	"github.com/hazyhaar/dischargedx/chart"
	"github.com/hazyhaar/dischargedx/payload"
	"github.com/hazyhaar/dischargedx/visits"
)

// Record is one principal diagnosis found in a discharge summary.
type Record struct {
	Diagnosis     string    `json:"diagnosis"`
	AdmissionDate time.Time `json:"admission_date"` // correspondence date of the summary
	PatientID     string    `json:"patient_id"`
	DocumentRef   string    `json:"document_ref"`
}

// Skip is a discharge summary stored as a binary document, with no text.
type Skip struct {
	DocumentRef string       `json:"document_ref"`
	Date        time.Time    `json:"date"`
	Kind        payload.Kind `json:"kind"`
	Detail      string       `json:"detail,omitempty"`
}

// FollowUp is the visit summary around one discharge.
type FollowUp struct {
	DocumentRef string `json:"document_ref"`
	visits.Summary
}

// PatientResult is the outcome for one chart. When Err is set, Records,
// Skipped and the enrichment fields are empty.
type PatientResult struct {
	PatientID string   `json:"patient_id"`
	Records   []Record `json:"records"`
	Skipped   []Skip   `json:"skipped,omitempty"`

	Conditions   []string            `json:"conditions,omitempty"`
	FollowUps    []FollowUp          `json:"follow_ups,omitempty"`
	Demographics *chart.Demographics `json:"demographics,omitempty"` // only when a discharge had no follow-up

	Err error `json:"-"`
}

// Unreadable reports whether the chart itself could not be read.
func (r *PatientResult) Unreadable() bool {
	_, ok := asUnreadable(r.Err)
	return ok
}

// Fatal reports whether a document-level error aborted the patient.
func (r *PatientResult) Fatal() bool {
	return r.Err != nil && !r.Unreadable()
}

// NoFollowUp reports whether any discharge of the patient was not followed by
// a visit.
func (r *PatientResult) NoFollowUp() bool {
	for _, f := range r.FollowUps {
		if !f.FollowedUp() {
			return true
		}
	}
	return false
}

// Run is the outcome of a directory run.
type Run struct {
	ID         string          `json:"id"`
	Dir        string          `json:"dir"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Results    []PatientResult `json:"results"`
	Halted     bool            `json:"halted"`
	HaltErr    error           `json:"-"`
}

// Records returns every record of the run in patient order.
func (r *Run) Records() []Record {
	var out []Record
	for _, pr := range r.Results {
		out = append(out, pr.Records...)
	}
	return out
}

// Counts summarizes the run for logs.
func (r *Run) Counts() (patients, records, skipped, unreadable, failed int) {
	for i := range r.Results {
		pr := &r.Results[i]
		patients++
		records += len(pr.Records)
		skipped += len(pr.Skipped)
		switch {
		case pr.Unreadable():
			unreadable++
		case pr.Fatal():
			failed++
		}
	}
	return
}

// Result statuses reported by PatientResult.View.
const (
	StatusOK         = "ok"
	StatusUnreadable = "unreadable"
	StatusFatal      = "fatal"
)

// PatientView is the JSON rendering of a PatientResult, with its error as text.
type PatientView struct {
	*PatientResult
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// View renders r for JSON output.
func (r *PatientResult) View() PatientView {
	v := PatientView{PatientResult: r, Status: StatusOK}
	switch {
	case r.Unreadable():
		v.Status = StatusUnreadable
	case r.Fatal():
		v.Status = StatusFatal
	}
	if r.Err != nil {
		v.Error = r.Err.Error()
	}
	return v
}

// PayloadView describes one resolved correspondence body.
type PayloadView struct {
	Container payload.Container `json:"container"`
	Kind      payload.Kind      `json:"kind"`
	Skipped   bool              `json:"skipped"`
	Detail    string            `json:"detail,omitempty"`
	Size      int               `json:"size"`
	Lines     []string          `json:"lines,omitempty"`
	Diagnoses []string          `json:"diagnoses,omitempty"`
}
